package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type installer struct {
	sh     shell
	prompt *prompter

	// where the new system is mounted
	root string

	req   installRequest
	parts partitionSet

	// checks that a path is a block device
	isDevice func(string) bool
	// paces heavy steps
	pause func()
	// reads installed memory for the summary
	memory func() uint64

	// guards mounted, swapOn and luksOpen, cleanup can run from the signal path
	mu       sync.Mutex
	mounted  bool
	swapOn   string
	luksOpen bool

	cleanupOnce sync.Once
}

func newInstaller(sh shell, p *prompter) *installer {
	return &installer{
		sh:       sh,
		prompt:   p,
		root:     mountRoot,
		isDevice: isBlockDevice,
		pause: func(){
			waitToCool(false)
		},
		memory: memTotalMiB,
	}
}

func (ins *installer) run() error {
	out := ins.prompt.out

	stepHeader(out, 1, "Installation details")
	req, err := ins.collectRequest()
	if err != nil {
		return err
	}
	ins.req = req

	stepHeader(out, 2, "Partitioning")
	if req.mode == modeAuto {
		config, err := loadLayout()
		if err != nil {
			return err
		}
		plan, err := config.compile(req.filesystem)
		if err != nil {
			return err
		}
		ins.parts = plan.partitions(req.disk)

		if err := ins.confirmInstall("ALL DATA ON "+req.disk+" WILL BE ERASED."); err != nil {
			return err
		}
		if err := ins.partitionAuto(plan); err != nil {
			return err
		}
	}else{
		if err := ins.partitionManual(); err != nil {
			return err
		}
		if err := ins.confirmInstall("The partitions listed above will be formatted."); err != nil {
			return err
		}
	}

	ins.parts.rootTarget = ins.parts.root
	if req.encrypt {
		stepHeader(out, 3, "Encryption")
		if err := ins.setupEncryption(); err != nil {
			return err
		}
	}else{
		stepHeader(out, 3, "Encryption (skipped)")
	}

	stepHeader(out, 4, "Filesystems")
	if err := ins.formatPartitions(); err != nil {
		return err
	}
	if err := ins.mountPartitions(); err != nil {
		return err
	}

	stepHeader(out, 5, "Configuration")
	if err := ins.setupConfig(); err != nil {
		return err
	}

	stepHeader(out, 6, "Installing "+distroName)
	return ins.installSystem()
}

func (ins *installer) collectRequest() (installRequest, error) {
	p := ins.prompt
	req := installRequest{}

	for {
		name, err := p.ask("Username: ")
		if err != nil {
			return req, err
		}
		if err := validUsername(name); err != nil {
			fmt.Fprintln(p.out, warnStyle.Render(err.Error()))
			continue
		}
		req.username = name
		break
	}

	pw, err := p.askNewSecret("Password for "+req.username)
	if err != nil {
		return req, err
	}
	req.password = pw

	editorNames := make([]string, len(editorChoices))
	for i, e := range editorChoices {
		editorNames[i] = e.name
	}
	i, err := p.choose("Text editor for the installed system:", editorNames, 0)
	if err != nil {
		return req, err
	}
	req.editor = editorChoices[i]

	for {
		i, err = p.choose("Partitioning (auto wipes the whole disk, manual opens cfdisk):", []string{string(modeAuto), string(modeManual)}, 0)
		if err != nil {
			return req, err
		}
		req.mode = []partitionMode{modeAuto, modeManual}[i]
		if req.mode == modeManual && !ins.sh.Exists("cfdisk") {
			fmt.Fprintln(p.out, warnStyle.Render("cfdisk is not available, choose auto or install it first."))
			continue
		}
		break
	}

	ins.sh.Run([]string{`lsblk`, `-e7`, `-o`, `NAME,SIZE,TYPE,FSTYPE,MOUNTPOINT,MODEL`}, nil, true)
	for {
		disk, err := p.ask("\nDisk to install to: ")
		if err != nil {
			return req, err
		}
		disk = normalizeDevice(disk)
		if disk == "" || !ins.isDevice(disk) {
			fmt.Fprintln(p.out, warnStyle.Render("'"+disk+"' is not a block device."))
			continue
		}
		req.disk = disk
		break
	}

	i, err = p.choose("Root filesystem:", filesystemList, 0)
	if err != nil {
		return req, err
	}
	req.filesystem = filesystemList[i]

	for {
		req.encrypt, err = p.askYesNo("Encrypt the root partition with LUKS?", false)
		if err != nil {
			return req, err
		}
		if req.encrypt && !ins.sh.Exists("cryptsetup") {
			fmt.Fprintln(p.out, warnStyle.Render("cryptsetup is not available, encryption cannot be used."))
			continue
		}
		break
	}

	if req.encrypt {
		req.passphrase, err = p.askNewSecret("Encryption passphrase")
		if err != nil {
			return req, err
		}
	}

	req.formatBoot = req.mode == modeAuto

	return req, nil
}

func (ins *installer) confirmInstall(warning string) error {
	out := ins.prompt.out

	fmt.Fprintln(out)
	fmt.Fprintln(out, boxStyle.Render(ins.req.summary(ins.parts, ins.memory())))
	fmt.Fprintln(out, warnStyle.Render(warning)+" This cannot be undone.")

	ok, err := ins.prompt.confirm("Continue?")
	if err != nil {
		return err
	}
	if !ok {
		return errDeclined
	}
	return nil
}

func (ins *installer) partitionAuto(plan layoutPlan) error {
	disk := ins.req.disk

	ins.unmountDisk(disk)
	ins.pause()

	logData("wiping disk...")
	if _, err := ins.sh.Run([]string{`wipefs`, `--all`, disk}, nil, false); err != nil {
		return fmt.Errorf("error: failed to wipe %s: %w", disk, err)
	}

	logData("setting up disk...")
	if _, err := ins.sh.Run(plan.partedArgs(disk), nil, true); err != nil {
		return fmt.Errorf("error: failed to partition %s: %w", disk, err)
	}

	ins.settle(disk)

	logData("Finished Partitioning Disk")
	return nil
}

func (ins *installer) partitionManual() error {
	p := ins.prompt
	disk := ins.req.disk

	ins.unmountDisk(disk)

	logData("Opening cfdisk on "+disk+", write the table and quit when done.")
	if err := ins.sh.Attach([]string{`cfdisk`, disk}, nil); err != nil {
		return fmt.Errorf("error: cfdisk failed: %w", err)
	}

	ins.settle(disk)
	ins.sh.Run([]string{`lsblk`, `-o`, `NAME,SIZE,TYPE,FSTYPE,PARTLABEL`, disk}, nil, true)

	for {
		boot, err := ins.askPartition("EFI/boot partition: ", false)
		if err != nil {
			return err
		}
		root, err := ins.askPartition("Root partition: ", false)
		if err != nil {
			return err
		}
		swap, err := ins.askPartition("Swap partition (blank for none): ", true)
		if err != nil {
			return err
		}

		parts := partitionSet{boot: boot, root: root, swap: swap}
		if err := checkDistinct(disk, parts); err != nil {
			fmt.Fprintln(p.out, warnStyle.Render(err.Error()))
			continue
		}
		ins.parts = parts
		break
	}

	format, err := p.askYesNo("Format the EFI partition "+ins.parts.boot+"? Keep it to preserve other boot entries.", false)
	if err != nil {
		return err
	}
	ins.req.formatBoot = format

	return nil
}

func (ins *installer) askPartition(question string, optional bool) (string, error) {
	for {
		answer, err := ins.prompt.ask(question)
		if err != nil {
			return "", err
		}
		if answer == "" && optional {
			return "", nil
		}

		dev := normalizeDevice(answer)
		if dev == "" || !ins.isDevice(dev) {
			fmt.Fprintln(ins.prompt.out, warnStyle.Render("'"+answer+"' is not a block device."))
			continue
		}
		return dev, nil
	}
}

// settle waits for the kernel to pick up a new partition table.
func (ins *installer) settle(disk string){
	ins.sh.Run([]string{`partprobe`, disk}, nil, false)
	ins.sh.Run([]string{`udevadm`, `settle`}, nil, false)
}

func mkfsArgs(filesystem, dev string) ([]string, error) {
	switch filesystem {
	case "ext4":
		return []string{`mkfs.ext4`, `-F`, `-L`, `nixos`, dev}, nil
	case "btrfs":
		return []string{`mkfs.btrfs`, `-f`, `-L`, `nixos`, dev}, nil
	case "xfs":
		return []string{`mkfs.xfs`, `-f`, `-L`, `nixos`, dev}, nil
	}
	return nil, errors.New("error: unsupported filesystem '"+filesystem+"'")
}

func (ins *installer) formatPartitions() error {
	parts := ins.parts

	ins.pause()

	logData("creating partition filesystems...")

	if ins.req.formatBoot {
		logData(" - creating boot partition...")
		if _, err := ins.sh.Run([]string{`mkfs.fat`, `-F`, `32`, `-n`, `BOOT`, parts.boot}, nil, false); err != nil {
			return fmt.Errorf("error: failed to format boot partition %s: %w", parts.boot, err)
		}
	}

	logData(" - creating root partition...")
	args, err := mkfsArgs(ins.req.filesystem, parts.rootTarget)
	if err != nil {
		return err
	}
	if _, err := ins.sh.Run(args, nil, false); err != nil {
		return fmt.Errorf("error: failed to format root partition %s: %w", parts.rootTarget, err)
	}

	if parts.swap != "" {
		logData(" - creating swap partition...")
		if _, err := ins.sh.Run([]string{`mkswap`, `-L`, `swap`, parts.swap}, nil, false); err != nil {
			return fmt.Errorf("error: failed to format swap partition %s: %w", parts.swap, err)
		}
	}

	return nil
}

func (ins *installer) mountPartitions() error {
	parts := ins.parts

	if err := os.MkdirAll(ins.root, 0755); err != nil {
		return err
	}
	if _, err := ins.sh.Run([]string{`mount`, parts.rootTarget, ins.root}, nil, false); err != nil {
		return fmt.Errorf("error: failed to mount %s: %w", parts.rootTarget, err)
	}
	ins.mu.Lock()
	ins.mounted = true
	ins.mu.Unlock()

	bootDir := filepath.Join(ins.root, "boot")
	if err := os.MkdirAll(bootDir, 0755); err != nil {
		return err
	}
	if _, err := ins.sh.Run([]string{`mount`, `-o`, `umask=0077`, parts.boot, bootDir}, nil, false); err != nil {
		return fmt.Errorf("error: failed to mount %s: %w", parts.boot, err)
	}

	if parts.swap != "" {
		if _, err := ins.sh.Run([]string{`swapon`, parts.swap}, nil, false); err != nil {
			return fmt.Errorf("error: failed to enable swap on %s: %w", parts.swap, err)
		}
		ins.mu.Lock()
		ins.swapOn = parts.swap
		ins.mu.Unlock()
	}

	return nil
}

// unmountDisk releases anything on the disk left over from an earlier attempt.
func (ins *installer) unmountDisk(disk string){
	ins.sh.Run([]string{`umount`, `-R`, ins.root}, nil, false)

	out, err := ins.sh.Run([]string{`lsblk`, `-lnpo`, `NAME`, disk}, nil, false)
	if err != nil {
		return
	}
	for _, dev := range strings.Fields(string(out)) {
		if dev == disk {
			continue
		}
		ins.sh.Run([]string{`umount`, `-l`, dev}, nil, false)
		ins.sh.Run([]string{`swapoff`, dev}, nil, false)
	}
}

func (ins *installer) installSystem() error {
	ins.pause()

	logData("Running nixos-install, this can take a while...")
	_, err := ins.sh.Run([]string{`nixos-install`, `--root`, ins.root, `--no-root-passwd`}, featureEnv, true)
	if err != nil {
		return fmt.Errorf("error: nixos-install failed: %w", err)
	}
	return nil
}
