package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/AspieSoft/go-regex-re2/v2"
)

type partitionMode string

const (
	modeAuto   partitionMode = "auto"
	modeManual partitionMode = "manual"
)

type editorChoice struct {
	name string
	pkg  string
	bin  string
}

var editorChoices = []editorChoice{
	{"nano", "nano", "nano"},
	{"vim", "vim", "vim"},
	{"neovim", "neovim", "nvim"},
	{"emacs", "emacs", "emacs"},
	{"helix", "helix", "hx"},
}

var filesystemList = []string{
	"ext4",
	"btrfs",
	"xfs",
}

type installRequest struct {
	username string
	password string
	editor   editorChoice

	mode       partitionMode
	disk       string
	filesystem string

	encrypt    bool
	passphrase string

	// manual mode may reuse an existing EFI partition
	formatBoot bool
}

type partitionSet struct {
	boot string
	root string
	swap string

	// device the root filesystem is created on,
	// the mapper device when root is encrypted
	rootTarget string
}

func validUsername(name string) error {
	if name == "" {
		return errors.New("username cannot be empty")
	}
	if len(name) > 32 {
		return errors.New("username cannot be longer than 32 characters")
	}
	if name == "root" {
		return errors.New("username cannot be root")
	}
	if !regex.Comp(`^[a-z_][a-z0-9_\-]*$`).Match([]byte(name)) {
		return errors.New("username may only contain lowercase letters, digits, '_' and '-', and must not start with a digit or '-'")
	}
	return nil
}

// normalizeDevice turns "sda" or "/dev/sda" into "/dev/sda".
func normalizeDevice(input string) string {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return ""
	}

	dev := string(regex.Comp(`[^\w_\-\./]`).RepStrLit([]byte(fields[0]), []byte{}))
	if dev == "" {
		return ""
	}
	if !strings.HasPrefix(dev, "/dev/") {
		dev = "/dev/"+strings.TrimLeft(dev, "/")
	}
	return dev
}

func isBlockDevice(path string) bool {
	stat, err := os.Stat(path)
	if err != nil {
		return false
	}
	mode := stat.Mode()
	return mode&os.ModeDevice != 0 && mode&os.ModeCharDevice == 0
}

// partitionPath names partition n of disk.
// Disks whose name ends in a digit (nvme0n1, mmcblk0, loop0) use a "p" separator.
func partitionPath(disk string, n int) string {
	if regex.Comp(`[0-9]$`).Match([]byte(disk)) {
		return fmt.Sprintf("%sp%d", disk, n)
	}
	return fmt.Sprintf("%s%d", disk, n)
}

func checkDistinct(disk string, parts partitionSet) error {
	seen := map[string]string{}
	for _, p := range []struct{
		role string
		dev  string
	}{
		{"boot", parts.boot},
		{"root", parts.root},
		{"swap", parts.swap},
	} {
		if p.dev == "" {
			continue
		}
		if p.dev == disk {
			return fmt.Errorf("%s partition cannot be the whole disk %s", p.role, disk)
		}
		if other, ok := seen[p.dev]; ok {
			return fmt.Errorf("%s and %s cannot both use %s", other, p.role, p.dev)
		}
		seen[p.dev] = p.role
	}
	return nil
}

func (req installRequest) summary(parts partitionSet, memMiB uint64) string {
	var b strings.Builder

	fmt.Fprintf(&b, "User:        %s\n", req.username)
	fmt.Fprintf(&b, "Editor:      %s\n", req.editor.name)
	fmt.Fprintf(&b, "Disk:        %s (%s partitioning)\n", req.disk, req.mode)
	fmt.Fprintf(&b, "Boot:        %s", parts.boot)
	if req.mode == modeManual && !req.formatBoot {
		b.WriteString(" (kept)")
	}
	b.WriteByte('\n')
	fmt.Fprintf(&b, "Root:        %s (%s)\n", parts.root, req.filesystem)
	if parts.swap != "" {
		fmt.Fprintf(&b, "Swap:        %s\n", parts.swap)
	}else{
		b.WriteString("Swap:        none\n")
	}
	if memMiB != 0 {
		fmt.Fprintf(&b, "Memory:      %d MiB\n", memMiB)
	}
	if req.encrypt {
		b.WriteString("Encryption:  LUKS2 on root")
	}else{
		b.WriteString("Encryption:  off")
	}

	return b.String()
}
