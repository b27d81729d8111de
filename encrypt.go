package main

import (
	"bytes"
	"fmt"
)

func mapperPath() string {
	return "/dev/mapper/"+mapperName
}

// setupEncryption formats the root partition as LUKS2 and opens it.
// The passphrase only ever travels over stdin.
func (ins *installer) setupEncryption() error {
	root := ins.parts.root
	key := []byte(ins.req.passphrase)

	logData("creating LUKS container on "+root+"...")
	if out, err := ins.sh.Feed([]string{`cryptsetup`, `luksFormat`, `--type`, `luks2`, `--batch-mode`, `--key-file=-`, root}, key); err != nil {
		return fmt.Errorf("error: failed to create LUKS container on %s: %w: %s", root, err, bytes.TrimSpace(out))
	}

	logData("opening LUKS container...")
	if out, err := ins.sh.Feed([]string{`cryptsetup`, `open`, `--key-file=-`, root, mapperName}, key); err != nil {
		return fmt.Errorf("error: failed to open LUKS container on %s: %w: %s", root, err, bytes.TrimSpace(out))
	}
	ins.mu.Lock()
	ins.luksOpen = true
	ins.mu.Unlock()

	ins.parts.rootTarget = mapperPath()
	return nil
}

// rootUUID reads the filesystem UUID of a device.
func (ins *installer) rootUUID(dev string) (string, error) {
	out, err := ins.sh.Run([]string{`lsblk`, `-dno`, `UUID`, dev}, nil, false)
	out = bytes.TrimSpace(out)
	if err != nil || len(out) == 0 {
		return "", fmt.Errorf("error: failed to find uuid of %s", dev)
	}
	if i := bytes.IndexByte(out, '\n'); i != -1 {
		out = out[:i]
	}
	return string(out), nil
}
