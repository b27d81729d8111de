package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AspieSoft/go-regex-re2/v2"
	"github.com/AspieSoft/goutil/fs/v2"
	"github.com/AspieSoft/goutil/v7"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// probed in order when offering to edit the configuration
var liveEditors = []string{"nano", "vim", "vi"}

const blockBegin = "# nixos-installer begin"
const blockEnd = "# nixos-installer end"

type configEdit struct {
	username       string
	hashedPassword string
	editor         editorChoice

	// filesystem uuid of the LUKS partition, empty when not needed
	luksUUID string
}

func (ins *installer) configDir() string {
	return filepath.Join(ins.root, "etc", "nixos")
}

func (ins *installer) setupConfig() error {
	logData("generating hardware configuration...")
	if _, err := ins.sh.Run([]string{`nixos-generate-config`, `--root`, ins.root}, featureEnv, true); err != nil {
		return fmt.Errorf("error: nixos-generate-config failed: %w", err)
	}

	configFile := filepath.Join(ins.configDir(), "configuration.nix")

	if _, err := os.Stat(configFile+".orig"); err != nil {
		if _, err := fs.Copy(configFile, configFile+".orig"); err != nil {
			return fmt.Errorf("error: failed to back up configuration.nix: %w", err)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(ins.req.password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("error: failed to hash password: %w", err)
	}

	edit := configEdit{
		username:       ins.req.username,
		hashedPassword: string(hash),
		editor:         ins.req.editor,
	}

	if ins.req.encrypt {
		hw, _ := os.ReadFile(filepath.Join(ins.configDir(), "hardware-configuration.nix"))
		if !bytes.Contains(hw, []byte("boot.initrd.luks.devices")) {
			edit.luksUUID, err = ins.rootUUID(ins.parts.root)
			if err != nil {
				return err
			}
		}
	}

	if err := editConfigFile(configFile, edit); err != nil {
		return err
	}
	logData("Updated "+configFile)

	if err := ins.writeReceipt(); err != nil {
		logWarn("warning: failed to write install receipt: "+err.Error())
	}

	return ins.customizeConfig(configFile)
}

func editConfigFile(name string, edit configEdit) error {
	buf, err := os.ReadFile(name)
	if err != nil {
		return errors.New("error: failed to read "+name)
	}

	buf, err = applyConfigEdits(buf, edit)
	if err != nil {
		return err
	}

	if err := os.WriteFile(name, buf, 0644); err != nil {
		return errors.New("error: failed to write "+name)
	}
	return nil
}

// applyConfigEdits rewrites a generated configuration.nix.
// Running it again replaces the block added by the previous run.
func applyConfigEdits(buf []byte, edit configEdit) ([]byte, error) {
	buf = regex.Comp(`(?s)\n[ \t]*%1\n.*?%2\n`, blockBegin, blockEnd).RepStrLit(buf, []byte{})

	buf = regex.Comp(`(?m)^([ \t]*)#[ \t]*(networking\.networkmanager\.enable[ \t]*=[ \t]*true;)`).RepFunc(buf, func(data func(int) []byte) []byte {
		return regex.JoinBytes(data(1), data(2))
	})

	hasPackages := false
	// brackets are written as \x5b and \x5d, the regex package reads \[ as the start of a class
	buf = regex.Comp(`(?ms)^([ \t]*environment\.systemPackages[ \t]*=[ \t]*with[ \t]+pkgs;[ \t]*\x5b)(.*?)\x5d`).RepFunc(buf, func(data func(int) []byte) []byte {
		if hasPackages {
			return data(0)
		}
		hasPackages = true

		if goutil.Contains(strings.Fields(string(data(2))), edit.editor.pkg) {
			return data(0)
		}
		return regex.JoinBytes(data(1), "\n    ", edit.editor.pkg, data(2), ']')
	})

	closing := regex.Comp(`(?s)^(.*)\n\}[ \t\r\n]*$`)
	if !closing.Match(buf) {
		return nil, errors.New("error: failed to find the closing brace of configuration.nix")
	}

	block := configBlock(edit, !hasPackages)
	buf = closing.RepFunc(buf, func(data func(int) []byte) []byte {
		return regex.JoinBytes(data(1), '\n', block, "}\n")
	})

	return buf, nil
}

func configBlock(edit configEdit, withPackages bool) []byte {
	block := regex.JoinBytes(
		'\n',
		`  `, blockBegin, '\n',
		`  users.users.`, edit.username, ` = {`, '\n',
		`    isNormalUser = true;`, '\n',
		`    extraGroups = [ "wheel" "networkmanager" ];`, '\n',
		`    hashedPassword = "`, edit.hashedPassword, `";`, '\n',
		`  };`, '\n',
		'\n',
		`  environment.variables.EDITOR = "`, edit.editor.bin, `";`, '\n',
		`  nix.settings.experimental-features = [ "nix-command" "flakes" ];`, '\n',
	)

	if withPackages {
		block = regex.JoinBytes(block, `  environment.systemPackages = with pkgs; [ `, edit.editor.pkg, ` ];`, '\n')
	}

	if edit.luksUUID != "" {
		block = regex.JoinBytes(block, `  boot.initrd.luks.devices."`, mapperName, `".device = "/dev/disk/by-uuid/`, edit.luksUUID, `";`, '\n')
	}

	return regex.JoinBytes(block, `  `, blockEnd, '\n')
}

// writeReceipt records what was installed, without any secrets.
func (ins *installer) writeReceipt() error {
	req := ins.req

	json, err := goutil.JSON.Stringify(map[string]interface{}{
		"id": uuid.New().String(),
		"time": time.Now().UTC().Format(time.RFC3339),
		"username": req.username,
		"editor": req.editor.name,
		"mode": string(req.mode),
		"disk": req.disk,
		"disk_boot": ins.parts.boot,
		"disk_root": ins.parts.root,
		"disk_swap": ins.parts.swap,
		"filesystem": req.filesystem,
		"encrypted": req.encrypt,
	})
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(ins.configDir(), "nixos-installer.json"), json, 0644)
}

func detectEditor(sh shell) string {
	for _, name := range liveEditors {
		if sh.Exists(name) {
			return name
		}
	}
	return ""
}

// customizeConfig offers to open the configuration in an editor before installing.
func (ins *installer) customizeConfig(configFile string) error {
	editor := detectEditor(ins.sh)
	if editor == "" {
		logData("No text editor found, skipping configuration customization.")
		return nil
	}

	edit, err := ins.prompt.askYesNo("Edit configuration.nix with "+editor+" before installing?", false)
	if err != nil || !edit {
		return err
	}

	if err := ins.sh.Attach([]string{editor, configFile}, nil); err != nil {
		return fmt.Errorf("error: %s exited with an error: %w", editor, err)
	}
	return nil
}
