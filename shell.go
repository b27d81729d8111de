package main

import (
	"bytes"
	"os"
	"os/exec"
	"strings"

	"github.com/AspieSoft/goutil/bash"
)

// shell runs the external tools the install delegates to.
type shell interface {
	// Run runs a command and returns its output.
	// env is added to the inherited environment.
	// With live set, the output is also streamed to the terminal.
	Run(args []string, env []string, live bool) ([]byte, error)

	// Feed runs a command with input written to its stdin.
	// The input is never logged.
	Feed(args []string, input []byte) ([]byte, error)

	// Attach hands the terminal over to an interactive command until it exits.
	Attach(args []string, env []string) error

	// Exists reports whether a command can be found on PATH.
	Exists(name string) bool
}

type bashShell struct{}

func (bashShell) Run(args []string, env []string, live bool) ([]byte, error) {
	logger.WithField("env", env).Info("$ ", strings.Join(args, " "))

	// bash.Run replaces the environment when env is set
	if env != nil {
		env = append(os.Environ(), env...)
	}
	return bash.Run(args, "", env, live)
}

func (bashShell) Feed(args []string, input []byte) ([]byte, error) {
	logger.Info("$ ", strings.Join(args, " "), " <stdin>")

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	return cmd.CombinedOutput()
}

func (bashShell) Attach(args []string, env []string) error {
	logger.WithField("env", env).Info("$ ", strings.Join(args, " "), " (interactive)")

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func (bashShell) Exists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
