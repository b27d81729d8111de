package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/AspieSoft/go-regex-re2/v2"
	"golang.org/x/term"
)

var errEmptySecret = errors.New("the value cannot be empty")
var errSecretMismatch = errors.New("the values do not match")

type prompter struct {
	in  *bufio.Reader
	out io.Writer

	// reads a line without echoing it, nil when stdin is not a terminal
	secret func() ([]byte, error)
	// stdin is a terminal
	tty bool
}

func newPrompter() *prompter {
	fd := int(os.Stdin.Fd())
	p := &prompter{
		in:  bufio.NewReader(os.Stdin),
		out: stdout,
		tty: term.IsTerminal(fd),
	}
	if p.tty {
		p.secret = func() ([]byte, error) {
			return term.ReadPassword(fd)
		}
	}
	return p
}

func (p *prompter) ask(question string) (string, error) {
	fmt.Fprint(p.out, question)

	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", errors.New("error: failed to read input")
	}

	return strings.TrimSpace(line), nil
}

func (p *prompter) askSecret(question string) (string, error) {
	fmt.Fprint(p.out, question)

	var buf []byte
	var err error

	// typed ahead input is already in the reader, ReadPassword would skip past it
	if p.secret == nil || (p.tty && p.in.Buffered() != 0) {
		var line string
		line, err = p.in.ReadString('\n')
		if err == io.EOF && line != "" {
			err = nil
		}
		buf = []byte(line)
	}else{
		buf, err = p.secret()
	}

	fmt.Fprintln(p.out)
	if err != nil {
		return "", errors.New("error: failed to read input")
	}

	return strings.TrimRight(string(buf), "\r\n"), nil
}

// askNewSecret asks for a secret twice until both entries match.
func (p *prompter) askNewSecret(what string) (string, error) {
	for {
		first, err := p.askSecret(what+": ")
		if err != nil {
			return "", err
		}
		second, err := p.askSecret("Confirm "+strings.ToLower(what)+": ")
		if err != nil {
			return "", err
		}

		if err := checkSecret(first, second); err != nil {
			fmt.Fprintln(p.out, warnStyle.Render(what+": "+err.Error()+", try again"))
			continue
		}

		return first, nil
	}
}

// confirm only accepts a literal "yes", for destructive steps.
func (p *prompter) confirm(question string) (bool, error) {
	answer, err := p.ask(question+" (yes|No): ")
	if err != nil {
		return false, err
	}
	return regex.Comp(`(?i)^yes$`).Match([]byte(answer)), nil
}

func (p *prompter) askYesNo(question string, def bool) (bool, error) {
	hint := " (y|N): "
	if def {
		hint = " (Y|n): "
	}

	for {
		answer, err := p.ask(question+hint)
		if err != nil {
			return false, err
		}

		if answer == "" {
			return def, nil
		}else if regex.Comp(`(?i)^y(es)?$`).Match([]byte(answer)) {
			return true, nil
		}else if regex.Comp(`(?i)^no?$`).Match([]byte(answer)) {
			return false, nil
		}
	}
}

// choose lists the options and returns the index picked by number or by name.
// A blank answer picks def.
func (p *prompter) choose(question string, options []string, def int) (int, error) {
	fmt.Fprintln(p.out, question)
	for i, opt := range options {
		line := "  "+strconv.Itoa(i+1)+") "+opt
		if i == def {
			line += dimStyle.Render(" (default)")
		}
		fmt.Fprintln(p.out, line)
	}

	for {
		answer, err := p.ask("Choice [1-"+strconv.Itoa(len(options))+"]: ")
		if err != nil {
			return 0, err
		}
		answer = string(regex.Comp(`[^\w_\-]`).RepStrLit([]byte(answer), []byte{}))

		if answer == "" {
			return def, nil
		}

		if i, err := strconv.Atoi(answer); err == nil && i >= 1 && i <= len(options) {
			return i-1, nil
		}

		for i, opt := range options {
			if strings.EqualFold(answer, opt) {
				return i, nil
			}
		}

		fmt.Fprintln(p.out, warnStyle.Render("Invalid choice, please try again."))
	}
}

func checkSecret(first, second string) error {
	if first == "" {
		return errEmptySecret
	}
	if first != second {
		return errSecretMismatch
	}
	return nil
}
