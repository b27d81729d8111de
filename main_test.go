package main

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	stdout = io.Discard
	stderr = io.Discard
	os.Exit(m.Run())
}

type fedCall struct {
	args  []string
	input string
}

// fakeShell records every command instead of running it.
type fakeShell struct {
	calls    [][]string
	envs     map[string][]string
	fed      []fedCall
	attached [][]string

	missing map[string]bool
	output  map[string]string
	fail    map[string]error
	hooks   map[string]func(args []string)
}

func newFakeShell() *fakeShell {
	return &fakeShell{
		envs:    map[string][]string{},
		missing: map[string]bool{},
		output:  map[string]string{},
		fail:    map[string]error{},
		hooks:   map[string]func(args []string){},
	}
}

func (f *fakeShell) Run(args []string, env []string, live bool) ([]byte, error) {
	f.calls = append(f.calls, args)
	if env != nil {
		f.envs[args[0]] = env
	}
	if hook, ok := f.hooks[args[0]]; ok {
		hook(args)
	}
	if err, ok := f.fail[args[0]]; ok {
		return nil, err
	}
	return []byte(f.output[strings.Join(args, " ")]), nil
}

func (f *fakeShell) Feed(args []string, input []byte) ([]byte, error) {
	f.fed = append(f.fed, fedCall{args, string(input)})
	if err, ok := f.fail[args[0]+" "+args[1]]; ok {
		return []byte("device busy"), err
	}
	return nil, nil
}

func (f *fakeShell) Attach(args []string, env []string) error {
	f.attached = append(f.attached, args)
	if hook, ok := f.hooks[args[0]]; ok {
		hook(args)
	}
	return nil
}

func (f *fakeShell) Exists(name string) bool {
	return !f.missing[name]
}

// index returns the position of the first call matching cmd, or -1.
func (f *fakeShell) index(cmd string) int {
	for i, args := range f.calls {
		if strings.Join(args, " ") == cmd {
			return i
		}
	}
	return -1
}

func (f *fakeShell) ran(cmd string) bool {
	return f.index(cmd) != -1
}

func (f *fakeShell) ranPrefix(prefix string) bool {
	for _, args := range f.calls {
		if strings.HasPrefix(strings.Join(args, " "), prefix) {
			return true
		}
	}
	return false
}

func secretQueue(secrets ...string) func() ([]byte, error) {
	return func() ([]byte, error) {
		if len(secrets) == 0 {
			return nil, io.EOF
		}
		s := secrets[0]
		secrets = secrets[1:]
		return []byte(s), nil
	}
}

func newTestPrompter(input string, secrets ...string) *prompter {
	return &prompter{
		in:     bufio.NewReader(strings.NewReader(input)),
		out:    io.Discard,
		secret: secretQueue(secrets...),
	}
}

func newTestInstaller(t *testing.T, sh shell, input string, secrets ...string) *installer {
	t.Helper()

	ins := newInstaller(sh, newTestPrompter(input, secrets...))
	ins.root = t.TempDir()
	ins.isDevice = func(string) bool { return true }
	ins.pause = func(){}
	ins.memory = func() uint64 { return 0 }
	return ins
}

func TestCheckLiveEnvironment(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "NIXOS")
	require.NoError(t, os.WriteFile(marker, nil, 0644))

	sh := newFakeShell()
	assert.NoError(t, checkLiveEnvironment(sh, marker, "nixos"))
	assert.NoError(t, checkLiveEnvironment(sh, marker, ""), "an unknown platform falls back to the marker")

	err := checkLiveEnvironment(sh, marker, "ubuntu")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "platform ubuntu")

	err = checkLiveEnvironment(sh, filepath.Join(t.TempDir(), "missing"), "nixos")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "live environment")

	sh.missing["nixos-install"] = true
	sh.missing["parted"] = true
	err = checkLiveEnvironment(sh, marker, "nixos")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parted, nixos-install")
}

func TestLogDataWritesToLogger(t *testing.T) {
	var buf strings.Builder
	logger.SetOutput(&buf)
	defer logger.SetOutput(io.Discard)

	logData("wiping disk...")
	logErr(errDeclined)

	assert.Contains(t, buf.String(), "wiping disk...")
	assert.Contains(t, buf.String(), "level=error")
	assert.Contains(t, buf.String(), errDeclined.Error())
}

func TestSuperviseExitCodes(t *testing.T) {
	sh := newFakeShell()
	ins := newTestInstaller(t, sh, "alice\n\n\nsda\n\n\nno\n", "pw", "pw")

	restored := false
	code := supervise(ins, make(chan os.Signal, 1), func(){ restored = true })

	assert.Equal(t, 1, code, "declining exits 1")
	assert.False(t, restored)
	assert.Equal(t, []string{"umount", "-R", ins.root}, sh.calls[len(sh.calls)-1], "cleanup runs last")
}

func TestSuperviseInterruptedCommand(t *testing.T) {
	sig := make(chan os.Signal, 1)

	sh := newFakeShell()
	sh.hooks["wipefs"] = func([]string){
		sig <- syscall.SIGINT
	}
	sh.fail["wipefs"] = errors.New("signal: interrupt")

	ins := newTestInstaller(t, sh, "alice\n\n\nsda\n\n\nyes\n", "pw", "pw")

	restored := false
	code := supervise(ins, sig, func(){ restored = true })

	assert.Equal(t, 130, code, "the failing command does not turn an interrupt into exit 1")
	assert.True(t, restored)
	assert.False(t, sh.ranPrefix("parted"))
	assert.Equal(t, []string{"umount", "-R", ins.root}, sh.calls[len(sh.calls)-1])
}

func TestSuperviseInterruptedPrompt(t *testing.T) {
	grace := interruptGrace
	interruptGrace = 10 * time.Millisecond
	defer func(){ interruptGrace = grace }()

	r, w := io.Pipe()
	t.Cleanup(func(){ w.Close() })

	sh := newFakeShell()
	ins := newTestInstaller(t, sh, "")
	ins.prompt = &prompter{in: bufio.NewReader(r), out: io.Discard, secret: secretQueue()}

	sig := make(chan os.Signal, 1)
	sig <- syscall.SIGTERM

	code := supervise(ins, sig, func(){})

	assert.Equal(t, 130, code)
	assert.Equal(t, [][]string{{"umount", "-R", ins.root}}, sh.calls)
}
