package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AspieSoft/go-regex-re2/v2"
	"github.com/AspieSoft/goutil/cputemp"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

const distroName = "NixOS"

const mountRoot = "/mnt"
const mapperName = "cryptroot"
const liveMarker = "/etc/NIXOS"

// exported to every nix tool the installer runs
var featureEnv = []string{`NIX_CONFIG=experimental-features = nix-command flakes`}

var requiredTools = []string{
	"lsblk",
	"wipefs",
	"parted",
	"partprobe",
	"mkfs.fat",
	"mkswap",
	"swapon",
	"nixos-generate-config",
	"nixos-install",
}

var errDeclined = errors.New("installation aborted by user")

var logger = newLogger()
var logFile *os.File

var stdout io.Writer = os.Stdout
var stderr io.Writer = os.Stderr

func main(){
	if os.Geteuid() != 0 {
		fmt.Fprintln(stderr, errStyle.Render("Please run as root!"))
		os.Exit(1)
	}

	platform := ""
	if info, err := host.Info(); err == nil {
		platform = info.Platform
	}

	sh := bashShell{}
	if err := checkLiveEnvironment(sh, liveMarker, platform); err != nil {
		fmt.Fprintln(stderr, errStyle.Render(err.Error()))
		os.Exit(1)
	}

	openLog()

	ins := newInstaller(sh, newPrompter())

	// ReadPassword leaves echo off if interrupted mid prompt
	fd := int(os.Stdin.Fd())
	termState, _ := term.GetState(fd)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	code := supervise(ins, sig, func(){
		if termState != nil {
			term.Restore(fd, termState)
		}
	})
	if code == 0 {
		logData(okStyle.Render("Installation complete. Remove the install media and reboot into "+distroName+"."))
	}

	closeLog()
	os.Exit(code)
}

// how long an interrupted run gets to stop its current command before cleanup
var interruptGrace = 5 * time.Second

// supervise runs the install and picks the exit code.
// An interrupt always ends with 130, even when the interrupted command fails first.
func supervise(ins *installer, sig <-chan os.Signal, restore func()) int {
	done := make(chan error, 1)
	go func(){
		done <- ins.run()
	}()

	select {
	case err := <-done:
		select {
		case <-sig:
			return interrupted(ins, restore)
		default:
		}

		ins.cleanup()
		if err != nil {
			logErr(err)
			return 1
		}
		return 0

	case <-sig:
		// a prompt stays blocked, a running command dies with the signal
		select {
		case <-done:
		case <-time.After(interruptGrace):
		}
		return interrupted(ins, restore)
	}
}

func interrupted(ins *installer, restore func()) int {
	restore()
	fmt.Fprintln(stdout)
	logErr(errors.New("interrupted"))
	ins.cleanup()
	return 130
}

// checkLiveEnvironment refuses to run outside the installation media.
func checkLiveEnvironment(sh shell, marker string, platform string) error {
	if _, err := os.Stat(marker); err != nil {
		return errors.New("error: not running in a "+distroName+" live environment ("+marker+" not found)")
	}

	if platform != "" && !strings.EqualFold(platform, "nixos") {
		return errors.New("error: not running in a "+distroName+" live environment (platform "+platform+")")
	}

	missing := []string{}
	for _, tool := range requiredTools {
		if !sh.Exists(tool) {
			missing = append(missing, tool)
		}
	}
	if len(missing) != 0 {
		return errors.New("error: required tools not found: "+strings.Join(missing, ", "))
	}

	return nil
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors: true,
		FullTimestamp: true,
	})
	return l
}

func openLog(){
	os.MkdirAll("logs", 0755)
	logFileName := time.Now().Format(time.DateOnly)+"@"+time.Now().Format(time.Kitchen)
	logFileName = string(regex.Comp(`[^\w_\-@\.:]`).RepStrLit([]byte(logFileName), []byte{}))
	if file, err := os.OpenFile("logs/"+logFileName+".log", os.O_CREATE|os.O_APPEND|os.O_WRONLY|os.O_SYNC, 0600); err == nil {
		logFile = file
		logger.SetOutput(file)
	}
}

func closeLog(){
	if logFile != nil {
		logger.SetOutput(io.Discard)
		logFile.Close()
		logFile = nil
	}
}

func logData(msg string, noln ...bool){
	logger.Info(msg)

	if len(noln) != 0 && noln[0] == true {
		fmt.Fprint(stdout, msg)
	}else{
		fmt.Fprintln(stdout, msg)
	}
}

func logWarn(msg string){
	logger.Warn(msg)
	fmt.Fprintln(stdout, warnStyle.Render(msg))
}

func logErr(err error){
	logger.Error(err)
	fmt.Fprintln(stderr, errStyle.Render(err.Error()))
}

func waitToCool(strict bool){
	cputemp.WaitToCool(strict)
}

// memTotalMiB reports installed memory, or 0 when it cannot be read.
func memTotalMiB() uint64 {
	if vm, err := mem.VirtualMemory(); err == nil {
		return vm.Total / 1024 / 1024
	}
	return 0
}
