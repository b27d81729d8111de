package main

import (
	"errors"
)

// cleanup releases the target disk. It runs once, whatever the exit path,
// and never stops on a failing step.
func (ins *installer) cleanup(){
	ins.cleanupOnce.Do(func(){
		logger.Info("cleaning up")

		ins.mu.Lock()
		defer ins.mu.Unlock()

		if _, err := ins.sh.Run([]string{`umount`, `-R`, ins.root}, nil, false); err != nil && ins.mounted {
			logErr(errors.New("warning: failed to unmount "+ins.root))
		}
		ins.mounted = false

		if ins.swapOn != "" {
			if _, err := ins.sh.Run([]string{`swapoff`, ins.swapOn}, nil, false); err != nil {
				logErr(errors.New("warning: failed to disable swap on "+ins.swapOn))
			}
			ins.swapOn = ""
		}

		if ins.luksOpen {
			if _, err := ins.sh.Run([]string{`cryptsetup`, `close`, mapperName}, nil, false); err != nil {
				logErr(errors.New("warning: failed to close "+mapperPath()))
			}
			ins.luksOpen = false
		}
	})
}
