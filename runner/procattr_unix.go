//go:build unix

package runner

import (
	"errors"
	"os/exec"
	"syscall"
)

// configureProcess starts the host in its own process group and makes
// cancellation kill the whole group, so helpers spawned by the test die too.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	cmd.WaitDelay = killGracePeriod
}

// killProcessGroup kills every process left in the host's group.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
