//go:build !windows

package driver

import (
	"errors"
	"os/exec"
	"syscall"
)

// startInGroup puts cmd in a process group of its own, so the browser it
// spawns can be killed together with it.
func startInGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killTree kills cmd's process group. A group that is already gone is not
// an error.
func killTree(cmd *exec.Cmd) error {
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if err != nil && !errors.Is(err, syscall.ESRCH) {
		_ = cmd.Process.Kill()
		return err
	}
	return nil
}
