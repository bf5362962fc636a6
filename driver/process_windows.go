//go:build windows

package driver

import (
	"os/exec"
	"strconv"
)

func startInGroup(*exec.Cmd) {}

// killTree kills cmd and every process it started.
func killTree(cmd *exec.Cmd) error {
	err := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid)).Run()
	_ = cmd.Process.Kill()
	return err
}
