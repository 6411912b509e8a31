//go:build !windows

package dap

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// killProcessGroup kills an adapter and the debuggee it launched.
// Adapters are spawned as session leaders, so the negative pid addresses both.
func killProcessGroup(pid int, cmd *exec.Cmd) error {
	if pid > 0 {
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			return err
		}
		return nil
	}
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
	}
	return nil
}
