//go:build windows

package dap

import (
	"errors"
	"os"
	"os/exec"
)

// killProcessGroup kills an adapter process. Windows has no Unix-style
// process groups; the adapter is started with CREATE_NEW_PROCESS_GROUP.
func killProcessGroup(_ int, cmd *exec.Cmd) error {
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
	}
	return nil
}
