//go:build !windows

package adapters

import (
	"os/exec"
	"syscall"
)

// setProcAttr starts the adapter in a new session. The adapter and the
// debuggee it launches then share a process group the runtime can kill.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
