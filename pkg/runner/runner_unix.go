//go:build !windows

package runner

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// setProcessGroup places the child in a new process group so that signals
// aimed at the tool do not reach zfs or gpg halfway through a stream.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
}
