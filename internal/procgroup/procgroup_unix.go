// SPDX-License-Identifier: MIT

//go:build unix

package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
)

func set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func signal(cmd *exec.Cmd, sig syscall.Signal) error {
	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return err
		}
		// PGID lookup failed for another reason, fall back to the
		// single process.
		return cmd.Process.Signal(sig)
	}

	// Negative PGID addresses the whole group. Setpgid at spawn time
	// made the child its own leader, so pgid == pid.
	return syscall.Kill(-pgid, sig)
}
