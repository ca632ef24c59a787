// SPDX-License-Identifier: MIT

//go:build windows

package procgroup

import (
	"os/exec"
	"syscall"
)

func set(cmd *exec.Cmd) {
	// Process groups as used here are a Unix concept.
}

// signal approximates Unix delivery: SIGKILL maps to Process.Kill,
// everything else is dropped because Windows has no reliable graceful
// signal for console children.
func signal(cmd *exec.Cmd, sig syscall.Signal) error {
	if sig == syscall.SIGKILL {
		return cmd.Process.Kill()
	}
	return nil
}
