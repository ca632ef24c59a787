// SPDX-License-Identifier: MIT

// Package procgroup starts child processes as process group leaders and
// terminates the whole group: SIGTERM first, SIGKILL after a grace
// period. Without the group, killing a shell wrapper leaves its
// children orphaned and still running.
package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"time"

	"github.com/nholm/ballast/internal/metrics"
)

// ErrKillFailed reports a process group that survived SIGKILL within
// the wait timeout.
var ErrKillFailed = errors.New("process group survived SIGKILL")

// Set configures cmd to start as a new process group leader. It must be
// called before cmd.Start for Signal and Terminate to reach children.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Signal sends sig to the whole process group of cmd. A process that
// already exited is not an error.
func Signal(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	err := signal(cmd, sig)
	switch {
	case err == nil:
		metrics.IncProcSignal(sigName(sig), "sent")
	case errors.Is(err, syscall.ESRCH):
		metrics.IncProcSignal(sigName(sig), "esrch")
		return nil
	default:
		metrics.IncProcSignal(sigName(sig), "error")
	}
	return err
}

// Terminate stops the process group of cmd: SIGTERM, wait up to grace
// for the exit to arrive on waitCh, then SIGKILL the group and drain
// waitCh. It returns the process exit error from waitCh. waitCh must
// carry the result of exactly one cmd.Wait.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = Signal(cmd, syscall.SIGTERM)

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
	}

	_ = Signal(cmd, syscall.SIGKILL)
	return <-waitCh
}

func sigName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGKILL:
		return "SIGKILL"
	case syscall.SIGHUP:
		return "SIGHUP"
	default:
		return sig.String()
	}
}
