// SPDX-License-Identifier: MIT

package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholm/ballast/internal/config"
	"github.com/nholm/ballast/internal/log"
	"github.com/nholm/ballast/internal/procgroup"
)

const defaultGrace = 10 * time.Second

// ProcessWorker runs an external command as a supervised worker. The
// child starts in its own process group; cancellation sends SIGTERM to
// the group and escalates to SIGKILL after the grace period.
type ProcessWorker struct {
	name    string
	command string
	args    []string
	grace   time.Duration
	log     zerolog.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

var (
	_ Worker   = (*ProcessWorker)(nil)
	_ Signaler = (*ProcessWorker)(nil)
)

// NewProcessWorker builds a worker for one configured child process.
func NewProcessWorker(cfg config.ProcessWorkerConfig) *ProcessWorker {
	grace := cfg.Grace
	if grace <= 0 {
		grace = defaultGrace
	}
	return &ProcessWorker{
		name:    cfg.Name,
		command: cfg.Command,
		args:    cfg.Args,
		grace:   grace,
		log:     log.WithComponent("supervisor").With().Str("worker", cfg.Name).Logger(),
	}
}

func (w *ProcessWorker) Name() string { return w.name }

// Run starts the child and blocks until it exits or ctx is canceled.
// Termination initiated by cancel is reported as a clean stop.
func (w *ProcessWorker) Run(ctx context.Context) error {
	cmd := exec.Command(w.command, w.args...)
	cmd.Env = os.Environ()
	procgroup.Set(cmd)
	cmd.Stdout = newLineWriter(w.log, zerolog.InfoLevel)
	cmd.Stderr = newLineWriter(w.log, zerolog.WarnLevel)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", w.command, err)
	}
	w.mu.Lock()
	w.cmd = cmd
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.cmd = nil
		w.mu.Unlock()
	}()

	w.log.Info().
		Str("event", "worker.spawned").
		Int("pid", cmd.Process.Pid).
		Str("command", w.command).
		Msg("child process started")

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		err := procgroup.Terminate(cmd, waitCh, w.grace)
		w.log.Debug().
			Str("event", "worker.terminated").
			AnErr("exit", err).
			Msg("child process terminated")
		return nil
	case err := <-waitCh:
		if err != nil {
			return fmt.Errorf("%s: %w", w.command, err)
		}
		return nil
	}
}

// Signal forwards sig to the child's process group. A worker without a
// live child is a no-op.
func (w *ProcessWorker) Signal(sig os.Signal) error {
	w.mu.Lock()
	cmd := w.cmd
	w.mu.Unlock()
	if cmd == nil {
		return nil
	}
	s, ok := sig.(syscall.Signal)
	if !ok {
		return fmt.Errorf("unsupported signal %v", sig)
	}
	return procgroup.Signal(cmd, s)
}

// lineWriter forwards child output to the log, one event per line.
// Partial lines stay buffered until their newline arrives.
type lineWriter struct {
	log   zerolog.Logger
	level zerolog.Level

	mu  sync.Mutex
	buf bytes.Buffer
}

func newLineWriter(l zerolog.Logger, level zerolog.Level) *lineWriter {
	return &lineWriter{log: l, level: level}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			w.buf.WriteString(line)
			break
		}
		if text := strings.TrimRight(line, "\r\n"); text != "" {
			w.log.WithLevel(w.level).Str("event", "worker.output").Msg(text)
		}
	}
	return len(p), nil
}
