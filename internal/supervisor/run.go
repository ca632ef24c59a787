// SPDX-License-Identifier: MIT

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nholm/ballast/internal/metrics"
)

// panicError marks an exit caused by a recovered worker panic.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("worker panicked: %v", e.value)
}

// supervise owns one worker for the supervisor's lifetime: run, classify
// the exit, apply policy, back off, repeat. It returns only when ctx is
// canceled.
func (s *Supervisor) supervise(ctx context.Context, name string, m *managed) {
	defer s.wg.Done()
	wlog := s.log.With().Str("worker", name).Logger()

	first := true
	for {
		if !first {
			// Only restarts pay the shared rate budget, the initial
			// start is free.
			s.setState(name, m, StateBackingOff)
			if err := s.limiter.Wait(ctx); err != nil {
				if ctx.Err() == nil {
					wlog.Warn().
						Err(err).
						Str("event", "worker.restart_budget").
						Msg("restart budget rejected, worker stays down")
				}
				s.setState(name, m, StateStopped)
				return
			}
		}
		first = false

		attemptCtx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		m.attemptCancel = cancel
		m.state = StateRunning
		m.since = s.clock.Now()
		s.mu.Unlock()
		metrics.SetWorkerState(name, stateGauge(StateRunning))
		wlog.Info().Str("event", "worker.start").Msg("worker started")

		started := s.clock.Now()
		err := runAttempt(attemptCtx, m.spec.Worker)
		cancel()
		duration := s.clock.Now().Sub(started)

		s.mu.Lock()
		m.attemptCancel = nil
		m.lastExit = s.clock.Now()
		if err != nil {
			m.lastError = err.Error()
		} else {
			m.lastError = ""
		}
		manual := m.restartRequested
		m.restartRequested = false
		if duration >= s.cfg.BackoffResetAfter {
			// A healthy run clears the streak so an occasional crash
			// starts backoff from the base again.
			m.consecutive = 0
			m.backoff.Reset()
		}
		s.mu.Unlock()

		if ctx.Err() != nil {
			s.setState(name, m, StateStopped)
			wlog.Info().
				Str("event", "worker.stopped").
				Dur("ran_for", duration).
				Msg("worker stopped")
			return
		}

		if manual {
			// Consume the kick that Restart may have queued alongside
			// the attempt cancel.
			select {
			case <-m.kick:
			default:
			}
			wlog.Info().Str("event", "worker.restart").Str("reason", "manual").Msg("worker restarting")
			s.countRestart(name, m, "manual")
			continue
		}

		if err == nil {
			if m.spec.Policy == Always {
				wlog.Info().
					Str("event", "worker.restart").
					Str("reason", "exit").
					Dur("ran_for", duration).
					Msg("worker exited cleanly, restarting")
				s.countRestart(name, m, "exit")
				continue
			}
			s.setState(name, m, StateStopped)
			wlog.Info().
				Str("event", "worker.stopped").
				Dur("ran_for", duration).
				Msg("worker completed")
			if !s.parkUntilRestart(ctx, name, m) {
				return
			}
			continue
		}

		// Failure exit.
		reason := "failure"
		var pe *panicError
		if errors.As(err, &pe) {
			reason = "panic"
		}

		s.mu.Lock()
		m.consecutive++
		consecutive := m.consecutive
		s.mu.Unlock()

		wlog.Error().
			Err(err).
			Str("event", "worker.exit").
			Str("reason", reason).
			Int("consecutive_failures", consecutive).
			Dur("ran_for", duration).
			Msg("worker exited with failure")

		if m.spec.Policy == Never {
			s.setState(name, m, StateStopped)
			if !s.parkUntilRestart(ctx, name, m) {
				return
			}
			continue
		}

		if consecutive >= s.threshold(m) {
			s.setState(name, m, StateFailed)
			wlog.Error().
				Str("event", "worker.failed").
				Int("consecutive_failures", consecutive).
				Msg("worker exceeded failure threshold, not restarting")
			if !s.parkUntilRestart(ctx, name, m) {
				return
			}
			continue
		}

		delay := m.backoff.NextBackOff()
		s.setState(name, m, StateBackingOff)
		wlog.Warn().
			Str("event", "worker.backoff").
			Dur("delay", delay).
			Msg("worker backing off before restart")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setState(name, m, StateStopped)
			return
		case <-m.kick:
			timer.Stop()
			s.mu.Lock()
			m.restartRequested = false
			m.consecutive = 0
			m.backoff.Reset()
			s.mu.Unlock()
			s.countRestart(name, m, "manual")
		case <-timer.C:
			s.countRestart(name, m, reason)
		}
	}
}

// runAttempt calls Run with panic recovery. A panic becomes a failure
// exit instead of taking down the daemon.
func runAttempt(ctx context.Context, w Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return w.Run(ctx)
}

// parkUntilRestart holds a stopped or failed worker until either the
// supervisor shuts down (false) or an operator restart arrives (true).
func (s *Supervisor) parkUntilRestart(ctx context.Context, name string, m *managed) bool {
	select {
	case <-ctx.Done():
		return false
	case <-m.kick:
		s.mu.Lock()
		m.restartRequested = false
		m.consecutive = 0
		m.backoff.Reset()
		s.mu.Unlock()
		s.countRestart(name, m, "manual")
		return true
	}
}

func (s *Supervisor) setState(name string, m *managed, state WorkerState) {
	s.mu.Lock()
	m.state = state
	m.since = s.clock.Now()
	s.mu.Unlock()
	metrics.SetWorkerState(name, stateGauge(state))
}

func (s *Supervisor) countRestart(name string, m *managed, reason string) {
	s.mu.Lock()
	m.restarts++
	s.mu.Unlock()
	metrics.IncWorkerRestart(name, reason)
}

func (s *Supervisor) threshold(m *managed) int {
	if m.spec.CriticalThreshold > 0 {
		return m.spec.CriticalThreshold
	}
	return s.cfg.CriticalThreshold
}
