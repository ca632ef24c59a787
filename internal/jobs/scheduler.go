// SPDX-License-Identifier: MIT

// Package jobs drives the scheduled maintenance work. A cron scheduler
// dispatches registered job functions, records every run in the ledger
// and skips a run while the previous one is still going.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/nholm/ballast/internal/ledger"
	"github.com/nholm/ballast/internal/log"
	"github.com/nholm/ballast/internal/metrics"
)

// Func is one schedulable unit of work.
type Func func(ctx context.Context) error

// Scheduler wraps the cron runner with run bookkeeping.
type Scheduler struct {
	cron *cron.Cron
	led  *ledger.Ledger
	log  zerolog.Logger

	mu    sync.Mutex
	base  context.Context
	names []string
}

// New builds a stopped scheduler. led may be nil, in which case runs
// are logged but not persisted.
func New(led *ledger.Ledger) *Scheduler {
	logger := log.WithComponent("jobs")
	s := &Scheduler{
		led: led,
		log: logger,
	}
	s.cron = cron.New(cron.WithLogger(&cronLogger{log: logger}))
	return s
}

// Register adds fn under a standard five-field cron spec (descriptors
// like @every 10m work too). Overlapping runs are skipped.
func (s *Scheduler) Register(name, spec string, fn Func) error {
	jl := &cronLogger{log: s.log, job: name}
	job := cron.NewChain(
		cron.SkipIfStillRunning(jl),
		cron.Recover(jl),
	).Then(cron.FuncJob(func() { s.run(name, fn) }))

	if _, err := s.cron.AddJob(spec, job); err != nil {
		return fmt.Errorf("jobs: register %s: %w", name, err)
	}

	s.mu.Lock()
	s.names = append(s.names, name)
	s.mu.Unlock()

	s.log.Info().
		Str("job", name).
		Str("schedule", spec).
		Str("event", "job.registered").
		Msg("job registered")
	return nil
}

// Names returns the registered job names in registration order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Start begins dispatching. ctx becomes the parent of every run.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.base = ctx
	n := len(s.names)
	s.mu.Unlock()

	s.cron.Start()
	s.log.Info().
		Int("jobs", n).
		Str("event", "jobs.started").
		Msg("scheduler started")
}

// Stop halts dispatch and waits for in-flight runs, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		s.log.Info().Str("event", "jobs.stopped").Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("jobs: stop: %w", ctx.Err())
	}
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.base != nil {
		return s.base
	}
	return context.Background()
}

// run executes one attempt with ledger and metric bookkeeping. Panics
// in fn become failed runs so the ledger row still closes.
func (s *Scheduler) run(name string, fn Func) {
	start := time.Now()
	ctx := s.baseContext()

	runID := uuid.NewString()
	recorded := false
	if s.led != nil {
		if id, err := s.led.RecordStart(ctx, name); err != nil {
			s.log.Warn().Err(err).Str("job", name).Str("event", "job.ledger_failed").Msg("could not record run start")
		} else {
			runID = id
			recorded = true
		}
	}

	ctx = log.ContextWithJobID(ctx, runID)
	jlog := log.WithContext(ctx, s.log.With().Str("job", name).Logger())
	jlog.Info().Str("event", "job.started").Msg("job started")

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn(ctx)
	}()
	elapsed := time.Since(start)

	outcome := ledger.OutcomeSuccess
	errMsg := ""
	if err != nil {
		outcome = ledger.OutcomeFailure
		errMsg = err.Error()
	}
	metrics.RecordJobRun(name, outcome, elapsed)

	if recorded {
		finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if ferr := s.led.RecordFinish(finCtx, runID, outcome, errMsg, elapsed); ferr != nil {
			s.log.Warn().Err(ferr).Str("job", name).Str("event", "job.ledger_failed").Msg("could not record run finish")
		}
	}

	if err != nil {
		jlog.Error().
			Err(err).
			Int64("duration_ms", elapsed.Milliseconds()).
			Str("event", "job.failed").
			Msg("job failed")
		return
	}
	jlog.Info().
		Int64("duration_ms", elapsed.Milliseconds()).
		Str("event", "job.finished").
		Msg("job finished")
}

// cronLogger adapts zerolog to cron.Logger. With a job name set it also
// turns the skip notice from SkipIfStillRunning into a metric.
type cronLogger struct {
	log zerolog.Logger
	job string
}

func (c *cronLogger) Info(msg string, keysAndValues ...any) {
	if c.job != "" && msg == "skip" {
		metrics.IncJobSkipped(c.job)
		c.log.Warn().
			Str("job", c.job).
			Str("event", "job.skipped").
			Msg("previous run still in progress, skipping")
		return
	}
	c.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (c *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	evt := c.log.Error().Err(err).Fields(keysAndValues)
	if c.job != "" {
		evt = evt.Str("job", c.job)
	}
	evt.Msg(msg)
}
