// SPDX-License-Identifier: MIT

// Package supervisor keeps long-running workers alive: each worker runs
// in its own goroutine with panic recovery, restarts follow a per-worker
// policy with exponential backoff, and a shared rate limiter keeps a
// crash-looping fleet from hot-spinning. Workers that fail too often in
// a row are parked as failed until an operator restarts them.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nholm/ballast/internal/config"
	"github.com/nholm/ballast/internal/health"
	"github.com/nholm/ballast/internal/log"
	"github.com/nholm/ballast/internal/metrics"
)

// ErrUnknownWorker is returned by Restart and Signal for names that
// were never added.
var ErrUnknownWorker = errors.New("supervisor: unknown worker")

// Worker is a long-running unit of work. Run blocks until the work is
// done or ctx is canceled; returning an error marks the run as failed.
type Worker interface {
	Name() string
	Run(ctx context.Context) error
}

// Signaler is implemented by workers that accept operator signals,
// notably process workers forwarding to the child process group.
type Signaler interface {
	Signal(sig os.Signal) error
}

// Policy decides whether a worker is restarted after Run returns.
type Policy string

const (
	// Always restarts after every exit, clean or failed.
	Always Policy = "always"
	// OnFailure restarts only after a failed exit.
	OnFailure Policy = "on-failure"
	// Never runs the worker at most once.
	Never Policy = "never"
)

// WorkerState is the lifecycle state of a supervised worker.
type WorkerState string

const (
	StateIdle       WorkerState = "idle"
	StateRunning    WorkerState = "running"
	StateBackingOff WorkerState = "backing_off"
	StateStopped    WorkerState = "stopped"
	StateFailed     WorkerState = "failed"
)

func stateGauge(s WorkerState) int {
	switch s {
	case StateIdle:
		return 0
	case StateRunning:
		return 1
	case StateBackingOff:
		return 2
	case StateStopped:
		return 3
	case StateFailed:
		return 4
	}
	return 0
}

// Spec registers one worker with its restart behaviour.
type Spec struct {
	Worker Worker

	// Policy defaults to OnFailure.
	Policy Policy

	// CriticalThreshold overrides the configured consecutive-failure
	// limit when > 0.
	CriticalThreshold int

	// Critical makes a permanently failed worker report unhealthy
	// instead of degraded.
	Critical bool
}

// Snapshot is a point-in-time view of one worker.
type Snapshot struct {
	Name                string      `json:"name"`
	State               WorkerState `json:"state"`
	Policy              Policy      `json:"policy"`
	Restarts            uint64      `json:"restarts"`
	ConsecutiveFailures int         `json:"consecutiveFailures"`
	LastExit            time.Time   `json:"lastExit"`
	LastError           string      `json:"lastError,omitempty"`
	Since               time.Time   `json:"since"`
}

type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// managed is the supervisor-side record of one worker. All mutable
// fields are guarded by Supervisor.mu.
type managed struct {
	spec    Spec
	backoff *backoff.ExponentialBackOff

	// kick wakes a parked or backing-off worker for a manual restart.
	kick chan struct{}

	state            WorkerState
	restarts         uint64
	consecutive      int
	lastExit         time.Time
	lastError        string
	since            time.Time
	restartRequested bool
	attemptCancel    context.CancelFunc
}

// Supervisor runs registered workers and applies restart policy.
type Supervisor struct {
	cfg     config.SupervisorConfig
	log     zerolog.Logger
	clock   clock
	limiter *rate.Limiter

	mu      sync.Mutex
	workers map[string]*managed
	order   []string
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option customises a Supervisor.
type Option func(*Supervisor)

// WithClock substitutes the time source.
func WithClock(c clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// WithLogger substitutes the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

// WithLimiter substitutes the shared restart limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(s *Supervisor) { s.limiter = l }
}

// New builds a supervisor from cfg. Zero config values fall back to
// safe defaults.
func New(cfg config.SupervisorConfig, opts ...Option) *Supervisor {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = max(30*time.Second, cfg.BackoffBase)
	}
	if cfg.BackoffResetAfter <= 0 {
		cfg.BackoffResetAfter = time.Minute
	}
	if cfg.CriticalThreshold <= 0 {
		cfg.CriticalThreshold = 10
	}

	s := &Supervisor{
		cfg:     cfg,
		log:     log.WithComponent("supervisor"),
		clock:   realClock{},
		workers: make(map[string]*managed),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		r := rate.Limit(cfg.RestartRate)
		if cfg.RestartRate <= 0 {
			r = rate.Inf
		}
		burst := cfg.RestartBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(r, burst)
	}
	return s
}

// Add registers a worker. Registration closes once Start has run.
func (s *Supervisor) Add(spec Spec) error {
	if spec.Worker == nil {
		return errors.New("supervisor: nil worker")
	}
	name := spec.Worker.Name()
	if strings.TrimSpace(name) == "" {
		return errors.New("supervisor: worker name required")
	}
	switch spec.Policy {
	case Always, OnFailure, Never:
	case "":
		spec.Policy = OnFailure
	default:
		return fmt.Errorf("supervisor: unknown policy %q for worker %q", spec.Policy, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("supervisor: already started")
	}
	if _, dup := s.workers[name]; dup {
		return fmt.Errorf("supervisor: duplicate worker %q", name)
	}

	s.workers[name] = &managed{
		spec:    spec,
		backoff: s.newBackoff(),
		kick:    make(chan struct{}, 1),
		state:   StateIdle,
		since:   s.clock.Now(),
	}
	s.order = append(s.order, name)
	metrics.SetWorkerState(name, stateGauge(StateIdle))
	return nil
}

func (s *Supervisor) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.BackoffBase
	b.MaxInterval = s.cfg.BackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.Reset()
	return b
}

// Start launches every registered worker. It returns immediately; the
// workers run until ctx is canceled or Stop is called.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("supervisor: already started")
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	names := make([]string, len(s.order))
	copy(names, s.order)
	s.mu.Unlock()

	s.log.Info().
		Str("event", "supervisor.started").
		Int("workers", len(names)).
		Msg("supervisor started")

	for _, name := range names {
		s.mu.Lock()
		m := s.workers[name]
		s.mu.Unlock()
		s.wg.Add(1)
		go s.supervise(runCtx, name, m)
	}
	return nil
}

// Stop cancels all workers and waits for them to exit, bounded by ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Str("event", "supervisor.stopped").Msg("supervisor stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor: %d workers still running: %w", s.activeCount(), ctx.Err())
	}
}

func (s *Supervisor) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.workers {
		if m.state == StateRunning || m.state == StateBackingOff {
			n++
		}
	}
	return n
}

// Snapshots returns per-worker views in registration order.
func (s *Supervisor) Snapshots() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Snapshot, 0, len(s.order))
	for _, name := range s.order {
		m := s.workers[name]
		out = append(out, Snapshot{
			Name:                name,
			State:               m.state,
			Policy:              m.spec.Policy,
			Restarts:            m.restarts,
			ConsecutiveFailures: m.consecutive,
			LastExit:            m.lastExit,
			LastError:           m.lastError,
			Since:               m.since,
		})
	}
	return out
}

// Restart asks a worker to restart: a running worker is canceled and
// relaunched without counting a failure, a backing-off, failed or
// stopped worker is woken immediately with its failure streak cleared.
func (s *Supervisor) Restart(name string) error {
	s.mu.Lock()
	m, ok := s.workers[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownWorker, name)
	}
	if !s.started {
		s.mu.Unlock()
		return errors.New("supervisor: not started")
	}
	m.restartRequested = true
	cancel := m.attemptCancel
	s.mu.Unlock()

	select {
	case m.kick <- struct{}{}:
	default:
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// Signal forwards sig to the named worker if it supports signalling,
// otherwise it is a no-op.
func (s *Supervisor) Signal(name string, sig os.Signal) error {
	s.mu.Lock()
	m, ok := s.workers[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownWorker, name)
	}
	if sg, ok := m.spec.Worker.(Signaler); ok {
		return sg.Signal(sig)
	}
	return nil
}

// Name implements health.Checker.
func (s *Supervisor) Name() string { return "workers" }

// Check implements health.Checker: failed workers degrade the service,
// failed critical workers make it unhealthy.
func (s *Supervisor) Check(context.Context) health.CheckResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	running := 0
	var failed []string
	criticalFailed := false
	for _, name := range s.order {
		m := s.workers[name]
		switch m.state {
		case StateRunning:
			running++
		case StateFailed:
			failed = append(failed, name)
			if m.spec.Critical {
				criticalFailed = true
			}
		}
	}

	if len(failed) > 0 {
		status := health.StatusDegraded
		if criticalFailed {
			status = health.StatusUnhealthy
		}
		return health.CheckResult{
			Status:  status,
			Message: fmt.Sprintf("workers failed: %s", strings.Join(failed, ", ")),
		}
	}
	return health.CheckResult{
		Status:  health.StatusHealthy,
		Message: fmt.Sprintf("%d/%d workers running", running, len(s.order)),
	}
}

var _ health.Checker = (*Supervisor)(nil)
