// SPDX-License-Identifier: MIT

// Package health provides liveness and readiness checks for production
// deployments. It supports Docker HEALTHCHECK and Kubernetes probes
// with per-component status: liveness always answers 200 while the
// process runs, readiness gates traffic on an explicit ready flag and
// on the registered component checks.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nholm/ballast/internal/log"
	"github.com/nholm/ballast/internal/metrics"
)

// Status represents the overall health/readiness status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// DefaultCheckTimeout bounds a single component check.
const DefaultCheckTimeout = 2 * time.Second

// CheckResult represents the result of a component health check
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse represents the full health check response
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker defines the interface for component health checks. Check
// must honor ctx; checks that overrun the manager timeout are reported
// unhealthy.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc struct {
	name string
	fn   func(ctx context.Context) CheckResult
}

// NewCheckerFunc wraps fn as a named Checker.
func NewCheckerFunc(name string, fn func(ctx context.Context) CheckResult) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

func (c *CheckerFunc) Name() string { return c.name }

func (c *CheckerFunc) Check(ctx context.Context) CheckResult { return c.fn(ctx) }

// Manager runs health and readiness checks. Checks run concurrently,
// each bounded by the check timeout; a panicking checker is reported
// unhealthy instead of taking the process down.
type Manager struct {
	version   string
	startedAt time.Time
	timeout   time.Duration

	mu       sync.RWMutex
	checkers []Checker
	ready    bool
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithCheckTimeout overrides DefaultCheckTimeout.
func WithCheckTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// NewManager creates a new health check manager. The service starts
// not ready; call SetReady(true) once startup completed.
func NewManager(version string, opts ...ManagerOption) *Manager {
	m := &Manager{
		version:   version,
		startedAt: time.Now(),
		timeout:   DefaultCheckTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	metrics.SetReady(false)
	return m
}

// RegisterChecker adds a component checker.
func (m *Manager) RegisterChecker(checker Checker) {
	m.mu.Lock()
	m.checkers = append(m.checkers, checker)
	m.mu.Unlock()
}

// SetReady flips the readiness gate. The daemon opens it after startup
// and closes it when shutdown begins, so load balancers stop routing
// before connections drain.
func (m *Manager) SetReady(ready bool) {
	m.mu.Lock()
	changed := m.ready != ready
	m.ready = ready
	m.mu.Unlock()

	metrics.SetReady(ready)
	if changed {
		logger := log.WithComponent("health")
		logger.Info().
			Str("event", "health.ready_changed").
			Bool("ready", ready).
			Msg("readiness gate changed")
	}
}

// IsReady reports the readiness gate, ignoring component checks.
func (m *Manager) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// Health performs a liveness check. The process answering at all means
// it is alive, so the status only moves away from healthy when verbose
// component checks are requested and fail.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Uptime:    time.Since(m.startedAt).Round(time.Second).String(),
		Timestamp: time.Now(),
	}
	if verbose {
		resp.Checks, resp.Status = m.runChecks(ctx)
	}
	return resp
}

// Ready performs a readiness check. The service is ready when the
// readiness gate is open and no component check is unhealthy; degraded
// components keep serving.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	resp := ReadinessResponse{
		Timestamp: time.Now(),
	}
	resp.Checks, resp.Status = m.runChecks(ctx)
	resp.Ready = m.IsReady() && resp.Status != StatusUnhealthy
	return resp
}

// runChecks runs all registered checkers concurrently and aggregates
// the worst status.
func (m *Manager) runChecks(ctx context.Context) (map[string]CheckResult, Status) {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	results := make(map[string]CheckResult, len(checkers))
	if len(checkers) == 0 {
		return results, StatusHealthy
	}

	type keyed struct {
		name string
		res  CheckResult
	}
	resCh := make(chan keyed, len(checkers))
	for _, c := range checkers {
		go func(c Checker) {
			resCh <- keyed{name: c.Name(), res: m.runCheck(ctx, c)}
		}(c)
	}

	status := StatusHealthy
	for range checkers {
		kr := <-resCh
		results[kr.name] = kr.res
		metrics.IncHealthCheck(kr.name, string(kr.res.Status))
		switch kr.res.Status {
		case StatusUnhealthy:
			status = StatusUnhealthy
		case StatusDegraded:
			if status != StatusUnhealthy {
				status = StatusDegraded
			}
		}
	}
	return results, status
}

// TimeoutChecker gives one checker its own deadline instead of the
// manager default, for probes that are legitimately slower.
type TimeoutChecker struct {
	Checker
	Timeout time.Duration
}

// runCheck executes one checker with the per-check timeout. A checker
// that panics or overruns the timeout is reported unhealthy.
func (m *Manager) runCheck(ctx context.Context, c Checker) CheckResult {
	timeout := m.timeout
	if tc, ok := c.(TimeoutChecker); ok && tc.Timeout > 0 {
		timeout = tc.Timeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger := log.WithComponent("health")
				logger.Error().
					Str("event", "health.checker_panic").
					Str("checker", c.Name()).
					Interface("panic", r).
					Msg("health checker panicked")
				done <- CheckResult{
					Status: StatusUnhealthy,
					Error:  fmt.Sprintf("checker panic: %v", r),
				}
			}
		}()
		done <- c.Check(cctx)
	}()

	select {
	case res := <-done:
		return res
	case <-cctx.Done():
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  fmt.Sprintf("check timed out after %s", timeout),
		}
	}
}

// ServeHealth handles HTTP liveness requests. It always answers 200.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "health")
	verbose := isTruthy(r.URL.Query().Get("verbose"))

	resp := m.Health(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "health.encode_error").Msg("failed to encode health response")
	}

	logger.Debug().
		Str("event", "health.checked").
		Str("status", string(resp.Status)).
		Bool("verbose", verbose).
		Msg("health check performed")
}

// ServeReady handles HTTP readiness requests. It answers 503 until the
// service is ready to take traffic.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "readiness")

	resp := m.Ready(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "readiness.encode_error").Msg("failed to encode readiness response")
	}

	logger.Debug().
		Str("event", "readiness.checked").
		Str("status", string(resp.Status)).
		Bool("ready", resp.Ready).
		Msg("readiness check performed")
}

func isTruthy(v string) bool {
	return v == "1" || v == "true"
}

// DirWriteChecker verifies a directory exists and accepts writes.
type DirWriteChecker struct {
	name string
	path string
}

// NewDirWriteChecker creates a checker probing write access to path.
func NewDirWriteChecker(name, path string) *DirWriteChecker {
	return &DirWriteChecker{name: name, path: path}
}

func (c *DirWriteChecker) Name() string { return c.name }

func (c *DirWriteChecker) Check(_ context.Context) CheckResult {
	info, err := os.Stat(c.path)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	if !info.IsDir() {
		return CheckResult{Status: StatusUnhealthy, Error: "not a directory", Message: c.path}
	}

	probe := filepath.Join(c.path, ".health_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0600); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: "directory not writable", Message: c.path}
	}
	_ = os.Remove(probe)

	return CheckResult{Status: StatusHealthy, Message: "directory writable"}
}

// LastRunChecker reports on the most recent background job run. A
// failed run is unhealthy; no run yet, or a success older than maxAge,
// is degraded.
type LastRunChecker struct {
	getLastRun func() (time.Time, string)
	maxAge     time.Duration
}

// NewLastRunChecker creates a checker for the last job run status.
// getLastRun returns the completion time of the most recent run and
// its error message, empty on success.
func NewLastRunChecker(getLastRun func() (time.Time, string), maxAge time.Duration) *LastRunChecker {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &LastRunChecker{getLastRun: getLastRun, maxAge: maxAge}
}

func (c *LastRunChecker) Name() string { return "last_job_run" }

func (c *LastRunChecker) Check(_ context.Context) CheckResult {
	lastRun, lastError := c.getLastRun()

	if lastRun.IsZero() {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "no job run recorded yet",
		}
	}
	if lastError != "" {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   lastError,
			Message: "last job run failed",
		}
	}
	if age := time.Since(lastRun); age > c.maxAge {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("last successful run %s ago", age.Round(time.Minute)),
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: "last job run successful",
	}
}
