// SPDX-License-Identifier: MIT

// Package daemon owns the process lifecycle: startup hooks, the HTTP
// listeners, the readiness gate, and ordered graceful shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"

	"github.com/nholm/ballast/internal/config"
)

// StartupHook runs during Start, before the listeners open. The first
// failing hook aborts the boot.
type StartupHook func(ctx context.Context) error

// ShutdownHook performs cleanup during graceful shutdown. Hooks run in
// reverse registration order (LIFO); failures are logged, not fatal.
type ShutdownHook func(ctx context.Context) error

// Manager manages the daemon lifecycle: starting servers, handling
// shutdown.
type Manager interface {
	// Start runs the startup hooks, opens the listeners, flips
	// readiness on and blocks until ctx is cancelled or a server fails.
	Start(ctx context.Context) error

	// Shutdown gracefully drains and stops everything. Idempotent.
	Shutdown(ctx context.Context) error

	// RegisterStartupHook appends a named hook to run before the
	// listeners open.
	RegisterStartupHook(name string, hook StartupHook)

	// RegisterShutdownHook appends a named cleanup hook (LIFO order).
	RegisterShutdownHook(name string, hook ShutdownHook)
}

type namedStartupHook struct {
	name string
	hook StartupHook
}

type namedShutdownHook struct {
	name string
	hook ShutdownHook
}

// manager implements the Manager interface.
type manager struct {
	serverCfg config.ServerConfig
	deps      Deps

	apiServer     *http.Server
	metricsServer *http.Server
	apiAddr       string
	metricsAddr   string

	startupHooks  []namedStartupHook
	shutdownHooks []namedShutdownHook

	started  bool
	stopping bool
	mu       sync.Mutex

	logger zerolog.Logger
}

// NewManager creates a daemon manager with the given configuration and
// dependencies.
func NewManager(serverCfg config.ServerConfig, deps Deps) (Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}

	return &manager{
		serverCfg: serverCfg,
		deps:      deps,
		logger:    deps.Logger.With().Str("component", "daemon").Logger(),
	}, nil
}

func (m *manager) RegisterStartupHook(name string, hook StartupHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startupHooks = append(m.startupHooks, namedStartupHook{name: name, hook: hook})
	m.logger.Debug().Str("hook", name).Msg("registered startup hook")
}

func (m *manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownHooks = append(m.shutdownHooks, namedShutdownHook{name: name, hook: hook})
	m.logger.Debug().Str("hook", name).Msg("registered shutdown hook")
}

// Start starts all configured servers and blocks until the context is
// cancelled or a server fails.
func (m *manager) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("start context is nil")
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	startupHooks := make([]namedStartupHook, len(m.startupHooks))
	copy(startupHooks, m.startupHooks)
	m.mu.Unlock()

	m.logger.Info().
		Str("event", "daemon.starting").
		Str("listen", m.serverCfg.ListenAddr).
		Dur("read_timeout", m.serverCfg.ReadTimeout).
		Dur("write_timeout", m.serverCfg.WriteTimeout).
		Dur("shutdown_timeout", m.serverCfg.ShutdownTimeout).
		Msg("starting daemon manager")

	// Startup hooks run before any listener opens; the database ping
	// lives here so a dead database fails the boot instead of serving
	// 500s.
	for _, h := range startupHooks {
		hookStart := time.Now()
		if err := h.hook(ctx); err != nil {
			m.logger.Error().
				Err(err).
				Str("event", "daemon.startup_hook_failed").
				Str("hook", h.name).
				Msg("startup hook failed, aborting boot")
			return fmt.Errorf("startup hook %s: %w", h.name, err)
		}
		m.logger.Debug().
			Str("hook", h.name).
			Dur("duration", time.Since(hookStart)).
			Msg("startup hook completed")
	}

	errChan := make(chan error, 2)

	if m.deps.MetricsHandler != nil && m.deps.MetricsAddr != "" {
		if err := m.startMetricsServer(errChan); err != nil {
			return err
		}
	}

	if err := m.startAPIServer(errChan); err != nil {
		return err
	}

	m.deps.Health.SetReady(true)
	m.logger.Info().Str("event", "daemon.started").Msg("daemon manager started")

	select {
	case err := <-errChan:
		m.logger.Error().Err(err).Str("event", "daemon.server_error").Msg("server error, initiating shutdown")
		shutdownCtx, cancel := m.boundedShutdownContext(ctx)
		defer cancel()
		if shutdownErr := m.Shutdown(shutdownCtx); shutdownErr != nil {
			return fmt.Errorf("server error and shutdown failure: %w", errors.Join(err, shutdownErr))
		}
		return err
	case <-ctx.Done():
		m.logger.Info().Str("event", "daemon.signal").Msg("shutdown signal received")
		shutdownCtx, cancel := m.boundedShutdownContext(ctx)
		defer cancel()
		return m.Shutdown(shutdownCtx)
	}
}

// boundedShutdownContext detaches from the (usually already cancelled)
// parent so shutdown can complete, but stays bounded.
func (m *manager) boundedShutdownContext(ctx context.Context) (context.Context, context.CancelFunc) {
	budget := m.serverCfg.ShutdownTimeout + m.serverCfg.DrainGrace + 5*time.Second
	return context.WithTimeout(context.WithoutCancel(ctx), budget)
}

// startAPIServer binds the API listener. A bind failure is surfaced
// synchronously as ErrServerStartFailed.
func (m *manager) startAPIServer(errChan chan<- error) error {
	ln, err := net.Listen("tcp", m.serverCfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("%w: api listener %s: %w", ErrServerStartFailed, m.serverCfg.ListenAddr, err)
	}
	if m.serverCfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, m.serverCfg.MaxConns)
	}

	m.apiServer = &http.Server{
		Handler:           m.deps.APIHandler,
		ReadTimeout:       m.serverCfg.ReadTimeout,
		ReadHeaderTimeout: m.serverCfg.ReadHeaderTimeout,
		WriteTimeout:      m.serverCfg.WriteTimeout,
		IdleTimeout:       m.serverCfg.IdleTimeout,
		MaxHeaderBytes:    m.serverCfg.MaxHeaderBytes,
	}
	m.mu.Lock()
	m.apiAddr = ln.Addr().String()
	m.mu.Unlock()

	go func() {
		m.logger.Info().
			Str("event", "api.listening").
			Str("addr", ln.Addr().String()).
			Msg("API server listening")

		if err := m.apiServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error().
				Err(err).
				Str("event", "api.server_failed").
				Msg("API server failed")
			errChan <- fmt.Errorf("API server: %w", err)
		}
	}()

	return nil
}

// startMetricsServer binds the dedicated metrics listener.
func (m *manager) startMetricsServer(errChan chan<- error) error {
	ln, err := net.Listen("tcp", m.deps.MetricsAddr)
	if err != nil {
		return fmt.Errorf("%w: metrics listener %s: %w", ErrServerStartFailed, m.deps.MetricsAddr, err)
	}

	m.metricsServer = &http.Server{
		Handler:           m.deps.MetricsHandler,
		ReadHeaderTimeout: m.serverCfg.ReadHeaderTimeout,
	}
	m.mu.Lock()
	m.metricsAddr = ln.Addr().String()
	m.mu.Unlock()

	go func() {
		m.logger.Info().
			Str("event", "metrics.listening").
			Str("addr", ln.Addr().String()).
			Msg("metrics server listening")

		if err := m.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error().
				Err(err).
				Str("event", "metrics.server_failed").
				Msg("metrics server failed")
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	return nil
}

// Shutdown drains and stops the daemon: readiness off first so probes
// see the transition, a drain grace, then server shutdown, then the
// LIFO cleanup hooks.
func (m *manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("shutdown context is nil")
	}

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	shutdownHooks := make([]namedShutdownHook, len(m.shutdownHooks))
	copy(shutdownHooks, m.shutdownHooks)
	m.mu.Unlock()

	m.logger.Info().Str("event", "daemon.stopping").Msg("shutting down daemon manager")

	// Flip readiness off and give orchestrator probes a window to
	// observe it before the listener closes.
	m.deps.Health.SetReady(false)
	if grace := m.serverCfg.DrainGrace; grace > 0 {
		m.logger.Debug().Dur("grace", grace).Msg("draining before listener close")
		select {
		case <-time.After(grace):
		case <-ctx.Done():
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.serverCfg.ShutdownTimeout)
	defer cancel()

	var errs []error

	if m.apiServer != nil {
		m.logger.Debug().Msg("shutting down API server")
		if err := m.apiServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("API server shutdown: %w", err))
		}
	}

	if m.metricsServer != nil {
		m.logger.Debug().Msg("shutting down metrics server")
		if err := m.metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	m.logger.Debug().Int("hooks", len(shutdownHooks)).Msg("executing shutdown hooks")
	for i := len(shutdownHooks) - 1; i >= 0; i-- {
		hook := shutdownHooks[i]

		hookStart := time.Now()
		if err := hook.hook(shutdownCtx); err != nil {
			m.logger.Error().
				Err(err).
				Str("event", "daemon.shutdown_hook_failed").
				Str("hook", hook.name).
				Dur("duration", time.Since(hookStart)).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", hook.name, err))
		} else {
			m.logger.Debug().
				Str("hook", hook.name).
				Dur("duration", time.Since(hookStart)).
				Msg("shutdown hook completed")
		}
	}

	if len(errs) > 0 {
		m.logger.Error().
			Int("error_count", len(errs)).
			Str("event", "daemon.stopped_with_errors").
			Msg("shutdown completed with errors")
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	m.logger.Info().Str("event", "daemon.stopped").Msg("daemon manager stopped cleanly")
	return nil
}
