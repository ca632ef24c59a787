// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nholm/ballast/internal/config"
	"github.com/nholm/ballast/internal/jobs"
	"github.com/nholm/ballast/internal/log"
	"github.com/nholm/ballast/internal/supervisor"
)

// App owns the long-lived runtime lifecycle (config watcher, reload
// wiring, supervisor, scheduler) and delegates server management to
// Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	holder       *config.Holder
	supervisor   *supervisor.Supervisor
	scheduler    *jobs.Scheduler
	reloadSignal os.Signal
}

// NewApp creates the app orchestrator. holder, sup and sched may be
// nil when the corresponding subsystem is disabled.
func NewApp(logger zerolog.Logger, manager Manager, holder *config.Holder, sup *supervisor.Supervisor, sched *jobs.Scheduler) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		holder:       holder,
		supervisor:   sup,
		scheduler:    sched,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts all owned background subsystems and blocks until ctx is
// cancelled or a fatal error occurs. Subsystem teardown happens through
// the manager's shutdown hooks, so Run returning means shutdown
// completed.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: startup should not fail because
	// the config file cannot be watched.
	if a.holder != nil {
		if err := a.holder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str("event", "config.watcher_start_failed").Msg("failed to start config watcher")
		}

		// Apply runtime-adjustable settings on every validated swap.
		applyCh := make(chan config.Config, 1)
		a.holder.RegisterListener(applyCh)

		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-applyCh:
					a.applyConfig(cfg)
				}
			}
		})

		// SIGHUP triggers a manual reload, the classic daemon contract.
		if a.reloadSignal != nil {
			g.Go(func() error {
				hupChan := make(chan os.Signal, 1)
				signal.Notify(hupChan, a.reloadSignal)
				defer signal.Stop(hupChan)

				for {
					select {
					case <-ctx.Done():
						return nil
					case <-hupChan:
						a.logger.Info().
							Str("event", "config.reload_signal").
							Str("signal", a.reloadSignal.String()).
							Msg("received reload signal, reloading config")

						if err := a.holder.Reload(context.Background()); err != nil {
							a.logger.Warn().
								Err(err).
								Str("event", "config.reload_failed").
								Msg("config reload failed")
						}
					}
				}
			})
		}
	}

	// Worker supervision (stopped via shutdown hook).
	if a.supervisor != nil {
		if err := a.supervisor.Start(ctx); err != nil {
			return err
		}
	}

	// Cron scheduler (stopped via shutdown hook).
	if a.scheduler != nil {
		a.scheduler.Start(ctx)
	}

	// Main server lifecycle.
	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

// applyConfig applies the runtime-adjustable subset of a reloaded
// config. Listener addresses and pool sizes need a restart; the log
// level does not.
func (a *App) applyConfig(cfg config.Config) {
	log.Reconfigure(log.Config{
		Level:   cfg.LogLevel,
		Service: cfg.Service,
		Console: cfg.LogFormat == "console",
	})
	a.logger.Info().
		Str("event", "config.applied").
		Str("log_level", cfg.LogLevel).
		Msg("reloaded config applied")
}
