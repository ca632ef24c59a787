// SPDX-License-Identifier: MIT

// Command ballastd runs the ballast service daemon: an HTTP API over a
// bounded database connection pool, with liveness/readiness probes,
// supervised background workers and scheduled maintenance jobs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Load a local .env in development before anything reads the
	// environment.
	_ "github.com/joho/godotenv/autoload"

	"github.com/nholm/ballast/internal/api"
	"github.com/nholm/ballast/internal/cache"
	"github.com/nholm/ballast/internal/config"
	"github.com/nholm/ballast/internal/daemon"
	"github.com/nholm/ballast/internal/db"
	"github.com/nholm/ballast/internal/health"
	"github.com/nholm/ballast/internal/items"
	"github.com/nholm/ballast/internal/jobs"
	"github.com/nholm/ballast/internal/ledger"
	"github.com/nholm/ballast/internal/log"
	"github.com/nholm/ballast/internal/metrics"
	"github.com/nholm/ballast/internal/pool"
	"github.com/nholm/ballast/internal/supervisor"
	"github.com/nholm/ballast/internal/telemetry"
	"github.com/nholm/ballast/internal/version"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "config" {
		os.Exit(runConfigCLI(os.Args[2:]))
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Safe logging defaults until the config is loaded.
	log.Configure(log.Config{Level: "info", Service: "ballast"})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}

	log.Reconfigure(log.Config{
		Level:   cfg.LogLevel,
		Service: cfg.Service,
		Console: cfg.LogFormat == "console",
	})

	source := "env+defaults"
	if *configPath != "" {
		source = "file"
	}
	logger.Info().
		Str("event", "config.loaded").
		Str("source", source).
		Str("version", version.String()).
		Msg("configuration loaded")

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("startup checks failed, verify configuration and permissions")
	}

	if err := run(ctx, cfg, loader, *configPath); err != nil {
		logger.Error().
			Err(err).
			Str("event", "daemon.exit_error").
			Msg("daemon exited with error")
		os.Exit(1)
	}

	logger.Info().Str("event", "daemon.exit").Msg("daemon exited cleanly")
}

// run wires the subsystems together and blocks until shutdown.
func run(ctx context.Context, cfg config.Config, loader *config.Loader, configPath string) error {
	logger := log.WithComponent("main")

	// Telemetry first so every later subsystem picks up the global
	// tracer.
	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Service,
		ServiceVersion: version.Version,
		Environment:    cfg.Telemetry.Environment,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	healthMgr := health.NewManager(version.Version)

	// Database is optional: without a DSN the daemon serves health,
	// workers and config, and the item API answers 503.
	var (
		database    *db.DB
		itemService *items.Service
	)
	if cfg.Database.DSN != "" {
		database, err = db.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		if err := metrics.RegisterPool(database.Pool()); err != nil {
			logger.Warn().Err(err).Msg("pool metrics already registered")
		}
		healthMgr.RegisterChecker(db.NewChecker(database))
	} else {
		logger.Warn().
			Str("event", "db.disabled").
			Msg("no database DSN configured, item storage is disabled")
		healthMgr.RegisterChecker(health.NewCheckerFunc("database", func(context.Context) health.CheckResult {
			return health.CheckResult{Status: health.StatusDegraded, Message: "no database configured"}
		}))
	}

	cacheBackend, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if rc, ok := cacheBackend.(*cache.Redis); ok {
		healthMgr.RegisterChecker(rc)
	}

	if database != nil {
		itemService = items.NewService(items.NewPostgresRepository(database), cacheBackend, cfg.Cache.TTL)
	}

	// Job scheduler and its run ledger.
	var (
		led   *ledger.Ledger
		sched *jobs.Scheduler
	)
	if cfg.Jobs.Enabled {
		led, err = ledger.Open(ctx, cfg.Jobs.LedgerPath, ledger.DefaultConfig())
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		sched = jobs.New(led)
		var purger jobs.Purger
		if itemService != nil {
			purger = itemService
		}
		if err := sched.RegisterStandard(cfg.Jobs, purger); err != nil {
			return fmt.Errorf("register jobs: %w", err)
		}
		healthMgr.RegisterChecker(health.NewLastRunChecker(led.LastRunFunc(jobs.JobLedgerPrune), 48*time.Hour))
	}

	// Worker supervision: the heartbeat worker plus any configured
	// child processes.
	sup := supervisor.New(cfg.Supervisor)
	if err := sup.Add(supervisor.Spec{
		Worker: &heartbeatWorker{interval: 30 * time.Second},
		Policy: supervisor.Always,
	}); err != nil {
		return fmt.Errorf("add heartbeat worker: %w", err)
	}
	for _, wcfg := range cfg.Supervisor.Workers {
		if err := sup.Add(supervisor.Spec{
			Worker:   supervisor.NewProcessWorker(wcfg),
			Policy:   supervisor.Always,
			Critical: wcfg.Critical,
		}); err != nil {
			return fmt.Errorf("add process worker %s: %w", wcfg.Name, err)
		}
	}
	healthMgr.RegisterChecker(sup)

	// Hot-reloadable config.
	holder := config.NewHolder(cfg, loader, configPath)

	var poolStats func() pool.Stats
	if database != nil {
		poolStats = database.Stats
	}

	// Assign optional deps only when present; a typed nil behind the
	// interface would defeat the handlers' nil checks.
	var (
		itemDep api.ItemService
		runDep  api.RunHistory
	)
	if itemService != nil {
		itemDep = itemService
	}
	if led != nil {
		runDep = led
	}

	apiServer, err := api.New(cfg, api.Deps{
		Health:    healthMgr,
		Items:     itemDep,
		PoolStats: poolStats,
		Workers:   sup,
		Runs:      runDep,
		Config:    holder,
		Version:   version.Version,
	})
	if err != nil {
		return fmt.Errorf("api: %w", err)
	}

	mgr, err := daemon.NewManager(cfg.Server, daemon.Deps{
		Logger:         log.Base(),
		APIHandler:     apiServer,
		MetricsHandler: api.NewMetricsHandler(),
		MetricsAddr:    cfg.Metrics.ListenAddr,
		Health:         healthMgr,
	})
	if err != nil {
		return fmt.Errorf("daemon: %w", err)
	}

	// Startup hooks run before the listeners open. The database ping
	// is the lifespan contract: refuse to serve when storage is down.
	if database != nil {
		mgr.RegisterStartupHook("db.ping", func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, cfg.Database.PingTimeout)
			defer cancel()
			return database.WithConn(pingCtx, func(ctx context.Context, conn db.Conn) error {
				return conn.Ping(ctx)
			})
		})
		mgr.RegisterStartupHook("db.migrate", func(ctx context.Context) error {
			return db.Migrate(ctx, database)
		})
	}

	// Shutdown hooks in registration order; they run LIFO, so the
	// scheduler stops first and telemetry flushes last.
	mgr.RegisterShutdownHook("telemetry.flush", provider.Shutdown)
	if led != nil {
		mgr.RegisterShutdownHook("ledger.close", func(context.Context) error { return led.Close() })
	}
	if database != nil {
		mgr.RegisterShutdownHook("db.close", database.Close)
	}
	mgr.RegisterShutdownHook("cache.close", func(context.Context) error { return cacheBackend.Close() })
	mgr.RegisterShutdownHook("config.watcher_stop", func(context.Context) error {
		holder.Stop()
		return nil
	})
	mgr.RegisterShutdownHook("supervisor.stop", sup.Stop)
	if sched != nil {
		mgr.RegisterShutdownHook("scheduler.stop", sched.Stop)
	}

	app := daemon.NewApp(log.Base(), mgr, holder, sup, sched)
	return app.Run(ctx)
}
