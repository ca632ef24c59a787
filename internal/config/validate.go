// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Validate checks the merged configuration for contradictions and
// out-of-range values. It is the last stage of Load and also guards
// hot reloads: an invalid file never replaces a running config.
func Validate(cfg Config) error {
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("logLevel: %w", err)
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("logFormat: must be \"json\" or \"console\", got %q", cfg.LogFormat)
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("dataDir: must not be empty")
	}

	if err := validateListenAddr("server.listen", cfg.Server.ListenAddr); err != nil {
		return err
	}
	if cfg.Metrics.ListenAddr != "" {
		if err := validateListenAddr("metrics.listen", cfg.Metrics.ListenAddr); err != nil {
			return err
		}
		if cfg.Metrics.ListenAddr == cfg.Server.ListenAddr {
			return fmt.Errorf("metrics.listen: must differ from server.listen (%s)", cfg.Server.ListenAddr)
		}
	}
	if cfg.Server.MaxConns < 0 {
		return fmt.Errorf("server.maxConns: must be >= 0, got %d", cfg.Server.MaxConns)
	}
	if cfg.Server.DrainGrace < 0 {
		return fmt.Errorf("server.drainGrace: must be >= 0")
	}

	if err := validateDatabase(cfg.Database); err != nil {
		return err
	}

	switch cfg.Cache.Backend {
	case "memory", "none":
	case "redis":
		if strings.TrimSpace(cfg.Cache.RedisAddr) == "" {
			return fmt.Errorf("cache.redisAddr: required when backend is redis")
		}
	default:
		return fmt.Errorf("cache.backend: must be \"memory\", \"redis\" or \"none\", got %q", cfg.Cache.Backend)
	}
	if cfg.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl: must be >= 0")
	}

	if cfg.Supervisor.RestartRate <= 0 {
		return fmt.Errorf("supervisor.restartRate: must be > 0, got %g", cfg.Supervisor.RestartRate)
	}
	if cfg.Supervisor.RestartBurst < 1 {
		return fmt.Errorf("supervisor.restartBurst: must be >= 1, got %d", cfg.Supervisor.RestartBurst)
	}
	if cfg.Supervisor.BackoffBase <= 0 {
		return fmt.Errorf("supervisor.backoffBase: must be > 0")
	}
	if cfg.Supervisor.BackoffMax < cfg.Supervisor.BackoffBase {
		return fmt.Errorf("supervisor.backoffMax: must be >= backoffBase (%s)", cfg.Supervisor.BackoffBase)
	}
	if cfg.Supervisor.CriticalThreshold < 0 {
		return fmt.Errorf("supervisor.criticalThreshold: must be >= 0")
	}
	seenWorkers := make(map[string]bool, len(cfg.Supervisor.Workers))
	for i, w := range cfg.Supervisor.Workers {
		if strings.TrimSpace(w.Name) == "" {
			return fmt.Errorf("supervisor.workers[%d].name: must not be empty", i)
		}
		if seenWorkers[w.Name] {
			return fmt.Errorf("supervisor.workers[%d].name: duplicate worker %q", i, w.Name)
		}
		seenWorkers[w.Name] = true
		if strings.TrimSpace(w.Command) == "" {
			return fmt.Errorf("supervisor.workers[%d].command: must not be empty", i)
		}
		if w.Grace < 0 {
			return fmt.Errorf("supervisor.workers[%d].grace: must be >= 0", i)
		}
	}

	if cfg.Jobs.Enabled {
		if err := validateCronSpec("jobs.purgeSchedule", cfg.Jobs.PurgeSchedule); err != nil {
			return err
		}
		if err := validateCronSpec("jobs.pruneSchedule", cfg.Jobs.PruneSchedule); err != nil {
			return err
		}
		if cfg.Jobs.ItemRetention <= 0 {
			return fmt.Errorf("jobs.itemRetention: must be > 0")
		}
		if cfg.Jobs.RetainRuns < 1 {
			return fmt.Errorf("jobs.retainRuns: must be >= 1, got %d", cfg.Jobs.RetainRuns)
		}
	}

	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.Exporter {
		case "grpc", "http":
		default:
			return fmt.Errorf("telemetry.exporter: must be \"grpc\" or \"http\", got %q", cfg.Telemetry.Exporter)
		}
		if strings.TrimSpace(cfg.Telemetry.Endpoint) == "" {
			return fmt.Errorf("telemetry.endpoint: required when telemetry is enabled")
		}
		if cfg.Telemetry.SampleRate < 0 || cfg.Telemetry.SampleRate > 1 {
			return fmt.Errorf("telemetry.sampleRate: must be within [0, 1], got %g", cfg.Telemetry.SampleRate)
		}
	}

	if cfg.API.RateLimitRPM < 0 {
		return fmt.Errorf("api.rateLimitRPM: must be >= 0, got %d", cfg.API.RateLimitRPM)
	}
	if err := validateTrustedProxies(cfg.API.TrustedProxies); err != nil {
		return err
	}

	return nil
}

func validateDatabase(db DatabaseConfig) error {
	if db.PoolSize < 1 {
		return fmt.Errorf("database.poolSize: must be >= 1, got %d", db.PoolSize)
	}
	if db.MaxOverflow < -1 {
		return fmt.Errorf("database.maxOverflow: must be >= -1, got %d", db.MaxOverflow)
	}
	if db.AcquireTimeout < time.Second {
		return fmt.Errorf("database.acquireTimeout: must be >= 1s, got %s", db.AcquireTimeout)
	}
	if db.MaxConnLifetime < 0 {
		return fmt.Errorf("database.maxConnLifetime: must be >= 0")
	}
	if db.MaxConnIdleTime < 0 {
		return fmt.Errorf("database.maxConnIdleTime: must be >= 0")
	}
	if db.PingTimeout <= 0 {
		return fmt.Errorf("database.pingTimeout: must be > 0")
	}
	return nil
}

func validateListenAddr(path, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return fmt.Errorf("%s: must not be empty", path)
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%s: invalid listen address %q: %w", path, addr, err)
	}
	if port == "" {
		return fmt.Errorf("%s: missing port in %q", path, addr)
	}
	return nil
}

func validateCronSpec(path, spec string) error {
	if strings.TrimSpace(spec) == "" {
		return fmt.Errorf("%s: must not be empty when jobs are enabled", path)
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("%s: invalid cron spec %q: %w", path, spec, err)
	}
	return nil
}

func validateTrustedProxies(csv string) error {
	if csv == "" {
		return nil
	}
	for _, part := range strings.Split(csv, ",") {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}
		// Same forms the rate limiter accepts: CIDRs, or bare IPs
		// treated as host networks.
		if !strings.Contains(p, "/") {
			if ip := net.ParseIP(p); ip != nil {
				continue
			}
			return fmt.Errorf("api.trustedProxies: invalid IP %q", p)
		}
		if _, _, err := net.ParseCIDR(p); err != nil {
			return fmt.Errorf("api.trustedProxies: invalid CIDR %q: %w", p, err)
		}
	}
	return nil
}
