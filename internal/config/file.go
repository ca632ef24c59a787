// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"time"
)

// FileConfig is the YAML representation of the configuration. Optional
// scalars are pointers so an absent key is distinguishable from a zero
// value; durations are strings in Go duration syntax ("30s", "5m").
type FileConfig struct {
	Service   string `yaml:"service,omitempty"`
	LogLevel  string `yaml:"logLevel,omitempty"`
	LogFormat string `yaml:"logFormat,omitempty"`
	DataDir   string `yaml:"dataDir,omitempty"`

	Server     ServerFileConfig     `yaml:"server,omitempty"`
	Metrics    MetricsFileConfig    `yaml:"metrics,omitempty"`
	Database   DatabaseFileConfig   `yaml:"database,omitempty"`
	Cache      CacheFileConfig      `yaml:"cache,omitempty"`
	Supervisor SupervisorFileConfig `yaml:"supervisor,omitempty"`
	Jobs       JobsFileConfig       `yaml:"jobs,omitempty"`
	Telemetry  TelemetryFileConfig  `yaml:"telemetry,omitempty"`
	API        APIFileConfig        `yaml:"api,omitempty"`
}

// ServerFileConfig is the YAML form of ServerConfig.
type ServerFileConfig struct {
	Listen            string `yaml:"listen,omitempty"`
	ReadTimeout       string `yaml:"readTimeout,omitempty"`
	ReadHeaderTimeout string `yaml:"readHeaderTimeout,omitempty"`
	WriteTimeout      string `yaml:"writeTimeout,omitempty"`
	IdleTimeout       string `yaml:"idleTimeout,omitempty"`
	MaxHeaderBytes    *int   `yaml:"maxHeaderBytes,omitempty"`
	MaxConns          *int   `yaml:"maxConns,omitempty"`
	ShutdownTimeout   string `yaml:"shutdownTimeout,omitempty"`
	DrainGrace        string `yaml:"drainGrace,omitempty"`
}

// MetricsFileConfig is the YAML form of MetricsConfig.
type MetricsFileConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

// DatabaseFileConfig is the YAML form of DatabaseConfig. The DSN is
// deliberately absent: credentials belong in the environment, not on disk.
type DatabaseFileConfig struct {
	PoolSize        *int   `yaml:"poolSize,omitempty"`
	MaxOverflow     *int   `yaml:"maxOverflow,omitempty"`
	AcquireTimeout  string `yaml:"acquireTimeout,omitempty"`
	MaxConnLifetime string `yaml:"maxConnLifetime,omitempty"`
	MaxConnIdleTime string `yaml:"maxConnIdleTime,omitempty"`
	PrePing         *bool  `yaml:"prePing,omitempty"`
	PingTimeout     string `yaml:"pingTimeout,omitempty"`
}

// CacheFileConfig is the YAML form of CacheConfig.
type CacheFileConfig struct {
	Backend   string `yaml:"backend,omitempty"`
	TTL       string `yaml:"ttl,omitempty"`
	RedisAddr string `yaml:"redisAddr,omitempty"`
	RedisDB   *int   `yaml:"redisDB,omitempty"`
}

// SupervisorFileConfig is the YAML form of SupervisorConfig.
type SupervisorFileConfig struct {
	RestartRate       *float64                  `yaml:"restartRate,omitempty"`
	RestartBurst      *int                      `yaml:"restartBurst,omitempty"`
	BackoffBase       string                    `yaml:"backoffBase,omitempty"`
	BackoffMax        string                    `yaml:"backoffMax,omitempty"`
	BackoffResetAfter string                    `yaml:"backoffResetAfter,omitempty"`
	CriticalThreshold *int                      `yaml:"criticalThreshold,omitempty"`
	Workers           []ProcessWorkerFileConfig `yaml:"workers,omitempty"`
}

// ProcessWorkerFileConfig is the YAML form of ProcessWorkerConfig.
type ProcessWorkerFileConfig struct {
	Name     string   `yaml:"name"`
	Command  string   `yaml:"command"`
	Args     []string `yaml:"args,omitempty"`
	Grace    string   `yaml:"grace,omitempty"`
	Critical *bool    `yaml:"critical,omitempty"`
}

// JobsFileConfig is the YAML form of JobsConfig.
type JobsFileConfig struct {
	Enabled       *bool  `yaml:"enabled,omitempty"`
	PurgeSchedule string `yaml:"purgeSchedule,omitempty"`
	PruneSchedule string `yaml:"pruneSchedule,omitempty"`
	ItemRetention string `yaml:"itemRetention,omitempty"`
	LedgerPath    string `yaml:"ledgerPath,omitempty"`
	RetainRuns    *int   `yaml:"retainRuns,omitempty"`
}

// TelemetryFileConfig is the YAML form of TelemetryConfig.
type TelemetryFileConfig struct {
	Enabled     *bool    `yaml:"enabled,omitempty"`
	Exporter    string   `yaml:"exporter,omitempty"`
	Endpoint    string   `yaml:"endpoint,omitempty"`
	SampleRate  *float64 `yaml:"sampleRate,omitempty"`
	Environment string   `yaml:"environment,omitempty"`
}

// APIFileConfig is the YAML form of APIConfig. The token is deliberately
// absent from the file form, same reasoning as the DSN.
type APIFileConfig struct {
	RateLimitRPM   *int   `yaml:"rateLimitRPM,omitempty"`
	TrustedProxies string `yaml:"trustedProxies,omitempty"`
}

// mergeFile overlays file values onto cfg. Only keys present in the file
// override; parse errors on durations are reported with the YAML path.
func mergeFile(cfg *Config, file *FileConfig) error {
	if file == nil {
		return nil
	}

	setStr := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	setBool := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	setFloat := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	setDur := func(dst *time.Duration, v, path string) error {
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		*dst = d
		return nil
	}

	setStr(&cfg.Service, file.Service)
	setStr(&cfg.LogLevel, file.LogLevel)
	setStr(&cfg.LogFormat, file.LogFormat)
	setStr(&cfg.DataDir, file.DataDir)

	setStr(&cfg.Server.ListenAddr, file.Server.Listen)
	if err := setDur(&cfg.Server.ReadTimeout, file.Server.ReadTimeout, "server.readTimeout"); err != nil {
		return err
	}
	if err := setDur(&cfg.Server.ReadHeaderTimeout, file.Server.ReadHeaderTimeout, "server.readHeaderTimeout"); err != nil {
		return err
	}
	if err := setDur(&cfg.Server.WriteTimeout, file.Server.WriteTimeout, "server.writeTimeout"); err != nil {
		return err
	}
	if err := setDur(&cfg.Server.IdleTimeout, file.Server.IdleTimeout, "server.idleTimeout"); err != nil {
		return err
	}
	setInt(&cfg.Server.MaxHeaderBytes, file.Server.MaxHeaderBytes)
	setInt(&cfg.Server.MaxConns, file.Server.MaxConns)
	if err := setDur(&cfg.Server.ShutdownTimeout, file.Server.ShutdownTimeout, "server.shutdownTimeout"); err != nil {
		return err
	}
	if err := setDur(&cfg.Server.DrainGrace, file.Server.DrainGrace, "server.drainGrace"); err != nil {
		return err
	}

	setStr(&cfg.Metrics.ListenAddr, file.Metrics.Listen)

	setInt(&cfg.Database.PoolSize, file.Database.PoolSize)
	if file.Database.MaxOverflow != nil {
		cfg.Database.MaxOverflow = *file.Database.MaxOverflow
	}
	if err := setDur(&cfg.Database.AcquireTimeout, file.Database.AcquireTimeout, "database.acquireTimeout"); err != nil {
		return err
	}
	if err := setDur(&cfg.Database.MaxConnLifetime, file.Database.MaxConnLifetime, "database.maxConnLifetime"); err != nil {
		return err
	}
	if err := setDur(&cfg.Database.MaxConnIdleTime, file.Database.MaxConnIdleTime, "database.maxConnIdleTime"); err != nil {
		return err
	}
	setBool(&cfg.Database.PrePing, file.Database.PrePing)
	if err := setDur(&cfg.Database.PingTimeout, file.Database.PingTimeout, "database.pingTimeout"); err != nil {
		return err
	}

	setStr(&cfg.Cache.Backend, file.Cache.Backend)
	if err := setDur(&cfg.Cache.TTL, file.Cache.TTL, "cache.ttl"); err != nil {
		return err
	}
	setStr(&cfg.Cache.RedisAddr, file.Cache.RedisAddr)
	setInt(&cfg.Cache.RedisDB, file.Cache.RedisDB)

	setFloat(&cfg.Supervisor.RestartRate, file.Supervisor.RestartRate)
	setInt(&cfg.Supervisor.RestartBurst, file.Supervisor.RestartBurst)
	if err := setDur(&cfg.Supervisor.BackoffBase, file.Supervisor.BackoffBase, "supervisor.backoffBase"); err != nil {
		return err
	}
	if err := setDur(&cfg.Supervisor.BackoffMax, file.Supervisor.BackoffMax, "supervisor.backoffMax"); err != nil {
		return err
	}
	if err := setDur(&cfg.Supervisor.BackoffResetAfter, file.Supervisor.BackoffResetAfter, "supervisor.backoffResetAfter"); err != nil {
		return err
	}
	setInt(&cfg.Supervisor.CriticalThreshold, file.Supervisor.CriticalThreshold)
	if len(file.Supervisor.Workers) > 0 {
		// A worker list in the file replaces the whole list, it does not merge.
		workers := make([]ProcessWorkerConfig, 0, len(file.Supervisor.Workers))
		for i, w := range file.Supervisor.Workers {
			pw := ProcessWorkerConfig{
				Name:    w.Name,
				Command: w.Command,
				Args:    w.Args,
			}
			path := fmt.Sprintf("supervisor.workers[%d].grace", i)
			if err := setDur(&pw.Grace, w.Grace, path); err != nil {
				return err
			}
			if w.Critical != nil {
				pw.Critical = *w.Critical
			}
			workers = append(workers, pw)
		}
		cfg.Supervisor.Workers = workers
	}

	setBool(&cfg.Jobs.Enabled, file.Jobs.Enabled)
	setStr(&cfg.Jobs.PurgeSchedule, file.Jobs.PurgeSchedule)
	setStr(&cfg.Jobs.PruneSchedule, file.Jobs.PruneSchedule)
	if err := setDur(&cfg.Jobs.ItemRetention, file.Jobs.ItemRetention, "jobs.itemRetention"); err != nil {
		return err
	}
	setStr(&cfg.Jobs.LedgerPath, file.Jobs.LedgerPath)
	setInt(&cfg.Jobs.RetainRuns, file.Jobs.RetainRuns)

	setBool(&cfg.Telemetry.Enabled, file.Telemetry.Enabled)
	setStr(&cfg.Telemetry.Exporter, file.Telemetry.Exporter)
	setStr(&cfg.Telemetry.Endpoint, file.Telemetry.Endpoint)
	setFloat(&cfg.Telemetry.SampleRate, file.Telemetry.SampleRate)
	setStr(&cfg.Telemetry.Environment, file.Telemetry.Environment)

	setInt(&cfg.API.RateLimitRPM, file.API.RateLimitRPM)
	setStr(&cfg.API.TrustedProxies, file.API.TrustedProxies)

	return nil
}
