// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// Manager handles configuration persistence.
type Manager struct {
	configPath string
}

// NewManager creates a new configuration manager.
func NewManager(configPath string) *Manager {
	return &Manager{configPath: configPath}
}

// Save writes the configuration to disk atomically. Only user-tunable
// fields are serialized; secrets (DSN, tokens, passwords) stay in the
// environment and never touch the file.
func (m *Manager) Save(cfg Config) error {
	if m.configPath == "" {
		return fmt.Errorf("no config path configured")
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0o750); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	fileCfg := toFileConfig(cfg)
	data, err := yaml.Marshal(&fileCfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	pending, err := renameio.NewPendingFile(m.configPath, renameio.WithPermissions(0o640))
	if err != nil {
		return fmt.Errorf("create pending config file: %w", err)
	}
	defer func() {
		_ = pending.Cleanup()
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write config data: %w", err)
	}

	// CloseAtomicallyReplace: fsync + rename (durable + atomic)
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace config file: %w", err)
	}

	return nil
}

// toFileConfig maps the runtime config back to its YAML form.
func toFileConfig(cfg Config) FileConfig {
	dur := func(d time.Duration) string {
		if d == 0 {
			return ""
		}
		return d.String()
	}

	return FileConfig{
		Service:   cfg.Service,
		LogLevel:  cfg.LogLevel,
		LogFormat: cfg.LogFormat,
		DataDir:   cfg.DataDir,
		Server: ServerFileConfig{
			Listen:            cfg.Server.ListenAddr,
			ReadTimeout:       dur(cfg.Server.ReadTimeout),
			ReadHeaderTimeout: dur(cfg.Server.ReadHeaderTimeout),
			WriteTimeout:      dur(cfg.Server.WriteTimeout),
			IdleTimeout:       dur(cfg.Server.IdleTimeout),
			MaxHeaderBytes:    intPtr(cfg.Server.MaxHeaderBytes),
			MaxConns:          intPtr(cfg.Server.MaxConns),
			ShutdownTimeout:   dur(cfg.Server.ShutdownTimeout),
			DrainGrace:        dur(cfg.Server.DrainGrace),
		},
		Metrics: MetricsFileConfig{
			Listen: cfg.Metrics.ListenAddr,
		},
		Database: DatabaseFileConfig{
			PoolSize:        intPtr(cfg.Database.PoolSize),
			MaxOverflow:     intPtr(cfg.Database.MaxOverflow),
			AcquireTimeout:  dur(cfg.Database.AcquireTimeout),
			MaxConnLifetime: dur(cfg.Database.MaxConnLifetime),
			MaxConnIdleTime: dur(cfg.Database.MaxConnIdleTime),
			PrePing:         boolPtr(cfg.Database.PrePing),
			PingTimeout:     dur(cfg.Database.PingTimeout),
		},
		Cache: CacheFileConfig{
			Backend:   cfg.Cache.Backend,
			TTL:       dur(cfg.Cache.TTL),
			RedisAddr: cfg.Cache.RedisAddr,
			RedisDB:   intPtr(cfg.Cache.RedisDB),
		},
		Supervisor: SupervisorFileConfig{
			RestartRate:       floatPtr(cfg.Supervisor.RestartRate),
			RestartBurst:      intPtr(cfg.Supervisor.RestartBurst),
			BackoffBase:       dur(cfg.Supervisor.BackoffBase),
			BackoffMax:        dur(cfg.Supervisor.BackoffMax),
			BackoffResetAfter: dur(cfg.Supervisor.BackoffResetAfter),
			CriticalThreshold: intPtr(cfg.Supervisor.CriticalThreshold),
		},
		Jobs: JobsFileConfig{
			Enabled:       boolPtr(cfg.Jobs.Enabled),
			PurgeSchedule: cfg.Jobs.PurgeSchedule,
			PruneSchedule: cfg.Jobs.PruneSchedule,
			ItemRetention: dur(cfg.Jobs.ItemRetention),
			LedgerPath:    cfg.Jobs.LedgerPath,
			RetainRuns:    intPtr(cfg.Jobs.RetainRuns),
		},
		Telemetry: TelemetryFileConfig{
			Enabled:     boolPtr(cfg.Telemetry.Enabled),
			Exporter:    cfg.Telemetry.Exporter,
			Endpoint:    cfg.Telemetry.Endpoint,
			SampleRate:  floatPtr(cfg.Telemetry.SampleRate),
			Environment: cfg.Telemetry.Environment,
		},
		API: APIFileConfig{
			RateLimitRPM:   intPtr(cfg.API.RateLimitRPM),
			TrustedProxies: cfg.API.TrustedProxies,
		},
	}
}

func intPtr(v int) *int           { return &v }
func boolPtr(v bool) *bool        { return &v }
func floatPtr(v float64) *float64 { return &v }
