// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence ENV > File > Defaults.
type Loader struct {
	configPath      string
	ConsumedEnvKeys map[string]struct{} // Mechanical tracking of consumed keys
}

// NewLoader creates a new configuration loader.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath:      configPath,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Wrapper methods for mechanical connection tracking

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults.
// It enforces strict order: Defaults -> Parse File (Strict) -> Apply Env -> Validate.
func (l *Loader) Load() (Config, error) {
	cfg := Defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFile(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge file config: %w", err)
		}
	}

	l.mergeEnv(&cfg)

	// Shutdown needs enough room for in-flight requests to finish
	if cfg.Server.ShutdownTimeout < 3*time.Second {
		cfg.Server.ShutdownTimeout = 3 * time.Second
	}

	// DataDir must be absolute to prevent path surprises after daemonizing
	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	if cfg.Jobs.LedgerPath == "" {
		cfg.Jobs.LedgerPath = filepath.Join(cfg.DataDir, "ledger.db")
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile loads configuration from a YAML file with STRICT parsing.
// Unknown fields cause a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // Reject unknown fields

	if err := dec.Decode(&fileCfg); err != nil {
		if err == io.EOF {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}

	// Strict: Ensure no multiple documents or trailing content
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}

	return &fileCfg, nil
}

// mergeEnv applies environment overrides, the highest precedence layer.
func (l *Loader) mergeEnv(cfg *Config) {
	cfg.Service = l.envString("BALLAST_SERVICE", cfg.Service)
	cfg.LogLevel = l.envString("BALLAST_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = l.envString("BALLAST_LOG_FORMAT", cfg.LogFormat)
	cfg.DataDir = l.envString("BALLAST_DATA_DIR", cfg.DataDir)

	cfg.Server.ListenAddr = l.envString("BALLAST_LISTEN", cfg.Server.ListenAddr)
	cfg.Server.ReadTimeout = l.envDuration("BALLAST_SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.ReadHeaderTimeout = l.envDuration("BALLAST_SERVER_READ_HEADER_TIMEOUT", cfg.Server.ReadHeaderTimeout)
	cfg.Server.WriteTimeout = l.envDuration("BALLAST_SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = l.envDuration("BALLAST_SERVER_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.MaxHeaderBytes = l.envInt("BALLAST_SERVER_MAX_HEADER_BYTES", cfg.Server.MaxHeaderBytes)
	cfg.Server.MaxConns = l.envInt("BALLAST_SERVER_MAX_CONNS", cfg.Server.MaxConns)
	cfg.Server.ShutdownTimeout = l.envDuration("BALLAST_SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.DrainGrace = l.envDuration("BALLAST_SERVER_DRAIN_GRACE", cfg.Server.DrainGrace)

	cfg.Metrics.ListenAddr = l.envString("BALLAST_METRICS_LISTEN", cfg.Metrics.ListenAddr)

	cfg.Database.DSN = l.envString("BALLAST_DB_DSN", cfg.Database.DSN)
	cfg.Database.PoolSize = l.envInt("BALLAST_DB_POOL_SIZE", cfg.Database.PoolSize)
	cfg.Database.MaxOverflow = l.envInt("BALLAST_DB_MAX_OVERFLOW", cfg.Database.MaxOverflow)
	cfg.Database.AcquireTimeout = l.envDuration("BALLAST_DB_ACQUIRE_TIMEOUT", cfg.Database.AcquireTimeout)
	cfg.Database.MaxConnLifetime = l.envDuration("BALLAST_DB_CONN_MAX_LIFETIME", cfg.Database.MaxConnLifetime)
	cfg.Database.MaxConnIdleTime = l.envDuration("BALLAST_DB_CONN_MAX_IDLE_TIME", cfg.Database.MaxConnIdleTime)
	cfg.Database.PrePing = l.envBool("BALLAST_DB_PRE_PING", cfg.Database.PrePing)
	cfg.Database.PingTimeout = l.envDuration("BALLAST_DB_PING_TIMEOUT", cfg.Database.PingTimeout)

	cfg.Cache.Backend = l.envString("BALLAST_CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.TTL = l.envDuration("BALLAST_CACHE_TTL", cfg.Cache.TTL)
	cfg.Cache.RedisAddr = l.envString("BALLAST_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = l.envString("BALLAST_REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = l.envInt("BALLAST_REDIS_DB", cfg.Cache.RedisDB)

	cfg.Supervisor.RestartRate = l.envFloat("BALLAST_SUPERVISOR_RESTART_RATE", cfg.Supervisor.RestartRate)
	cfg.Supervisor.RestartBurst = l.envInt("BALLAST_SUPERVISOR_RESTART_BURST", cfg.Supervisor.RestartBurst)
	cfg.Supervisor.BackoffBase = l.envDuration("BALLAST_SUPERVISOR_BACKOFF_BASE", cfg.Supervisor.BackoffBase)
	cfg.Supervisor.BackoffMax = l.envDuration("BALLAST_SUPERVISOR_BACKOFF_MAX", cfg.Supervisor.BackoffMax)
	cfg.Supervisor.BackoffResetAfter = l.envDuration("BALLAST_SUPERVISOR_BACKOFF_RESET_AFTER", cfg.Supervisor.BackoffResetAfter)
	cfg.Supervisor.CriticalThreshold = l.envInt("BALLAST_SUPERVISOR_CRITICAL_THRESHOLD", cfg.Supervisor.CriticalThreshold)

	cfg.Jobs.Enabled = l.envBool("BALLAST_JOBS_ENABLED", cfg.Jobs.Enabled)
	cfg.Jobs.PurgeSchedule = l.envString("BALLAST_JOBS_PURGE_SCHEDULE", cfg.Jobs.PurgeSchedule)
	cfg.Jobs.PruneSchedule = l.envString("BALLAST_JOBS_PRUNE_SCHEDULE", cfg.Jobs.PruneSchedule)
	cfg.Jobs.ItemRetention = l.envDuration("BALLAST_JOBS_ITEM_RETENTION", cfg.Jobs.ItemRetention)
	cfg.Jobs.LedgerPath = l.envString("BALLAST_LEDGER_PATH", cfg.Jobs.LedgerPath)
	cfg.Jobs.RetainRuns = l.envInt("BALLAST_JOBS_RETAIN_RUNS", cfg.Jobs.RetainRuns)

	cfg.Telemetry.Enabled = l.envBool("BALLAST_OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString("BALLAST_OTEL_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString("BALLAST_OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SampleRate = l.envFloat("BALLAST_OTEL_SAMPLE_RATE", cfg.Telemetry.SampleRate)
	cfg.Telemetry.Environment = l.envString("BALLAST_OTEL_ENVIRONMENT", cfg.Telemetry.Environment)

	cfg.API.Token = l.envString("BALLAST_API_TOKEN", cfg.API.Token)
	cfg.API.RateLimitRPM = l.envInt("BALLAST_API_RATE_LIMIT_RPM", cfg.API.RateLimitRPM)
	cfg.API.TrustedProxies = l.envString("BALLAST_TRUSTED_PROXIES", cfg.API.TrustedProxies)
}
