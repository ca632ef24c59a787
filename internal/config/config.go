// SPDX-License-Identifier: MIT

// Package config loads, validates and hot-reloads the daemon configuration.
// Precedence is ENV > YAML file > defaults; the YAML parser is strict so a
// typo in a key fails the boot instead of being silently ignored.
package config

import "time"

// Config is the fully merged runtime configuration.
type Config struct {
	// Service is the logical service name attached to logs and traces.
	Service string

	// LogLevel is the zerolog level ("debug", "info", "warn", "error").
	LogLevel string

	// LogFormat selects "json" or "console" output.
	LogFormat string

	// DataDir is the writable state directory (ledger, probe files).
	DataDir string

	Server     ServerConfig
	Metrics    MetricsConfig
	Database   DatabaseConfig
	Cache      CacheConfig
	Supervisor SupervisorConfig
	Jobs       JobsConfig
	Telemetry  TelemetryConfig
	API        APIConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration

	// ReadHeaderTimeout bounds header parsing so idle half-open clients
	// cannot pin a connection forever
	ReadHeaderTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration

	// MaxHeaderBytes controls the maximum number of bytes the server will read parsing the request header's keys and values
	MaxHeaderBytes int

	// MaxConns bounds concurrently accepted connections; 0 disables the limit
	MaxConns int

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown
	ShutdownTimeout time.Duration

	// DrainGrace is how long the daemon keeps serving after flipping
	// readiness off, so orchestrator probes observe the transition before
	// the listener closes
	DrainGrace time.Duration
}

// MetricsConfig holds the Prometheus listener configuration.
type MetricsConfig struct {
	// ListenAddr is the metrics address (e.g., ":9090"); empty disables the listener
	ListenAddr string
}

// DatabaseConfig mirrors the bounded-pool-with-overflow resource policy.
type DatabaseConfig struct {
	// DSN is the postgres connection string; empty runs the daemon without a database
	DSN string

	// PoolSize is the number of persistent connections kept across requests
	PoolSize int

	// MaxOverflow is the number of burst connections dialed beyond PoolSize
	// and closed on release; -1 means unlimited, 0 disables overflow
	MaxOverflow int

	// AcquireTimeout bounds how long a caller may wait for a connection
	AcquireTimeout time.Duration

	// MaxConnLifetime recycles connections older than this
	MaxConnLifetime time.Duration

	// MaxConnIdleTime recycles connections parked longer than this
	MaxConnIdleTime time.Duration

	// PrePing validates parked connections on checkout and transparently
	// replaces dead ones
	PrePing bool

	// PingTimeout bounds the startup connectivity check and health probes
	PingTimeout time.Duration
}

// CacheConfig selects and tunes the cache backend.
type CacheConfig struct {
	// Backend is one of "memory", "redis" or "none"
	Backend string

	// TTL is the default entry lifetime
	TTL time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// SupervisorConfig tunes worker restart behaviour.
type SupervisorConfig struct {
	// RestartRate is the sustained restarts-per-second budget shared by all workers
	RestartRate float64

	// RestartBurst is the restart token bucket size
	RestartBurst int

	// BackoffBase is the first restart delay; it doubles per consecutive failure
	BackoffBase time.Duration

	// BackoffMax caps the restart delay
	BackoffMax time.Duration

	// BackoffResetAfter resets the failure streak once a worker has run
	// healthy for this long
	BackoffResetAfter time.Duration

	// CriticalThreshold marks a worker failed after this many consecutive
	// failures; 0 uses the per-worker default
	CriticalThreshold int

	// Workers lists external child processes to keep alive alongside the
	// in-process workers; file-only, not overridable from the environment
	Workers []ProcessWorkerConfig
}

// ProcessWorkerConfig describes one supervised child process.
type ProcessWorkerConfig struct {
	Name    string
	Command string
	Args    []string

	// Grace is how long the child gets between SIGTERM and SIGKILL
	Grace time.Duration

	// Critical makes a permanent failure of this worker report unhealthy
	// instead of degraded
	Critical bool
}

// JobsConfig configures the cron scheduler and the run ledger.
type JobsConfig struct {
	Enabled bool

	// PurgeSchedule is the cron spec for the item retention job
	PurgeSchedule string

	// PruneSchedule is the cron spec for the ledger prune job
	PruneSchedule string

	// ItemRetention is how long demo items are kept before purge
	ItemRetention time.Duration

	// LedgerPath is the sqlite file recording job runs; empty derives
	// <DataDir>/ledger.db
	LedgerPath string

	// RetainRuns is how many runs per job the prune job keeps
	RetainRuns int
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool
	Exporter    string // "grpc" or "http"
	Endpoint    string
	SampleRate  float64
	Environment string
}

// APIConfig holds API surface settings.
type APIConfig struct {
	// Token protects mutating endpoints; empty disables auth (logged loudly)
	Token string

	// RateLimitRPM is the per-client request budget per minute; 0 disables
	RateLimitRPM int

	// TrustedProxies is a CSV of CIDRs whose X-Forwarded-For is honoured
	TrustedProxies string
}

const (
	defaultListenAddr        = ":8080"
	defaultReadTimeout       = 60 * time.Second
	defaultReadHeaderTimeout = 10 * time.Second
	defaultWriteTimeout      = 0 // 0 = no timeout (crucial for streaming)
	defaultIdleTimeout       = 120 * time.Second
	defaultMaxHeaderBytes    = 1 << 20 // 1 MB
	defaultShutdownTimeout   = 15 * time.Second
	defaultDrainGrace        = 2 * time.Second

	defaultPoolSize        = 5
	defaultMaxOverflow     = 10
	defaultAcquireTimeout  = 30 * time.Second
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
	defaultPingTimeout     = 5 * time.Second
)

// Defaults returns the built-in configuration, the lowest precedence layer.
func Defaults() Config {
	return Config{
		Service:   "ballast",
		LogLevel:  "info",
		LogFormat: "json",
		DataDir:   "./data",
		Server: ServerConfig{
			ListenAddr:        defaultListenAddr,
			ReadTimeout:       defaultReadTimeout,
			ReadHeaderTimeout: defaultReadHeaderTimeout,
			WriteTimeout:      defaultWriteTimeout,
			IdleTimeout:       defaultIdleTimeout,
			MaxHeaderBytes:    defaultMaxHeaderBytes,
			MaxConns:          0,
			ShutdownTimeout:   defaultShutdownTimeout,
			DrainGrace:        defaultDrainGrace,
		},
		Metrics: MetricsConfig{
			ListenAddr: "",
		},
		Database: DatabaseConfig{
			DSN:             "",
			PoolSize:        defaultPoolSize,
			MaxOverflow:     defaultMaxOverflow,
			AcquireTimeout:  defaultAcquireTimeout,
			MaxConnLifetime: defaultConnMaxLifetime,
			MaxConnIdleTime: defaultConnMaxIdleTime,
			PrePing:         true,
			PingTimeout:     defaultPingTimeout,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     5 * time.Minute,
			RedisDB: 0,
		},
		Supervisor: SupervisorConfig{
			RestartRate:       1.0,
			RestartBurst:      5,
			BackoffBase:       time.Second,
			BackoffMax:        30 * time.Second,
			BackoffResetAfter: time.Minute,
			CriticalThreshold: 10,
		},
		Jobs: JobsConfig{
			Enabled:       true,
			PurgeSchedule: "17 3 * * *",
			PruneSchedule: "43 4 * * *",
			ItemRetention: 30 * 24 * time.Hour,
			LedgerPath:    "",
			RetainRuns:    200,
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Exporter:    "grpc",
			Endpoint:    "localhost:4317",
			SampleRate:  0.1,
			Environment: "development",
		},
		API: APIConfig{
			Token:          "",
			RateLimitRPM:   600,
			TrustedProxies: "",
		},
	}
}
