// SPDX-License-Identifier: MIT

// Package api exposes the daemon's HTTP surface: health probes, the
// demo item CRUD, and operational endpoints for the pool, workers, job
// runs and configuration.
package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nholm/ballast/internal/api/middleware"
	"github.com/nholm/ballast/internal/config"
	"github.com/nholm/ballast/internal/health"
	"github.com/nholm/ballast/internal/items"
	"github.com/nholm/ballast/internal/ledger"
	"github.com/nholm/ballast/internal/log"
	"github.com/nholm/ballast/internal/pool"
	"github.com/nholm/ballast/internal/supervisor"
)

// ItemService is the slice of the items service the handlers need.
type ItemService interface {
	Create(ctx context.Context, name, description string) (*items.Item, error)
	Get(ctx context.Context, id uuid.UUID) (*items.Item, error)
	List(ctx context.Context, q items.PageQuery) (*items.PageResult[items.Item], error)
	Update(ctx context.Context, id uuid.UUID, name, description string) (*items.Item, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// WorkerControl is the slice of the supervisor the handlers need.
type WorkerControl interface {
	Snapshots() []supervisor.Snapshot
	Restart(name string) error
}

// RunHistory is the slice of the ledger the handlers need.
type RunHistory interface {
	Recent(ctx context.Context, job string, n int) ([]ledger.Run, error)
	LastSuccess(ctx context.Context, job string) (time.Time, error)
}

// Reloader is the slice of the config holder the handlers need.
type Reloader interface {
	Get() config.Config
	Reload(ctx context.Context) error
}

// Deps are the server's injected collaborators. Health is mandatory;
// everything else degrades to 404 or an explanatory 503 when absent so
// the daemon can boot in partial configurations (no database, no
// supervisor) without a separate code path.
type Deps struct {
	Health    *health.Manager
	Items     ItemService
	PoolStats func() pool.Stats
	Workers   WorkerControl
	Runs      RunHistory
	Config    Reloader
	Version   string
}

// ErrMissingHealth is returned when a server is constructed without a
// health manager.
var ErrMissingHealth = errors.New("api: health manager is required")

// Server is the HTTP API surface.
type Server struct {
	cfg       config.Config
	deps      Deps
	token     string
	startedAt time.Time
	logger    zerolog.Logger
	router    *chi.Mux
}

// New builds the server and its route tree.
func New(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Health == nil {
		return nil, ErrMissingHealth
	}

	s := &Server{
		cfg:       cfg,
		deps:      deps,
		token:     cfg.API.Token,
		startedAt: time.Now(),
		logger:    log.WithComponent("api"),
	}

	if s.token == "" {
		s.logger.Warn().
			Str("event", "api.auth_disabled").
			Msg("no API token configured, mutating endpoints are unprotected")
	}

	trusted, err := middleware.ParseTrustedProxies(cfg.API.TrustedProxies)
	if err != nil {
		return nil, err
	}

	tracingService := ""
	if cfg.Telemetry.Enabled {
		tracingService = cfg.Service
	}

	r := middleware.NewRouter(middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        tracingService,
		EnableLogging:         true,
		RateLimitRPM:          cfg.API.RateLimitRPM,
		TrustedProxies:        trusted,
	})

	s.routes(r)
	s.router = r
	return s, nil
}

// ServeHTTP makes the server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(r chi.Router) {
	r.Get("/health", s.deps.Health.ServeHealth)
	r.Get("/health/live", s.deps.Health.ServeHealth)
	r.Get("/health/ready", s.deps.Health.ServeReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/items", func(r chi.Router) {
			r.Get("/", s.handleListItems)
			r.Get("/{id}", s.handleGetItem)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Post("/", s.handleCreateItem)
				r.Put("/{id}", s.handleUpdateItem)
				r.Delete("/{id}", s.handleDeleteItem)
			})
		})

		r.Get("/pool", s.handlePoolStats)
		r.Get("/workers", s.handleWorkers)
		r.Get("/runs", s.handleRuns)
		r.Get("/system", s.handleSystem)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/workers/{name}/restart", s.handleWorkerRestart)
			r.Get("/config", s.handleGetConfig)
			r.Post("/config/reload", s.handleConfigReload)
		})
	})
}

// NewMetricsHandler builds the handler for the dedicated metrics
// listener: Prometheus exposition plus a bare liveness probe so the
// listener can be health-checked independently of the API port.
func NewMetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// hostname is split out for tests.
var hostname = os.Hostname
