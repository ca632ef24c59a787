// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nholm/ballast/internal/ledger"
	"github.com/nholm/ballast/internal/log"
	"github.com/nholm/ballast/internal/supervisor"
)

func (s *Server) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.PoolStats == nil {
		respondError(w, r, http.StatusServiceUnavailable, "no_database",
			"pool statistics unavailable, no database configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.PoolStats())
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if s.deps.Workers == nil {
		writeJSON(w, http.StatusOK, []supervisor.Snapshot{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Workers.Snapshots())
}

func (s *Server) handleWorkerRestart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Workers == nil {
		respondError(w, r, http.StatusServiceUnavailable, "no_supervisor", "worker supervision is disabled")
		return
	}

	name := chi.URLParam(r, "name")
	if err := s.deps.Workers.Restart(name); err != nil {
		if errors.Is(err, supervisor.ErrUnknownWorker) {
			respondError(w, r, http.StatusNotFound, "unknown_worker", err.Error())
			return
		}
		respondError(w, r, http.StatusConflict, "restart_failed", err.Error())
		return
	}

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str("event", "api.worker_restart").
		Str("worker", name).
		Msg("worker restart requested")

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "restarting", "worker": name})
}

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		respondError(w, r, http.StatusServiceUnavailable, "no_ledger", "job run ledger is disabled")
		return
	}

	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	job := r.URL.Query().Get("job")
	runs, err := s.deps.Runs.Recent(r.Context(), job, limit)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	resp := runsResponse{Runs: runs}
	if job != "" {
		if ts, err := s.deps.Runs.LastSuccess(r.Context(), job); err == nil && !ts.IsZero() {
			resp.LastSuccess = &ts
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type runsResponse struct {
	Runs        []ledger.Run `json:"runs"`
	LastSuccess *time.Time   `json:"lastSuccess,omitempty"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.Config == nil {
		respondError(w, r, http.StatusServiceUnavailable, "no_config_holder", "runtime configuration is not reloadable")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Config.Get().Redacted())
}

func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Config == nil {
		respondError(w, r, http.StatusServiceUnavailable, "no_config_holder", "runtime configuration is not reloadable")
		return
	}

	logger := log.WithComponentFromContext(r.Context(), "api")
	if err := s.deps.Config.Reload(r.Context()); err != nil {
		logger.Warn().
			Err(err).
			Str("event", "api.config_reload_failed").
			Msg("config reload via API failed")
		respondError(w, r, http.StatusUnprocessableEntity, "reload_failed", err.Error())
		return
	}

	logger.Info().
		Str("event", "api.config_reloaded").
		Msg("config reloaded via API")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
