// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/nholm/ballast/internal/items"
	"github.com/nholm/ballast/internal/log"
	"github.com/nholm/ballast/internal/pool"
)

// errorBody is the single error response shape of the API.
type errorBody struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError writes the canonical error body, correlated with the
// request ID from the context.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	writeJSON(w, status, errorBody{
		Error:     code,
		Detail:    detail,
		RequestID: log.RequestIDFromContext(r.Context()),
	})
}

// respondDomainError maps domain errors to HTTP status codes. Pool
// acquire timeouts become 503 with a Retry-After so load balancers and
// well-behaved clients back off instead of piling onto a saturated
// pool.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var timeout *pool.AcquireTimeoutError

	switch {
	case errors.Is(err, items.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "not_found", "item not found")
	case errors.Is(err, items.ErrDuplicateName):
		respondError(w, r, http.StatusConflict, "duplicate_name", "an item with this name already exists")
	case errors.Is(err, items.ErrNameRequired), errors.Is(err, items.ErrNameTooLong):
		respondError(w, r, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.As(err, &timeout):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		respondError(w, r, http.StatusServiceUnavailable, "pool_exhausted",
			"database connection pool exhausted, retry later")
	case errors.Is(err, pool.ErrPoolClosed):
		respondError(w, r, http.StatusServiceUnavailable, "shutting_down", "service is shutting down")
	default:
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str("event", "api.internal_error").
			Str("path", r.URL.Path).
			Msg("request failed")
		respondError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// retryAfterSeconds is the backoff hint sent with 503 pool-exhausted
// responses.
const retryAfterSeconds = 5
