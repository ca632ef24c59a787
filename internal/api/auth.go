// SPDX-License-Identifier: MIT

package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/nholm/ballast/internal/log"
)

// extractToken pulls the bearer token from the Authorization header.
func extractToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// authorizeToken compares tokens in constant time.
func authorizeToken(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// requireAuth protects mutating endpoints with the configured API
// token. An empty token disables auth entirely; the server logs that
// loudly at construction so nobody ships an open admin surface by
// accident.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		logger := log.WithComponentFromContext(r.Context(), "auth")

		reqToken := extractToken(r)
		if reqToken == "" {
			logger.Warn().Str("event", "auth.missing_header").Msg("authorization header missing")
			respondError(w, r, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		if !authorizeToken(reqToken, s.token) {
			logger.Warn().Str("event", "auth.invalid_token").Msg("invalid api token")
			respondError(w, r, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
