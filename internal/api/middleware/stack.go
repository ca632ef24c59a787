// SPDX-License-Identifier: MIT

// Package middleware holds the canonical HTTP ingress middleware stack.
// Every listener goes through ApplyStack so cross-cutting concerns
// cannot drift between surfaces.
package middleware

import (
	"net"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nholm/ballast/internal/log"
)

// StackConfig configures the canonical HTTP ingress middleware stack.
type StackConfig struct {
	// Security headers
	EnableSecurityHeaders bool
	CSP                   string

	// Observability
	EnableMetrics  bool
	TracingService string // empty disables tracing
	EnableLogging  bool

	// Rate limiting
	RateLimitRPM   int // 0 disables
	TrustedProxies []*net.IPNet
}

// NewRouter constructs a chi router with the canonical middleware stack
// applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack applies the canonical middleware stack to r. Order matters:
// the recoverer is outermost, correlation comes before anything that
// logs, and the rate limiter sits innermost so rejected requests still
// show up in metrics and access logs.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer)
	r.Use(RequestID)
	if cfg.EnableSecurityHeaders {
		r.Use(SecurityHeaders(cfg.CSP))
	}
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	if cfg.TracingService != "" {
		r.Use(OTelHTTP(cfg.TracingService))
	}
	if cfg.EnableLogging {
		r.Use(log.Middleware())
	}
	if cfg.RateLimitRPM > 0 {
		r.Use(RateLimit(RateLimitConfig{
			RequestLimit:   cfg.RateLimitRPM,
			WindowSize:     time.Minute,
			TrustedProxies: cfg.TrustedProxies,
		}))
	}
}
