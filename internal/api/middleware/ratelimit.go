// SPDX-License-Identifier: MIT

package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"

	"github.com/nholm/ballast/internal/log"
)

// RateLimitConfig holds configuration for the rate limiting middleware.
type RateLimitConfig struct {
	// RequestLimit is the maximum number of requests allowed in the window
	RequestLimit int

	// WindowSize is the sliding window duration
	WindowSize time.Duration

	// TrustedProxies lists CIDRs whose X-Forwarded-For header is honoured
	// when deriving the client key; requests from other peers are keyed by
	// their direct remote address
	TrustedProxies []*net.IPNet
}

// RateLimit creates a sliding-window rate limiter keyed by client IP.
// Behind a trusted proxy the real client address is taken from
// X-Forwarded-For; untrusted peers cannot spoof their way into a
// different bucket.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	keyFunc := func(r *http.Request) (string, error) {
		return ClientIP(r, cfg.TrustedProxies), nil
	}

	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowSize,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			logger := log.WithComponentFromContext(r.Context(), "ratelimit")
			logger.Warn().
				Str("event", "ratelimit.exceeded").
				Str("client", ClientIP(r, cfg.TrustedProxies)).
				Str("path", r.URL.Path).
				Msg("rate limit exceeded")

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(cfg.WindowSize.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded","detail":"Too many requests. Please try again later."}`))
		}),
	)
}

// ClientIP derives the client address for rate limit keys. The
// X-Forwarded-For chain is only honoured when the direct peer falls
// inside one of the trusted proxy CIDRs.
func ClientIP(r *http.Request, trusted []*net.IPNet) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}

	if len(trusted) == 0 || !ipInNets(peer, trusted) {
		return peer
	}

	fwd := r.Header.Get("X-Forwarded-For")
	if fwd == "" {
		return peer
	}
	// The left-most entry is the original client; trim per-hop spacing.
	if idx := strings.IndexByte(fwd, ','); idx >= 0 {
		fwd = fwd[:idx]
	}
	fwd = strings.TrimSpace(fwd)
	if net.ParseIP(fwd) == nil {
		return peer
	}
	return fwd
}

// ParseTrustedProxies parses a CSV of CIDRs; bare IPs get a host mask.
func ParseTrustedProxies(csv string) ([]*net.IPNet, error) {
	if strings.TrimSpace(csv) == "" {
		return nil, nil
	}
	var nets []*net.IPNet
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "/") {
			if ip := net.ParseIP(part); ip != nil {
				if ip.To4() != nil {
					part += "/32"
				} else {
					part += "/128"
				}
			}
		}
		_, ipnet, err := net.ParseCIDR(part)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", part, err)
		}
		nets = append(nets, ipnet)
	}
	return nets, nil
}

func ipInNets(host string, nets []*net.IPNet) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
