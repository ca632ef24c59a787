// SPDX-License-Identifier: MIT

package daemon

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/nholm/ballast/internal/health"
)

// Deps contains the dependencies required by the daemon Manager. They
// are injected so tests can run the lifecycle against fakes.
type Deps struct {
	// Logger is the structured logger for the daemon.
	Logger zerolog.Logger

	// APIHandler serves the main API listener.
	APIHandler http.Handler

	// MetricsHandler serves the dedicated metrics listener; nil or an
	// empty MetricsAddr disables it.
	MetricsHandler http.Handler

	// MetricsAddr is the metrics listen address.
	MetricsAddr string

	// Health owns the readiness gate the manager flips around startup
	// and drain.
	Health *health.Manager
}

// Validate checks that the mandatory dependencies are present.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	if d.Health == nil {
		return ErrMissingHealth
	}
	return nil
}
