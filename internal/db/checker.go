// SPDX-License-Identifier: MIT

package db

import (
	"context"
	"fmt"

	"github.com/nholm/ballast/internal/health"
)

// Checker reports database health: unreachable is unhealthy, a
// saturated connection pool is degraded but still serving.
type Checker struct {
	db *DB
}

// NewChecker creates a health checker for the database pool.
func NewChecker(db *DB) *Checker {
	return &Checker{db: db}
}

func (c *Checker) Name() string { return "database" }

func (c *Checker) Check(ctx context.Context) health.CheckResult {
	s := c.db.Stats()

	// A full pool means connections are working hard, not broken.
	// Probing would only queue behind real traffic.
	if s.Capacity > 0 && s.InUse >= s.Capacity {
		return health.CheckResult{
			Status:  health.StatusDegraded,
			Message: fmt.Sprintf("connection pool saturated: %d/%d in use, %d waiting", s.InUse, s.Capacity, s.Waiters),
		}
	}

	err := c.db.WithConn(ctx, func(ctx context.Context, conn Conn) error {
		return conn.Ping(ctx)
	})
	if err != nil {
		// Parked siblings of a dead connection are usually dead too;
		// retire them so recovery starts from fresh dials.
		c.db.Invalidate()
		return health.CheckResult{
			Status: health.StatusUnhealthy,
			Error:  err.Error(),
		}
	}

	return health.CheckResult{
		Status:  health.StatusHealthy,
		Message: fmt.Sprintf("%d in use, %d idle", s.InUse, s.Idle),
	}
}
