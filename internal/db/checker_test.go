// SPDX-License-Identifier: MIT

package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nholm/ballast/internal/config"
	"github.com/nholm/ballast/internal/health"
)

func TestChecker_Healthy(t *testing.T) {
	fc := newFakeConn()
	database := openFake(t, testConfig(), fc)
	c := NewChecker(database)

	assert.Equal(t, "database", c.Name())
	res := c.Check(context.Background())
	assert.Equal(t, health.StatusHealthy, res.Status)
	assert.Contains(t, res.Message, "idle")
}

func TestChecker_UnreachableIsUnhealthy(t *testing.T) {
	fc := newFakeConn()
	fc.pingErr = errors.New("dial tcp: connection refused")
	database := openFake(t, testConfig(), fc)

	res := NewChecker(database).Check(context.Background())
	assert.Equal(t, health.StatusUnhealthy, res.Status)
	assert.Contains(t, res.Error, "connection refused")

	// The failed probe retires the parked generation so recovery
	// starts from fresh dials instead of dead siblings.
	fc.pingErr = nil
	err := database.WithConn(context.Background(), func(ctx context.Context, conn Conn) error {
		return conn.Ping(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), database.Stats().Invalidated)
}

func TestChecker_SaturatedIsDegraded(t *testing.T) {
	fc := newFakeConn()
	cfg := config.DatabaseConfig{
		PoolSize:       1,
		MaxOverflow:    0,
		AcquireTimeout: time.Second,
	}
	database := openFake(t, cfg, fc)

	started := make(chan struct{})
	release := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- database.WithConn(context.Background(), func(context.Context, Conn) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	res := NewChecker(database).Check(context.Background())
	assert.Equal(t, health.StatusDegraded, res.Status)
	assert.Contains(t, res.Message, "saturated")

	close(release)
	require.NoError(t, <-errCh)

	// Capacity available again: back to a live probe.
	res = NewChecker(database).Check(context.Background())
	assert.Equal(t, health.StatusHealthy, res.Status)
}
