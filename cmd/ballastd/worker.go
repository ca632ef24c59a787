// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"runtime"
	"time"

	"github.com/nholm/ballast/internal/log"
)

// heartbeatWorker is the built-in demo worker: it ticks forever and
// logs a liveness line, giving the supervisor something to watch even
// in a minimal deployment.
type heartbeatWorker struct {
	interval time.Duration
}

func (w *heartbeatWorker) Name() string { return "heartbeat" }

func (w *heartbeatWorker) Run(ctx context.Context) error {
	interval := w.interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	logger := log.WithComponent("heartbeat")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			logger.Debug().
				Str("event", "worker.heartbeat").
				Int("goroutines", runtime.NumGoroutine()).
				Msg("heartbeat")
		}
	}
}
