// SPDX-License-Identifier: MIT

package pool

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("pool is closed")

// ErrConnClosed is returned when a handle is released or discarded
// after it was already returned to the pool.
var ErrConnClosed = errors.New("pool: connection handle already released")

// AcquireTimeoutError is returned when no connection could be checked
// out within AcquireTimeout. It carries a pool snapshot from the
// moment of failure.
type AcquireTimeoutError struct {
	Pool   string
	Waited time.Duration
	Stats  Stats
}

func (e *AcquireTimeoutError) Error() string {
	return fmt.Sprintf("pool %s: acquire timed out after %s (in use %d, waiters %d, capacity %d)",
		e.Pool, e.Waited.Round(time.Millisecond), e.Stats.InUse, e.Stats.Waiters, e.Stats.Capacity)
}

// Unwrap reports the timeout as context.DeadlineExceeded so errors.Is
// matches across call boundaries.
func (e *AcquireTimeoutError) Unwrap() error { return context.DeadlineExceeded }
