// SPDX-License-Identifier: MIT

package pool

import "sync/atomic"

// Conn is a checked-out pool resource. Exactly one of Release or
// Discard should be called when the caller is done; repeated calls
// return ErrConnClosed and leave the pool untouched.
type Conn[T any] struct {
	pool     *Pool[T]
	entry    *entry[T]
	released atomic.Bool
}

// Value returns the underlying resource. It must not be used after
// Release or Discard.
func (c *Conn[T]) Value() T {
	return c.entry.value
}

// Release returns the resource to the pool for reuse.
func (c *Conn[T]) Release() error {
	if c.released.Swap(true) {
		c.pool.log.Warn().
			Str("event", "pool.double_release").
			Msg("connection released twice")
		return ErrConnClosed
	}
	c.pool.release(c.entry, false)
	return nil
}

// Discard reports the resource as broken. It is closed instead of
// parked and its slot freed for a fresh dial.
func (c *Conn[T]) Discard() error {
	if c.released.Swap(true) {
		c.pool.log.Warn().
			Str("event", "pool.double_release").
			Msg("connection released twice")
		return ErrConnClosed
	}
	c.pool.release(c.entry, true)
	return nil
}
