// SPDX-License-Identifier: MIT

package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/nholm/ballast/internal/metrics"
)

// Acquire checks a connection out of the pool. It prefers the most
// recently parked connection, dials a new one while capacity remains
// and otherwise joins a FIFO wait queue until a slot frees, the
// context is done or AcquireTimeout elapses.
func (p *Pool[T]) Acquire(ctx context.Context) (*Conn[T], error) {
	start := p.clock.Now()

	var timeout <-chan time.Time
	if p.cfg.AcquireTimeout > 0 {
		timer := time.NewTimer(p.cfg.AcquireTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		g, err := p.reserve(ctx, start, timeout)
		if err != nil {
			return nil, err
		}

		if g.entry != nil {
			ok, err := p.validate(ctx, g.entry)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			p.stats.hits.Add(1)
			p.observeAcquire("hit", start)
			return &Conn[T]{pool: p, entry: g.entry}, nil
		}

		e, err := p.dial(ctx, g.overflow)
		if err != nil {
			return nil, err
		}
		outcome := "dial"
		if g.overflow {
			outcome = "overflow"
			p.stats.overflowDials.Add(1)
		} else {
			p.stats.dials.Add(1)
		}
		p.observeAcquire(outcome, start)
		return &Conn[T]{pool: p, entry: e}, nil
	}
}

// With acquires a connection, runs fn with the raw resource and
// releases the connection afterwards. The connection is discarded
// instead when fn panics, and the panic is re-raised.
func (p *Pool[T]) With(ctx context.Context, fn func(res T) error) error {
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = c.Discard()
			panic(r)
		}
		_ = c.Release()
	}()
	return fn(c.Value())
}

// reserve obtains either a parked entry or the right to dial into a
// freshly reserved slot, queueing behind earlier callers when the pool
// is saturated.
func (p *Pool[T]) reserve(ctx context.Context, start time.Time, timeout <-chan time.Time) (grant[T], error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return grant[T]{}, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		e := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return grant[T]{entry: e}, nil
	}
	if p.baseFreeLocked() {
		p.numBase++
		p.mu.Unlock()
		return grant[T]{}, nil
	}
	if p.overflowFreeLocked() {
		p.numOverflow++
		p.mu.Unlock()
		return grant[T]{overflow: true}, nil
	}
	w := &waiter[T]{ch: make(chan grant[T], 1)}
	p.waiters = append(p.waiters, w)
	queued := len(p.waiters)
	p.mu.Unlock()

	p.log.Debug().
		Str("event", "pool.wait").
		Int("waiters", queued).
		Msg("pool saturated, queueing")

	select {
	case g := <-w.ch:
		return g, nil
	case <-ctx.Done():
		p.abandon(w)
		return grant[T]{}, ctx.Err()
	case <-timeout:
		p.abandon(w)
		p.stats.timeouts.Add(1)
		metrics.IncPoolAcquire(p.cfg.Name, "timeout")
		waited := p.clock.Now().Sub(start)
		s := p.Stats()
		p.log.Warn().
			Str("event", "pool.exhausted").
			Int("in_use", s.InUse).
			Int("waiters", s.Waiters).
			Dur("waited", waited).
			Msg("acquire timed out")
		return grant[T]{}, &AcquireTimeoutError{Pool: p.cfg.Name, Waited: waited, Stats: s}
	case <-p.closeCh:
		p.abandon(w)
		return grant[T]{}, ErrPoolClosed
	}
}

func (p *Pool[T]) baseFreeLocked() bool {
	return p.cfg.Size == 0 || p.numBase < p.cfg.Size
}

func (p *Pool[T]) overflowFreeLocked() bool {
	if p.cfg.Size == 0 {
		return false
	}
	return p.cfg.MaxOverflow == -1 || p.numOverflow < p.cfg.MaxOverflow
}

// abandon removes a waiter that stopped waiting. A grant that raced in
// before removal is put back into circulation.
func (p *Pool[T]) abandon(w *waiter[T]) {
	p.mu.Lock()
	for i, cand := range p.waiters {
		if cand == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			return
		}
	}
	// Grants are delivered under p.mu, so absence from the queue means
	// the channel already holds one.
	g := <-w.ch
	var retired *entry[T]
	var reason string
	if g.entry != nil {
		retired, reason = p.checkinLocked(g.entry)
	} else {
		p.refundLocked(g.overflow)
	}
	p.mu.Unlock()
	if retired != nil {
		p.retire(retired, reason)
	}
}

// validate vets a parked connection before handing it out. Stale or
// unresponsive connections are retired and the caller retries; a
// failed liveness probe additionally invalidates the rest of the
// parked set. A non-nil error means the caller's context is done and
// the connection was checked back in.
func (p *Pool[T]) validate(ctx context.Context, e *entry[T]) (bool, error) {
	if reason := p.expiredReason(e, p.clock.Now()); reason != "" {
		switch reason {
		case reasonGeneration:
			p.stats.invalidated.Add(1)
		default:
			p.stats.recycled.Add(1)
		}
		p.dropEntry(e, reason)
		return false, nil
	}
	if !p.cfg.PrePing {
		return true, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, p.cfg.PingTimeout)
	err := p.factory.Ping(pingCtx, e.value)
	cancel()
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		// The caller went away, not the connection.
		p.release(e, false)
		return false, ctx.Err()
	}

	p.stats.prePingEvictions.Add(1)
	metrics.IncPrePingFailure(p.cfg.Name)
	p.log.Warn().
		Err(err).
		Str("event", "pool.preping_failed").
		Msg("liveness probe failed, recycling connection")
	p.invalidateParked()
	p.dropEntry(e, reasonError)
	return false, nil
}

// dropEntry frees the slot held by an entry the acquiring caller could
// not use and closes it.
func (p *Pool[T]) dropEntry(e *entry[T], reason string) {
	p.mu.Lock()
	p.refundLocked(e.overflow)
	p.mu.Unlock()
	p.retire(e, reason)
}

// dial opens a fresh connection into a slot reserved by the caller,
// refunding the slot on failure.
func (p *Pool[T]) dial(ctx context.Context, overflow bool) (*entry[T], error) {
	v, err := p.factory.Dial(ctx)
	if err != nil {
		p.mu.Lock()
		p.refundLocked(overflow)
		p.mu.Unlock()
		metrics.IncPoolAcquire(p.cfg.Name, "error")
		p.log.Error().
			Err(err).
			Str("event", "pool.dial_failed").
			Bool("overflow", overflow).
			Msg("dial failed")
		return nil, fmt.Errorf("pool %s: dial: %w", p.cfg.Name, err)
	}
	return &entry[T]{
		value:      v,
		createdAt:  p.clock.Now(),
		generation: p.generation.Load(),
		overflow:   overflow,
	}, nil
}

func (p *Pool[T]) observeAcquire(outcome string, start time.Time) {
	metrics.IncPoolAcquire(p.cfg.Name, outcome)
	metrics.ObservePoolWait(p.cfg.Name, p.clock.Now().Sub(start))
}
