// SPDX-License-Identifier: MIT

package pool

// release checks a connection back in. Healthy base connections are
// parked or handed directly to the longest waiter; overflow, stale and
// discarded connections are closed and their capacity refunded.
func (p *Pool[T]) release(e *entry[T], discard bool) {
	var retired *entry[T]
	var reason string

	p.mu.Lock()
	if discard {
		p.stats.discarded.Add(1)
		p.refundLocked(e.overflow)
		retired, reason = e, reasonError
	} else {
		retired, reason = p.checkinLocked(e)
	}
	p.mu.Unlock()

	if retired != nil {
		p.retire(retired, reason)
	}
}

// checkinLocked decides the fate of a returning connection: park, hand
// off, or retire. It returns the entry to close outside the lock, if
// any.
func (p *Pool[T]) checkinLocked(e *entry[T]) (*entry[T], string) {
	switch {
	case p.closed:
		p.refundLocked(e.overflow)
		return e, ""
	case e.generation != p.generation.Load():
		p.stats.invalidated.Add(1)
		p.refundLocked(e.overflow)
		return e, reasonGeneration
	case p.cfg.MaxLifetime > 0 && p.clock.Now().Sub(e.createdAt) >= p.cfg.MaxLifetime:
		p.stats.recycled.Add(1)
		p.refundLocked(e.overflow)
		return e, reasonLifetime
	case e.overflow:
		p.refundLocked(true)
		return e, ""
	}

	e.parkedAt = p.clock.Now()
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.stats.handoffs.Add(1)
		w.ch <- grant[T]{entry: e}
		return nil, ""
	}
	p.idle = append(p.idle, e)
	return nil, ""
}

// refundLocked frees one slot and passes freed capacity on to queued
// waiters.
func (p *Pool[T]) refundLocked(overflow bool) {
	if overflow {
		p.numOverflow--
	} else {
		p.numBase--
	}
	p.promoteLocked()
	p.maybeDrainLocked()
}

// promoteLocked grants free capacity to queued waiters, FIFO. Waiters
// receive dial rights rather than connections; direct handoff of a
// live connection happens in checkinLocked.
func (p *Pool[T]) promoteLocked() {
	if p.closed {
		return
	}
	for len(p.waiters) > 0 {
		var g grant[T]
		switch {
		case p.baseFreeLocked():
			p.numBase++
		case p.overflowFreeLocked():
			p.numOverflow++
			g.overflow = true
		default:
			return
		}
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		w.ch <- g
	}
}
