// SPDX-License-Identifier: MIT

// Package pool provides a generic bounded resource pool with burst
// overflow, modelled on the checkout semantics of classic database
// connection pools: a fixed set of base slots whose connections are
// parked for reuse, an overflow allowance whose connections are torn
// down on release, liveness probing on checkout, age-based recycling
// and generation-based invalidation.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholm/ballast/internal/log"
	"github.com/nholm/ballast/internal/metrics"
)

// clock abstracts time operations for testability.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Recycle reasons, used as metric labels and log fields.
const (
	reasonLifetime   = "lifetime"
	reasonIdle       = "idle"
	reasonGeneration = "generation"
	reasonError      = "error"
)

// Config controls pool sizing and connection lifecycle.
type Config struct {
	// Name labels log events and metrics emitted by this pool.
	Name string

	// Size is the number of base slots. 0 means unbounded, in which
	// case overflow never applies.
	Size int

	// MaxOverflow is the number of connections that may be opened
	// beyond Size while every base slot is busy. -1 means unlimited,
	// 0 disables overflow.
	MaxOverflow int

	// AcquireTimeout bounds how long Acquire waits for a free slot
	// before failing with an AcquireTimeoutError. 0 waits until the
	// context is done.
	AcquireTimeout time.Duration

	// MaxLifetime retires connections older than this. 0 disables the
	// check.
	MaxLifetime time.Duration

	// MaxIdleTime retires connections parked longer than this. 0
	// disables the check.
	MaxIdleTime time.Duration

	// PrePing probes parked connections with Factory.Ping before
	// handing them out. A failed probe evicts the connection,
	// invalidates the rest of the parked set and retries with a fresh
	// dial, invisible to the caller.
	PrePing bool

	// PingTimeout bounds a single liveness probe. Defaults to 5s when
	// PrePing is set.
	PingTimeout time.Duration

	// ReapInterval is the background sweep cadence for expired parked
	// connections. 0 derives it from MaxIdleTime and MaxLifetime.
	ReapInterval time.Duration
}

// Factory supplies the resource-specific operations of a pool.
type Factory[T any] struct {
	// Dial opens a new resource. Required.
	Dial func(ctx context.Context) (T, error)

	// Ping probes a resource for liveness. Required when PrePing is
	// set.
	Ping func(ctx context.Context, res T) error

	// Close tears a resource down. Required.
	Close func(res T) error
}

// entry is one pooled resource with its bookkeeping.
type entry[T any] struct {
	value      T
	createdAt  time.Time
	parkedAt   time.Time
	generation uint64
	overflow   bool
}

// grant is the result of a successful reservation: either a concrete
// parked entry, or the right to dial into a slot already reserved for
// the receiver.
type grant[T any] struct {
	entry    *entry[T]
	overflow bool
}

type waiter[T any] struct {
	ch chan grant[T]
}

type counters struct {
	hits             atomic.Uint64
	dials            atomic.Uint64
	overflowDials    atomic.Uint64
	handoffs         atomic.Uint64
	timeouts         atomic.Uint64
	prePingEvictions atomic.Uint64
	recycled         atomic.Uint64
	invalidated      atomic.Uint64
	discarded        atomic.Uint64
}

// Stats is a point-in-time snapshot of pool state and counters.
type Stats struct {
	Size          int
	InUse         int
	Idle          int
	OverflowInUse int
	Waiters       int
	Capacity      int // Size+MaxOverflow, -1 when unlimited

	Hits             uint64 // checkouts served from a parked connection
	Dials            uint64 // checkouts served by a fresh base dial
	OverflowDials    uint64 // checkouts served by a fresh overflow dial
	Handoffs         uint64 // releases passed directly to a waiter
	Timeouts         uint64 // acquisitions failed on AcquireTimeout
	PrePingEvictions uint64 // connections evicted by a failed probe
	Recycled         uint64 // connections retired by lifetime or idle age
	Invalidated      uint64 // connections retired by generation bump
	Discarded        uint64 // connections discarded as broken by callers
}

// Pool is a generic bounded resource pool. Connections are dialed
// lazily; nothing is opened until the first Acquire. All methods are
// safe for concurrent use.
type Pool[T any] struct {
	cfg     Config
	factory Factory[T]
	log     zerolog.Logger
	clock   clock

	generation atomic.Uint64
	stats      counters

	mu          sync.Mutex
	idle        []*entry[T]  // LIFO, most recently parked last
	waiters     []*waiter[T] // FIFO
	numBase     int          // base slots allocated, in use or parked
	numOverflow int
	closed      bool

	closeCh    chan struct{}
	drained    chan struct{}
	drainOnce  sync.Once
	reaperDone chan struct{}
}

// Option customises pool construction.
type Option[T any] func(*Pool[T])

// WithClock replaces the time source, for tests.
func WithClock[T any](c clock) Option[T] {
	return func(p *Pool[T]) { p.clock = c }
}

// WithLogger replaces the default component logger.
func WithLogger[T any](l zerolog.Logger) Option[T] {
	return func(p *Pool[T]) { p.log = l }
}

// New builds a pool and starts its background reaper when age limits
// are configured.
func New[T any](cfg Config, factory Factory[T], opts ...Option[T]) (*Pool[T], error) {
	if factory.Dial == nil || factory.Close == nil {
		return nil, errors.New("pool: factory needs Dial and Close")
	}
	if cfg.PrePing && factory.Ping == nil {
		return nil, errors.New("pool: PrePing requires a factory Ping")
	}
	if cfg.Size < 0 {
		return nil, fmt.Errorf("pool: size %d out of range", cfg.Size)
	}
	if cfg.MaxOverflow < -1 {
		return nil, fmt.Errorf("pool: max overflow %d out of range", cfg.MaxOverflow)
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.PrePing && cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 5 * time.Second
	}

	p := &Pool[T]{
		cfg:        cfg,
		factory:    factory,
		log:        log.WithComponent("pool"),
		clock:      realClock{},
		closeCh:    make(chan struct{}),
		drained:    make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With().Str("pool", cfg.Name).Logger()

	if cfg.MaxLifetime > 0 || cfg.MaxIdleTime > 0 {
		go p.reap(p.reapInterval())
	} else {
		close(p.reaperDone)
	}

	p.log.Debug().
		Str("event", "pool.created").
		Int("size", cfg.Size).
		Int("max_overflow", cfg.MaxOverflow).
		Dur("acquire_timeout", cfg.AcquireTimeout).
		Bool("pre_ping", cfg.PrePing).
		Msg("pool created")
	return p, nil
}

// Name implements metrics.StatsProvider.
func (p *Pool[T]) Name() string { return p.cfg.Name }

// PoolStats implements metrics.StatsProvider.
func (p *Pool[T]) PoolStats() metrics.PoolStats {
	s := p.Stats()
	return metrics.PoolStats{
		Size:          s.Size,
		InUse:         s.InUse,
		Idle:          s.Idle,
		OverflowInUse: s.OverflowInUse,
		Waiters:       s.Waiters,
		Capacity:      s.Capacity,
	}
}

// Stats returns a snapshot of pool state and lifetime counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	s := Stats{
		Size:          p.cfg.Size,
		InUse:         p.numBase - len(p.idle) + p.numOverflow,
		Idle:          len(p.idle),
		OverflowInUse: p.numOverflow,
		Waiters:       len(p.waiters),
		Capacity:      -1,
	}
	p.mu.Unlock()

	if p.cfg.Size > 0 && p.cfg.MaxOverflow >= 0 {
		s.Capacity = p.cfg.Size + p.cfg.MaxOverflow
	}
	s.Hits = p.stats.hits.Load()
	s.Dials = p.stats.dials.Load()
	s.OverflowDials = p.stats.overflowDials.Load()
	s.Handoffs = p.stats.handoffs.Load()
	s.Timeouts = p.stats.timeouts.Load()
	s.PrePingEvictions = p.stats.prePingEvictions.Load()
	s.Recycled = p.stats.recycled.Load()
	s.Invalidated = p.stats.invalidated.Load()
	s.Discarded = p.stats.discarded.Load()
	return s
}

// Invalidate retires every parked connection immediately and marks
// every checked-out connection for retirement on release. Acquires
// issued after the call only see fresh connections.
func (p *Pool[T]) Invalidate() {
	n := p.invalidateParked()
	p.log.Warn().
		Str("event", "pool.invalidated").
		Int("parked", n).
		Msg("pool invalidated")
}

func (p *Pool[T]) invalidateParked() int {
	p.generation.Add(1)
	p.mu.Lock()
	stale := p.idle
	p.idle = nil
	p.numBase -= len(stale)
	p.stats.invalidated.Add(uint64(len(stale)))
	p.promoteLocked()
	p.maybeDrainLocked()
	p.mu.Unlock()
	for _, e := range stale {
		p.retire(e, reasonGeneration)
	}
	return len(stale)
}

// Close marks the pool closed, retires parked connections and wakes
// all waiters with ErrPoolClosed. Checked-out connections are retired
// as they come back; Close does not wait for them. Close is
// idempotent.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closeCh)
	stale := p.idle
	p.idle = nil
	p.numBase -= len(stale)
	p.maybeDrainLocked()
	p.mu.Unlock()

	<-p.reaperDone
	for _, e := range stale {
		p.retire(e, "")
	}
	p.log.Info().
		Str("event", "pool.closed").
		Int("retired", len(stale)).
		Msg("pool closed")
	return nil
}

// CloseWithContext closes the pool and then waits until every
// checked-out connection has been released, or until ctx expires.
func (p *Pool[T]) CloseWithContext(ctx context.Context) error {
	if err := p.Close(); err != nil {
		return err
	}
	select {
	case <-p.drained:
		return nil
	case <-ctx.Done():
		s := p.Stats()
		return fmt.Errorf("pool %s: %d connections still checked out: %w", p.cfg.Name, s.InUse, ctx.Err())
	}
}

func (p *Pool[T]) maybeDrainLocked() {
	if p.closed && p.numBase+p.numOverflow == 0 {
		p.drainOnce.Do(func() { close(p.drained) })
	}
}

func (p *Pool[T]) reapInterval() time.Duration {
	if p.cfg.ReapInterval > 0 {
		return p.cfg.ReapInterval
	}
	iv := p.cfg.MaxIdleTime
	if iv <= 0 || (p.cfg.MaxLifetime > 0 && p.cfg.MaxLifetime < iv) {
		iv = p.cfg.MaxLifetime
	}
	iv /= 2
	if iv < time.Second {
		iv = time.Second
	}
	return iv
}

func (p *Pool[T]) reap(interval time.Duration) {
	defer close(p.reaperDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.closeCh:
			return
		case <-ticker.C:
			p.reapOnce()
		}
	}
}

// reapOnce retires parked connections that exceeded MaxIdleTime or
// MaxLifetime.
func (p *Pool[T]) reapOnce() {
	now := p.clock.Now()
	var expired []*entry[T]
	var reasons []string

	p.mu.Lock()
	kept := p.idle[:0]
	for _, e := range p.idle {
		reason := p.expiredReason(e, now)
		if reason == "" {
			kept = append(kept, e)
			continue
		}
		expired = append(expired, e)
		reasons = append(reasons, reason)
		p.numBase--
		p.stats.recycled.Add(1)
	}
	p.idle = kept
	p.promoteLocked()
	p.mu.Unlock()

	for i, e := range expired {
		p.retire(e, reasons[i])
	}
}

// expiredReason reports why e may no longer be handed out, or "" while
// it is still usable. The entry must be owned by the caller or guarded
// by p.mu.
func (p *Pool[T]) expiredReason(e *entry[T], now time.Time) string {
	if e.generation != p.generation.Load() {
		return reasonGeneration
	}
	if p.cfg.MaxLifetime > 0 && now.Sub(e.createdAt) >= p.cfg.MaxLifetime {
		return reasonLifetime
	}
	if p.cfg.MaxIdleTime > 0 && !e.parkedAt.IsZero() && now.Sub(e.parkedAt) >= p.cfg.MaxIdleTime {
		return reasonIdle
	}
	return ""
}

// retire closes a connection that left the pool for good. An empty
// reason closes quietly without metrics, for routine overflow teardown
// and shutdown.
func (p *Pool[T]) retire(e *entry[T], reason string) {
	if reason != "" {
		metrics.IncPoolRecycled(p.cfg.Name, reason)
		p.log.Debug().
			Str("event", "pool.recycled").
			Str("reason", reason).
			Dur("age", p.clock.Now().Sub(e.createdAt)).
			Msg("connection retired")
	}
	if err := p.factory.Close(e.value); err != nil {
		p.log.Warn().
			Err(err).
			Str("event", "pool.close_failed").
			Msg("connection close failed")
	}
}
