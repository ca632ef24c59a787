// SPDX-License-Identifier: MIT

package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeConn struct {
	id     int
	dead   atomic.Bool
	closed atomic.Bool
}

type fakeFactory struct {
	mu      sync.Mutex
	dialed  int
	closedN int
	dialErr error
	conns   []*fakeConn
}

func (f *fakeFactory) factory() Factory[*fakeConn] {
	return Factory[*fakeConn]{
		Dial: func(context.Context) (*fakeConn, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.dialErr != nil {
				return nil, f.dialErr
			}
			f.dialed++
			c := &fakeConn{id: f.dialed}
			f.conns = append(f.conns, c)
			return c, nil
		},
		Ping: func(_ context.Context, c *fakeConn) error {
			if c.dead.Load() {
				return errors.New("connection reset by peer")
			}
			return nil
		},
		Close: func(c *fakeConn) error {
			c.closed.Store(true)
			f.mu.Lock()
			f.closedN++
			f.mu.Unlock()
			return nil
		},
	}
}

func (f *fakeFactory) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dialed
}

func (f *fakeFactory) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closedN
}

func (f *fakeFactory) setDialErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialErr = err
}

func newTestPool(t *testing.T, cfg Config, f *fakeFactory, opts ...Option[*fakeConn]) *Pool[*fakeConn] {
	t.Helper()
	opts = append(opts, WithLogger[*fakeConn](zerolog.Nop()))
	p, err := New(cfg, f.factory(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNew_Validation(t *testing.T) {
	valid := (&fakeFactory{}).factory()

	tests := []struct {
		name    string
		cfg     Config
		factory Factory[*fakeConn]
	}{
		{"missing dial", Config{Size: 1}, Factory[*fakeConn]{Close: valid.Close}},
		{"missing close", Config{Size: 1}, Factory[*fakeConn]{Dial: valid.Dial}},
		{"preping without ping", Config{Size: 1, PrePing: true}, Factory[*fakeConn]{Dial: valid.Dial, Close: valid.Close}},
		{"negative size", Config{Size: -1}, valid},
		{"overflow below -1", Config{Size: 1, MaxOverflow: -2}, valid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.factory)
			assert.Error(t, err)
		})
	}
}

func TestPool_AcquireRelease_ReusesConnection(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, Config{Name: "reuse", Size: 2}, f)
	ctx := context.Background()

	c1, err := p.Acquire(ctx)
	require.NoError(t, err)
	first := c1.Value()
	c1.Release()

	c2, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, first, c2.Value())
	c2.Release()

	s := p.Stats()
	assert.Equal(t, 1, f.dialCount())
	assert.Equal(t, uint64(1), s.Dials)
	assert.Equal(t, uint64(1), s.Hits)
	assert.Equal(t, 1, s.Idle)
	assert.Equal(t, 0, s.InUse)
}

func TestPool_ReuseIsLIFO(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, Config{Name: "lifo", Size: 3}, f)
	ctx := context.Background()

	var conns []*Conn[*fakeConn]
	for i := 0; i < 3; i++ {
		c, err := p.Acquire(ctx)
		require.NoError(t, err)
		conns = append(conns, c)
	}
	for _, c := range conns {
		c.Release()
	}

	// Most recently parked comes back first.
	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Value().id)
	c.Release()
}

func TestPool_OverflowClosedOnRelease(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, Config{Name: "overflow", Size: 1, MaxOverflow: 1}, f)
	ctx := context.Background()

	base, err := p.Acquire(ctx)
	require.NoError(t, err)
	over, err := p.Acquire(ctx)
	require.NoError(t, err)

	s := p.Stats()
	assert.Equal(t, 2, s.InUse)
	assert.Equal(t, 1, s.OverflowInUse)
	assert.Equal(t, uint64(1), s.OverflowDials)

	overConn := over.Value()
	over.Release()
	assert.True(t, overConn.closed.Load(), "overflow connection must be torn down on release")

	baseConn := base.Value()
	base.Release()
	assert.False(t, baseConn.closed.Load(), "base connection must be parked on release")

	s = p.Stats()
	assert.Equal(t, 0, s.InUse)
	assert.Equal(t, 1, s.Idle)
	assert.Equal(t, 0, s.OverflowInUse)
}

func TestPool_AcquireTimeout(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, Config{Name: "timeout", Size: 1, AcquireTimeout: 50 * time.Millisecond}, f)
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer c.Release()

	start := time.Now()
	_, err = p.Acquire(ctx)
	require.Error(t, err)

	var timeoutErr *AcquireTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "timeout", timeoutErr.Pool)
	assert.GreaterOrEqual(t, timeoutErr.Waited, 50*time.Millisecond)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, uint64(1), p.Stats().Timeouts)
	assert.Equal(t, 0, p.Stats().Waiters, "timed-out waiter must leave the queue")
}

func TestPool_UnlimitedOverflow(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, Config{Name: "unlimited", Size: 2, MaxOverflow: -1, AcquireTimeout: time.Second}, f)
	ctx := context.Background()

	var conns []*Conn[*fakeConn]
	for i := 0; i < 20; i++ {
		c, err := p.Acquire(ctx)
		require.NoError(t, err)
		conns = append(conns, c)
	}
	s := p.Stats()
	assert.Equal(t, 20, s.InUse)
	assert.Equal(t, 18, s.OverflowInUse)
	assert.Equal(t, -1, s.Capacity)

	for _, c := range conns {
		c.Release()
	}
	s = p.Stats()
	assert.Equal(t, 0, s.InUse)
	assert.Equal(t, 2, s.Idle)
}

func TestPool_WaitersServedFIFO(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, Config{Name: "fifo", Size: 1, AcquireTimeout: 5 * time.Second}, f)
	ctx := context.Background()

	holder, err := p.Acquire(ctx)
	require.NoError(t, err)

	order := make(chan int, 2)
	var wg sync.WaitGroup

	startWaiter := func(id int, queued int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.Acquire(ctx)
			if err != nil {
				return
			}
			order <- id
			c.Release()
		}()
		require.Eventually(t, func() bool {
			return p.Stats().Waiters == queued
		}, time.Second, time.Millisecond)
	}

	startWaiter(1, 1)
	startWaiter(2, 2)

	holder.Release()
	wg.Wait()

	assert.Equal(t, 1, <-order)
	assert.Equal(t, 2, <-order)
	assert.GreaterOrEqual(t, p.Stats().Handoffs, uint64(1))
}

func TestPool_ContextCancelWhileWaiting(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, Config{Name: "cancel", Size: 1}, f)

	holder, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer holder.Release()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return p.Stats().Waiters == 1
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for cancelled acquire")
	}
	assert.Equal(t, 0, p.Stats().Waiters)
}

func TestPool_PrePing_EvictsAndRedials(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, Config{Name: "preping", Size: 2, PrePing: true}, f)
	ctx := context.Background()

	c1, err := p.Acquire(ctx)
	require.NoError(t, err)
	dead := c1.Value()
	c1.Release()

	dead.dead.Store(true)

	c2, err := p.Acquire(ctx)
	require.NoError(t, err, "probe failure must be invisible to the caller")
	assert.NotSame(t, dead, c2.Value())
	assert.True(t, dead.closed.Load())
	c2.Release()

	s := p.Stats()
	assert.Equal(t, uint64(1), s.PrePingEvictions)
	assert.Equal(t, uint64(2), s.Dials)
	assert.Equal(t, uint64(0), s.Hits)
}

func TestPool_PrePing_FailureInvalidatesParkedSet(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, Config{Name: "preping-herd", Size: 3, PrePing: true}, f)
	ctx := context.Background()

	var conns []*Conn[*fakeConn]
	for i := 0; i < 3; i++ {
		c, err := p.Acquire(ctx)
		require.NoError(t, err)
		conns = append(conns, c)
	}
	for _, c := range conns {
		c.Release()
	}

	// Kill the connection on top of the stack; its siblings are
	// presumed dead too.
	conns[2].Value().dead.Store(true)

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Value().id)
	c.Release()

	assert.Equal(t, 3, f.closedCount())
	s := p.Stats()
	assert.Equal(t, uint64(1), s.PrePingEvictions)
	assert.Equal(t, uint64(2), s.Invalidated)
}

func TestPool_MaxLifetime_RecycledOnCheckout(t *testing.T) {
	clk := newFakeClock()
	f := &fakeFactory{}
	p := newTestPool(t, Config{Name: "lifetime", Size: 1, MaxLifetime: 30 * time.Minute}, f, WithClock[*fakeConn](clk))
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	c.Release()

	clk.Advance(31 * time.Minute)

	c, err = p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Value().id)
	c.Release()

	assert.Equal(t, uint64(1), p.Stats().Recycled)
	assert.Equal(t, 1, f.closedCount())
}

func TestPool_MaxLifetime_RecycledOnRelease(t *testing.T) {
	clk := newFakeClock()
	f := &fakeFactory{}
	p := newTestPool(t, Config{Name: "lifetime-rel", Size: 1, MaxLifetime: 30 * time.Minute}, f, WithClock[*fakeConn](clk))

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	conn := c.Value()

	clk.Advance(31 * time.Minute)
	c.Release()

	assert.True(t, conn.closed.Load())
	s := p.Stats()
	assert.Equal(t, 0, s.Idle)
	assert.Equal(t, uint64(1), s.Recycled)
}

func TestPool_MaxIdleTime_RecycledOnCheckout(t *testing.T) {
	clk := newFakeClock()
	f := &fakeFactory{}
	p := newTestPool(t, Config{Name: "idle", Size: 1, MaxIdleTime: 5 * time.Minute}, f, WithClock[*fakeConn](clk))
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	c.Release()

	clk.Advance(6 * time.Minute)

	c, err = p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Value().id)
	c.Release()

	assert.Equal(t, uint64(1), p.Stats().Recycled)
}

func TestPool_Reaper_SweepsExpiredIdle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	clk := newFakeClock()
	f := &fakeFactory{}
	p := newTestPool(t, Config{
		Name:         "reaper",
		Size:         2,
		MaxIdleTime:  5 * time.Minute,
		ReapInterval: 5 * time.Millisecond,
	}, f, WithClock[*fakeConn](clk))

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	c.Release()
	require.Equal(t, 1, p.Stats().Idle)

	clk.Advance(6 * time.Minute)

	require.Eventually(t, func() bool {
		return p.Stats().Idle == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.closedCount())
	assert.Equal(t, uint64(1), p.Stats().Recycled)

	require.NoError(t, p.Close())
}

func TestPool_Invalidate(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, Config{Name: "invalidate", Size: 2}, f)
	ctx := context.Background()

	parked, err := p.Acquire(ctx)
	require.NoError(t, err)
	held, err := p.Acquire(ctx)
	require.NoError(t, err)
	parkedConn := parked.Value()
	parked.Release()

	p.Invalidate()

	assert.True(t, parkedConn.closed.Load(), "parked connections close immediately")
	assert.Equal(t, 0, p.Stats().Idle)

	heldConn := held.Value()
	assert.False(t, heldConn.closed.Load(), "held connections stay usable until released")
	held.Release()
	assert.True(t, heldConn.closed.Load())

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Value().id)
	c.Release()

	assert.Equal(t, uint64(2), p.Stats().Invalidated)
}

func TestPool_DoubleReleaseIsNoOp(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, Config{Name: "double", Size: 1}, f)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Release())
	assert.ErrorIs(t, c.Release(), ErrConnClosed)
	assert.ErrorIs(t, c.Discard(), ErrConnClosed)

	s := p.Stats()
	assert.Equal(t, 0, s.InUse)
	assert.Equal(t, 1, s.Idle)
	assert.Equal(t, uint64(0), s.Discarded)
	assert.False(t, c.Value().closed.Load())
}

func TestPool_Discard(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, Config{Name: "discard", Size: 1}, f)
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	broken := c.Value()
	c.Discard()

	assert.True(t, broken.closed.Load())
	s := p.Stats()
	assert.Equal(t, 0, s.Idle)
	assert.Equal(t, uint64(1), s.Discarded)

	c, err = p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Value().id)
	c.Release()
}

func TestPool_With(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, Config{Name: "with", Size: 1}, f)
	ctx := context.Background()

	var got *fakeConn
	err := p.With(ctx, func(c *fakeConn) error {
		got = c
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, p.Stats().Idle)

	appErr := errors.New("application failure")
	err = p.With(ctx, func(*fakeConn) error { return appErr })
	assert.ErrorIs(t, err, appErr)
	assert.Equal(t, 1, p.Stats().Idle, "application errors keep the connection pooled")
	assert.False(t, got.closed.Load())
}

func TestPool_With_DiscardsOnPanic(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, Config{Name: "with-panic", Size: 1}, f)

	var leaked *fakeConn
	require.Panics(t, func() {
		_ = p.With(context.Background(), func(c *fakeConn) error {
			leaked = c
			panic("boom")
		})
	})

	require.NotNil(t, leaked)
	assert.True(t, leaked.closed.Load())
	s := p.Stats()
	assert.Equal(t, 0, s.InUse)
	assert.Equal(t, 0, s.Idle)
	assert.Equal(t, uint64(1), s.Discarded)
}

func TestPool_DialFailureRefundsSlot(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, Config{Name: "dialfail", Size: 1}, f)
	ctx := context.Background()

	f.setDialErr(errors.New("connection refused"))
	_, err := p.Acquire(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial")
	assert.Equal(t, 0, p.Stats().InUse)

	f.setDialErr(nil)
	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stats().InUse)
	c.Release()
}

func TestPool_CloseWakesWaiters(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := &fakeFactory{}
	p := newTestPool(t, Config{Name: "close-wake", Size: 1}, f)

	holder, err := p.Acquire(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		return p.Stats().Waiters == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, p.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by Close")
	}

	holder.Release()
	assert.True(t, holder.Value().closed.Load(), "stragglers close on release after Close")
}

func TestPool_Close(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, Config{Name: "close", Size: 2}, f)
	ctx := context.Background()

	c1, err := p.Acquire(ctx)
	require.NoError(t, err)
	c2, err := p.Acquire(ctx)
	require.NoError(t, err)
	c1.Release()
	c2.Release()

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.Equal(t, 2, f.closedCount())
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_CloseWithContext(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, Config{Name: "drain", Size: 1}, f)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = p.CloseWithContext(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still checked out")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	held.Release()
	require.NoError(t, p.CloseWithContext(context.Background()))
	assert.True(t, held.Value().closed.Load())
}

func TestPool_StatsProvider(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, Config{Name: "provider", Size: 3, MaxOverflow: 2}, f)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer c.Release()

	assert.Equal(t, "provider", p.Name())
	ps := p.PoolStats()
	assert.Equal(t, 3, ps.Size)
	assert.Equal(t, 1, ps.InUse)
	assert.Equal(t, 5, ps.Capacity)
}

func TestPool_ConcurrentStress(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := &fakeFactory{}
	p := newTestPool(t, Config{
		Name:           "stress",
		Size:           5,
		MaxOverflow:    5,
		AcquireTimeout: 5 * time.Second,
	}, f)

	const (
		goroutines = 50
		iterations = 20
	)
	var (
		wg      sync.WaitGroup
		holders atomic.Int64
		peak    atomic.Int64
		failed  atomic.Int64
	)

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				err := p.With(context.Background(), func(*fakeConn) error {
					cur := holders.Add(1)
					for {
						old := peak.Load()
						if cur <= old || peak.CompareAndSwap(old, cur) {
							break
						}
					}
					time.Sleep(100 * time.Microsecond)
					holders.Add(-1)
					return nil
				})
				if err != nil {
					failed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), failed.Load())
	assert.LessOrEqual(t, peak.Load(), int64(10), "capacity bound must hold under contention")

	s := p.Stats()
	assert.Equal(t, 0, s.InUse)
	assert.Equal(t, 0, s.Waiters)
	assert.LessOrEqual(t, s.Idle, 5)
	assert.Equal(t, uint64(goroutines*iterations), s.Hits+s.Dials+s.OverflowDials)

	require.NoError(t, p.Close())
	assert.Equal(t, f.dialCount(), f.closedCount(), "every dialed connection must be closed")
}
