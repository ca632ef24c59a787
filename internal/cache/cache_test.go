// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nholm/ballast/internal/config"
)

func TestMemory_SetGet(t *testing.T) {
	c := NewMemory(0)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k1", []byte("v1"), time.Minute)

	got, found := c.Get(ctx, "k1")
	require.True(t, found)
	assert.Equal(t, []byte("v1"), got)

	_, found = c.Get(ctx, "absent")
	assert.False(t, found)
}

func TestMemory_Expiration(t *testing.T) {
	c := NewMemory(0)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "short", []byte("v"), 10*time.Millisecond)

	_, found := c.Get(ctx, "short")
	require.True(t, found)

	time.Sleep(20 * time.Millisecond)

	_, found = c.Get(ctx, "short")
	assert.False(t, found, "expired entry must not be served")
}

func TestMemory_Overwrite(t *testing.T) {
	c := NewMemory(0)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("old"), time.Minute)
	c.Set(ctx, "k", []byte("new"), time.Minute)

	got, found := c.Get(ctx, "k")
	require.True(t, found)
	assert.Equal(t, []byte("new"), got)
}

func TestMemory_Delete(t *testing.T) {
	c := NewMemory(0)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), time.Minute)
	c.Delete(ctx, "k")

	_, found := c.Get(ctx, "k")
	assert.False(t, found)
}

func TestMemory_Clear(t *testing.T) {
	c := NewMemory(0)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), time.Minute)
	c.Set(ctx, "b", []byte("2"), time.Minute)
	require.Equal(t, 2, c.Stats().CurrentSize)

	c.Clear(ctx)

	assert.Equal(t, 0, c.Stats().CurrentSize)
}

func TestMemory_Stats(t *testing.T) {
	c := NewMemory(0)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), time.Minute)
	c.Get(ctx, "k")
	c.Get(ctx, "k")
	c.Get(ctx, "absent")

	s := c.Stats()
	assert.Equal(t, "memory", s.Backend)
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, int64(1), s.Sets)
	assert.Equal(t, 1, s.CurrentSize)
}

func TestMemory_JanitorEvictsExpired(t *testing.T) {
	c := NewMemory(10 * time.Millisecond)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "short", []byte("v"), 5*time.Millisecond)
	c.Set(ctx, "long", []byte("v"), time.Hour)

	assert.Eventually(t, func() bool {
		return c.Stats().CurrentSize == 1
	}, time.Second, 5*time.Millisecond)

	s := c.Stats()
	assert.Equal(t, int64(1), s.Evictions)
}

func TestMemory_DeleteExpired(t *testing.T) {
	c := NewMemory(0)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), 5*time.Millisecond)
	c.Set(ctx, "b", []byte("2"), 5*time.Millisecond)
	c.Set(ctx, "c", []byte("3"), time.Hour)

	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 2, c.deleteExpired())
	assert.Equal(t, 1, c.Stats().CurrentSize)
}

func TestMemory_CloseIsIdempotent(t *testing.T) {
	c := NewMemory(time.Minute)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	// Still usable without the janitor.
	ctx := context.Background()
	c.Set(ctx, "k", []byte("v"), time.Minute)
	_, found := c.Get(ctx, "k")
	assert.True(t, found)
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	c := NewMemory(0)
	defer c.Close()
	ctx := context.Background()

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			key := string(rune('a' + n))
			for j := 0; j < 100; j++ {
				c.Set(ctx, key, []byte("v"), time.Minute)
				c.Get(ctx, key)
				c.Stats()
			}
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	assert.Equal(t, 10, c.Stats().CurrentSize)
}

func TestNoop(t *testing.T) {
	c := NewNoop()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), time.Minute)

	_, found := c.Get(ctx, "k")
	assert.False(t, found, "noop cache must never store")

	s := c.Stats()
	assert.Equal(t, "none", s.Backend)
	assert.Equal(t, 0, s.CurrentSize)
	assert.NoError(t, c.Close())
}

func TestNew_Backends(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.CacheConfig
		want    string
		wantErr bool
	}{
		{
			name: "memory",
			cfg:  config.CacheConfig{Backend: "memory", TTL: 5 * time.Minute},
			want: "memory",
		},
		{
			name: "none",
			cfg:  config.CacheConfig{Backend: "none"},
			want: "none",
		},
		{
			name: "empty defaults to none",
			cfg:  config.CacheConfig{},
			want: "none",
		},
		{
			name: "redis",
			cfg:  config.CacheConfig{Backend: "redis", RedisAddr: "localhost:6379"},
			want: "redis",
		},
		{
			name:    "redis without address",
			cfg:     config.CacheConfig{Backend: "redis"},
			wantErr: true,
		},
		{
			name:    "unknown backend",
			cfg:     config.CacheConfig{Backend: "memcached"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer c.Close()
			assert.Equal(t, tt.want, c.Stats().Backend)
		})
	}
}

func TestJanitorInterval(t *testing.T) {
	assert.Equal(t, time.Minute, janitorInterval(30*time.Second), "floor at one minute")
	assert.Equal(t, 5*time.Minute, janitorInterval(10*time.Minute))
}
