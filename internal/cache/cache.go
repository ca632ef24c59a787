// SPDX-License-Identifier: MIT

// Package cache provides the read-through cache used in front of the
// database: an in-memory backend with TTL and a background janitor, a
// Redis backend, and a no-op backend for disabling caching. Values are
// raw bytes; callers own serialization.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nholm/ballast/internal/config"
	"github.com/nholm/ballast/internal/log"
	"github.com/nholm/ballast/internal/metrics"
)

// Cache is a thread-safe byte cache with per-entry TTL.
type Cache interface {
	// Get retrieves a value. Returns false if absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores a value with the specified TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	// Delete removes a value.
	Delete(ctx context.Context, key string)
	// Clear removes all values.
	Clear(ctx context.Context)
	// Stats returns cache statistics.
	Stats() Stats
	// Close releases backend resources.
	Close() error
}

var (
	_ Cache = (*Memory)(nil)
	_ Cache = (*Noop)(nil)
)

// Stats holds cache performance counters.
type Stats struct {
	Backend     string `json:"backend"`
	Hits        int64  `json:"hits"`
	Misses      int64  `json:"misses"`
	Sets        int64  `json:"sets"`
	Evictions   int64  `json:"evictions"`
	CurrentSize int    `json:"currentSize"`
}

// New builds the cache backend selected by the configuration.
func New(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemory(janitorInterval(cfg.TTL)), nil
	case "redis":
		return NewRedis(RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	case "none", "":
		return NewNoop(), nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}

func janitorInterval(ttl time.Duration) time.Duration {
	iv := ttl / 2
	if iv < time.Minute {
		iv = time.Minute
	}
	return iv
}

// entry represents a cached value with expiration time.
type entry struct {
	value      []byte
	expiration time.Time
}

func (e *entry) isExpired() bool {
	return time.Now().After(e.expiration)
}

type counters struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64
}

// Memory is an in-memory implementation of Cache with a background
// janitor sweeping expired entries.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	stats   counters
	stop    chan struct{}
	done    chan struct{}
}

// NewMemory creates an in-memory cache. A cleanupInterval > 0 starts
// the janitor.
func NewMemory(cleanupInterval time.Duration) *Memory {
	c := &Memory{
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.janitor(cleanupInterval)
	} else {
		close(c.done)
	}
	return c
}

func (c *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	e, found := c.entries[key]
	c.mu.RUnlock()

	if !found || e.isExpired() {
		c.stats.misses.Add(1)
		metrics.IncCacheOp("memory", "get", "miss")
		return nil, false
	}
	c.stats.hits.Add(1)
	metrics.IncCacheOp("memory", "get", "hit")
	return e.value, true
}

func (c *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = &entry{
		value:      value,
		expiration: time.Now().Add(ttl),
	}
	c.mu.Unlock()

	c.stats.sets.Add(1)
	metrics.IncCacheOp("memory", "set", "ok")
}

func (c *Memory) Delete(_ context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	metrics.IncCacheOp("memory", "delete", "ok")
}

func (c *Memory) Clear(_ context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
}

func (c *Memory) Stats() Stats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		Backend:     "memory",
		Hits:        c.stats.hits.Load(),
		Misses:      c.stats.misses.Load(),
		Sets:        c.stats.sets.Load(),
		Evictions:   c.stats.evictions.Load(),
		CurrentSize: size,
	}
}

// Close stops the janitor. The cache stays usable afterwards; entries
// then only expire lazily on Get.
func (c *Memory) Close() error {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	<-c.done
	return nil
}

// deleteExpired removes all expired entries, returning how many.
func (c *Memory) deleteExpired() int {
	c.mu.Lock()
	count := 0
	for key, e := range c.entries {
		if e.isExpired() {
			delete(c.entries, key)
			count++
		}
	}
	c.mu.Unlock()

	if count > 0 {
		c.stats.evictions.Add(int64(count))
		logger := log.WithComponent("cache")
		logger.Debug().
			Str("event", "cache.evicted").
			Int("count", count).
			Msg("expired entries evicted")
	}
	return count
}

func (c *Memory) janitor(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stop:
			return
		}
	}
}

// Noop is a cache that stores nothing, for disabling caching.
type Noop struct{}

// NewNoop creates a cache that never stores anything.
func NewNoop() *Noop { return &Noop{} }

func (*Noop) Get(context.Context, string) ([]byte, bool)              { return nil, false }
func (*Noop) Set(context.Context, string, []byte, time.Duration)      {}
func (*Noop) Delete(context.Context, string)                          {}
func (*Noop) Clear(context.Context)                                   {}
func (*Noop) Stats() Stats                                            { return Stats{Backend: "none"} }
func (*Noop) Close() error                                            { return nil }
