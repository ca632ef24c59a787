// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nholm/ballast/internal/health"
	"github.com/nholm/ballast/internal/log"
	"github.com/nholm/ballast/internal/metrics"
)

// RedisConfig holds the connection settings for the Redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Redis is a Redis-backed implementation of Cache. It also acts as a
// readiness checker: the cache is optional, so an unreachable Redis
// degrades the service instead of failing it.
type Redis struct {
	client *redis.Client
	stats  counters
	log    zerolog.Logger
}

var (
	_ Cache          = (*Redis)(nil)
	_ health.Checker = (*Redis)(nil)
)

// NewRedis creates a Redis-backed cache. The connection is established
// lazily on first use.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("cache: redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})
	return &Redis{client: client, log: log.WithComponent("cache")}, nil
}

func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().
				Err(err).
				Str("event", "cache.redis_get_failed").
				Str("key", key).
				Msg("redis GET failed")
			metrics.IncCacheOp("redis", "get", "error")
		} else {
			metrics.IncCacheOp("redis", "get", "miss")
		}
		c.stats.misses.Add(1)
		return nil, false
	}
	c.stats.hits.Add(1)
	metrics.IncCacheOp("redis", "get", "hit")
	return data, true
}

func (c *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.log.Warn().
			Err(err).
			Str("event", "cache.redis_set_failed").
			Str("key", key).
			Msg("redis SET failed")
		metrics.IncCacheOp("redis", "set", "error")
		return
	}
	c.stats.sets.Add(1)
	metrics.IncCacheOp("redis", "set", "ok")
}

func (c *Redis) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.log.Warn().
			Err(err).
			Str("event", "cache.redis_del_failed").
			Str("key", key).
			Msg("redis DEL failed")
		metrics.IncCacheOp("redis", "delete", "error")
		return
	}
	metrics.IncCacheOp("redis", "delete", "ok")
}

func (c *Redis) Clear(ctx context.Context) {
	if err := c.client.FlushDB(ctx).Err(); err != nil {
		c.log.Warn().
			Err(err).
			Str("event", "cache.redis_flush_failed").
			Msg("redis FLUSHDB failed")
	}
}

func (c *Redis) Stats() Stats {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	size := 0
	if n, err := c.client.DBSize(ctx).Result(); err == nil {
		size = int(n)
	}
	return Stats{
		Backend:     "redis",
		Hits:        c.stats.hits.Load(),
		Misses:      c.stats.misses.Load(),
		Sets:        c.stats.sets.Load(),
		Evictions:   c.stats.evictions.Load(),
		CurrentSize: size,
	}
}

// Close closes the underlying Redis client.
func (c *Redis) Close() error {
	return c.client.Close()
}

// Name implements health.Checker.
func (c *Redis) Name() string { return "cache" }

// Check implements health.Checker.
func (c *Redis) Check(ctx context.Context) health.CheckResult {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return health.CheckResult{
			Status:  health.StatusDegraded,
			Message: "cache unreachable, serving without it",
			Error:   err.Error(),
		}
	}
	s := c.Stats()
	return health.CheckResult{
		Status:  health.StatusHealthy,
		Message: fmt.Sprintf("%d keys, %d hits, %d misses", s.CurrentSize, s.Hits, s.Misses),
	}
}
