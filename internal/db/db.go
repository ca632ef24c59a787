// SPDX-License-Identifier: MIT

// Package db provides the PostgreSQL access layer: a connection pool
// with overflow built on pgx, scoped connection and transaction
// helpers, and schema migrations guarded by an advisory lock.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/nholm/ballast/internal/config"
	"github.com/nholm/ballast/internal/log"
	"github.com/nholm/ballast/internal/pool"
)

// ErrNoDSN is returned by Open when no database DSN is configured.
var ErrNoDSN = errors.New("db: no DSN configured")

// closeTimeout bounds the teardown of a single pooled connection.
const closeTimeout = 5 * time.Second

// Conn is the subset of pgx.Conn the rest of the service uses. It
// exists so tests can substitute fakes.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

var _ Conn = (*pgx.Conn)(nil)

// DB wraps a bounded connection pool over PostgreSQL.
type DB struct {
	pool *pool.Pool[Conn]
	cfg  config.DatabaseConfig
	log  zerolog.Logger
}

// Open parses the DSN and builds the connection pool. Connections are
// dialed lazily on first use.
func Open(cfg config.DatabaseConfig) (*DB, error) {
	if cfg.DSN == "" {
		return nil, ErrNoDSN
	}
	connCfg, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("db: parse DSN: %w", err)
	}

	factory := pool.Factory[Conn]{
		Dial: func(ctx context.Context) (Conn, error) {
			conn, err := pgx.ConnectConfig(ctx, connCfg)
			if err != nil {
				return nil, fmt.Errorf("connect: %w", err)
			}
			return conn, nil
		},
		Ping: func(ctx context.Context, c Conn) error {
			return c.Ping(ctx)
		},
		Close: func(c Conn) error {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			return c.Close(ctx)
		},
	}
	return OpenWithFactory(cfg, factory)
}

// OpenWithFactory builds the pool around a caller-supplied connection
// factory. Tests use it to run against fakes.
func OpenWithFactory(cfg config.DatabaseConfig, factory pool.Factory[Conn]) (*DB, error) {
	p, err := pool.New(pool.Config{
		Name:           "database",
		Size:           cfg.PoolSize,
		MaxOverflow:    cfg.MaxOverflow,
		AcquireTimeout: cfg.AcquireTimeout,
		MaxLifetime:    cfg.MaxConnLifetime,
		MaxIdleTime:    cfg.MaxConnIdleTime,
		PrePing:        cfg.PrePing,
		PingTimeout:    cfg.PingTimeout,
	}, factory)
	if err != nil {
		return nil, err
	}
	return &DB{
		pool: p,
		cfg:  cfg,
		log:  log.WithComponent("db"),
	}, nil
}

// Pool exposes the underlying pool for metrics registration.
func (db *DB) Pool() *pool.Pool[Conn] { return db.pool }

// Stats returns a snapshot of the connection pool.
func (db *DB) Stats() pool.Stats { return db.pool.Stats() }

// Invalidate retires all pooled connections, forcing fresh dials. Used
// after a database failover.
func (db *DB) Invalidate() { db.pool.Invalidate() }

// Close drains the pool, waiting for checked-out connections until ctx
// expires.
func (db *DB) Close(ctx context.Context) error {
	return db.pool.CloseWithContext(ctx)
}

// WithConn checks a connection out of the pool, runs fn and checks it
// back in afterwards, even when fn panics.
func (db *DB) WithConn(ctx context.Context, fn func(ctx context.Context, conn Conn) error) error {
	return db.pool.With(ctx, func(conn Conn) error {
		return fn(ctx, conn)
	})
}

// WithTx runs fn inside a transaction on a pooled connection. The
// transaction commits when fn returns nil and rolls back when it
// returns an error or panics.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return db.WithConn(ctx, func(ctx context.Context, conn Conn) error {
		tx, err := conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() {
			if r := recover(); r != nil {
				_ = tx.Rollback(ctx)
				panic(r)
			}
		}()

		if err := fn(ctx, tx); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				db.log.Warn().
					Err(rbErr).
					Str("event", "db.rollback_failed").
					Msg("transaction rollback failed")
			}
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
}
