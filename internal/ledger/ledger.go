// SPDX-License-Identifier: MIT

// Package ledger persists scheduled job run history in a local SQLite
// database. It backs the runs API and the last-run readiness check, and
// survives restarts so a fresh daemon knows when jobs last succeeded.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // pure Go driver

	"github.com/nholm/ballast/internal/log"
)

// Config holds SQLite operational parameters.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultConfig returns settings suitable for the ledger's low write
// rate: WAL readers plus a small pool.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 4,
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	job         TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	outcome     TEXT,
	error       TEXT,
	duration_ms INTEGER
);
CREATE INDEX IF NOT EXISTS idx_runs_job_started ON runs(job, started_at DESC);
`

// Ledger records job runs in SQLite.
type Ledger struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open creates or opens the ledger database at path. The mandatory
// pragmas ride in the DSN so they apply to every pooled connection.
func Open(ctx context.Context, path string, cfg Config) (*Ledger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("ledger: path required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.MaxOpenConns < 1 {
		cfg.MaxOpenConns = 1
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}

	l := &Ledger{db: db, log: log.WithComponent("ledger")}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: init schema: %w", err)
	}

	if issues, err := l.Verify(ctx, false); err != nil {
		l.log.Warn().Err(err).Str("event", "ledger.verify_failed").Msg("integrity check could not run")
	} else if len(issues) > 0 {
		l.log.Warn().
			Strs("issues", issues).
			Str("event", "ledger.integrity").
			Str("path", path).
			Msg("ledger reported integrity issues")
	}

	l.log.Debug().
		Str("event", "ledger.opened").
		Str("path", path).
		Msg("run ledger opened")
	return l, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Verify runs a SQLite integrity check, quick by default or full when
// full is set. It returns diagnostic rows, empty when healthy.
func (l *Ledger) Verify(ctx context.Context, full bool) ([]string, error) {
	pragma := "PRAGMA quick_check;"
	if full {
		pragma = "PRAGMA integrity_check;"
	}

	rows, err := l.db.QueryContext(ctx, pragma)
	if err != nil {
		return nil, fmt.Errorf("ledger: integrity pragma: %w", err)
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var res string
		if err := rows.Scan(&res); err != nil {
			return nil, fmt.Errorf("ledger: scan integrity row: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Healthy is exactly one row saying "ok".
	if len(results) == 1 && strings.EqualFold(results[0], "ok") {
		return nil, nil
	}
	if len(results) == 0 {
		return []string{"integrity check returned no rows"}, nil
	}
	return results, nil
}
