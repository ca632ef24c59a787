// SPDX-License-Identifier: MIT

package db

import (
	"context"
	"fmt"
	"time"
)

// advisoryLockID serialises migrations across concurrently starting
// replicas. The lock is session-scoped and released on disconnect.
const advisoryLockID = int64(1650402412)

type migrationStep struct {
	Name string
	SQL  string
}

var migrations = []migrationStep{
	{
		Name: "001_create_items",
		SQL: `CREATE TABLE IF NOT EXISTS items (
  id          UUID        PRIMARY KEY,
  name        TEXT        NOT NULL,
  description TEXT        NOT NULL DEFAULT '',
  created_at  TIMESTAMPTZ NOT NULL,
  updated_at  TIMESTAMPTZ NOT NULL
);`,
	},
	{
		Name: "002_index_items_created_at",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_items_created_at ON items (created_at);`,
	},
	{
		Name: "003_unique_items_name",
		SQL:  `CREATE UNIQUE INDEX IF NOT EXISTS idx_items_name ON items (name);`,
	},
}

// Migrate brings the schema up to date, applying pending steps in
// order. Already applied steps are skipped, so it is safe to run on
// every startup.
func Migrate(ctx context.Context, db *DB) error {
	start := time.Now()
	logger := db.log.With().Str("component", "migration").Logger()

	return db.WithConn(ctx, func(ctx context.Context, conn Conn) error {
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		defer func() {
			if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
				logger.Warn().
					Err(err).
					Str("event", "db.migration_unlock_failed").
					Msg("failed to release migration lock")
			}
		}()

		if _, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
  name       TEXT        PRIMARY KEY,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`); err != nil {
			return fmt.Errorf("create schema_migrations: %w", err)
		}

		applied := 0
		for _, step := range migrations {
			var exists bool
			if err := conn.QueryRow(ctx,
				"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE name = $1)", step.Name,
			).Scan(&exists); err != nil {
				return fmt.Errorf("check migration %s: %w", step.Name, err)
			}
			if exists {
				continue
			}

			tx, err := conn.Begin(ctx)
			if err != nil {
				return fmt.Errorf("begin migration %s: %w", step.Name, err)
			}
			if _, err := tx.Exec(ctx, step.SQL); err != nil {
				_ = tx.Rollback(ctx)
				return fmt.Errorf("apply migration %s: %w", step.Name, err)
			}
			if _, err := tx.Exec(ctx,
				"INSERT INTO schema_migrations (name) VALUES ($1)", step.Name,
			); err != nil {
				_ = tx.Rollback(ctx)
				return fmt.Errorf("record migration %s: %w", step.Name, err)
			}
			if err := tx.Commit(ctx); err != nil {
				return fmt.Errorf("commit migration %s: %w", step.Name, err)
			}

			applied++
			logger.Info().
				Str("event", "db.migration_applied").
				Str("name", step.Name).
				Msg("migration applied")
		}

		logger.Info().
			Str("event", "db.migrated").
			Int("applied", applied).
			Int("total", len(migrations)).
			Dur("duration", time.Since(start)).
			Msg("schema is up to date")
		return nil
	})
}
