// SPDX-License-Identifier: MIT

package items

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nholm/ballast/internal/db"
)

// PostgresRepository stores items via the pooled database layer. It
// contains persistence only; validation lives in the Service.
type PostgresRepository struct {
	db *db.DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository wraps the shared database handle.
func NewPostgresRepository(database *db.DB) *PostgresRepository {
	return &PostgresRepository{db: database}
}

const itemColumns = `id, name, description, created_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, it *Item) error {
	return r.db.WithConn(ctx, func(ctx context.Context, conn db.Conn) error {
		_, err := conn.Exec(ctx,
			`INSERT INTO items (`+itemColumns+`) VALUES ($1, $2, $3, $4, $5)`,
			it.ID, it.Name, it.Description, it.CreatedAt, it.UpdatedAt)
		if isUniqueViolation(err) {
			return ErrDuplicateName
		}
		if err != nil {
			return fmt.Errorf("items: create: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Item, error) {
	var it Item
	err := r.db.WithConn(ctx, func(ctx context.Context, conn db.Conn) error {
		err := conn.QueryRow(ctx,
			`SELECT `+itemColumns+` FROM items WHERE id = $1`, id,
		).Scan(&it.ID, &it.Name, &it.Description, &it.CreatedAt, &it.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("items: get: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// List runs the count and the page query inside one transaction so the
// total cannot drift from the rows.
func (r *PostgresRepository) List(ctx context.Context, q PageQuery) (*PageResult[Item], error) {
	res := &PageResult[Item]{
		Items:  []Item{},
		Limit:  q.Limit,
		Offset: q.Offset,
	}
	err := r.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM items`).Scan(&res.Total); err != nil {
			return fmt.Errorf("items: count: %w", err)
		}

		rows, err := tx.Query(ctx,
			`SELECT `+itemColumns+` FROM items ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`,
			q.Limit, q.Offset)
		if err != nil {
			return fmt.Errorf("items: list: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var it Item
			if err := rows.Scan(&it.ID, &it.Name, &it.Description, &it.CreatedAt, &it.UpdatedAt); err != nil {
				return fmt.Errorf("items: scan: %w", err)
			}
			res.Items = append(res.Items, it)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Update rewrites name and description. CreatedAt is read back so the
// caller gets the complete record.
func (r *PostgresRepository) Update(ctx context.Context, it *Item) error {
	return r.db.WithConn(ctx, func(ctx context.Context, conn db.Conn) error {
		err := conn.QueryRow(ctx,
			`UPDATE items SET name = $2, description = $3, updated_at = $4 WHERE id = $1 RETURNING created_at`,
			it.ID, it.Name, it.Description, it.UpdatedAt,
		).Scan(&it.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if isUniqueViolation(err) {
			return ErrDuplicateName
		}
		if err != nil {
			return fmt.Errorf("items: update: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithConn(ctx, func(ctx context.Context, conn db.Conn) error {
		tag, err := conn.Exec(ctx, `DELETE FROM items WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("items: delete: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Purge deletes items created before the cutoff and reports how many
// went away.
func (r *PostgresRepository) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithConn(ctx, func(ctx context.Context, conn db.Conn) error {
		tag, err := conn.Exec(ctx, `DELETE FROM items WHERE created_at < $1`, cutoff)
		if err != nil {
			return fmt.Errorf("items: purge: %w", err)
		}
		deleted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
