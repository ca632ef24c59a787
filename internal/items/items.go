// SPDX-License-Identifier: MIT

// Package items is the demo domain carried end to end through the
// stack: CRUD over PostgreSQL behind a read-through cache, plus the
// retention purge the job scheduler runs.
package items

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Validation and lookup errors surfaced to the API layer.
var (
	ErrNotFound      = errors.New("items: not found")
	ErrDuplicateName = errors.New("items: name already taken")
	ErrNameRequired  = errors.New("items: name required")
	ErrNameTooLong   = errors.New("items: name exceeds 255 characters")
)

// Item is one stored record.
type Item struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is one page of results plus the total row count.
type PageResult[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Repository is the persistence contract. Implementations return
// ErrNotFound and ErrDuplicateName so callers never see driver errors
// for those two cases.
type Repository interface {
	Create(ctx context.Context, it *Item) error
	Get(ctx context.Context, id uuid.UUID) (*Item, error)
	List(ctx context.Context, q PageQuery) (*PageResult[Item], error)
	Update(ctx context.Context, it *Item) error
	Delete(ctx context.Context, id uuid.UUID) error
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}
