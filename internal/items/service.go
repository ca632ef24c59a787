// SPDX-License-Identifier: MIT

package items

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/text/unicode/norm"

	"github.com/nholm/ballast/internal/cache"
	"github.com/nholm/ballast/internal/log"
)

const maxNameRunes = 255

// Paging bounds applied by List.
const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Service wraps the repository with validation, read-through caching
// of Get, and invalidation on every write.
type Service struct {
	repo  Repository
	cache cache.Cache
	ttl   time.Duration
	log   zerolog.Logger

	ops     metric.Int64Counter
	lookups metric.Int64Counter
}

// NewService builds the item service. c may be nil to disable caching;
// ttl bounds how long cached reads may lag a write on another replica.
func NewService(repo Repository, c cache.Cache, ttl time.Duration) *Service {
	if c == nil {
		c = cache.NewNoop()
	}

	meter := otel.GetMeterProvider().Meter("ballast.items")
	ops, _ := meter.Int64Counter("ballast.items.operations",
		metric.WithDescription("Item operations by outcome"),
		metric.WithUnit("{operation}"))
	lookups, _ := meter.Int64Counter("ballast.items.cache_lookups",
		metric.WithDescription("Item cache lookups by result"),
		metric.WithUnit("{lookup}"))

	return &Service{
		repo:    repo,
		cache:   c,
		ttl:     ttl,
		log:     log.WithComponent("items"),
		ops:     ops,
		lookups: lookups,
	}
}

// Create validates and stores a new item.
func (s *Service) Create(ctx context.Context, name, description string) (*Item, error) {
	name, err := normalizeName(name)
	if err != nil {
		s.record(ctx, "create", err)
		return nil, err
	}

	now := time.Now().UTC()
	it := &Item{
		ID:          uuid.New(),
		Name:        name,
		Description: normalizeText(description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.repo.Create(ctx, it)
	s.record(ctx, "create", err)
	if err != nil {
		return nil, err
	}
	return it, nil
}

// Get returns one item, serving repeated reads from the cache.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Item, error) {
	key := cacheKey(id)
	if buf, ok := s.cache.Get(ctx, key); ok {
		var it Item
		if err := json.Unmarshal(buf, &it); err == nil {
			s.lookup(ctx, "hit")
			s.record(ctx, "get", nil)
			return &it, nil
		}
		// Unreadable entry, drop it and fall through to the database.
		s.cache.Delete(ctx, key)
	}
	s.lookup(ctx, "miss")

	it, err := s.repo.Get(ctx, id)
	s.record(ctx, "get", err)
	if err != nil {
		return nil, err
	}
	if buf, err := json.Marshal(it); err == nil {
		s.cache.Set(ctx, key, buf, s.ttl)
	}
	return it, nil
}

// List returns a page of items, newest first. Limit is clamped to
// [1, 100] with a default of 20.
func (s *Service) List(ctx context.Context, q PageQuery) (*PageResult[Item], error) {
	if q.Limit <= 0 {
		q.Limit = defaultPageLimit
	}
	if q.Limit > maxPageLimit {
		q.Limit = maxPageLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	res, err := s.repo.List(ctx, q)
	s.record(ctx, "list", err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Update rewrites an item's name and description.
func (s *Service) Update(ctx context.Context, id uuid.UUID, name, description string) (*Item, error) {
	name, err := normalizeName(name)
	if err != nil {
		s.record(ctx, "update", err)
		return nil, err
	}

	it := &Item{
		ID:          id,
		Name:        name,
		Description: normalizeText(description),
		UpdatedAt:   time.Now().UTC(),
	}
	err = s.repo.Update(ctx, it)
	s.record(ctx, "update", err)
	if err != nil {
		return nil, err
	}
	s.cache.Delete(ctx, cacheKey(id))
	return it, nil
}

// Delete removes an item.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.repo.Delete(ctx, id)
	s.record(ctx, "delete", err)
	if err != nil {
		return err
	}
	s.cache.Delete(ctx, cacheKey(id))
	return nil
}

// Purge deletes items created before the cutoff. It satisfies the
// scheduler's purger contract.
func (s *Service) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted, err := s.repo.Purge(ctx, cutoff)
	s.record(ctx, "purge", err)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		// Purged IDs are unknown here, so invalidate wholesale.
		s.cache.Clear(ctx)
		s.log.Info().
			Int64("deleted", deleted).
			Time("cutoff", cutoff).
			Str("event", "items.purged").
			Msg("purged expired items")
	}
	return deleted, nil
}

func (s *Service) record(ctx context.Context, op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrDuplicateName),
		errors.Is(err, ErrNameRequired),
		errors.Is(err, ErrNameTooLong):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	s.ops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}

func (s *Service) lookup(ctx context.Context, result string) {
	s.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func cacheKey(id uuid.UUID) string {
	return "item:" + id.String()
}

// normalizeName canonicalizes to NFC so visually identical names
// cannot coexist, then enforces presence and length.
func normalizeName(name string) (string, error) {
	name = normalizeText(name)
	if name == "" {
		return "", ErrNameRequired
	}
	if utf8.RuneCountInString(name) > maxNameRunes {
		return "", ErrNameTooLong
	}
	return name, nil
}

func normalizeText(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}
