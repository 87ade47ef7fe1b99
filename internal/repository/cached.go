package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/cache"
	"github.com/stemsi/exstem-assessment/internal/config"
)

// DefaultTTL is how long read-through entries live unless a call overrides it.
const DefaultTTL = 300 * time.Second

// Transactor is the transaction contract the repository layer relies on.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	InTransaction(ctx context.Context) bool
	AfterCommit(ctx context.Context, fn func(context.Context)) bool
}

// Invalidation declares the cache entries a write makes stale. Every write takes
// one; build it with Invalidate or NoInvalidation. The zero value carries no
// declaration and is rejected with ErrUndeclaredInvalidation.
type Invalidation struct {
	patterns []string
	reason   string
	declared bool
}

// Invalidate evicts every key matching the given glob patterns after the write.
// At least one pattern is required.
func Invalidate(pattern string, more ...string) Invalidation {
	return Invalidation{patterns: append([]string{pattern}, more...), declared: true}
}

// NoInvalidation opts a write out of eviction. Stale entries then live until TTL expiry.
func NoInvalidation(reason string) Invalidation {
	return Invalidation{reason: reason, declared: true}
}

// ReadOption tunes a single read.
type ReadOption func(*readOptions)

type readOptions struct {
	ttl time.Duration
}

// WithTTL overrides the TTL used when a miss populates the cache.
func WithTTL(ttl time.Duration) ReadOption {
	return func(o *readOptions) { o.ttl = ttl }
}

// RowUpdate is one element of BulkUpdate.
type RowUpdate struct {
	ID      uuid.UUID
	Changes map[string]any
}

// CachedRepository adds read-through caching and write invalidation to a Store.
// Cache failures are logged and degrade to direct store access; only store errors surface.
type CachedRepository[T any] struct {
	store  Store[T]
	cache  cache.Store
	tx     Transactor
	prefix string
	ttl    time.Duration
	log    zerolog.Logger
}

// NewCachedRepository wraps store. prefix namespaces this entity's cache keys.
func NewCachedRepository[T any](store Store[T], c cache.Store, tx Transactor, prefix string, ttl time.Duration, log zerolog.Logger) *CachedRepository[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CachedRepository[T]{
		store:  store,
		cache:  c,
		tx:     tx,
		prefix: prefix,
		ttl:    ttl,
		log:    log.With().Str("component", "cached_repository").Str("entity", prefix).Logger(),
	}
}

// ─── Key patterns ───────────────────────────────────────────────────

// IDKey is the cache key of one row.
func (r *CachedRepository[T]) IDKey(id uuid.UUID) string {
	return config.CacheKey.EntityIDKey(r.prefix, id.String())
}

// ScopeLists matches every cached list of scope.
func (r *CachedRepository[T]) ScopeLists(scope string) string {
	return config.CacheKey.EntityListScopePattern(r.prefix, scope)
}

// AllLists matches every cached list of this entity.
func (r *CachedRepository[T]) AllLists() string {
	return config.CacheKey.EntityListPattern(r.prefix)
}

// ─── Reads ──────────────────────────────────────────────────────────

// FindByID returns one row, reading through the cache outside transactions.
func (r *CachedRepository[T]) FindByID(ctx context.Context, id uuid.UUID, opts ...ReadOption) (*T, error) {
	if r.tx.InTransaction(ctx) {
		return r.store.Get(ctx, id)
	}

	key := r.IDKey(id)
	var cached T
	if r.fromCache(ctx, key, &cached) {
		return &cached, nil
	}

	row, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.toCache(ctx, key, row, r.readTTL(opts))
	return row, nil
}

// FindAll runs a list query, reading through the cache outside transactions.
// Empty results are never cached.
func (r *CachedRepository[T]) FindAll(ctx context.Context, q FindOptions, opts ...ReadOption) ([]T, error) {
	fp, cacheable := q.Fingerprint()
	if r.tx.InTransaction(ctx) || q.ForUpdate || !cacheable {
		return r.store.List(ctx, q)
	}

	key := config.CacheKey.EntityListKey(r.prefix, scopeOf(q), fp)
	var cached []T
	if r.fromCache(ctx, key, &cached) {
		return cached, nil
	}

	rows, err := r.store.List(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		r.toCache(ctx, key, rows, r.readTTL(opts))
	}
	return rows, nil
}

// Count returns how many rows match q, reading through the cache outside
// transactions. The entry lives among the entity's lists so list invalidation
// covers it. Zero counts are never cached.
func (r *CachedRepository[T]) Count(ctx context.Context, q FindOptions, opts ...ReadOption) (int64, error) {
	q.Sort, q.Limit, q.Offset = nil, 0, 0
	fp, cacheable := q.Fingerprint()
	if r.tx.InTransaction(ctx) || q.ForUpdate || !cacheable {
		return r.store.Count(ctx, q)
	}

	key := config.CacheKey.EntityListKey(r.prefix, scopeOf(q), "count:"+fp)
	var cached int64
	if r.fromCache(ctx, key, &cached) {
		return cached, nil
	}

	n, err := r.store.Count(ctx, q)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.toCache(ctx, key, n, r.readTTL(opts))
	}
	return n, nil
}

// FindOne returns the first row of q or ErrNotFound.
func (r *CachedRepository[T]) FindOne(ctx context.Context, q FindOptions, opts ...ReadOption) (*T, error) {
	q.Limit = 1
	rows, err := r.FindAll(ctx, q, opts...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// ─── Writes ─────────────────────────────────────────────────────────

// Create inserts one row.
func (r *CachedRepository[T]) Create(ctx context.Context, row *T, inv Invalidation) error {
	if !inv.declared {
		return ErrUndeclaredInvalidation
	}
	if err := r.store.Insert(ctx, row); err != nil {
		return err
	}
	r.invalidate(ctx, inv)
	return nil
}

// CreateIfAbsent inserts row unless the conflict columns already exist.
// Invalidation only happens when a row was written.
func (r *CachedRepository[T]) CreateIfAbsent(ctx context.Context, row *T, conflict []string, inv Invalidation) (bool, error) {
	if !inv.declared {
		return false, ErrUndeclaredInvalidation
	}
	created, err := r.store.InsertIgnore(ctx, row, conflict)
	if err != nil {
		return false, err
	}
	if created {
		r.invalidate(ctx, inv)
	}
	return created, nil
}

// Upsert inserts row or overwrites its update columns on conflict.
func (r *CachedRepository[T]) Upsert(ctx context.Context, row *T, conflict, update []string, inv Invalidation) error {
	if !inv.declared {
		return ErrUndeclaredInvalidation
	}
	if err := r.store.Upsert(ctx, row, conflict, update); err != nil {
		return err
	}
	r.invalidate(ctx, inv)
	return nil
}

// Update changes one row by id and returns it, or ErrNotFound.
func (r *CachedRepository[T]) Update(ctx context.Context, id uuid.UUID, changes map[string]any, inv Invalidation) (*T, error) {
	rows, err := r.UpdateWhere(ctx, []Filter{Eq("id", id)}, changes, inv)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// UpdateWhere is a conditional update: only rows matching every filter change.
// An empty result means the condition did not hold, which callers use as a lost compare-and-set.
func (r *CachedRepository[T]) UpdateWhere(ctx context.Context, filters []Filter, changes map[string]any, inv Invalidation) ([]T, error) {
	if !inv.declared {
		return nil, ErrUndeclaredInvalidation
	}
	rows, err := r.store.Update(ctx, filters, changes)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		r.invalidate(ctx, inv)
	}
	return rows, nil
}

// Delete removes one row by id, or returns ErrNotFound.
func (r *CachedRepository[T]) Delete(ctx context.Context, id uuid.UUID, inv Invalidation) error {
	n, err := r.DeleteWhere(ctx, []Filter{Eq("id", id)}, inv)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWhere removes every row matching filters.
func (r *CachedRepository[T]) DeleteWhere(ctx context.Context, filters []Filter, inv Invalidation) (int64, error) {
	if !inv.declared {
		return 0, ErrUndeclaredInvalidation
	}
	n, err := r.store.Delete(ctx, filters)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.invalidate(ctx, inv)
	}
	return n, nil
}

// BulkCreate inserts rows in one statement.
func (r *CachedRepository[T]) BulkCreate(ctx context.Context, rows []*T, inv Invalidation) error {
	if !inv.declared {
		return ErrUndeclaredInvalidation
	}
	if len(rows) == 0 {
		return nil
	}
	if err := r.store.Insert(ctx, rows...); err != nil {
		return err
	}
	r.invalidate(ctx, inv)
	return nil
}

// BulkUpdate applies every update in one transaction. The invalidation runs once,
// after the transaction commits, whether the transaction is ours or the caller's.
func (r *CachedRepository[T]) BulkUpdate(ctx context.Context, updates []RowUpdate, inv Invalidation) ([]T, error) {
	if !inv.declared {
		return nil, ErrUndeclaredInvalidation
	}
	out := make([]T, 0, len(updates))
	err := r.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		for _, u := range updates {
			rows, err := r.store.Update(ctx, []Filter{Eq("id", u.ID)}, u.Changes)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				return fmt.Errorf("bulk update %s: %w", u.ID, ErrNotFound)
			}
			out = append(out, rows[0])
		}
		r.invalidate(ctx, inv)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BulkDelete removes rows by id.
func (r *CachedRepository[T]) BulkDelete(ctx context.Context, ids []uuid.UUID, inv Invalidation) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return r.DeleteWhere(ctx, []Filter{In("id", ids)}, inv)
}

// WithTransaction runs fn in a transaction: commit on nil, rollback on error.
// Reads inside fn bypass the cache; invalidations are deferred until commit.
func (r *CachedRepository[T]) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.tx.WithinTransaction(ctx, fn)
}

// ─── Internal helpers ───────────────────────────────────────────────

func scopeOf(q FindOptions) string {
	if q.Scope == "" {
		return "_"
	}
	return q.Scope
}

func (r *CachedRepository[T]) readTTL(opts []ReadOption) time.Duration {
	o := readOptions{ttl: r.ttl}
	for _, fn := range opts {
		fn(&o)
	}
	return o.ttl
}

func (r *CachedRepository[T]) fromCache(ctx context.Context, key string, dst any) bool {
	raw, err := r.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			r.log.Warn().Err(err).Str("key", key).Msg("Cache read failed, falling back to store")
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("Corrupt cache entry, falling back to store")
		return false
	}
	return true
}

func (r *CachedRepository[T]) toCache(ctx context.Context, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("Cache encode failed")
		return
	}
	if err := r.cache.Set(ctx, key, raw, ttl); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

func (r *CachedRepository[T]) invalidate(ctx context.Context, inv Invalidation) {
	if len(inv.patterns) == 0 {
		r.log.Debug().Str("reason", inv.reason).Msg("Write without cache invalidation")
		return
	}
	if r.tx.AfterCommit(ctx, func(ctx context.Context) { r.evict(ctx, inv.patterns) }) {
		return
	}
	r.evict(ctx, inv.patterns)
}

func (r *CachedRepository[T]) evict(ctx context.Context, patterns []string) {
	for _, p := range patterns {
		if _, err := r.cache.DeleteByPattern(ctx, p); err != nil {
			r.log.Warn().Err(err).Str("pattern", p).Msg("Cache invalidation failed")
		}
	}
}
