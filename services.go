package ecgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ServiceDeps bundles the cross-cutting dependencies shared by every
// entity service. Cache, Constraints and Audit may be nil; the service
// degrades to uncached, unconstrained, unaudited operation.
type ServiceDeps struct {
	Cache        Cache
	Logger       Logger
	Metrics      Metrics
	Namespace    string
	Constraints  *ConstraintManager
	Audit        *AuditLog
	Invalidation InvalidationStrategy
}

func (d ServiceDeps) withDefaults() ServiceDeps {
	if d.Logger == nil {
		d.Logger = &NoOpLogger{}
	}
	if d.Metrics == nil {
		d.Metrics = &NoOpMetrics{}
	}
	if d.Namespace == "" {
		d.Namespace = "ecg"
	}
	return d
}

// Service exposes the application-level operations for one entity type:
// cached reads, filtered listings, and writes that keep the cache, the
// uniqueness registry and the audit log consistent.
//
// Caching is cache-aside and explicit in each read method: try the
// cache, fall through to the repository on miss or cache error, then
// populate. A cache failure is logged and counted, never surfaced.
type Service[T Entity] struct {
	repo *Repository[T]
	deps ServiceDeps
	inv  *Invalidator

	// onHardDelete runs before the document is removed, with the entity
	// as last stored (soft-deleted or not). Attachment cleanup hooks in
	// here.
	onHardDelete func(ctx context.Context, e T) error
}

// NewService creates a service over repo
func NewService[T Entity](repo *Repository[T], deps ServiceDeps) *Service[T] {
	deps = deps.withDefaults()
	return &Service[T]{
		repo: repo,
		deps: deps,
		inv: NewInvalidator(deps.Cache, deps.Namespace, deps.Invalidation,
			deps.Logger, deps.Metrics),
	}
}

// OnHardDelete registers the pre-removal hook
func (s *Service[T]) OnHardDelete(fn func(ctx context.Context, e T) error) {
	s.onHardDelete = fn
}

// Repository returns the underlying repository
func (s *Service[T]) Repository() *Repository[T] { return s.repo }

func (s *Service[T]) entity() string { return s.repo.Descriptor().Name }

// Get returns the live entity with the given id, from cache when possible
func (s *Service[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	desc := s.repo.Descriptor()
	key := entityCacheKey(s.deps.Namespace, desc.Name, id)

	if e, ok := cacheGet[T](ctx, s, key, func() T { return s.repo.newFn() }); ok {
		return e, nil
	}

	e, err := s.repo.FindOne(ctx, id)
	if err != nil {
		return zero, err
	}

	s.cacheSet(ctx, key, e, desc.TTL.Entity)
	return e, nil
}

// FindAll returns every live entity matching the raw query parameters.
// Unpaginated listings are never cached: they are unbounded and rare.
func (s *Service[T]) FindAll(ctx context.Context, raw map[string]string) ([]T, error) {
	pred, err := BuildFilter(raw, s.repo.Descriptor().Filter)
	if err != nil {
		return nil, err
	}
	return s.repo.FindAll(ctx, pred)
}

// List returns one page of live entities matching the raw query
// parameters, from cache when possible.
func (s *Service[T]) List(ctx context.Context, raw map[string]string, pg Pagination) (Page[T], error) {
	desc := s.repo.Descriptor()

	pred, err := BuildFilter(raw, desc.Filter)
	if err != nil {
		return Page[T]{}, err
	}

	pg = pg.Normalize()
	key := listCacheKey(s.deps.Namespace, desc.Name, pred, desc.Sort, pg)

	if page, ok := cacheGetValue[Page[T]](ctx, s, key); ok {
		return page, nil
	}

	page, err := s.repo.FindWithPagination(ctx, pred, pg, nil)
	if err != nil {
		return Page[T]{}, err
	}

	s.cacheSet(ctx, key, page, desc.TTL.Listing)
	return page, nil
}

// ListCursor returns up to limit live entities after cursor in creation
// order. Cursor pages are not cached: every cursor value is a distinct
// key, so entries would almost never be reused before expiring.
func (s *Service[T]) ListCursor(ctx context.Context, raw map[string]string, cursor string, limit int) (CursorPage[T], error) {
	pred, err := BuildFilter(raw, s.repo.Descriptor().Filter)
	if err != nil {
		return CursorPage[T]{}, err
	}
	return s.repo.FindWithCursorPagination(ctx, pred, cursor, limit)
}

// CountBy returns live-entity counts grouped by a document field, from
// cache when possible.
func (s *Service[T]) CountBy(ctx context.Context, field string) (map[string]int, error) {
	desc := s.repo.Descriptor()
	key := countsCacheKey(s.deps.Namespace, desc.Name, field)

	if counts, ok := cacheGetValue[map[string]int](ctx, s, key); ok {
		return counts, nil
	}

	counts, err := s.repo.CountByField(ctx, field)
	if err != nil {
		return nil, err
	}

	s.cacheSet(ctx, key, counts, desc.TTL.Aggregate)
	return counts, nil
}

// Create persists a new entity. The id is assigned up front so
// uniqueness claims can be taken before the document write; a failed
// write releases them again.
//
// Create does not invalidate listing caches: a brand-new id cannot
// have a stale entity entry, and cached pages age out within the
// listing TTL. Only update and delete paths invalidate.
func (s *Service[T]) Create(ctx context.Context, e T) (T, error) {
	var zero T
	rec := e.Base()
	if rec.ID == "" {
		rec.ID = NewID()
	}

	if s.deps.Constraints.Has(s.entity()) {
		doc, err := docOf(e)
		if err != nil {
			return zero, err
		}
		if err := s.deps.Constraints.Claim(ctx, s.entity(), rec.ID, doc); err != nil {
			return zero, err
		}
	}

	created, err := s.repo.Create(ctx, e)
	if err != nil {
		if s.deps.Constraints.Has(s.entity()) {
			if doc, derr := docOf(e); derr == nil {
				if rerr := s.deps.Constraints.Release(ctx, s.entity(), rec.ID, doc); rerr != nil {
					s.deps.Logger.Warn("constraint release after failed create",
						"entity", s.entity(), "id", rec.ID, "error", rerr)
				}
			}
		}
		return zero, err
	}

	s.audit(ctx, "create", created.Base().ID)
	return created, nil
}

// CreateMany persists each entity in turn; see Repository.BulkCreate.
// Constraints and audit apply per entity.
func (s *Service[T]) CreateMany(ctx context.Context, entities []T) ([]T, error) {
	var created []T
	var errs []error

	for i, e := range entities {
		out, err := s.Create(ctx, e)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		created = append(created, out)
	}
	return created, errors.Join(errs...)
}

// Update applies mutate to the entity under optimistic concurrency and
// invalidates its caches.
func (s *Service[T]) Update(ctx context.Context, id string, mutate func(T) error) (T, error) {
	e, err := s.repo.Update(ctx, id, mutate)
	if err != nil {
		var zero T
		return zero, err
	}

	s.inv.OnWrite(ctx, s.entity(), id)
	s.audit(ctx, "update", id)
	return e, nil
}

// Patch applies a shallow merge patch; see Repository.UpdateFields
func (s *Service[T]) Patch(ctx context.Context, id string, fields map[string]interface{}) (T, error) {
	e, err := s.repo.UpdateFields(ctx, id, fields)
	if err != nil {
		var zero T
		return zero, err
	}

	s.inv.OnWrite(ctx, s.entity(), id)
	s.audit(ctx, "update", id)
	return e, nil
}

// PatchMany applies one patch per id; see Repository.BulkUpdate.
// Caches are invalidated once for the whole batch.
func (s *Service[T]) PatchMany(ctx context.Context, ids []string, patches []map[string]interface{}) (BulkResult, error) {
	res, err := s.repo.BulkUpdate(ctx, ids, patches)
	if err != nil {
		return res, err
	}

	if s.deps.Cache != nil {
		for _, id := range res.ModifiedIDs {
			key := entityCacheKey(s.deps.Namespace, s.entity(), id)
			if cerr := s.deps.Cache.Delete(ctx, key); cerr != nil {
				s.deps.Logger.Warn("entity cache invalidation failed",
					"entity", s.entity(), "id", id, "error", cerr)
			}
		}
	}
	if res.Modified > 0 {
		s.inv.OnListingChange(ctx, s.entity())
		for _, id := range res.ModifiedIDs {
			s.audit(ctx, "update", id)
		}
	}
	return res, nil
}

// Delete soft-deletes the entity, invalidates its caches and returns it
// with the delete markers set. Constraint claims survive a soft delete:
// the value stays reserved until the document is hard-deleted, matching
// unique-index behavior where a soft-deleted row still occupies its slot.
func (s *Service[T]) Delete(ctx context.Context, id string) (T, error) {
	e, err := s.repo.Delete(ctx, id)
	if err != nil {
		var zero T
		return zero, err
	}

	s.inv.OnWrite(ctx, s.entity(), id)
	s.audit(ctx, "delete", id)
	return e, nil
}

// HardDelete removes the document permanently, releasing constraint
// claims and running the pre-removal hook first. Returns the entity as
// last stored.
func (s *Service[T]) HardDelete(ctx context.Context, id string) (T, error) {
	var zero T

	e, err := s.repo.FindOneAny(ctx, id)
	if err != nil {
		return zero, err
	}

	if s.onHardDelete != nil {
		if err := s.onHardDelete(ctx, e); err != nil {
			return zero, err
		}
	}

	if s.deps.Constraints.Has(s.entity()) {
		doc, err := docOf(e)
		if err != nil {
			return zero, err
		}
		if err := s.deps.Constraints.Release(ctx, s.entity(), id, doc); err != nil {
			s.deps.Logger.Warn("constraint release failed",
				"entity", s.entity(), "id", id, "error", err)
		}
	}

	if _, err := s.repo.HardDelete(ctx, id); err != nil {
		return zero, err
	}

	s.inv.OnWrite(ctx, s.entity(), id)
	s.audit(ctx, "hard-delete", id)
	return e, nil
}

func (s *Service[T]) audit(ctx context.Context, op, id string) {
	if s.deps.Audit == nil {
		return
	}
	s.deps.Audit.Record(ctx, AuditEntry{
		Op:       op,
		Entity:   s.entity(),
		EntityID: id,
	})
}

// cacheGet reads and decodes an entity from the cache. Returns ok=false
// on miss or any cache/decode failure.
func cacheGet[T Entity](ctx context.Context, s *Service[T], key string, alloc func() T) (T, bool) {
	var zero T
	if s.deps.Cache == nil {
		return zero, false
	}

	data, err := s.deps.Cache.Get(ctx, key)
	if err != nil {
		s.cacheMiss(key, err)
		return zero, false
	}

	e := alloc()
	if err := json.Unmarshal(data, e); err != nil {
		s.deps.Logger.Warn("corrupt cache entry", "key", key, "error", err)
		s.deps.Metrics.Increment(MetricCacheErrors, "entity", s.entity())
		return zero, false
	}

	s.deps.Metrics.Increment(MetricCacheHits, "entity", s.entity())
	return e, true
}

// cacheGetValue is cacheGet for plain values (pages, count maps)
func cacheGetValue[V any, T Entity](ctx context.Context, s *Service[T], key string) (V, bool) {
	var zero V
	if s.deps.Cache == nil {
		return zero, false
	}

	data, err := s.deps.Cache.Get(ctx, key)
	if err != nil {
		s.cacheMiss(key, err)
		return zero, false
	}

	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		s.deps.Logger.Warn("corrupt cache entry", "key", key, "error", err)
		s.deps.Metrics.Increment(MetricCacheErrors, "entity", s.entity())
		return zero, false
	}

	s.deps.Metrics.Increment(MetricCacheHits, "entity", s.entity())
	return v, true
}

func (s *Service[T]) cacheMiss(key string, err error) {
	if IsCacheMiss(err) {
		s.deps.Metrics.Increment(MetricCacheMisses, "entity", s.entity())
		return
	}
	s.deps.Logger.Warn("cache read failed", "key", key, "error", err)
	s.deps.Metrics.Increment(MetricCacheErrors, "entity", s.entity())
}

func (s *Service[T]) cacheSet(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	if s.deps.Cache == nil || ttl <= 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.deps.Logger.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	if err := s.deps.Cache.Set(ctx, key, data, ttl); err != nil {
		s.deps.Logger.Warn("cache write failed", "key", key, "error", err)
		s.deps.Metrics.Increment(MetricCacheErrors, "entity", s.entity())
	}
}

// docOf round-trips an entity through JSON into the raw map form the
// constraint extractors work on.
func docOf(e Entity) (map[string]interface{}, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal: %v", ErrRepository, err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrRepository, err)
	}
	return doc, nil
}
