package ecgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"
)

// Repository provides typed CRUD and query operations for one entity
// collection on top of a DocStore.
//
// Every read filters out soft-deleted documents; callers never see them.
// Updates use optimistic concurrency: read with ETag, mutate, conditional
// write, retry on conflict with exponential backoff.
type Repository[T Entity] struct {
	store *DocStore
	desc  Descriptor
	keys  KeyBuilder
	newFn func() T
	retry RetryConfig
}

// NewRepository creates a repository for the entity described by desc.
// newFn allocates an empty entity for decoding.
func NewRepository[T Entity](store *DocStore, desc Descriptor, newFn func() T) *Repository[T] {
	return &Repository[T]{
		store: store,
		desc:  desc,
		keys:  NewKeyBuilder(desc.Name),
		newFn: newFn,
		retry: DefaultRetryConfig(),
	}
}

// Descriptor returns the entity descriptor this repository was built with
func (r *Repository[T]) Descriptor() Descriptor { return r.desc }

// Store returns the underlying document store
func (r *Repository[T]) Store() *DocStore { return r.store }

// Create persists a new entity. An empty id is assigned; a pre-assigned
// id is kept so callers can claim uniqueness constraints before writing.
func (r *Repository[T]) Create(ctx context.Context, e T) (T, error) {
	var zero T

	rec := e.Base()
	if rec.ID == "" {
		rec.ID = NewID()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.IsDeleted = false
	rec.DeletedAt = nil

	if err := e.Validate(); err != nil {
		return zero, fmt.Errorf("%w: %s: %v", ErrValidation, r.desc.Singular, err)
	}

	if err := r.store.PutDoc(ctx, r.keys.Key(rec.ID), e); err != nil {
		return zero, err
	}

	r.store.Logger().Debug("created "+r.desc.Singular, "id", rec.ID)
	return e, nil
}

// FindOne returns the live entity with the given id.
// Soft-deleted entities report ErrNotFound like missing ones.
func (r *Repository[T]) FindOne(ctx context.Context, id string) (T, error) {
	var zero T

	if !IsValidID(id) {
		return zero, WithContext(ErrRepository, map[string]interface{}{
			"entity": r.desc.Singular,
			"id":     id,
			"reason": "malformed id",
		})
	}

	e := r.newFn()
	if err := r.store.GetDoc(ctx, r.keys.Key(id), e); err != nil {
		return zero, err
	}
	if e.Base().IsDeleted {
		return zero, ErrNotFound
	}
	return e, nil
}

// FindOneAny returns the entity with the given id whether or not it has
// been soft-deleted. Used by hard-delete paths that must release
// constraints and clean up attachments for already-deleted entities.
func (r *Repository[T]) FindOneAny(ctx context.Context, id string) (T, error) {
	var zero T

	if !IsValidID(id) {
		return zero, WithContext(ErrRepository, map[string]interface{}{
			"entity": r.desc.Singular,
			"id":     id,
			"reason": "malformed id",
		})
	}

	e := r.newFn()
	if err := r.store.GetDoc(ctx, r.keys.Key(id), e); err != nil {
		return zero, err
	}
	return e, nil
}

// FindAll returns every live entity matching pred, in storage order.
// Pass True() (or nil) to list the whole collection.
func (r *Repository[T]) FindAll(ctx context.Context, pred Predicate) ([]T, error) {
	docs, err := r.scan(ctx, pred)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(docs))
	for _, d := range docs {
		e, err := r.decode(d.doc)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Update applies mutate to the live entity with the given id and writes
// it back under optimistic concurrency. On ETag conflict the read-mutate-
// write cycle retries with exponential backoff and jitter.
func (r *Repository[T]) Update(ctx context.Context, id string, mutate func(T) error) (T, error) {
	return r.update(ctx, id, true, mutate)
}

// update is the optimistic-concurrency loop behind Update and Delete.
// requireLive makes soft-deleted documents report ErrNotFound; the
// soft-delete path itself passes false so it can re-mark them.
func (r *Repository[T]) update(ctx context.Context, id string, requireLive bool, mutate func(T) error) (T, error) {
	var zero T

	if !IsValidID(id) {
		return zero, WithContext(ErrRepository, map[string]interface{}{
			"entity": r.desc.Singular,
			"id":     id,
			"reason": "malformed id",
		})
	}

	key := r.keys.Key(id)
	backoff := r.retry.InitialBackoff

	var lastErr error
	for attempt := 0; attempt < r.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			r.store.Metrics().Increment(MetricUpdateRetries, "entity", r.desc.Name)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(jitter(backoff, r.retry.JitterPercent)):
			}
			backoff *= time.Duration(r.retry.BackoffMultiple)
		}

		e := r.newFn()
		etag, err := r.store.GetDocWithETag(ctx, key, e)
		if err != nil {
			return zero, err
		}
		if requireLive && e.Base().IsDeleted {
			return zero, ErrNotFound
		}

		if err := mutate(e); err != nil {
			return zero, err
		}

		rec := e.Base()
		rec.ID = id
		rec.UpdatedAt = time.Now().UTC()

		if err := e.Validate(); err != nil {
			return zero, fmt.Errorf("%w: %s: %v", ErrValidation, r.desc.Singular, err)
		}

		if _, err := r.store.PutDocIfMatch(ctx, key, e, etag); err != nil {
			if IsConflict(err) {
				r.store.Metrics().Increment(MetricUpdateConflicts, "entity", r.desc.Name)
				lastErr = err
				continue
			}
			return zero, err
		}
		return e, nil
	}

	return zero, fmt.Errorf("%w: update %s %s: retries exhausted: %v",
		ErrConflict, r.desc.Singular, id, lastErr)
}

// reserved field names the merge patch in UpdateFields must not touch
var protectedFields = map[string]bool{
	"id":        true,
	"createdAt": true,
	"updatedAt": true,
	"isDeleted": true,
	"deletedAt": true,
}

// UpdateFields applies a shallow merge patch to the entity. Lifecycle
// fields (id, timestamps, delete markers) in the patch are ignored.
func (r *Repository[T]) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) (T, error) {
	return r.Update(ctx, id, func(e T) error {
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("%w: marshal %s: %v", ErrRepository, r.desc.Singular, err)
		}
		var doc map[string]interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("%w: unmarshal %s: %v", ErrRepository, r.desc.Singular, err)
		}

		for k, v := range fields {
			if protectedFields[k] {
				continue
			}
			doc[k] = v
		}

		merged, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("%w: marshal %s: %v", ErrRepository, r.desc.Singular, err)
		}
		return json.Unmarshal(merged, e)
	})
}

// Delete soft-deletes the entity and returns it with its delete markers
// set: the document stays in the backend and disappears from every read
// path. Deleting an already soft-deleted entity succeeds again and
// refreshes deletedAt; only a missing document reports ErrNotFound.
func (r *Repository[T]) Delete(ctx context.Context, id string) (T, error) {
	e, err := r.update(ctx, id, false, func(e T) error {
		rec := e.Base()
		now := time.Now().UTC()
		rec.IsDeleted = true
		rec.DeletedAt = &now
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	r.store.Logger().Debug("soft-deleted "+r.desc.Singular, "id", id)
	return e, nil
}

// HardDelete removes the document from the backend entirely, whether or
// not it was soft-deleted first, and returns it as last stored.
func (r *Repository[T]) HardDelete(ctx context.Context, id string) (T, error) {
	var zero T

	e, err := r.FindOneAny(ctx, id)
	if err != nil {
		return zero, err
	}
	if err := r.store.DeleteDoc(ctx, r.keys.Key(id)); err != nil {
		return zero, err
	}
	r.store.Logger().Debug("hard-deleted "+r.desc.Singular, "id", id)
	return e, nil
}

// FindWithPagination returns one page of live entities matching pred,
// ordered by the given sort keys (the descriptor's default when nil).
//
// Sorting is total: equal sort values break ties by id, so the same
// query always yields the same page boundaries.
func (r *Repository[T]) FindWithPagination(ctx context.Context, pred Predicate, pg Pagination, sortKeys []SortKey) (Page[T], error) {
	pg = pg.Normalize()
	if sortKeys == nil {
		sortKeys = r.desc.Sort
	}

	start := time.Now()
	docs, err := r.scan(ctx, pred)
	if err != nil {
		return Page[T]{}, err
	}

	sortDocs(docs, sortKeys)

	total := len(docs)
	lo := (pg.Page - 1) * pg.Limit
	hi := lo + pg.Limit
	if lo > total {
		lo = total
	}
	if hi > total {
		hi = total
	}

	out := make([]T, 0, hi-lo)
	for _, d := range docs[lo:hi] {
		e, err := r.decode(d.doc)
		if err != nil {
			return Page[T]{}, err
		}
		out = append(out, e)
	}

	r.store.Metrics().Timing(MetricQueryDuration, time.Since(start), "entity", r.desc.Name)
	r.store.Metrics().Histogram(MetricQueryResults, float64(total), "entity", r.desc.Name)

	return Page[T]{Data: out, Meta: NewPageMeta(total, pg)}, nil
}

// FindWithCursorPagination returns up to limit live entities matching
// pred with id greater than cursor, in ascending id order. Ids are
// time-ordered, so this walks the collection in creation order.
func (r *Repository[T]) FindWithCursorPagination(ctx context.Context, pred Predicate, cursor string, limit int) (CursorPage[T], error) {
	if limit < 1 {
		limit = DefaultLimit
	}

	docs, err := r.scan(ctx, pred)
	if err != nil {
		return CursorPage[T]{}, err
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].id < docs[j].id })

	var out []T
	hasMore := false
	for _, d := range docs {
		if cursor != "" && d.id <= cursor {
			continue
		}
		if len(out) == limit {
			hasMore = true
			break
		}
		e, err := r.decode(d.doc)
		if err != nil {
			return CursorPage[T]{}, err
		}
		out = append(out, e)
	}

	page := CursorPage[T]{Data: out, HasMore: hasMore}
	if hasMore && len(out) > 0 {
		page.NextCursor = out[len(out)-1].Base().ID
	}
	return page, nil
}

// BulkResult reports the outcome of a bulk operation
type BulkResult struct {
	Matched     int
	Modified    int
	ModifiedIDs []string
	Errors      []error
}

// BulkCreate persists each entity in turn. Failures do not stop the
// batch; the joined error covers every failed entry.
func (r *Repository[T]) BulkCreate(ctx context.Context, entities []T) ([]T, error) {
	var created []T
	var errs []error

	for i, e := range entities {
		out, err := r.Create(ctx, e)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		created = append(created, out)
	}

	return created, errors.Join(errs...)
}

// BulkUpdate applies each patch to the entity with the matching id.
// ids and patches must have equal length.
func (r *Repository[T]) BulkUpdate(ctx context.Context, ids []string, patches []map[string]interface{}) (BulkResult, error) {
	if len(ids) != len(patches) {
		return BulkResult{}, WithContext(ErrInvalidArgument, map[string]interface{}{
			"ids":     len(ids),
			"patches": len(patches),
			"reason":  "length mismatch",
		})
	}

	res := BulkResult{Matched: len(ids)}
	for i, id := range ids {
		if _, err := r.UpdateFields(ctx, id, patches[i]); err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("%s: %w", id, err))
			continue
		}
		res.Modified++
		res.ModifiedIDs = append(res.ModifiedIDs, id)
	}
	return res, nil
}

// CountByField counts live entities grouped by the values of a document
// field. Array fields contribute one count per element.
func (r *Repository[T]) CountByField(ctx context.Context, field string) (map[string]int, error) {
	counts := make(map[string]int)

	err := r.store.ScanDocs(ctx, r.keys, func(id string, doc map[string]interface{}) (bool, error) {
		if deleted, _ := doc["isDeleted"].(bool); deleted {
			return true, nil
		}
		v, ok := lookupPath(doc, field)
		if !ok || v == nil {
			return true, nil
		}
		switch x := v.(type) {
		case []interface{}:
			for _, el := range x {
				counts[fmt.Sprintf("%v", el)]++
			}
		default:
			counts[fmt.Sprintf("%v", x)]++
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

type scannedDoc struct {
	id  string
	doc map[string]interface{}
}

// scan collects every live document matching pred
func (r *Repository[T]) scan(ctx context.Context, pred Predicate) ([]scannedDoc, error) {
	if pred == nil {
		pred = True()
	}

	var docs []scannedDoc
	err := r.store.ScanDocs(ctx, r.keys, func(id string, doc map[string]interface{}) (bool, error) {
		if deleted, _ := doc["isDeleted"].(bool); deleted {
			return true, nil
		}
		if pred.Matches(doc) {
			docs = append(docs, scannedDoc{id: id, doc: doc})
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *Repository[T]) decode(doc map[string]interface{}) (T, error) {
	var zero T
	raw, err := json.Marshal(doc)
	if err != nil {
		return zero, fmt.Errorf("%w: marshal %s: %v", ErrRepository, r.desc.Singular, err)
	}
	e := r.newFn()
	if err := json.Unmarshal(raw, e); err != nil {
		return zero, fmt.Errorf("%w: unmarshal %s: %v", ErrRepository, r.desc.Singular, err)
	}
	return e, nil
}

// sortDocs orders docs by the sort keys, breaking every remaining tie by
// id in the direction of the final key.
func sortDocs(docs []scannedDoc, keys []SortKey) {
	idDesc := len(keys) > 0 && keys[len(keys)-1].Descending

	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			vi, iok := lookupPath(docs[i].doc, k.Field)
			vj, jok := lookupPath(docs[j].doc, k.Field)

			// Missing values sort after present ones
			if iok != jok {
				return iok
			}
			if !iok {
				continue
			}

			ord, ok := compareOrdered(vi, vj)
			if !ok || ord == 0 {
				continue
			}
			if k.Descending {
				return ord > 0
			}
			return ord < 0
		}
		if idDesc {
			return docs[i].id > docs[j].id
		}
		return docs[i].id < docs[j].id
	})
}

// jitter spreads a backoff delay by up to +/-pct of its value
func jitter(d time.Duration, pct float64) time.Duration {
	if pct <= 0 {
		return d
	}
	delta := float64(d) * pct
	return time.Duration(float64(d) - delta + rand.Float64()*2*delta)
}
