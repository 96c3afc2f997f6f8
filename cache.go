package ecgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Cache is the read-through cache used by the finder and indexer
// services. Implementations must return ErrCacheMiss for absent keys.
//
// Cache failures never fail a request: callers fall through to the
// store and log the error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// DeleteByPrefix removes every key with the given prefix
	DeleteByPrefix(ctx context.Context, prefix string) error

	// Flush removes every key in this cache's namespace
	Flush(ctx context.Context) error

	Close() error
}

// InvalidationStrategy selects how listing caches are cleared after a write
type InvalidationStrategy string

const (
	// InvalidateScanByPrefix deletes only the written entity's listing
	// keys, leaving other entities' cached pages intact.
	InvalidateScanByPrefix InvalidationStrategy = "scan-by-prefix"

	// InvalidateFlushNamespace clears the whole cache namespace. Coarse
	// but constant-time on Redis regardless of key count.
	InvalidateFlushNamespace InvalidationStrategy = "flush-namespace"
)

// Cache key layout. Every key starts with the namespace so multiple
// deployments can share one Redis:
//
//	<ns>:<entity>:id:<id>                  single entity
//	<ns>:<entity>:list:<hash>:p<page>:l<limit>  one listing page
//	<ns>:<entity>:counts:<field>           aggregate counts
//
// The listing hash covers the canonical predicate and the sort keys, so
// equivalent filters share entries and different sorts do not collide.

func entityCacheKey(ns, entity, id string) string {
	return fmt.Sprintf("%s:%s:id:%s", ns, entity, id)
}

func listCacheKey(ns, entity string, pred Predicate, sortKeys []SortKey, pg Pagination) string {
	return fmt.Sprintf("%s:%s:list:%s:p%d:l%d",
		ns, entity, queryHash(pred, sortKeys), pg.Page, pg.Limit)
}

func listCachePrefix(ns, entity string) string {
	return fmt.Sprintf("%s:%s:list:", ns, entity)
}

func countsCacheKey(ns, entity, field string) string {
	return fmt.Sprintf("%s:%s:counts:%s", ns, entity, field)
}

func queryHash(pred Predicate, sortKeys []SortKey) string {
	h := xxhash.New()
	if pred == nil {
		pred = True()
	}
	h.WriteString(pred.Canonical())
	for _, k := range sortKeys {
		h.WriteString("|")
		h.WriteString(k.Field)
		if k.Descending {
			h.WriteString(":desc")
		} else {
			h.WriteString(":asc")
		}
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
