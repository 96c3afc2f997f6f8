package ecgstore

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Invalidator coordinates cache invalidation after writes. Entity keys
// and listing keys are cleared concurrently; a failure on one branch
// never stops the other, and failures are logged rather than returned
// because a stale cache entry only lives until its TTL anyway.
type Invalidator struct {
	cache     Cache
	namespace string
	strategy  InvalidationStrategy
	logger    Logger
	metrics   Metrics
}

// NewInvalidator creates an invalidation coordinator. A nil cache yields
// a no-op coordinator.
func NewInvalidator(cache Cache, namespace string, strategy InvalidationStrategy, logger Logger, metrics Metrics) *Invalidator {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	if strategy == "" {
		strategy = InvalidateScanByPrefix
	}
	return &Invalidator{
		cache:     cache,
		namespace: namespace,
		strategy:  strategy,
		logger:    logger,
		metrics:   metrics,
	}
}

// OnWrite invalidates caches after a mutation of one entity: the entity
// key, the entity's listing pages and its aggregate counts.
func (iv *Invalidator) OnWrite(ctx context.Context, entity, id string) {
	if iv.cache == nil {
		return
	}

	var g errgroup.Group

	g.Go(func() error {
		if err := iv.cache.Delete(ctx, entityCacheKey(iv.namespace, entity, id)); err != nil {
			iv.logger.Warn("entity cache invalidation failed",
				"entity", entity, "id", id, "error", err)
			iv.metrics.Increment(MetricCacheInvalidateError, "entity", entity)
		}
		return nil
	})

	g.Go(func() error {
		iv.invalidateListings(ctx, entity)
		return nil
	})

	_ = g.Wait()
	iv.metrics.Increment(MetricCacheInvalidations, "entity", entity)
}

// OnListingChange invalidates only the listing and aggregate caches.
// Batch updates use it after clearing their entity keys individually.
func (iv *Invalidator) OnListingChange(ctx context.Context, entity string) {
	if iv.cache == nil {
		return
	}
	iv.invalidateListings(ctx, entity)
	iv.metrics.Increment(MetricCacheInvalidations, "entity", entity)
}

func (iv *Invalidator) invalidateListings(ctx context.Context, entity string) {
	var err error
	switch iv.strategy {
	case InvalidateFlushNamespace:
		err = iv.cache.Flush(ctx)
	default:
		var g errgroup.Group
		g.Go(func() error {
			return iv.cache.DeleteByPrefix(ctx, listCachePrefix(iv.namespace, entity))
		})
		g.Go(func() error {
			return iv.cache.DeleteByPrefix(ctx, countsCacheKey(iv.namespace, entity, ""))
		})
		err = g.Wait()
	}

	if err != nil {
		iv.logger.Warn("listing cache invalidation failed",
			"entity", entity, "strategy", string(iv.strategy), "error", err)
		iv.metrics.Increment(MetricCacheInvalidateError, "entity", entity)
	}
}
