package ecgstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryCache implements Cache in-process on an expirable LRU. Meant for
// single-instance deployments and tests; a multi-instance deployment
// needs RedisCache so invalidations reach every node.
//
// The LRU's built-in TTL acts as a ceiling; each entry also carries its
// own deadline so shorter per-call TTLs are honored.
type MemoryCache struct {
	mu        sync.Mutex
	lru       *expirable.LRU[string, memoryEntry]
	namespace string
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates an in-process cache holding at most size entries.
// maxTTL bounds every entry's lifetime regardless of the TTL passed to Set.
func NewMemoryCache(size int, maxTTL time.Duration, namespace string) *MemoryCache {
	if size < 1 {
		size = DefaultMemoryCacheSize
	}
	return &MemoryCache{
		lru:       expirable.NewLRU[string, memoryEntry](size, nil, maxTTL),
		namespace: namespace,
	}
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.lru.Remove(key)
		return nil, ErrCacheMiss
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	entry := memoryEntry{value: stored}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, entry)
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
	return nil
}

func (c *MemoryCache) DeleteByPrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
	return nil
}

func (c *MemoryCache) Flush(ctx context.Context) error {
	return c.DeleteByPrefix(ctx, c.namespace+":")
}

func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	return nil
}
