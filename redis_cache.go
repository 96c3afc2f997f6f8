package ecgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache on Redis. The namespace prefixes every key
// and bounds Flush, so unrelated data in the same Redis is never touched.
type RedisCache struct {
	client    *redis.Client
	namespace string
}

// NewRedisCache creates a Redis-backed cache
func NewRedisCache(client *redis.Client, namespace string) *RedisCache {
	return &RedisCache{client: client, namespace: namespace}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("%w: get %s: %v", ErrCache, key, err)
	}
	return data, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrCache, key, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %v", ErrCache, key, err)
	}
	return nil
}

// DeleteByPrefix removes matching keys via SCAN, never KEYS, so large
// caches do not block Redis.
func (c *RedisCache) DeleteByPrefix(ctx context.Context, prefix string) error {
	return c.deleteByPattern(ctx, prefix+"*")
}

func (c *RedisCache) Flush(ctx context.Context) error {
	return c.deleteByPattern(ctx, c.namespace+":*")
}

func (c *RedisCache) deleteByPattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()

	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("%w: del batch: %v", ErrCache, err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: scan %s: %v", ErrCache, pattern, err)
	}

	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("%w: del batch: %v", ErrCache, err)
		}
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
