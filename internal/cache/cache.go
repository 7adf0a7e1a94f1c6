// Package cache is a namespaced string cache over Redis, used for resolved
// object URLs and share-hash lookups.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	Redis     redis.UniversalClient
	Namespace string
}

func NewCache(namespace string, redisCl redis.UniversalClient) *Cache {
	return &Cache{
		Namespace: namespace,
		Redis:     redisCl,
	}
}

// Get returns the cached value for key; redis.Nil when absent.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	return c.Redis.Get(ctx, c.Namespace+":"+key).Result()
}

// Store writes value under key with a TTL in seconds.
func (c *Cache) Store(ctx context.Context, key string, ttlSeconds int, value string) error {
	return c.Redis.Set(ctx, c.Namespace+":"+key, value, time.Duration(ttlSeconds)*time.Second).Err()
}

// Remove drops a single key.
func (c *Cache) Remove(ctx context.Context, key string) error {
	return c.Redis.Del(ctx, c.Namespace+":"+key).Err()
}

// Flush drops every key in the namespace.
func (c *Cache) Flush(ctx context.Context) error {
	keys := c.Redis.Keys(ctx, c.Namespace+":*")
	// pipeline so the delete is one round trip
	pl := c.Redis.Pipeline()
	for _, key := range keys.Val() {
		pl.Del(ctx, key)
	}
	_, err := pl.Exec(ctx)
	return err
}
