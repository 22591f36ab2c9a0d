package dedup

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache dedupes across instances using a TTL-backed key per event id.
// Record uses SETNX so the insert is conditional even when two instances
// commit the same event concurrently.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisCache creates a Redis-backed dedup cache. The TTL should be at
// least twice the freshness window so a key outlives any still-fresh
// redelivery.
func NewRedisCache(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

// Seen reports whether the identifier has been recorded.
func (c *RedisCache) Seen(ctx context.Context, id string) (bool, error) {
	n, err := c.client.Exists(ctx, c.keyPrefix+id).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Record marks the identifier as processed with an insert-if-absent write.
func (c *RedisCache) Record(ctx context.Context, id string) error {
	return c.client.SetNX(ctx, c.keyPrefix+id, time.Now().Unix(), c.ttl).Err()
}
