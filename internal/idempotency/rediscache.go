// Copyright 2025 James Ross
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a read-through cache in front of Store, avoiding a Postgres
// round trip on the common re-submit path. It is never the system of
// record: a cache miss always falls back to Store.Lookup, and a cache write
// is best-effort (errors are logged by the caller, never surfaced).
// Grounded on internal/exactly_once/idempotency.go's key-namespacing idiom.
type RedisCache struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

func NewRedisCache(client *redis.Client, namespace string, ttl time.Duration) *RedisCache {
	if namespace == "" {
		namespace = "idempotency"
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{client: client, namespace: namespace, ttl: ttl}
}

func (c *RedisCache) key(idempotencyKey, restaurantID string) string {
	return fmt.Sprintf("%s:key:%s:%s", c.namespace, restaurantID, idempotencyKey)
}

// Get returns the cached auth_request_id, if present.
func (c *RedisCache) Get(ctx context.Context, idempotencyKey, restaurantID string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.key(idempotencyKey, restaurantID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis idempotency get: %w", err)
	}
	return val, true, nil
}

// Set caches the mapping with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, idempotencyKey, restaurantID, authRequestID string) error {
	if err := c.client.SetEx(ctx, c.key(idempotencyKey, restaurantID), authRequestID, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis idempotency set: %w", err)
	}
	return nil
}
