package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores settled hash statuses in Redis.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache creates a cache whose entries expire after ttl.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func cacheKey(hash string) string {
	return "booking:payhash:" + hash
}

// Get returns the cached status of hash. Redis errors read as a miss.
func (c *RedisCache) Get(ctx context.Context, hash string) (Status, bool) {
	v, err := c.rdb.Get(ctx, cacheKey(hash)).Result()
	if err != nil {
		return "", false
	}
	return Status(v), true
}

// Set caches status for hash.
func (c *RedisCache) Set(ctx context.Context, hash string, status Status) error {
	if hash == "" {
		return errors.New("empty hash")
	}
	return c.rdb.Set(ctx, cacheKey(hash), string(status), c.ttl).Err()
}
