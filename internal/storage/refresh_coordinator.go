package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RefreshCoordinator serializes the daily rates refresh across replicas
// with a Redis lock. Acquisition is non-blocking: a replica that loses the
// race skips the refresh instead of waiting. The TTL bounds the damage of a
// crashed holder; the owner token prevents one replica releasing a lock a
// later replica acquired after expiry.
type RefreshCoordinator struct {
	cache *RedisCache
	key   string
	ttl   time.Duration
	owner string
}

// NewRefreshCoordinator creates a coordinator with the given lock TTL
func NewRefreshCoordinator(cache *RedisCache, ttl time.Duration) *RefreshCoordinator {
	return &RefreshCoordinator{
		cache: cache,
		key:   "rates:refresh:lock",
		ttl:   ttl,
		owner: uuid.New().String(),
	}
}

// TryAcquire attempts to take the refresh lock. Returns false without
// error when another replica holds it.
func (c *RefreshCoordinator) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := c.cache.Client().SetNX(ctx, c.key, c.owner, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire refresh lock: %w", err)
	}
	return ok, nil
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// Release frees the lock if this coordinator still owns it. Releasing an
// expired or stolen lock is a no-op.
func (c *RefreshCoordinator) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, c.cache.Client(), []string{c.key}, c.owner).Err(); err != nil {
		return fmt.Errorf("failed to release refresh lock: %w", err)
	}
	return nil
}
