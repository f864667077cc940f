package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReportCache caches computed period reports in Redis. Reports for closed
// periods are deterministic, so a short TTL only exists to pick up late
// price backfills; the live bar is never cached.
type ReportCache struct {
	cache *RedisCache
	ttl   time.Duration
}

// NewReportCache creates a report cache with the given TTL
func NewReportCache(cache *RedisCache, ttl time.Duration) *ReportCache {
	return &ReportCache{cache: cache, ttl: ttl}
}

// Key builds a cache key from the report dimensions. Live inputs are not
// part of the key because live bars bypass the cache entirely.
func (c *ReportCache) Key(kind, address, from, to, tz string) string {
	return fmt.Sprintf("report:%s:%s:%s:%s:%s", kind, address, from, to, tz)
}

// Get unmarshals a cached report into dest. ok is false on a miss.
func (c *ReportCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := c.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read report cache: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		// Corrupt entry: drop it and treat as a miss
		_ = c.cache.Del(ctx, key)
		return false, nil
	}
	return true, nil
}

// Set stores a report under the key with the configured TTL
func (c *ReportCache) Set(ctx context.Context, key string, report interface{}) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report for cache: %w", err)
	}
	if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
		return fmt.Errorf("failed to write report cache: %w", err)
	}
	return nil
}

// Invalidate removes cached reports for an address
func (c *ReportCache) Invalidate(ctx context.Context, address string) error {
	keys, err := c.cache.Client().Keys(ctx, fmt.Sprintf("report:*:%s:*", address)).Result()
	if err != nil {
		return fmt.Errorf("failed to scan report cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.cache.Del(ctx, keys...)
}
