package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/root-sector-ltd-and-co-kg/evidence-vault/interfaces"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/types"
)

// RedisAdapter stores listings in Redis (or Garnet) under a namespace prefix,
// so several vault processes can share one listing cache
type RedisAdapter struct {
	client    redis.UniversalClient
	keyPrefix string // Namespace prefix for keys
	logger    zerolog.Logger

	mu    sync.Mutex
	stats types.CacheStats
}

var _ interfaces.Storage = (*RedisAdapter)(nil)

// NewRedisAdapter creates an adapter over client with an optional key prefix.
// If keyPrefix is empty, no prefixing is applied.
func NewRedisAdapter(client redis.UniversalClient, keyPrefix string) *RedisAdapter {
	return &RedisAdapter{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    log.With().Str("component", "listing_cache").Str("backend", "redis").Logger(),
	}
}

// prefixedKey returns the key with the prefix prepended.
func (r *RedisAdapter) prefixedKey(key string) string {
	return r.keyPrefix + key
}

func (r *RedisAdapter) record(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.stats.Hits++
	} else {
		r.stats.Misses++
	}
	r.stats.LastAccess = time.Now().UTC()
}

// Get retrieves a listing using the prefixed key
func (r *RedisAdapter) Get(ctx context.Context, key string, value *[]string) error {
	if value == nil {
		return errors.New("cache: value must not be nil")
	}

	raw, err := r.client.Get(ctx, r.prefixedKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		r.record(false)
		return types.ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("cache: redis get %s: %w", key, err)
	}

	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		// A corrupt entry is treated as a miss and dropped
		r.logger.Warn().Err(err).Str("key", key).Msg("Dropping undecodable cached listing")
		_ = r.client.Del(ctx, r.prefixedKey(key)).Err()
		r.record(false)
		return types.ErrCacheMiss
	}

	*value = keys
	r.record(true)
	return nil
}

// Set stores a listing using the prefixed key. Expiry is enforced by Redis.
func (r *RedisAdapter) Set(ctx context.Context, key string, value []string, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode listing: %w", err)
	}
	if err := r.client.Set(ctx, r.prefixedKey(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set %s: %w", key, err)
	}

	r.mu.Lock()
	r.stats.LastUpdated = time.Now().UTC()
	r.mu.Unlock()
	return nil
}

// Delete removes a listing using the prefixed key
func (r *RedisAdapter) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefixedKey(key)).Err(); err != nil {
		return fmt.Errorf("cache: redis del %s: %w", key, err)
	}
	return nil
}

// Clear removes every key under the prefix. SCAN is used instead of KEYS so
// a large keyspace does not block the server.
func (r *RedisAdapter) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("cache: redis clear: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache: redis scan: %w", err)
	}
	if len(batch) > 0 {
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("cache: redis clear: %w", err)
		}
	}

	r.mu.Lock()
	r.stats.LastPurged = time.Now().UTC()
	r.mu.Unlock()
	r.logger.Debug().Str("prefix", r.keyPrefix).Msg("Listing cache cleared")
	return nil
}

// ClearExpiredKeys is a no-op: Redis evicts expired keys itself
func (r *RedisAdapter) ClearExpiredKeys(ctx context.Context) (int, error) {
	return 0, ctx.Err()
}

// GetStats returns the hit/miss counters observed by this process.
// Size is not tracked because the keyspace is shared.
func (r *RedisAdapter) GetStats(ctx context.Context) types.CacheStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
