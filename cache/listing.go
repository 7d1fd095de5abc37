// Package cache provides the bounded-time listing cache used by search.
package cache

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/root-sector-ltd-and-co-kg/evidence-vault/interfaces"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/types"
)

// ListingCache remembers object store listings per prefix for at most the
// configured TTL. It bridges the generic Storage backends to the narrow
// get/put/invalidate calls search needs. A disabled cache always misses.
type ListingCache struct {
	storage interfaces.Storage
	config  types.CacheConfig
	enabled atomic.Bool
	breaker *breaker
	logger  zerolog.Logger
}

// NewListingCache wraps storage. A nil storage yields a permanently disabled cache.
func NewListingCache(storage interfaces.Storage, config types.CacheConfig) *ListingCache {
	logger := log.With().Str("component", "listing_cache").Logger()
	c := &ListingCache{
		storage: storage,
		config:  config,
		breaker: newBreaker(logger),
		logger:  logger,
	}
	c.enabled.Store(config.Enabled && storage != nil)
	return c
}

// Enable turns caching on if a backend is present
func (c *ListingCache) Enable() {
	c.enabled.Store(c.storage != nil)
}

// Disable turns caching off; subsequent lookups miss
func (c *ListingCache) Disable() {
	c.enabled.Store(false)
}

// IsEnabled reports whether lookups may hit
func (c *ListingCache) IsEnabled() bool {
	return c.enabled.Load()
}

// BreakerOpen reports whether backend failures have tripped the circuit breaker
func (c *ListingCache) BreakerOpen() bool {
	return c.breaker.isOpen()
}

// Get returns the cached listing for prefix
func (c *ListingCache) Get(ctx context.Context, prefix string) ([]string, bool) {
	if !c.IsEnabled() || !c.breaker.allow() {
		return nil, false
	}
	var keys []string
	if err := c.storage.Get(ctx, listingKey(prefix), &keys); err != nil {
		if errors.Is(err, types.ErrCacheMiss) {
			c.breaker.success()
		} else {
			c.breaker.failure()
			c.logger.Warn().Err(err).Str("prefix", prefix).Msg("Listing cache lookup failed")
		}
		return nil, false
	}
	c.breaker.success()
	return keys, true
}

// Put caches keys as the listing for prefix. Failures are logged, never returned.
func (c *ListingCache) Put(ctx context.Context, prefix string, keys []string) {
	if !c.IsEnabled() || !c.breaker.allow() {
		return
	}
	if err := c.storage.Set(ctx, listingKey(prefix), keys, c.config.GetEffectiveTTL()); err != nil {
		c.breaker.failure()
		c.logger.Warn().Err(err).Str("prefix", prefix).Msg("Failed to cache listing")
		return
	}
	c.breaker.success()
}

// Invalidate drops the cached listing for prefix. It is attempted even while
// the breaker is open so a recovered backend never serves a pre-write listing.
func (c *ListingCache) Invalidate(ctx context.Context, prefix string) {
	if c.storage == nil {
		return
	}
	if err := c.storage.Delete(ctx, listingKey(prefix)); err != nil {
		c.breaker.failure()
		c.logger.Warn().Err(err).Str("prefix", prefix).Msg("Failed to invalidate cached listing")
	}
}

// GetStats returns backend statistics
func (c *ListingCache) GetStats(ctx context.Context) types.CacheStats {
	if c.storage == nil {
		return types.CacheStats{}
	}
	return c.storage.GetStats(ctx)
}

func listingKey(prefix string) string {
	return "listing:" + prefix
}
