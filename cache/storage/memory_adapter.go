package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/root-sector-ltd-and-co-kg/evidence-vault/interfaces"
	"github.com/root-sector-ltd-and-co-kg/evidence-vault/types"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultMaxEntries bounds the in-memory adapter when no limit is configured
const DefaultMaxEntries = 1000

type listingEntry struct {
	keys       []string
	expiresAt  time.Time // zero means no expiry
	lastAccess time.Time
}

func (e *listingEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryAdapter implements the Storage interface with in-memory storage.
// Each vault owns its adapter; there is no process-wide instance.
type MemoryAdapter struct {
	mu      sync.Mutex
	data    map[string]*listingEntry
	stats   types.CacheStats
	logger  zerolog.Logger
	maxSize int
	now     func() time.Time
	evictCh chan struct{}
	done    chan struct{}
	once    sync.Once
}

var _ interfaces.Storage = (*MemoryAdapter)(nil)

// NewMemoryAdapter creates a new in-memory storage adapter holding at most
// maxEntries listings. A background routine purges expired entries until
// Shutdown is called.
func NewMemoryAdapter(maxEntries int) *MemoryAdapter {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	now := time.Now().UTC()
	adapter := &MemoryAdapter{
		data:    make(map[string]*listingEntry),
		maxSize: maxEntries,
		now:     func() time.Time { return time.Now().UTC() },
		evictCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
		stats: types.CacheStats{
			LastAccess:  now,
			LastUpdated: now,
			LastPurged:  now,
		},
		logger: log.With().Str("component", "listing_cache").Str("backend", "memory").Logger(),
	}

	go adapter.startEvictionRoutine()

	adapter.logger.Debug().
		Int("max_size", adapter.maxSize).
		Msg("Memory listing cache initialized")
	return adapter
}

// startEvictionRoutine starts a background routine for cache eviction
func (a *MemoryAdapter) startEvictionRoutine() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = a.ClearExpiredKeys(context.Background())
		case <-a.evictCh:
			a.evictLRU()
		case <-a.done:
			return
		}
	}
}

// evictLRU removes least recently used entries when the cache is over its limit
func (a *MemoryAdapter) evictLRU() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.data) <= a.maxSize {
		return
	}

	// Evict the overflow plus 20% headroom
	toEvict := (len(a.data) - a.maxSize) + (a.maxSize / 5)

	type candidate struct {
		key      string
		lastUsed time.Time
	}
	candidates := make([]candidate, 0, len(a.data))
	for k, e := range a.data {
		candidates = append(candidates, candidate{k, e.lastAccess})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastUsed.Before(candidates[j].lastUsed)
	})

	evicted := 0
	for _, c := range candidates {
		if evicted >= toEvict {
			break
		}
		delete(a.data, c.key)
		evicted++
	}
	a.stats.Size = len(a.data)
	a.stats.LastUpdated = a.now()

	a.logger.Debug().
		Int("evicted_count", evicted).
		Int("current_size", len(a.data)).
		Msg("LRU eviction completed")
}

// Get copies the cached listing under key into value
func (a *MemoryAdapter) Get(ctx context.Context, key string, value *[]string) error {
	if a == nil {
		return errors.New("cache: adapter is nil")
	}
	if value == nil {
		return errors.New("cache: value must not be nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	a.stats.LastAccess = now

	entry, exists := a.data[key]
	if !exists {
		a.stats.Misses++
		a.logger.Trace().Str("key", key).Msg("Listing not cached")
		return types.ErrCacheMiss
	}
	if entry.expired(now) {
		delete(a.data, key)
		a.stats.Size = len(a.data)
		a.stats.Misses++
		a.logger.Trace().
			Str("key", key).
			Time("expired_at", entry.expiresAt).
			Msg("Cached listing expired")
		return types.ErrCacheMiss
	}

	entry.lastAccess = now
	*value = append((*value)[:0], entry.keys...)
	a.stats.Hits++
	return nil
}

// Set stores a copy of value under key
func (a *MemoryAdapter) Set(ctx context.Context, key string, value []string, ttl time.Duration) error {
	if a == nil {
		return errors.New("cache: adapter is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	entry := &listingEntry{
		keys:       append([]string(nil), value...),
		lastAccess: now,
	}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	a.data[key] = entry

	if len(a.data) > a.maxSize {
		select {
		case a.evictCh <- struct{}{}:
		default:
		}
	}

	a.stats.Size = len(a.data)
	a.stats.LastUpdated = now
	a.logger.Trace().
		Str("key", key).
		Int("keys", len(value)).
		Dur("ttl", ttl).
		Msg("Listing cached")
	return nil
}

// Delete removes a cached listing
func (a *MemoryAdapter) Delete(ctx context.Context, key string) error {
	if a == nil {
		return errors.New("cache: adapter is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.data[key]; exists {
		delete(a.data, key)
		a.stats.Size = len(a.data)
		a.stats.LastUpdated = a.now()
		a.logger.Debug().Str("key", key).Msg("Cached listing deleted")
	}
	return nil
}

// Clear removes all cached listings
func (a *MemoryAdapter) Clear(ctx context.Context) error {
	if a == nil {
		return errors.New("cache: adapter is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.data = make(map[string]*listingEntry)
	a.stats.Size = 0
	a.stats.LastUpdated = a.now()
	a.logger.Debug().Msg("Listing cache cleared")
	return nil
}

// ClearExpiredKeys removes only expired keys and returns the count of removed entries
func (a *MemoryAdapter) ClearExpiredKeys(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	removed := 0
	for key, entry := range a.data {
		if entry.expired(now) {
			delete(a.data, key)
			removed++
		}
	}
	a.stats.Size = len(a.data)
	a.stats.LastPurged = now

	if removed > 0 {
		a.logger.Debug().
			Int("expired_count", removed).
			Msg("Expired listings cleaned up")
	}
	return removed, nil
}

// GetStats returns storage statistics
func (a *MemoryAdapter) GetStats(ctx context.Context) types.CacheStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Shutdown stops the eviction routine and drops all entries. Safe to call twice.
func (a *MemoryAdapter) Shutdown() error {
	a.once.Do(func() { close(a.done) })
	return a.Clear(context.Background())
}
