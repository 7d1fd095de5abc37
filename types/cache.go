package types

import (
	"crypto/subtle"
	"errors"
	"runtime"
	"time"
)

// Common errors
var (
	ErrCacheMiss = errors.New("key not found in cache")
)

const (
	// DefaultListingTTL bounds how stale a cached bucket listing may be
	DefaultListingTTL = 15 * time.Second
)

// SecureBytes represents a secure byte slice that will be wiped on garbage collection
type SecureBytes struct {
	data []byte
}

// NewSecureBytes creates a new secure byte slice
func NewSecureBytes(data []byte) *SecureBytes {
	secure := &SecureBytes{
		data: make([]byte, len(data)),
	}
	// Copy data using secure copy to prevent optimizations
	subtle.ConstantTimeCopy(1, secure.data, data)

	// Register finalizer to wipe memory when garbage collected
	runtime.SetFinalizer(secure, (*SecureBytes).Clear)
	return secure
}

// Clear securely wipes the memory
func (s *SecureBytes) Clear() {
	if s.data != nil {
		for i := range s.data {
			s.data[i] = 0
		}
		// Prevent compiler optimizations
		runtime.KeepAlive(s.data)
		s.data = nil
	}
}

// Get returns a copy of the data
func (s *SecureBytes) Get() []byte {
	if s.data == nil {
		return nil
	}
	result := make([]byte, len(s.data))
	subtle.ConstantTimeCopy(1, result, s.data)
	return result
}

// Len returns the number of bytes held, 0 once cleared
func (s *SecureBytes) Len() int {
	return len(s.data)
}

// CacheConfig holds configuration for the search listing cache
type CacheConfig struct {
	// Enabled indicates whether listings are cached at all
	Enabled bool `json:"enabled" koanf:"enabled"`

	// TTL is how long a listing may be served from cache.
	// If not set, DefaultListingTTL will be used
	TTL time.Duration `json:"ttl,omitempty" koanf:"ttl"`

	// MaxEntries bounds the in-memory adapter; ignored by Redis
	MaxEntries int `json:"maxEntries,omitempty" koanf:"max_entries"`
}

// GetEffectiveTTL returns the effective TTL for the cache
func (c *CacheConfig) GetEffectiveTTL() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return DefaultListingTTL
}

// CacheStats holds statistics about the cache
type CacheStats struct {
	Size        int       `json:"size"`
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
	LastPurged  time.Time `json:"lastPurged"`
	LastAccess  time.Time `json:"lastAccess"`
	LastUpdated time.Time `json:"lastUpdated"`
}
