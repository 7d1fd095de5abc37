package types

import "time"

// Defaults for VaultConfig
const (
	DefaultOperationTimeout  = 30 * time.Second
	DefaultMaxCustodyRetries = 3
	DefaultSearchConcurrency = 16
	DefaultMaxMetadataBytes  = 2048
)

// VaultConfig holds the tunables of the vault facade and its search index
type VaultConfig struct {
	// KeyPrefix is prepended to every storage key, e.g. "evidence/"
	KeyPrefix string `json:"keyPrefix" koanf:"key_prefix"`

	// OperationTimeout bounds every individual object store call
	OperationTimeout time.Duration `json:"operationTimeout" koanf:"operation_timeout"`

	// MaxCustodyRetries bounds optimistic-concurrency retries of custody appends
	MaxCustodyRetries int `json:"maxCustodyRetries" koanf:"max_custody_retries"`

	// SearchConcurrency bounds parallel metadata heads during a scan
	SearchConcurrency int `json:"searchConcurrency" koanf:"search_concurrency"`

	// ListingCache configures the bounded-time listing cache
	ListingCache CacheConfig `json:"listingCache" koanf:"listing_cache"`
}

// WithDefaults returns a copy of c with zero values replaced by defaults
func (c VaultConfig) WithDefaults() VaultConfig {
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = DefaultOperationTimeout
	}
	if c.MaxCustodyRetries <= 0 {
		c.MaxCustodyRetries = DefaultMaxCustodyRetries
	}
	if c.SearchConcurrency <= 0 {
		c.SearchConcurrency = DefaultSearchConcurrency
	}
	return c
}
