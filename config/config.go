// Package config loads evidence vault configuration from an optional YAML
// file overlaid with EVIDENCE_VAULT_* environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"

	"github.com/root-sector-ltd-and-co-kg/evidence-vault/types"
)

// EnvPrefix is the prefix of every environment override
const EnvPrefix = "EVIDENCE_VAULT_"

// Cache backends for the search listing cache
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Defaults for values the YAML file and environment leave empty
const (
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "console"
	DefaultStoreRegion    = "us-east-1"
	DefaultRedisKeyPrefix = "evidence-vault:"
	DefaultAuditDatabase  = "evidence_vault"
)

const maskedValue = "[MASKED]"

// RedisConfig configures the shared listing cache
type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// CacheConfig selects the listing cache backend. TTL and size live in
// Vault.ListingCache.
type CacheConfig struct {
	Backend string      `koanf:"backend"`
	Redis   RedisConfig `koanf:"redis"`
}

// AuditConfig configures the optional MongoDB audit sink
type AuditConfig struct {
	MongoURI   string `koanf:"mongo_uri"`
	Database   string `koanf:"database"`
	Collection string `koanf:"collection"`
}

// Config holds all configuration of an evidence vault process
type Config struct {
	LogLevel  string            `koanf:"log_level"`
	LogFormat string            `koanf:"log_format"`
	Vault     types.VaultConfig `koanf:"vault"`
	Store     types.StoreConfig `koanf:"store"`
	Key       types.KeyConfig   `koanf:"key"`
	Cache     CacheConfig       `koanf:"cache"`
	Audit     AuditConfig       `koanf:"audit"`
}

// Configuration validation errors
var (
	ErrMissingKey          = errors.New("one of key.key_base64 or key.wrapped_key_base64 is required")
	ErrConflictingKey      = errors.New("key.key_base64 and key.wrapped_key_base64 are mutually exclusive")
	ErrUnknownKMSProvider  = errors.New("key.provider must be one of aws, azure, gcp, vault, aead")
	ErrUnknownStoreBackend = errors.New("store.backend must be s3 or memory")
	ErrMissingBucket       = errors.New("store.bucket is required for the s3 backend")
	ErrUnknownCacheBackend = errors.New("cache.backend must be memory or redis")
	ErrMissingRedisAddr    = errors.New("cache.redis.addr is required for the redis backend")
	ErrInvalidLogLevel     = errors.New("log_level is not a valid zerolog level")
	ErrInvalidLogFormat    = errors.New("log_format must be console or json")
	ErrNegativeSetting     = errors.New("timeouts, retries and limits must not be negative")
)

// envBindings maps environment variables to koanf keys
var envBindings = map[string]string{
	"LOG_LEVEL":                "log_level",
	"LOG_FORMAT":               "log_format",
	"KEY_PREFIX":               "vault.key_prefix",
	"OPERATION_TIMEOUT":        "vault.operation_timeout",
	"MAX_CUSTODY_RETRIES":      "vault.max_custody_retries",
	"SEARCH_CONCURRENCY":       "vault.search_concurrency",
	"SEARCH_CACHE_ENABLED":     "vault.listing_cache.enabled",
	"SEARCH_CACHE_TTL":         "vault.listing_cache.ttl",
	"SEARCH_CACHE_MAX_ENTRIES": "vault.listing_cache.max_entries",
	"STORE_BACKEND":            "store.backend",
	"STORE_BUCKET":             "store.bucket",
	"STORE_REGION":             "store.region",
	"STORE_ENDPOINT":           "store.endpoint",
	"STORE_ACCESS_KEY_ID":      "store.access_key_id",
	"STORE_SECRET_ACCESS_KEY":  "store.secret_access_key",
	"STORE_MAX_METADATA_BYTES": "store.max_metadata_bytes",
	"KEY":                      "key.key_base64",
	"WRAPPED_KEY":              "key.wrapped_key_base64",
	"KMS_PROVIDER":             "key.provider",
	"KMS_KEY_ID":               "key.key_id",
	"KMS_REGION":               "key.region",
	"KMS_VAULT_ADDRESS":        "key.vault_address",
	"KMS_VAULT_MOUNT":          "key.vault_mount",
	"KMS_AEAD_KEY":             "key.aead_key_base64",
	"KMS_ACCESS_KEY_ID":        "key.credentials.access_key_id",
	"KMS_SECRET_ACCESS_KEY":    "key.credentials.secret_access_key",
	"KMS_SESSION_TOKEN":        "key.credentials.session_token",
	"KMS_TENANT_ID":            "key.credentials.tenant_id",
	"KMS_CLIENT_ID":            "key.credentials.client_id",
	"KMS_CLIENT_SECRET":        "key.credentials.client_secret",
	"KMS_CREDENTIALS_JSON":     "key.credentials.credentials_json",
	"KMS_TOKEN":                "key.credentials.token",
	"CACHE_BACKEND":            "cache.backend",
	"REDIS_ADDR":               "cache.redis.addr",
	"REDIS_PASSWORD":           "cache.redis.password",
	"REDIS_DB":                 "cache.redis.db",
	"REDIS_KEY_PREFIX":         "cache.redis.key_prefix",
	"AUDIT_MONGO_URI":          "audit.mongo_uri",
	"AUDIT_MONGO_DATABASE":     "audit.database",
	"AUDIT_MONGO_COLLECTION":   "audit.collection",
}

// Load reads configuration from an optional YAML file and the environment.
// Environment variables take precedence over file values. It returns the
// loaded config and every validation error at once (empty if valid). A file
// that cannot be read yields a nil config.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	var loadErrs []error
	for env, key := range envBindings {
		if val, ok := os.LookupEnv(EnvPrefix + env); ok && val != "" {
			if err := k.Set(key, val); err != nil {
				loadErrs = append(loadErrs, fmt.Errorf("%s%s: %w", EnvPrefix, env, err))
			}
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, append(loadErrs, fmt.Errorf("failed to decode configuration: %w", err))
	}
	cfg.applyDefaults()

	return cfg, append(loadErrs, cfg.Validate()...)
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.Store.Backend == "" {
		c.Store.Backend = types.StoreBackendS3
	}
	if c.Store.Region == "" {
		c.Store.Region = DefaultStoreRegion
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheBackendMemory
	}
	if c.Cache.Redis.KeyPrefix == "" {
		c.Cache.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if c.Audit.MongoURI != "" && c.Audit.Database == "" {
		c.Audit.Database = DefaultAuditDatabase
	}
}

// Validate checks the configuration and returns every problem found
func (c *Config) Validate() []error {
	var errs []error

	raw := strings.TrimSpace(c.Key.KeyBase64) != ""
	wrapped := strings.TrimSpace(c.Key.WrappedKeyBase64) != ""
	switch {
	case raw && wrapped:
		errs = append(errs, ErrConflictingKey)
	case !raw && !wrapped:
		errs = append(errs, ErrMissingKey)
	case wrapped:
		switch c.Key.Provider {
		case types.ProviderAWS, types.ProviderAzure, types.ProviderGCP, types.ProviderVault, types.ProviderAead:
		default:
			errs = append(errs, ErrUnknownKMSProvider)
		}
	}

	switch c.Store.Backend {
	case types.StoreBackendS3:
		if c.Store.Bucket == "" {
			errs = append(errs, ErrMissingBucket)
		}
	case types.StoreBackendMemory:
	default:
		errs = append(errs, ErrUnknownStoreBackend)
	}

	switch c.Cache.Backend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, ErrMissingRedisAddr)
		}
	default:
		errs = append(errs, ErrUnknownCacheBackend)
	}

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil || c.LogLevel == "" {
		errs = append(errs, ErrInvalidLogLevel)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		errs = append(errs, ErrInvalidLogFormat)
	}

	v := c.Vault
	if v.OperationTimeout < 0 || v.MaxCustodyRetries < 0 || v.SearchConcurrency < 0 ||
		v.ListingCache.TTL < 0 || v.ListingCache.MaxEntries < 0 || c.Store.MaxMetadataBytes < 0 {
		errs = append(errs, ErrNegativeSetting)
	}

	return errs
}

// Redacted returns a copy safe to log: every key, credential and password is masked
func (c *Config) Redacted() Config {
	out := *c
	out.Key.KeyBase64 = mask(c.Key.KeyBase64)
	out.Key.WrappedKeyBase64 = mask(c.Key.WrappedKeyBase64)
	out.Key.AeadKeyBase64 = mask(c.Key.AeadKeyBase64)
	if c.Key.Credentials != nil {
		creds := *c.Key.Credentials
		for _, field := range []*string{
			&creds.AccessKeyID, &creds.SecretAccessKey, &creds.SessionToken,
			&creds.ClientSecret, &creds.CredentialsJSON, &creds.Token,
		} {
			*field = mask(*field)
		}
		out.Key.Credentials = &creds
	}
	out.Store.AccessKeyID = mask(c.Store.AccessKeyID)
	out.Store.SecretAccessKey = mask(c.Store.SecretAccessKey)
	out.Cache.Redis.Password = mask(c.Cache.Redis.Password)
	out.Audit.MongoURI = maskURL(c.Audit.MongoURI)
	return out
}

// LogSummary returns the non-secret settings as flat fields for startup logging
func (c *Config) LogSummary() map[string]string {
	keySource := "raw"
	if c.Key.WrappedKeyBase64 != "" {
		keySource = "wrapped:" + string(c.Key.Provider)
	}
	return map[string]string{
		"log_level":           c.LogLevel,
		"key_source":          keySource,
		"key_prefix":          c.Vault.KeyPrefix,
		"operation_timeout":   c.Vault.OperationTimeout.String(),
		"max_custody_retries": fmt.Sprintf("%d", c.Vault.MaxCustodyRetries),
		"store_backend":       string(c.Store.Backend),
		"store_bucket":        c.Store.Bucket,
		"store_endpoint":      c.Store.Endpoint,
		"cache_backend":       c.Cache.Backend,
		"search_cache":        fmt.Sprintf("%t", c.Vault.ListingCache.Enabled),
		"audit_mongo":         maskURL(c.Audit.MongoURI),
	}
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return maskedValue
}

// maskURL hides the password of a user:password@host URL
func maskURL(s string) string {
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return s
	}
	rest := s[schemeEnd+3:]
	at := strings.Index(rest, "@")
	if at == -1 {
		return s
	}
	colon := strings.Index(rest[:at], ":")
	if colon == -1 {
		return s
	}
	return s[:schemeEnd+3] + rest[:colon] + ":" + maskedValue + rest[at:]
}
