package ecgstore

import (
	"os"
	"strconv"
	"time"
)

// Configuration constants
const (
	// Optimistic update retry configuration
	DefaultMaxRetries      = 3
	DefaultInitialBackoff  = 100 * time.Millisecond
	DefaultBackoffMultiple = 2
	DefaultJitterPercent   = 0.5 // 50% jitter to avoid thundering herd

	// Pagination defaults
	DefaultPage  = 1
	DefaultLimit = 10

	// Backend listing batch size
	DefaultListPaginatedSize = 100

	// File backend permissions
	DefaultFilePermissions = 0644
	DefaultDirPermissions  = 0755

	// In-memory cache defaults
	DefaultMemoryCacheSize = 1000
)

// RetryConfig holds configuration for retry operations with exponential backoff
type RetryConfig struct {
	MaxRetries      int
	InitialBackoff  time.Duration
	BackoffMultiple int
	JitterPercent   float64
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      DefaultMaxRetries,
		InitialBackoff:  DefaultInitialBackoff,
		BackoffMultiple: DefaultBackoffMultiple,
		JitterPercent:   DefaultJitterPercent,
	}
}

// Validate checks if the RetryConfig is valid
func (c RetryConfig) Validate() error {
	if c.MaxRetries < 1 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "MaxRetries",
			"value":  c.MaxRetries,
			"reason": "must be positive",
		})
	}
	if c.InitialBackoff <= 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "InitialBackoff",
			"value":  c.InitialBackoff,
			"reason": "must be positive",
		})
	}
	if c.BackoffMultiple < 1 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "BackoffMultiple",
			"value":  c.BackoffMultiple,
			"reason": "must be >= 1",
		})
	}
	if c.JitterPercent < 0 || c.JitterPercent > 1 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "JitterPercent",
			"value":  c.JitterPercent,
			"reason": "must be between 0 and 1",
		})
	}
	return nil
}

// Config holds service-level configuration
type Config struct {
	Backend BackendConfig

	// Cache selects the cache implementation: "redis", "memory" or "none"
	Cache           string
	CacheNamespace  string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	MemoryCacheSize int

	// Invalidation selects the listing invalidation strategy
	Invalidation InvalidationStrategy

	ListenAddr string
}

// DefaultConfig returns a development configuration: filesystem backend,
// in-process cache, precise invalidation.
func DefaultConfig() Config {
	return Config{
		Backend: BackendConfig{
			Type:   "filesystem",
			Bucket: "./data",
		},
		Cache:           "memory",
		CacheNamespace:  "ecg",
		MemoryCacheSize: DefaultMemoryCacheSize,
		Invalidation:    InvalidateScanByPrefix,
		ListenAddr:      ":8080",
	}
}

// ConfigFromEnv loads configuration from ECGSTORE_* environment variables,
// falling back to DefaultConfig values for anything unset.
func ConfigFromEnv() Config {
	c := DefaultConfig()

	if v := os.Getenv("ECGSTORE_BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := os.Getenv("ECGSTORE_DATA_DIR"); v != "" {
		c.Backend.Bucket = v
	}
	if v := os.Getenv("ECGSTORE_S3_BUCKET"); v != "" {
		c.Backend.Bucket = v
	}
	if v := os.Getenv("ECGSTORE_S3_REGION"); v != "" {
		c.Backend.Region = v
	}
	if v := os.Getenv("ECGSTORE_S3_ENDPOINT"); v != "" {
		c.Backend.Endpoint = v
	}
	if v := os.Getenv("ECGSTORE_CACHE"); v != "" {
		c.Cache = v
	}
	if v := os.Getenv("ECGSTORE_CACHE_NAMESPACE"); v != "" {
		c.CacheNamespace = v
	}
	if v := os.Getenv("ECGSTORE_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("ECGSTORE_REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("ECGSTORE_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.RedisDB = db
		}
	}
	if v := os.Getenv("ECGSTORE_INVALIDATION"); v != "" {
		c.Invalidation = InvalidationStrategy(v)
	}
	if v := os.Getenv("ECGSTORE_LISTEN"); v != "" {
		c.ListenAddr = v
	}

	return c
}

// Validate checks if the Config is valid
func (c Config) Validate() error {
	if err := c.Backend.Validate(); err != nil {
		return err
	}

	switch c.Cache {
	case "redis":
		if c.RedisAddr == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "RedisAddr",
				"reason": "redis cache requires an address",
			})
		}
	case "memory", "none":
	default:
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Cache",
			"value":  c.Cache,
			"reason": "unknown cache type",
		})
	}

	switch c.Invalidation {
	case InvalidateScanByPrefix, InvalidateFlushNamespace:
	default:
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Invalidation",
			"value":  string(c.Invalidation),
			"reason": "unknown invalidation strategy",
		})
	}

	return nil
}
