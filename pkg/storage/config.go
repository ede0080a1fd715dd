package storage

import (
	"fmt"
	"time"
)

// CacheMode selects the read-through cache in front of batch loads.
type CacheMode string

const (
	CacheNone   CacheMode = "none"
	CacheMemory CacheMode = "memory"
	CacheRedis  CacheMode = "redis"
)

// Config for the storage backends.
type Config struct {
	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Batch cache config
	CacheMode CacheMode
	CacheTTL  time.Duration
	CacheSize int // entries per entity, memory mode only

	// S3 archive for purged rows. Empty bucket disables archiving.
	S3Endpoint       string
	S3Region         string
	S3Bucket         string
	S3Prefix         string
	S3AccessKey      string
	S3SecretKey      string
	S3ForcePathStyle bool
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheMode:        CacheNone,
		CacheTTL:         30 * time.Second,
		CacheSize:        4096,
		S3Region:         "us-east-1",
		S3Prefix:         "purged",
	}
}

// Validate checks that the selected backends have what they need.
func (c Config) Validate() error {
	if c.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	switch c.CacheMode {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis URL is required when cache mode is %q", CacheRedis)
		}
	default:
		return fmt.Errorf("unknown cache mode %q", c.CacheMode)
	}
	if c.CacheMode != CacheNone && c.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	return nil
}
