package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 20, cfg.PostgresMaxConns)
	assert.Equal(t, 2, cfg.PostgresMinConns)
	assert.Equal(t, 10*time.Second, cfg.PostgresTimeout)
	assert.Equal(t, CacheNone, cfg.CacheMode)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Empty(t, cfg.S3Bucket)
}

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()
	valid.PostgresURL = "postgres://localhost/trellis"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults with url", mutate: func(c *Config) {}},
		{name: "missing postgres", mutate: func(c *Config) { c.PostgresURL = "" }, wantErr: "postgres URL is required"},
		{name: "redis without url", mutate: func(c *Config) { c.CacheMode = CacheRedis }, wantErr: "redis URL is required"},
		{name: "redis with url", mutate: func(c *Config) {
			c.CacheMode = CacheRedis
			c.RedisURL = "redis://localhost:6379"
		}},
		{name: "unknown mode", mutate: func(c *Config) { c.CacheMode = "disk" }, wantErr: "unknown cache mode"},
		{name: "zero ttl", mutate: func(c *Config) { c.CacheTTL = 0 }, wantErr: "cache TTL must be positive"},
		{name: "zero ttl without cache", mutate: func(c *Config) {
			c.CacheMode = CacheNone
			c.CacheTTL = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
