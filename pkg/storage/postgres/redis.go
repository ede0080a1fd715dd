package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/trellis/pkg/batch"
	"github.com/platinummonkey/trellis/pkg/model"
	"github.com/platinummonkey/trellis/pkg/observability"
	"github.com/platinummonkey/trellis/pkg/storage"
)

// NewRedisClient connects to Redis with the pool settings from config.
func NewRedisClient(ctx context.Context, config storage.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB > 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisCache stores JSON-encoded records under trellis:<entity>:<id>.
type RedisCache[V any] struct {
	client *redis.Client
	entity string
	ttl    time.Duration
}

// NewRedisCache creates a cache for one entity type.
func NewRedisCache[V any](client *redis.Client, entity string, ttl time.Duration) *RedisCache[V] {
	return &RedisCache[V]{client: client, entity: entity, ttl: ttl}
}

func (c *RedisCache[V]) key(id int64) string {
	return "trellis:" + c.entity + ":" + strconv.FormatInt(id, 10)
}

func (c *RedisCache[V]) keys(ids []int64) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}
	return keys
}

// GetMany reads ids with one MGET. Entries that fail to decode are deleted
// and reported as misses.
func (c *RedisCache[V]) GetMany(ctx context.Context, ids []int64) (map[int64]V, error) {
	out := make(map[int64]V, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	values, err := c.client.MGet(ctx, c.keys(ids)...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget failed: %w", err)
	}

	var corrupt []string
	for i, raw := range values {
		data, ok := raw.(string)
		if !ok {
			continue
		}
		var v V
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			corrupt = append(corrupt, c.key(ids[i]))
			continue
		}
		out[ids[i]] = v
	}

	if len(corrupt) > 0 {
		observability.FromContext(ctx).WithFields(map[string]interface{}{
			"entity": c.entity,
			"keys":   len(corrupt),
		}).Warn("Dropping undecodable cache entries")
		c.client.Del(ctx, corrupt...)
	}
	return out, nil
}

// SetMany writes values in one pipeline, each with the cache TTL.
func (c *RedisCache[V]) SetMany(ctx context.Context, values map[int64]V) error {
	if len(values) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for id, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal %s %d: %w", c.entity, id, err)
		}
		pipe.Set(ctx, c.key(id), data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

func (c *RedisCache[V]) Delete(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	return c.client.Del(ctx, c.keys(ids)...).Err()
}

// RedisCaches returns a batch.CacheFactory that gives every entity its own
// key space on client.
func RedisCaches(client *redis.Client, ttl time.Duration) batch.CacheFactory {
	return func(entity string) any {
		switch entity {
		case batch.EntityUser:
			return NewRedisCache[*model.User](client, entity, ttl)
		case batch.EntityIssue:
			return NewRedisCache[*model.Issue](client, entity, ttl)
		case batch.EntityWorkspace:
			return NewRedisCache[*model.Workspace](client, entity, ttl)
		case batch.EntityTeam:
			return NewRedisCache[*model.Team](client, entity, ttl)
		case batch.EntityOrganization:
			return NewRedisCache[*model.Organization](client, entity, ttl)
		case batch.EntitySprint:
			return NewRedisCache[*model.Sprint](client, entity, ttl)
		}
		return nil
	}
}
