package batch

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a read-through store consulted before the source. Errors are
// treated as misses by the Loader.
type Cache[K comparable, V any] interface {
	GetMany(ctx context.Context, ids []K) (map[K]V, error)
	SetMany(ctx context.Context, values map[K]V) error
	Delete(ctx context.Context, ids ...K) error
}

// MemoryCache is an in-process LRU with per-entry expiry.
type MemoryCache[K comparable, V any] struct {
	cache *lru.LRU[K, V]
}

// NewMemoryCache creates a cache holding at most size entries for ttl.
func NewMemoryCache[K comparable, V any](size int, ttl time.Duration) *MemoryCache[K, V] {
	if size <= 0 {
		size = 1024
	}
	return &MemoryCache[K, V]{cache: lru.NewLRU[K, V](size, nil, ttl)}
}

func (c *MemoryCache[K, V]) GetMany(ctx context.Context, ids []K) (map[K]V, error) {
	out := make(map[K]V, len(ids))
	for _, id := range ids {
		if v, ok := c.cache.Get(id); ok {
			out[id] = v
		}
	}
	return out, nil
}

func (c *MemoryCache[K, V]) SetMany(ctx context.Context, values map[K]V) error {
	for id, v := range values {
		c.cache.Add(id, v)
	}
	return nil
}

func (c *MemoryCache[K, V]) Delete(ctx context.Context, ids ...K) error {
	for _, id := range ids {
		c.cache.Remove(id)
	}
	return nil
}

// Len reports the number of live entries.
func (c *MemoryCache[K, V]) Len() int {
	return c.cache.Len()
}
