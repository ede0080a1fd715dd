package batch

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// FetchManyFunc resolves a set of distinct ids in one round trip. Ids that
// do not resolve are left out of the result.
type FetchManyFunc[K comparable, V any] func(ctx context.Context, ids []K) (map[K]V, error)

// FetchOneFunc resolves a single id. found is false for a missing record.
type FetchOneFunc[K comparable, V any] func(ctx context.Context, id K) (v V, found bool, err error)

// Distinct returns ids without duplicates or zero values, in first-seen
// order.
func Distinct[K comparable](ids []K) []K {
	var zero K
	seen := make(map[K]struct{}, len(ids))
	out := make([]K, 0, len(ids))
	for _, id := range ids {
		if id == zero {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Fetch resolves ids with exactly one call to fetch over the distinct
// non-zero set. No call is made when that set is empty. Missing records are
// absent from the map, never an error.
func Fetch[K comparable, V any](ctx context.Context, ids []K, fetch FetchManyFunc[K, V]) (map[K]V, error) {
	distinct := Distinct(ids)
	if len(distinct) == 0 {
		return map[K]V{}, nil
	}

	found, err := fetch(ctx, distinct)
	if err != nil {
		return nil, err
	}

	out := make(map[K]V, len(found))
	for _, id := range distinct {
		if v, ok := found[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

// FetchEach is the fallback for stores without a multi-get: one fetch per
// distinct id, at most limit in flight (limit <= 0 means one goroutine per
// id). The first error cancels the rest.
func FetchEach[K comparable, V any](ctx context.Context, ids []K, fetch FetchOneFunc[K, V], limit int) (map[K]V, error) {
	distinct := Distinct(ids)
	out := make(map[K]V, len(distinct))
	if len(distinct) == 0 {
		return out, nil
	}

	eg, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		eg.SetLimit(limit)
	}

	var mu sync.Mutex
	for _, id := range distinct {
		eg.Go(func() error {
			v, found, err := fetch(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to fetch %v: %w", id, err)
			}
			if !found {
				return nil
			}
			mu.Lock()
			out[id] = v
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// IDs collects foreign keys across rows. Each key function is applied to
// every row; zero keys and duplicates are dropped.
func IDs[T any, K comparable](rows []T, keys ...func(T) K) []K {
	out := make([]K, 0, len(rows)*len(keys))
	for _, row := range rows {
		for _, key := range keys {
			out = append(out, key(row))
		}
	}
	return Distinct(out)
}

// Deref returns *p, or the zero value for nil. It adapts optional foreign
// keys for IDs.
func Deref[K any](p *K) K {
	if p == nil {
		var zero K
		return zero
	}
	return *p
}

// OneByOne adapts a single-record getter to FetchManyFunc with FetchEach,
// so a Source backed by a store without a multi-get can still feed a Loader.
func OneByOne[K comparable, V any](fetch FetchOneFunc[K, V], limit int) FetchManyFunc[K, V] {
	return func(ctx context.Context, ids []K) (map[K]V, error) {
		return FetchEach(ctx, ids, fetch, limit)
	}
}
