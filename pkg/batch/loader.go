package batch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/trellis/pkg/observability"
)

// Loader resolves one entity type by id. Loads go through the cache when one
// is configured, and only the misses reach the source.
type Loader[K comparable, V any] struct {
	entity  string
	fetch   FetchManyFunc[K, V]
	cache   Cache[K, V]
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// LoaderOption configures a Loader.
type LoaderOption[K comparable, V any] func(*Loader[K, V])

// WithCache puts c in front of the source.
func WithCache[K comparable, V any](c Cache[K, V]) LoaderOption[K, V] {
	return func(l *Loader[K, V]) { l.cache = c }
}

// WithMetrics records load sizes and cache outcomes on m.
func WithMetrics[K comparable, V any](m *observability.Metrics) LoaderOption[K, V] {
	return func(l *Loader[K, V]) { l.metrics = m }
}

// NewLoader creates a loader named entity over fetch.
func NewLoader[K comparable, V any](entity string, fetch FetchManyFunc[K, V], opts ...LoaderOption[K, V]) *Loader[K, V] {
	l := &Loader[K, V]{
		entity: entity,
		fetch:  fetch,
		tracer: observability.Tracer("batch"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Entity returns the loader's name.
func (l *Loader[K, V]) Entity() string {
	return l.entity
}

// Load resolves ids. The result holds an entry for every id that resolved.
// Cache failures are logged and treated as misses.
func (l *Loader[K, V]) Load(ctx context.Context, ids []K) (map[K]V, error) {
	distinct := Distinct(ids)
	if len(distinct) == 0 {
		return map[K]V{}, nil
	}

	ctx, span := l.tracer.Start(ctx, "batch.Load", trace.WithAttributes(
		attribute.String("batch.entity", l.entity),
		attribute.Int("batch.requested", len(distinct)),
	))
	defer span.End()

	start := time.Now()
	out := make(map[K]V, len(distinct))
	misses := distinct

	if l.cache != nil {
		cached, err := l.cache.GetMany(ctx, distinct)
		if err != nil {
			observability.FromContext(ctx).WithError(err).WithField("entity", l.entity).Warn("Batch cache read failed")
			cached = nil
		}
		misses = misses[:0:0]
		for _, id := range distinct {
			if v, ok := cached[id]; ok {
				out[id] = v
				continue
			}
			misses = append(misses, id)
		}
		l.metrics.RecordCache(l.entity, len(distinct)-len(misses), len(misses))
	}

	fetched := 0
	if len(misses) > 0 {
		found, err := Fetch(ctx, misses, l.fetch)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		fetched = len(found)
		for id, v := range found {
			out[id] = v
		}
		if l.cache != nil && len(found) > 0 {
			if err := l.cache.SetMany(ctx, found); err != nil {
				observability.FromContext(ctx).WithError(err).WithField("entity", l.entity).Warn("Batch cache write failed")
			}
		}
	}

	span.SetAttributes(
		attribute.Int("batch.fetched", fetched),
		attribute.Int("batch.resolved", len(out)),
	)
	l.metrics.RecordBatchLoad(l.entity, len(distinct), fetched, time.Since(start))
	return out, nil
}

// Invalidate drops ids from the cache. It is a no-op without one.
func (l *Loader[K, V]) Invalidate(ctx context.Context, ids ...K) error {
	if l.cache == nil || len(ids) == 0 {
		return nil
	}
	return l.cache.Delete(ctx, ids...)
}
