package batch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Group runs independent loads concurrently. Schedule every load, then Wait
// before reading any destination map.
type Group struct {
	eg  *errgroup.Group
	ctx context.Context
}

// NewGroup creates a group whose loads share a context that is canceled on
// the first failure.
func NewGroup(ctx context.Context) *Group {
	eg, ctx := errgroup.WithContext(ctx)
	return &Group{eg: eg, ctx: ctx}
}

// Schedule starts loader.Load(ids) and stores the result in *dst. dst must
// not be read until Wait returns.
func Schedule[K comparable, V any](g *Group, loader *Loader[K, V], ids []K, dst *map[K]V) {
	g.eg.Go(func() error {
		out, err := loader.Load(g.ctx, ids)
		if err != nil {
			return err
		}
		*dst = out
		return nil
	})
}

// Wait blocks until every scheduled load finished and returns the first
// error.
func (g *Group) Wait() error {
	return g.eg.Wait()
}
