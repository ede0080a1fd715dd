package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/trellis/pkg/access"
	"github.com/platinummonkey/trellis/pkg/batch"
	"github.com/platinummonkey/trellis/pkg/model"
)

func TestLoaders_SoftDeleteEvictsCachedRows(t *testing.T) {
	cases := []struct {
		name   string
		caches func(t *testing.T) batch.CacheFactory
	}{
		{"memory", func(t *testing.T) batch.CacheFactory { return batch.MemoryCaches(4096, 30*time.Second) }},
		{"redis", func(t *testing.T) batch.CacheFactory {
			client, _ := setupRedis(t)
			return RedisCaches(client, 30*time.Second)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := setupRepository(t)
			ctx := context.Background()
			issue := w.f.Issue(&model.Issue{WorkspaceID: w.ws, Key: "CORE-1", Title: "One", ReporterID: w.alice, SprintID: &w.sprint})

			loaders := batch.NewLoaders(w.repo, batch.LoadersConfig{Caches: tc.caches(t)})
			store := access.NewStore(w.f.DB)
			evaluator := access.NewEvaluator(store)
			memberships := access.NewMemberships(store, evaluator, access.WithCacheInvalidator(loaders))

			workspaces, err := loaders.Workspaces.Load(ctx, []int64{w.ws})
			require.NoError(t, err)
			require.Contains(t, workspaces, w.ws)
			issues, err := loaders.Issues.Load(ctx, []int64{issue})
			require.NoError(t, err)
			require.Contains(t, issues, issue)
			sprints, err := loaders.Sprints.Load(ctx, []int64{w.sprint})
			require.NoError(t, err)
			require.Contains(t, sprints, w.sprint)

			require.NoError(t, memberships.SoftDeleteWorkspace(ctx, access.NewSession(w.alice, evaluator), w.ws))

			workspaces, err = loaders.Workspaces.Load(ctx, []int64{w.ws})
			require.NoError(t, err)
			assert.NotContains(t, workspaces, w.ws)
			issues, err = loaders.Issues.Load(ctx, []int64{issue})
			require.NoError(t, err)
			assert.NotContains(t, issues, issue)
			sprints, err = loaders.Sprints.Load(ctx, []int64{w.sprint})
			require.NoError(t, err)
			assert.NotContains(t, sprints, w.sprint)
		})
	}
}
