package batch

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/trellis/pkg/model"
	"github.com/platinummonkey/trellis/pkg/observability"
)

// Source is a store with a multi-get per entity type. Implementations return
// live rows only and leave missing ids out of the map.
type Source interface {
	UsersByIDs(ctx context.Context, ids []int64) (map[int64]*model.User, error)
	IssuesByIDs(ctx context.Context, ids []int64) (map[int64]*model.Issue, error)
	WorkspacesByIDs(ctx context.Context, ids []int64) (map[int64]*model.Workspace, error)
	TeamsByIDs(ctx context.Context, ids []int64) (map[int64]*model.Team, error)
	OrganizationsByIDs(ctx context.Context, ids []int64) (map[int64]*model.Organization, error)
	SprintsByIDs(ctx context.Context, ids []int64) (map[int64]*model.Sprint, error)
}

// Entity names used for loaders, metrics labels and cache keys.
const (
	EntityUser         = "user"
	EntityIssue        = "issue"
	EntityWorkspace    = "workspace"
	EntityTeam         = "team"
	EntityOrganization = "organization"
	EntitySprint       = "sprint"
)

// CacheFactory builds the cache for one entity type. Returning nil disables
// caching for that entity.
type CacheFactory func(entity string) any

// LoadersConfig configures NewLoaders.
type LoadersConfig struct {
	Metrics *observability.Metrics
	// Caches, when set, is asked once per entity. The value it returns must
	// be a Cache[int64, *T] for the entity's model type, or nil.
	Caches CacheFactory
}

// MemoryCaches returns a CacheFactory backed by in-process LRUs.
func MemoryCaches(size int, ttl time.Duration) CacheFactory {
	return func(entity string) any {
		switch entity {
		case EntityUser:
			return NewMemoryCache[int64, *model.User](size, ttl)
		case EntityIssue:
			return NewMemoryCache[int64, *model.Issue](size, ttl)
		case EntityWorkspace:
			return NewMemoryCache[int64, *model.Workspace](size, ttl)
		case EntityTeam:
			return NewMemoryCache[int64, *model.Team](size, ttl)
		case EntityOrganization:
			return NewMemoryCache[int64, *model.Organization](size, ttl)
		case EntitySprint:
			return NewMemoryCache[int64, *model.Sprint](size, ttl)
		}
		return nil
	}
}

// Loaders holds one loader per entity type over a shared Source.
type Loaders struct {
	Users         *Loader[int64, *model.User]
	Issues        *Loader[int64, *model.Issue]
	Workspaces    *Loader[int64, *model.Workspace]
	Teams         *Loader[int64, *model.Team]
	Organizations *Loader[int64, *model.Organization]
	Sprints       *Loader[int64, *model.Sprint]
}

// NewLoaders builds the standard loaders over src.
func NewLoaders(src Source, cfg LoadersConfig) *Loaders {
	return &Loaders{
		Users:         newLoader(EntityUser, src.UsersByIDs, cfg),
		Issues:        newLoader(EntityIssue, src.IssuesByIDs, cfg),
		Workspaces:    newLoader(EntityWorkspace, src.WorkspacesByIDs, cfg),
		Teams:         newLoader(EntityTeam, src.TeamsByIDs, cfg),
		Organizations: newLoader(EntityOrganization, src.OrganizationsByIDs, cfg),
		Sprints:       newLoader(EntitySprint, src.SprintsByIDs, cfg),
	}
}

func newLoader[V any](entity string, fetch FetchManyFunc[int64, V], cfg LoadersConfig) *Loader[int64, V] {
	opts := []LoaderOption[int64, V]{WithMetrics[int64, V](cfg.Metrics)}
	if cfg.Caches != nil {
		if c, ok := cfg.Caches(entity).(Cache[int64, V]); ok && c != nil {
			opts = append(opts, WithCache(c))
		}
	}
	return NewLoader(entity, fetch, opts...)
}

// InvalidateWorkspace evicts a workspace and the given issues and sprints.
// Soft deletes call it so cached loads stop returning deleted rows.
func (l *Loaders) InvalidateWorkspace(ctx context.Context, workspaceID int64, issueIDs, sprintIDs []int64) error {
	return errors.Join(
		l.Workspaces.Invalidate(ctx, workspaceID),
		l.Issues.Invalidate(ctx, issueIDs...),
		l.Sprints.Invalidate(ctx, sprintIDs...),
	)
}

// UserName returns the display name for id from users, or
// model.UnknownUserName when the user did not resolve.
func UserName(users map[int64]*model.User, id int64) string {
	if u, ok := users[id]; ok && u != nil {
		return u.DisplayName()
	}
	return model.UnknownUserName
}
