package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/trellis/pkg/model"
)

type fakeSource struct {
	userCalls int
	users     map[int64]*model.User

	mu         sync.Mutex
	sprintGets []int64
	sprints    map[int64]*model.Sprint
}

func (f *fakeSource) UsersByIDs(ctx context.Context, ids []int64) (map[int64]*model.User, error) {
	f.userCalls++
	out := make(map[int64]*model.User)
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (f *fakeSource) IssuesByIDs(ctx context.Context, ids []int64) (map[int64]*model.Issue, error) {
	return map[int64]*model.Issue{}, nil
}

func (f *fakeSource) WorkspacesByIDs(ctx context.Context, ids []int64) (map[int64]*model.Workspace, error) {
	return map[int64]*model.Workspace{}, nil
}

func (f *fakeSource) TeamsByIDs(ctx context.Context, ids []int64) (map[int64]*model.Team, error) {
	return map[int64]*model.Team{}, nil
}

func (f *fakeSource) OrganizationsByIDs(ctx context.Context, ids []int64) (map[int64]*model.Organization, error) {
	return map[int64]*model.Organization{}, nil
}

// SprintsByIDs reads sprints one at a time.
func (f *fakeSource) SprintsByIDs(ctx context.Context, ids []int64) (map[int64]*model.Sprint, error) {
	return OneByOne(f.sprint, 2)(ctx, ids)
}

func (f *fakeSource) sprint(ctx context.Context, id int64) (*model.Sprint, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sprintGets = append(f.sprintGets, id)
	s, ok := f.sprints[id]
	return s, ok, nil
}

func TestNewLoaders_WithMemoryCaches(t *testing.T) {
	src := &fakeSource{users: map[int64]*model.User{1: {ID: 1, Name: "Ada"}}}
	loaders := NewLoaders(src, LoadersConfig{Caches: MemoryCaches(32, time.Minute)})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		users, err := loaders.Users.Load(ctx, []int64{1, 2})
		require.NoError(t, err)
		assert.Equal(t, "Ada", UserName(users, 1))
		assert.Equal(t, model.UnknownUserName, UserName(users, 2))
	}

	// user 2 never resolves, so it misses the cache every time.
	assert.Equal(t, 3, src.userCalls)
	assert.Equal(t, EntitySprint, loaders.Sprints.Entity())
}

func TestNewLoaders_NoCache(t *testing.T) {
	src := &fakeSource{users: map[int64]*model.User{1: {ID: 1}}}
	loaders := NewLoaders(src, LoadersConfig{})

	for i := 0; i < 2; i++ {
		_, err := loaders.Users.Load(context.Background(), []int64{1})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, src.userCalls)
}

func TestNewLoaders_SingleGetSource(t *testing.T) {
	src := &fakeSource{sprints: map[int64]*model.Sprint{
		4: {ID: 4, Name: "Sprint 4"},
		5: {ID: 5, Name: "Sprint 5"},
	}}
	loaders := NewLoaders(src, LoadersConfig{Caches: MemoryCaches(32, time.Minute)})
	ctx := context.Background()

	sprints, err := loaders.Sprints.Load(ctx, []int64{4, 5, 4, 0, 9})
	require.NoError(t, err)
	require.Len(t, sprints, 2)
	assert.Equal(t, "Sprint 5", sprints[5].Name)
	assert.ElementsMatch(t, []int64{4, 5, 9}, src.sprintGets)

	// Cached hits skip the getter; the missing id is fetched again.
	_, err = loaders.Sprints.Load(ctx, []int64{4, 5, 9})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{4, 5, 9, 9}, src.sprintGets)
}
