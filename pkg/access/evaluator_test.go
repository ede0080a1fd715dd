package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/trellis/pkg/model"
	"github.com/platinummonkey/trellis/pkg/roles"
	"github.com/platinummonkey/trellis/pkg/storage/sqlitetest"
)

type world struct {
	f         *sqlitetest.Fixture
	store     *Store
	evaluator *Evaluator

	owner, member, outsider int64
	org                     int64
}

func setupWorld(t *testing.T) *world {
	t.Helper()
	f := sqlitetest.NewFixture(t)
	store := NewStore(f.DB)

	w := &world{f: f, store: store, evaluator: NewEvaluator(store)}
	w.owner = f.User("Owner", "owner@example.com")
	w.member = f.User("Member", "member@example.com")
	w.outsider = f.User("Outsider", "outsider@example.com")
	w.org = f.Organization("acme", w.owner)
	f.OrganizationMember(w.org, w.member, roles.OrganizationMember)
	return w
}

func (w *world) workspace(key string, mutate func(*model.Workspace)) *model.Workspace {
	ws := &model.Workspace{Key: key, Name: key, OrganizationID: w.org, CreatedBy: w.owner}
	if mutate != nil {
		mutate(ws)
	}
	w.f.Workspace(ws)
	return ws
}

func role(r roles.WorkspaceRole) *roles.WorkspaceRole {
	return &r
}

func TestEffectiveRole_CreatorIsAdminWithoutMembership(t *testing.T) {
	w := setupWorld(t)
	ws := w.workspace("CRE", nil)

	res, err := w.evaluator.Resolve(context.Background(), w.owner, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, role(roles.WorkspaceAdmin), res.Role)
	assert.Equal(t, GrantOwner, res.Grant)
}

func TestEffectiveRole_OwnerIsAdmin(t *testing.T) {
	w := setupWorld(t)
	ws := w.workspace("OWN", func(ws *model.Workspace) { ws.OwnerID = &w.member })

	got, err := w.evaluator.EffectiveRole(context.Background(), w.member, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, role(roles.WorkspaceAdmin), got)
}

func TestEffectiveRole_NoGrantIsNil(t *testing.T) {
	w := setupWorld(t)
	ws := w.workspace("NIL", nil)

	got, err := w.evaluator.EffectiveRole(context.Background(), w.outsider, ws.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = w.evaluator.EffectiveRole(context.Background(), w.member, ws.ID)
	require.NoError(t, err)
	assert.Nil(t, got, "organization membership alone grants nothing")
}

func TestEffectiveRole_Membership(t *testing.T) {
	w := setupWorld(t)
	ws := w.workspace("MEM", nil)
	w.f.WorkspaceMember(ws.ID, w.member, roles.WorkspaceEditor)

	res, err := w.evaluator.Resolve(context.Background(), w.member, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, role(roles.WorkspaceEditor), res.Role)
	assert.Equal(t, GrantMembership, res.Grant)
}

func TestEffectiveRole_OrganizationAdminOverride(t *testing.T) {
	w := setupWorld(t)
	admin := w.f.User("Admin", "admin@example.com")
	w.f.OrganizationMember(w.org, admin, roles.OrganizationAdmin)
	ws := w.workspace("ORG", nil)

	res, err := w.evaluator.Resolve(context.Background(), admin, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, role(roles.WorkspaceAdmin), res.Role)
	assert.Equal(t, GrantOrganizationAdmin, res.Grant)

	t.Run("applies on top of a lesser membership", func(t *testing.T) {
		w.f.WorkspaceMember(ws.ID, admin, roles.WorkspaceViewer)

		res, err := w.evaluator.Resolve(context.Background(), admin, ws.ID)
		require.NoError(t, err)
		assert.Equal(t, role(roles.WorkspaceAdmin), res.Role)
		assert.Equal(t, GrantOrganizationAdmin, res.Grant)
	})
}

func TestEffectiveRole_OrganizationOwnerOverride(t *testing.T) {
	w := setupWorld(t)
	creator := w.f.User("Creator", "creator@example.com")
	w.f.OrganizationMember(w.org, creator, roles.OrganizationMember)
	ws := &model.Workspace{Key: "OWO", Name: "OWO", OrganizationID: w.org, CreatedBy: creator}
	w.f.Workspace(ws)

	got, err := w.evaluator.EffectiveRole(context.Background(), w.owner, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, role(roles.WorkspaceAdmin), got)
}

func TestEffectiveRole_TeamLeadOverride(t *testing.T) {
	w := setupWorld(t)
	lead := w.f.User("Lead", "lead@example.com")
	w.f.OrganizationMember(w.org, lead, roles.OrganizationMember)
	team := w.f.Team(w.org, "core", w.owner)
	w.f.TeamMember(team, lead, roles.TeamLead)
	w.f.TeamMember(team, w.member, roles.TeamMember)

	ws := w.workspace("TEAM", func(ws *model.Workspace) { ws.TeamID = &team })

	res, err := w.evaluator.Resolve(context.Background(), lead, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, role(roles.WorkspaceAdmin), res.Role)
	assert.Equal(t, GrantTeamLead, res.Grant)

	got, err := w.evaluator.EffectiveRole(context.Background(), w.member, ws.ID)
	require.NoError(t, err)
	assert.Nil(t, got, "plain team members of the owning team get no override")
}

func TestEffectiveRole_CompanyPublic(t *testing.T) {
	w := setupWorld(t)
	ws := w.workspace("COMP", nil)

	got, err := w.evaluator.EffectiveRole(context.Background(), w.member, ws.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, w.store.UpdateWorkspaceVisibility(context.Background(), ws.ID, Visibility{IsCompanyPublic: true}))

	res, err := w.evaluator.Resolve(context.Background(), w.member, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, role(roles.WorkspaceViewer), res.Role)
	assert.Equal(t, GrantCompanyPublic, res.Grant)

	membership, err := w.store.GetWorkspaceMembership(context.Background(), ws.ID, w.member)
	require.NoError(t, err)
	assert.Nil(t, membership, "no membership row is created")

	got, err = w.evaluator.EffectiveRole(context.Background(), w.outsider, ws.ID)
	require.NoError(t, err)
	assert.Nil(t, got, "company-public is limited to organization members")
}

func TestEffectiveRole_SharedTeam(t *testing.T) {
	w := setupWorld(t)
	team := w.f.Team(w.org, "design", w.owner)
	w.f.TeamMember(team, w.outsider, roles.TeamMember)
	other := w.f.Team(w.org, "ops", w.owner)

	ws := w.workspace("SHR", func(ws *model.Workspace) { ws.SharedWithTeamIDs = []int64{other, team} })

	res, err := w.evaluator.Resolve(context.Background(), w.outsider, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, role(roles.WorkspaceViewer), res.Role)
	assert.Equal(t, GrantSharedTeam, res.Grant)
	assert.ElementsMatch(t, []int64{other, team}, res.Workspace.SharedWithTeamIDs)
}

func TestEffectiveRole_Public(t *testing.T) {
	w := setupWorld(t)
	ws := w.workspace("PUB", func(ws *model.Workspace) { ws.IsPublic = true })

	for name, userID := range map[string]int64{"outsider": w.outsider, "anonymous": Anonymous} {
		t.Run(name, func(t *testing.T) {
			res, err := w.evaluator.Resolve(context.Background(), userID, ws.ID)
			require.NoError(t, err)
			assert.Equal(t, role(roles.WorkspaceViewer), res.Role)
			assert.Equal(t, GrantPublic, res.Grant)
		})
	}
}

func TestEffectiveRole_AnonymousPrivateWorkspace(t *testing.T) {
	w := setupWorld(t)
	ws := w.workspace("PRIV", func(ws *model.Workspace) { ws.IsCompanyPublic = true })

	got, err := w.evaluator.EffectiveRole(context.Background(), Anonymous, ws.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolve_MissingAndDeletedAreNotFound(t *testing.T) {
	w := setupWorld(t)
	deletedAt := time.Now().UTC()
	ws := w.workspace("DEL", func(ws *model.Workspace) {
		ws.IsPublic = true
		ws.DeletedAt = &deletedAt
		ws.DeletedBy = &w.owner
	})

	for name, id := range map[string]int64{"deleted": ws.ID, "missing": 9999} {
		t.Run(name, func(t *testing.T) {
			_, err := w.evaluator.EffectiveRole(context.Background(), w.owner, id)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrNotFound))

			_, err = w.evaluator.AssertMinimumRole(context.Background(), w.outsider, id, roles.WorkspaceViewer)
			assert.True(t, errors.Is(err, ErrNotFound), "existence is checked before role")
		})
	}
}

func TestAssertMinimumRole(t *testing.T) {
	w := setupWorld(t)
	ws := w.workspace("ASR", func(ws *model.Workspace) { ws.IsPublic = true })
	w.f.WorkspaceMember(ws.ID, w.member, roles.WorkspaceViewer)

	ctx := context.Background()

	_, err := w.evaluator.AssertMinimumRole(ctx, w.member, ws.ID, roles.WorkspaceViewer)
	require.NoError(t, err)

	_, err = w.evaluator.AssertMinimumRole(ctx, w.member, ws.ID, roles.WorkspaceEditor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrForbidden))
	var accessErr *Error
	require.True(t, errors.As(err, &accessErr))
	assert.Equal(t, "editor", accessErr.RequiredRole)

	_, err = w.evaluator.AssertMinimumRole(ctx, Anonymous, ws.ID, roles.WorkspaceViewer)
	require.NoError(t, err, "public workspaces are readable anonymously")

	_, err = w.evaluator.AssertMinimumRole(ctx, Anonymous, ws.ID, roles.WorkspaceEditor)
	assert.True(t, errors.Is(err, ErrUnauthenticated))
}

func TestCanHelpers(t *testing.T) {
	w := setupWorld(t)
	ws := w.workspace("CAN", nil)
	w.f.WorkspaceMember(ws.ID, w.member, roles.WorkspaceEditor)
	ctx := context.Background()

	tests := []struct {
		name   string
		userID int64
		fn     func(context.Context, int64, int64) (bool, error)
		want   bool
	}{
		{"editor can access", w.member, w.evaluator.CanAccessProject, true},
		{"editor can edit", w.member, w.evaluator.CanEditProject, true},
		{"editor cannot manage", w.member, w.evaluator.CanManageProject, false},
		{"owner can manage", w.owner, w.evaluator.CanManageProject, true},
		{"outsider cannot access", w.outsider, w.evaluator.CanAccessProject, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn(ctx, tt.userID, ws.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := w.evaluator.CanAccessProject(ctx, w.owner, 424242)
	require.NoError(t, err, "not found is a denial, not a failure")
	assert.False(t, got)
}

func TestOrganizationAndTeamRoles(t *testing.T) {
	w := setupWorld(t)
	ctx := context.Background()
	team := w.f.Team(w.org, "core", w.owner)
	w.f.TeamMember(team, w.member, roles.TeamLead)

	orgRole, err := w.evaluator.OrganizationRole(ctx, w.owner, w.org)
	require.NoError(t, err)
	assert.Equal(t, roles.OrganizationOwner, *orgRole)

	orgRole, err = w.evaluator.OrganizationRole(ctx, w.outsider, w.org)
	require.NoError(t, err)
	assert.Nil(t, orgRole)

	teamRole, err := w.evaluator.TeamRole(ctx, w.member, team)
	require.NoError(t, err)
	assert.Equal(t, roles.TeamLead, *teamRole)

	teamRole, err = w.evaluator.TeamRole(ctx, Anonymous, team)
	require.NoError(t, err)
	assert.Nil(t, teamRole)

	isAdmin, err := w.evaluator.IsOrganizationAdmin(ctx, w.owner, w.org)
	require.NoError(t, err)
	assert.True(t, isAdmin)

	isAdmin, err = w.evaluator.IsOrganizationAdmin(ctx, w.member, w.org)
	require.NoError(t, err)
	assert.False(t, isAdmin)

	for name, tc := range map[string]struct {
		userID int64
		want   bool
	}{
		"team lead": {w.member, true},
		"org owner": {w.owner, true},
		"outsider":  {w.outsider, false},
	} {
		t.Run(name, func(t *testing.T) {
			ok, err := w.evaluator.CanManageTeam(ctx, tc.userID, team)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}

	_, err = w.evaluator.CanManageTeam(ctx, w.owner, 999)
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.True(t, errors.Is(w.evaluator.AssertOrganizationRole(ctx, w.member, w.org, roles.OrganizationAdmin), ErrForbidden))
	assert.True(t, errors.Is(w.evaluator.AssertOrganizationRole(ctx, Anonymous, w.org, roles.OrganizationMember), ErrUnauthenticated))
	assert.NoError(t, w.evaluator.AssertOrganizationRole(ctx, w.member, w.org, roles.OrganizationMember))
}

// storeError makes every lookup fail.
type storeError struct{ RoleStore }

func (storeError) GetWorkspace(ctx context.Context, id int64) (*model.Workspace, error) {
	return nil, errors.New("connection refused")
}

func TestCanHelpers_PropagateStorageErrors(t *testing.T) {
	evaluator := NewEvaluator(storeError{})
	ok, err := evaluator.CanAccessProject(context.Background(), 1, 1)
	assert.False(t, ok)
	require.Error(t, err)
	assert.False(t, IsAccessError(err))
}
