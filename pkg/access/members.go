package access

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/trellis/pkg/async"
	"github.com/platinummonkey/trellis/pkg/audit"
	"github.com/platinummonkey/trellis/pkg/model"
	"github.com/platinummonkey/trellis/pkg/observability"
	"github.com/platinummonkey/trellis/pkg/roles"
)

// Memberships is the only writer of membership rows. Every operation
// asserts the caller's role on the same call path as the write, so a
// retried request is re-checked against current state.
type Memberships struct {
	store     MembershipStore
	evaluator *Evaluator
	metrics   *observability.Metrics
	tracker   *async.Tracker
	caches    CacheInvalidator
	now       func() time.Time
}

// CacheInvalidator drops cached copies of rows a workspace mutation
// changed. batch.Loaders implements it.
type CacheInvalidator interface {
	InvalidateWorkspace(ctx context.Context, workspaceID int64, issueIDs, sprintIDs []int64) error
}

// MembershipsOption configures Memberships.
type MembershipsOption func(*Memberships)

// WithMembershipMetrics counts mutations.
func WithMembershipMetrics(m *observability.Metrics) MembershipsOption {
	return func(s *Memberships) { s.metrics = m }
}

// WithAuditTracker runs audit writes on t.
func WithAuditTracker(t *async.Tracker) MembershipsOption {
	return func(s *Memberships) { s.tracker = t }
}

// WithCacheInvalidator evicts workspaces, issues and sprints from c when
// they change.
func WithCacheInvalidator(c CacheInvalidator) MembershipsOption {
	return func(s *Memberships) { s.caches = c }
}

// WithMembershipClock overrides the deletion timestamp source.
func WithMembershipClock(now func() time.Time) MembershipsOption {
	return func(s *Memberships) { s.now = now }
}

// NewMemberships creates the membership service.
func NewMemberships(store MembershipStore, evaluator *Evaluator, opts ...MembershipsOption) *Memberships {
	s := &Memberships{
		store:     store,
		evaluator: evaluator,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracker == nil {
		s.tracker = async.NewTracker(0)
	}
	return s
}

// CreateWorkspaceInput holds the fields of a new workspace.
type CreateWorkspaceInput struct {
	Key               string  `json:"key"`
	Name              string  `json:"name"`
	OrganizationID    int64   `json:"organization_id"`
	TeamID            *int64  `json:"team_id,omitempty"`
	IsPublic          bool    `json:"is_public"`
	IsCompanyPublic   bool    `json:"is_company_public"`
	SharedWithTeamIDs []int64 `json:"shared_with_team_ids,omitempty"`
}

// CreateWorkspace creates a workspace in an organization the caller belongs
// to. The caller becomes admin. A team-owned workspace has no individual
// owner.
func (m *Memberships) CreateWorkspace(ctx context.Context, sess *Session, in CreateWorkspaceInput) (*model.Workspace, error) {
	if err := sess.RequireUser(); err != nil {
		return nil, err
	}
	key := strings.ToUpper(strings.TrimSpace(in.Key))
	name := strings.TrimSpace(in.Name)
	if key == "" || name == "" {
		return nil, Validation("workspace key and name are required")
	}
	if in.OrganizationID == 0 {
		return nil, Validation("organization_id is required")
	}

	if err := m.evaluator.AssertOrganizationRole(ctx, sess.UserID(), in.OrganizationID, roles.OrganizationMember); err != nil {
		return nil, err
	}

	if in.TeamID != nil {
		team, err := m.store.GetTeam(ctx, *in.TeamID)
		if err != nil {
			return nil, err
		}
		if team == nil || team.OrganizationID != in.OrganizationID {
			return nil, Validation("team does not belong to the organization")
		}
	}

	exists, err := m.store.WorkspaceKeyExists(ctx, key)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, Conflict("workspace key already exists")
	}

	userID := sess.UserID()
	ws := &model.Workspace{
		Key:               key,
		Name:              name,
		OrganizationID:    in.OrganizationID,
		TeamID:            in.TeamID,
		CreatedBy:         userID,
		IsPublic:          in.IsPublic,
		IsCompanyPublic:   in.IsCompanyPublic,
		SharedWithTeamIDs: in.SharedWithTeamIDs,
	}
	if in.TeamID == nil {
		ws.OwnerID = &userID
	}

	if err := m.store.CreateWorkspace(ctx, ws); err != nil {
		return nil, err
	}

	m.metrics.RecordMembershipMutation(string(roles.ScopeWorkspace), "create")
	m.audit(ctx, "audit workspace create", func(ctx context.Context, l audit.Logger) error {
		return l.LogDataMutation(ctx, audit.EventTypeWorkspaceCreate, &userID, audit.ResourceTypeWorkspace, idString(ws.ID),
			&audit.ChangeDetails{After: map[string]interface{}{"key": ws.Key, "name": ws.Name}}, "workspace created")
	})
	return ws, nil
}

// UpdateVisibility replaces the sharing flags of a workspace. Requires
// admin.
func (m *Memberships) UpdateVisibility(ctx context.Context, sess *Session, workspaceID int64, v Visibility) error {
	res, err := sess.AssertMinimumRole(ctx, workspaceID, roles.WorkspaceAdmin)
	if err != nil {
		return err
	}
	if err := m.store.UpdateWorkspaceVisibility(ctx, workspaceID, v); err != nil {
		return err
	}
	m.invalidate(ctx, workspaceID, nil, nil)

	userID := sess.UserID()
	before := map[string]interface{}{
		"is_public":            res.Workspace.IsPublic,
		"is_company_public":    res.Workspace.IsCompanyPublic,
		"shared_with_team_ids": res.Workspace.SharedWithTeamIDs,
	}
	after := map[string]interface{}{
		"is_public":            v.IsPublic,
		"is_company_public":    v.IsCompanyPublic,
		"shared_with_team_ids": v.SharedWithTeamIDs,
	}
	m.audit(ctx, "audit workspace visibility", func(ctx context.Context, l audit.Logger) error {
		return l.LogDataMutation(ctx, audit.EventTypeWorkspaceVisibility, &userID, audit.ResourceTypeWorkspace, idString(workspaceID),
			&audit.ChangeDetails{Before: before, After: after}, "workspace visibility changed")
	})
	return nil
}

// SoftDeleteWorkspace marks the workspace deleted. Only its owner or
// creator may do this; admins granted any other way get Forbidden.
func (m *Memberships) SoftDeleteWorkspace(ctx context.Context, sess *Session, workspaceID int64) error {
	res, err := sess.AssertMinimumRole(ctx, workspaceID, roles.WorkspaceAdmin)
	if err != nil {
		return err
	}
	userID := sess.UserID()
	if !res.Workspace.IsOwner(userID) {
		return Forbidden(roles.WorkspaceAdmin)
	}

	at := m.now()
	if err := res.Workspace.MarkDeleted(userID, at); err != nil {
		return NotFound("workspace", workspaceID)
	}
	deleted, err := m.store.SoftDeleteWorkspace(ctx, workspaceID, userID, at)
	if err != nil {
		return err
	}
	m.invalidate(ctx, workspaceID, deleted.IssueIDs, deleted.SprintIDs)

	m.metrics.RecordMembershipMutation(string(roles.ScopeWorkspace), "delete")
	m.audit(ctx, "audit workspace delete", func(ctx context.Context, l audit.Logger) error {
		return l.LogDataMutation(ctx, audit.EventTypeWorkspaceDelete, &userID, audit.ResourceTypeWorkspace, idString(workspaceID),
			&audit.ChangeDetails{After: map[string]interface{}{"deleted_at": at}}, "workspace soft deleted")
	})
	return nil
}

// AddWorkspaceMember grants role to userID. Requires admin.
func (m *Memberships) AddWorkspaceMember(ctx context.Context, sess *Session, workspaceID, userID int64, role roles.WorkspaceRole) error {
	if !role.Valid() {
		return Validation("invalid workspace role")
	}
	if _, err := sess.AssertMinimumRole(ctx, workspaceID, roles.WorkspaceAdmin); err != nil {
		return err
	}
	if err := m.store.InsertWorkspaceMember(ctx, workspaceID, userID, role, sess.UserID()); err != nil {
		return err
	}

	m.recordMemberChange(ctx, sess, roles.ScopeWorkspace, "add", audit.EventTypeWorkspaceMemberAdd, audit.ResourceTypeWorkspace, workspaceID, userID, "", role.String())
	return nil
}

// UpdateWorkspaceMemberRole changes an existing member's role. Requires
// admin. The owner's role cannot be changed.
func (m *Memberships) UpdateWorkspaceMemberRole(ctx context.Context, sess *Session, workspaceID, userID int64, role roles.WorkspaceRole) error {
	if !role.Valid() {
		return Validation("invalid workspace role")
	}
	res, err := sess.AssertMinimumRole(ctx, workspaceID, roles.WorkspaceAdmin)
	if err != nil {
		return err
	}
	if res.Workspace.IsOwner(userID) {
		return Validation("cannot change workspace owner's role")
	}

	previous, err := m.store.GetWorkspaceMembership(ctx, workspaceID, userID)
	if err != nil {
		return err
	}
	if previous == nil {
		return NotFound(workspaceMembers.resource, userID)
	}
	if err := m.store.UpdateWorkspaceMemberRole(ctx, workspaceID, userID, role); err != nil {
		return err
	}

	m.recordMemberChange(ctx, sess, roles.ScopeWorkspace, "update", audit.EventTypeWorkspaceMemberRoleChange, audit.ResourceTypeWorkspace, workspaceID, userID, previous.Role.String(), role.String())
	return nil
}

// RemoveWorkspaceMember deletes a membership. Requires admin. The owner
// cannot be removed.
func (m *Memberships) RemoveWorkspaceMember(ctx context.Context, sess *Session, workspaceID, userID int64) error {
	res, err := sess.AssertMinimumRole(ctx, workspaceID, roles.WorkspaceAdmin)
	if err != nil {
		return err
	}
	if res.Workspace.IsOwner(userID) {
		return Validation("cannot remove workspace owner")
	}
	if err := m.store.DeleteWorkspaceMember(ctx, workspaceID, userID); err != nil {
		return err
	}

	m.recordMemberChange(ctx, sess, roles.ScopeWorkspace, "remove", audit.EventTypeWorkspaceMemberRemove, audit.ResourceTypeWorkspace, workspaceID, userID, "", "")
	return nil
}

// AddOrganizationMember adds userID to the organization. Requires
// organization admin. The owner role is never granted here.
func (m *Memberships) AddOrganizationMember(ctx context.Context, sess *Session, organizationID, userID int64, role roles.OrganizationRole) error {
	if err := validateOrganizationRole(role); err != nil {
		return err
	}
	if err := m.evaluator.AssertOrganizationRole(ctx, sess.UserID(), organizationID, roles.OrganizationAdmin); err != nil {
		return err
	}
	if err := m.store.InsertOrganizationMember(ctx, organizationID, userID, role, sess.UserID()); err != nil {
		return err
	}

	m.recordMemberChange(ctx, sess, roles.ScopeOrganization, "add", audit.EventTypeOrgMemberAdd, audit.ResourceTypeOrganization, organizationID, userID, "", role.String())
	return nil
}

// UpdateOrganizationMemberRole changes a member's role. Requires
// organization admin. The owner's role cannot be changed.
func (m *Memberships) UpdateOrganizationMemberRole(ctx context.Context, sess *Session, organizationID, userID int64, role roles.OrganizationRole) error {
	if err := validateOrganizationRole(role); err != nil {
		return err
	}
	if err := m.evaluator.AssertOrganizationRole(ctx, sess.UserID(), organizationID, roles.OrganizationAdmin); err != nil {
		return err
	}

	previous, err := m.store.GetOrganizationMembership(ctx, organizationID, userID)
	if err != nil {
		return err
	}
	if previous == nil {
		return NotFound(organizationMembers.resource, userID)
	}
	if previous.Role == roles.OrganizationOwner {
		return Validation("cannot change owner role")
	}
	if err := m.store.UpdateOrganizationMemberRole(ctx, organizationID, userID, role); err != nil {
		return err
	}

	m.recordMemberChange(ctx, sess, roles.ScopeOrganization, "update", audit.EventTypeOrgMemberRoleChange, audit.ResourceTypeOrganization, organizationID, userID, previous.Role.String(), role.String())
	return nil
}

// RemoveOrganizationMember removes userID from the organization. Requires
// organization admin. The owner cannot be removed.
func (m *Memberships) RemoveOrganizationMember(ctx context.Context, sess *Session, organizationID, userID int64) error {
	if err := m.evaluator.AssertOrganizationRole(ctx, sess.UserID(), organizationID, roles.OrganizationAdmin); err != nil {
		return err
	}

	previous, err := m.store.GetOrganizationMembership(ctx, organizationID, userID)
	if err != nil {
		return err
	}
	if previous == nil {
		return NotFound(organizationMembers.resource, userID)
	}
	if previous.Role == roles.OrganizationOwner {
		return Validation("cannot remove organization owner")
	}
	if err := m.store.DeleteOrganizationMember(ctx, organizationID, userID); err != nil {
		return err
	}

	m.recordMemberChange(ctx, sess, roles.ScopeOrganization, "remove", audit.EventTypeOrgMemberRemove, audit.ResourceTypeOrganization, organizationID, userID, previous.Role.String(), "")
	return nil
}

// AddTeamMember adds userID to the team. The caller must lead the team or
// administer its organization, and the new member must already belong to
// the organization.
func (m *Memberships) AddTeamMember(ctx context.Context, sess *Session, teamID, userID int64, role roles.TeamRole) error {
	if !role.Valid() {
		return Validation("invalid team role")
	}
	team, err := m.evaluator.AssertCanManageTeam(ctx, sess.UserID(), teamID)
	if err != nil {
		return err
	}

	orgMember, err := m.store.GetOrganizationMembership(ctx, team.OrganizationID, userID)
	if err != nil {
		return err
	}
	if orgMember == nil {
		return Validation("user must be an organization member to join this team")
	}
	if err := m.store.InsertTeamMember(ctx, teamID, userID, role, sess.UserID()); err != nil {
		return err
	}

	m.recordMemberChange(ctx, sess, roles.ScopeTeam, "add", audit.EventTypeTeamMemberAdd, audit.ResourceTypeTeam, teamID, userID, "", role.String())
	return nil
}

// UpdateTeamMemberRole changes a team member's role.
func (m *Memberships) UpdateTeamMemberRole(ctx context.Context, sess *Session, teamID, userID int64, role roles.TeamRole) error {
	if !role.Valid() {
		return Validation("invalid team role")
	}
	if _, err := m.evaluator.AssertCanManageTeam(ctx, sess.UserID(), teamID); err != nil {
		return err
	}

	previous, err := m.store.GetTeamMembership(ctx, teamID, userID)
	if err != nil {
		return err
	}
	if previous == nil {
		return NotFound(teamMembers.resource, userID)
	}
	if err := m.store.UpdateTeamMemberRole(ctx, teamID, userID, role); err != nil {
		return err
	}

	m.recordMemberChange(ctx, sess, roles.ScopeTeam, "update", audit.EventTypeTeamMemberRoleChange, audit.ResourceTypeTeam, teamID, userID, previous.Role.String(), role.String())
	return nil
}

// RemoveTeamMember removes userID from the team.
func (m *Memberships) RemoveTeamMember(ctx context.Context, sess *Session, teamID, userID int64) error {
	if _, err := m.evaluator.AssertCanManageTeam(ctx, sess.UserID(), teamID); err != nil {
		return err
	}
	if err := m.store.DeleteTeamMember(ctx, teamID, userID); err != nil {
		return err
	}

	m.recordMemberChange(ctx, sess, roles.ScopeTeam, "remove", audit.EventTypeTeamMemberRemove, audit.ResourceTypeTeam, teamID, userID, "", "")
	return nil
}

func validateOrganizationRole(role roles.OrganizationRole) error {
	if !role.Valid() {
		return Validation("invalid organization role")
	}
	if role == roles.OrganizationOwner {
		return Validation("cannot assign owner role")
	}
	return nil
}

func (m *Memberships) recordMemberChange(ctx context.Context, sess *Session, scope roles.Scope, operation string,
	eventType audit.EventType, resource audit.ResourceType, scopeID, targetID int64, before, after string) {

	m.metrics.RecordMembershipMutation(string(scope), operation)

	actor := sess.UserID()
	var changes *audit.ChangeDetails
	if before != "" || after != "" {
		changes = &audit.ChangeDetails{}
		if before != "" {
			changes.Before = map[string]interface{}{"role": before}
		}
		if after != "" {
			changes.After = map[string]interface{}{"role": after}
		}
	}
	message := string(scope) + " member " + operation
	m.audit(ctx, "audit "+message, func(ctx context.Context, l audit.Logger) error {
		return l.LogAdminAction(ctx, eventType, &actor, &targetID, resource, idString(scopeID), changes, message)
	})
}

// invalidate runs before the mutation returns so the caller's next read
// misses the cache. Eviction failures are logged; the write already
// committed.
func (m *Memberships) invalidate(ctx context.Context, workspaceID int64, issueIDs, sprintIDs []int64) {
	if m.caches == nil {
		return
	}
	if err := m.caches.InvalidateWorkspace(ctx, workspaceID, issueIDs, sprintIDs); err != nil {
		observability.FromContext(ctx).WithError(err).WithField("workspace_id", workspaceID).Error("Failed to evict workspace from batch caches")
	}
}

// audit writes off the request path. The logger is captured now because
// the request context may be gone when the task runs.
func (m *Memberships) audit(ctx context.Context, task string, fn func(context.Context, audit.Logger) error) {
	logger := audit.FromContext(ctx)
	m.tracker.Go(ctx, task, func(ctx context.Context) error {
		return fn(ctx, logger)
	})
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
