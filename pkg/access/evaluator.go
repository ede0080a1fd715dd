package access

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/trellis/pkg/async"
	"github.com/platinummonkey/trellis/pkg/audit"
	"github.com/platinummonkey/trellis/pkg/model"
	"github.com/platinummonkey/trellis/pkg/observability"
	"github.com/platinummonkey/trellis/pkg/roles"
	"github.com/platinummonkey/trellis/pkg/softdelete"
)

// Anonymous is the user id of a caller without an identity.
const Anonymous int64 = 0

// Grant names the path that produced an effective role.
type Grant string

const (
	GrantOwner             Grant = "owner"
	GrantMembership        Grant = "membership"
	GrantOrganizationAdmin Grant = "org_admin"
	GrantTeamLead          Grant = "team_lead"
	GrantCompanyPublic     Grant = "company_public"
	GrantSharedTeam        Grant = "shared_team"
	GrantPublic            Grant = "public"
	GrantNone              Grant = "none"
)

// Resolution is the outcome of evaluating one (user, workspace) pair. The
// workspace is always live.
type Resolution struct {
	Workspace *model.Workspace
	Role      *roles.WorkspaceRole
	Grant     Grant
}

// Evaluator computes effective workspace roles from the RoleStore. Nothing
// is cached: every call reads current membership and sharing state.
type Evaluator struct {
	store   RoleStore
	metrics *observability.Metrics
	tracker *async.Tracker
	tracer  trace.Tracer
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithEvaluatorMetrics records decisions and grant paths.
func WithEvaluatorMetrics(m *observability.Metrics) EvaluatorOption {
	return func(e *Evaluator) { e.metrics = m }
}

// WithTracker runs denial audit writes on t so shutdown can drain them.
func WithTracker(t *async.Tracker) EvaluatorOption {
	return func(e *Evaluator) { e.tracker = t }
}

// NewEvaluator creates an evaluator over store.
func NewEvaluator(store RoleStore, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		store:  store,
		tracer: observability.Tracer("access"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracker == nil {
		e.tracker = async.NewTracker(0)
	}
	return e
}

// Resolve loads the workspace and computes the user's effective role.
// A missing or soft-deleted workspace is NotFound before any role is
// evaluated.
func (e *Evaluator) Resolve(ctx context.Context, userID, workspaceID int64) (*Resolution, error) {
	ws, err := e.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, NotFound("workspace", workspaceID)
	}
	return e.ResolveWorkspace(ctx, userID, ws)
}

// ResolveWorkspace computes the user's effective role on a workspace the
// caller already loaded, skipping the workspace lookup. A soft-deleted
// workspace is NotFound.
func (e *Evaluator) ResolveWorkspace(ctx context.Context, userID int64, ws *model.Workspace) (*Resolution, error) {
	start := time.Now()
	if !softdelete.NotDeleted(ws) {
		return nil, NotFound("workspace", ws.ID)
	}

	r := &resolver{store: e.store, userID: userID, ws: ws}
	role, grant, err := r.effectiveRole(ctx)
	if err != nil {
		return nil, err
	}

	e.metrics.RecordGrant(string(grant), time.Since(start))
	return &Resolution{Workspace: ws, Role: role, Grant: grant}, nil
}

// EffectiveRole returns the user's role on the workspace, or nil when the
// user has no access.
func (e *Evaluator) EffectiveRole(ctx context.Context, userID, workspaceID int64) (*roles.WorkspaceRole, error) {
	res, err := e.Resolve(ctx, userID, workspaceID)
	if err != nil {
		return nil, err
	}
	return res.Role, nil
}

// AssertMinimumRole fails unless the user holds at least required on the
// workspace. Every read or write of workspace-scoped data goes through it
// first. Anonymous callers that fall short get Unauthenticated, everyone
// else Forbidden.
func (e *Evaluator) AssertMinimumRole(ctx context.Context, userID, workspaceID int64, required roles.WorkspaceRole) (*Resolution, error) {
	ctx, span := e.tracer.Start(ctx, "access.AssertMinimumRole", trace.WithAttributes(
		attribute.Int64("workspace.id", workspaceID),
		attribute.String("access.required", required.String()),
	))
	defer span.End()

	res, err := e.Resolve(ctx, userID, workspaceID)
	if err != nil {
		e.recordDecision(span, err, required)
		return nil, err
	}
	span.SetAttributes(attribute.String("access.grant", string(res.Grant)))

	if denied := decide(userID, res, required); denied != nil {
		if denied.Kind == KindForbidden {
			e.auditDenied(ctx, userID, audit.ResourceTypeWorkspace, workspaceID, required)
		}
		e.recordDecision(span, denied, required)
		return nil, denied
	}
	e.recordDecision(span, nil, required)
	return res, nil
}

// decide returns the denial for res, or nil when it satisfies required.
func decide(userID int64, res *Resolution, required roles.WorkspaceRole) *Error {
	if roles.Sufficient(res.Role, required) {
		return nil
	}
	if userID == Anonymous {
		return Unauthenticated()
	}
	return Forbidden(required)
}

// CanAccessProject reports whether the user can read the workspace.
func (e *Evaluator) CanAccessProject(ctx context.Context, userID, workspaceID int64) (bool, error) {
	return e.can(ctx, userID, workspaceID, roles.WorkspaceViewer)
}

// CanEditProject reports whether the user can write workspace content.
func (e *Evaluator) CanEditProject(ctx context.Context, userID, workspaceID int64) (bool, error) {
	return e.can(ctx, userID, workspaceID, roles.WorkspaceEditor)
}

// CanManageProject reports whether the user administers the workspace.
func (e *Evaluator) CanManageProject(ctx context.Context, userID, workspaceID int64) (bool, error) {
	return e.can(ctx, userID, workspaceID, roles.WorkspaceAdmin)
}

// CanAccessWorkspace is CanAccessProject for a workspace the caller
// already loaded, such as a row of a listing.
func (e *Evaluator) CanAccessWorkspace(ctx context.Context, userID int64, ws *model.Workspace) (bool, error) {
	res, err := e.ResolveWorkspace(ctx, userID, ws)
	return allowed(userID, res, err, roles.WorkspaceViewer)
}

// can answers without auditing or counting a decision: a false here is a
// visibility test, not a refused request. Storage failures are still
// returned.
func (e *Evaluator) can(ctx context.Context, userID, workspaceID int64, required roles.WorkspaceRole) (bool, error) {
	res, err := e.Resolve(ctx, userID, workspaceID)
	return allowed(userID, res, err, required)
}

func allowed(userID int64, res *Resolution, err error, required roles.WorkspaceRole) (bool, error) {
	if err != nil {
		if IsAccessError(err) {
			return false, nil
		}
		return false, err
	}
	return decide(userID, res, required) == nil, nil
}

// OrganizationRole returns the user's organization role, nil for
// non-members and anonymous callers.
func (e *Evaluator) OrganizationRole(ctx context.Context, userID, organizationID int64) (*roles.OrganizationRole, error) {
	if userID == Anonymous {
		return nil, nil
	}
	m, err := e.store.GetOrganizationMembership(ctx, organizationID, userID)
	if err != nil || m == nil {
		return nil, err
	}
	role := m.Role
	return &role, nil
}

// TeamRole returns the user's team role, nil for non-members and anonymous
// callers.
func (e *Evaluator) TeamRole(ctx context.Context, userID, teamID int64) (*roles.TeamRole, error) {
	if userID == Anonymous {
		return nil, nil
	}
	m, err := e.store.GetTeamMembership(ctx, teamID, userID)
	if err != nil || m == nil {
		return nil, err
	}
	role := m.Role
	return &role, nil
}

// IsOrganizationAdmin reports whether the user is an admin or owner of the
// organization.
func (e *Evaluator) IsOrganizationAdmin(ctx context.Context, userID, organizationID int64) (bool, error) {
	role, err := e.OrganizationRole(ctx, userID, organizationID)
	if err != nil {
		return false, err
	}
	return roles.Sufficient(role, roles.OrganizationAdmin), nil
}

// IsTeamLead reports whether the user leads the team.
func (e *Evaluator) IsTeamLead(ctx context.Context, userID, teamID int64) (bool, error) {
	role, err := e.TeamRole(ctx, userID, teamID)
	if err != nil {
		return false, err
	}
	return roles.Sufficient(role, roles.TeamLead), nil
}

// AssertOrganizationRole fails unless the user holds at least required in
// the organization.
func (e *Evaluator) AssertOrganizationRole(ctx context.Context, userID, organizationID int64, required roles.OrganizationRole) error {
	if userID == Anonymous {
		e.metrics.RecordAccessDecision("unauthenticated", "org_"+required.String())
		return Unauthenticated()
	}
	role, err := e.OrganizationRole(ctx, userID, organizationID)
	if err != nil {
		return err
	}
	if !roles.Sufficient(role, required) {
		e.metrics.RecordAccessDecision("forbidden", "org_"+required.String())
		e.auditDenied(ctx, userID, audit.ResourceTypeOrganization, organizationID, required)
		return Forbidden(required)
	}
	e.metrics.RecordAccessDecision("granted", "org_"+required.String())
	return nil
}

// CanManageTeam reports whether the user leads the team or administers its
// organization. An unknown team is NotFound.
func (e *Evaluator) CanManageTeam(ctx context.Context, userID, teamID int64) (bool, error) {
	_, ok, err := e.canManageTeam(ctx, userID, teamID)
	return ok, err
}

// AssertCanManageTeam is the failing form of CanManageTeam. It returns the
// team on success.
func (e *Evaluator) AssertCanManageTeam(ctx context.Context, userID, teamID int64) (*model.Team, error) {
	if userID == Anonymous {
		return nil, Unauthenticated()
	}
	team, ok, err := e.canManageTeam(ctx, userID, teamID)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metrics.RecordAccessDecision("forbidden", "team_"+roles.TeamLead.String())
		e.auditDenied(ctx, userID, audit.ResourceTypeTeam, teamID, roles.TeamLead)
		return nil, Forbidden(roles.TeamLead)
	}
	e.metrics.RecordAccessDecision("granted", "team_"+roles.TeamLead.String())
	return team, nil
}

func (e *Evaluator) canManageTeam(ctx context.Context, userID, teamID int64) (*model.Team, bool, error) {
	team, err := e.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, false, err
	}
	if team == nil {
		return nil, false, NotFound("team", teamID)
	}

	lead, err := e.IsTeamLead(ctx, userID, teamID)
	if err != nil || lead {
		return team, lead, err
	}
	admin, err := e.IsOrganizationAdmin(ctx, userID, team.OrganizationID)
	return team, admin, err
}

func (e *Evaluator) recordDecision(span trace.Span, err error, required roles.WorkspaceRole) {
	result := "granted"
	switch KindOf(err) {
	case "":
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	case KindUnauthenticated:
		result = "unauthenticated"
	case KindForbidden:
		result = "forbidden"
	case KindNotFound:
		result = "not_found"
	}
	span.SetAttributes(attribute.String("access.result", result))
	e.metrics.RecordAccessDecision(result, required.String())
}

func (e *Evaluator) auditDenied(ctx context.Context, userID int64, resource audit.ResourceType, resourceID int64, required fmt.Stringer) {
	logger := audit.FromContext(ctx)
	id := strconv.FormatInt(resourceID, 10)
	message := "access denied: requires " + required.String()
	e.tracker.Go(ctx, "audit access denied", func(ctx context.Context) error {
		return logger.LogAuthorization(ctx, audit.EventTypeAuthzAccessDenied, &userID, resource, id, audit.EventStatusDenied, message)
	})
}

// resolver walks the grant paths for one (user, workspace) pair. The
// organization membership is read at most once.
type resolver struct {
	store  RoleStore
	userID int64
	ws     *model.Workspace

	orgLoaded     bool
	orgMembership *model.OrganizationMembership
}

func (r *resolver) effectiveRole(ctx context.Context) (*roles.WorkspaceRole, Grant, error) {
	ws := r.ws
	if r.userID == Anonymous {
		if ws.IsPublic {
			return roles.Ptr(roles.WorkspaceViewer), GrantPublic, nil
		}
		return nil, GrantNone, nil
	}

	if ws.IsOwner(r.userID) {
		return roles.Ptr(roles.WorkspaceAdmin), GrantOwner, nil
	}

	membership, err := r.store.GetWorkspaceMembership(ctx, ws.ID, r.userID)
	if err != nil {
		return nil, GrantNone, err
	}
	if membership != nil && membership.Role == roles.WorkspaceAdmin {
		return roles.Ptr(roles.WorkspaceAdmin), GrantMembership, nil
	}

	// Administrative overrides apply on top of a lesser membership.
	grant, err := r.administrativeOverride(ctx)
	if err != nil {
		return nil, GrantNone, err
	}
	if grant != GrantNone {
		return roles.Ptr(roles.WorkspaceAdmin), grant, nil
	}
	if membership != nil {
		return roles.Ptr(membership.Role), GrantMembership, nil
	}

	if ws.IsCompanyPublic {
		org, err := r.organizationMembership(ctx)
		if err != nil {
			return nil, GrantNone, err
		}
		if org != nil {
			return roles.Ptr(roles.WorkspaceViewer), GrantCompanyPublic, nil
		}
	}

	if len(ws.SharedWithTeamIDs) > 0 {
		shared, err := r.store.IsMemberOfAnyTeam(ctx, r.userID, ws.SharedWithTeamIDs)
		if err != nil {
			return nil, GrantNone, err
		}
		if shared {
			return roles.Ptr(roles.WorkspaceViewer), GrantSharedTeam, nil
		}
	}

	if ws.IsPublic {
		return roles.Ptr(roles.WorkspaceViewer), GrantPublic, nil
	}
	return nil, GrantNone, nil
}

// administrativeOverride checks the organization admin and owning team lead
// paths.
func (r *resolver) administrativeOverride(ctx context.Context) (Grant, error) {
	org, err := r.organizationMembership(ctx)
	if err != nil {
		return GrantNone, err
	}
	if org != nil && roles.Sufficient(&org.Role, roles.OrganizationAdmin) {
		return GrantOrganizationAdmin, nil
	}

	if r.ws.OwnedByTeam() {
		team, err := r.store.GetTeamMembership(ctx, *r.ws.TeamID, r.userID)
		if err != nil {
			return GrantNone, err
		}
		if team != nil && team.Role == roles.TeamLead {
			return GrantTeamLead, nil
		}
	}
	return GrantNone, nil
}

func (r *resolver) organizationMembership(ctx context.Context) (*model.OrganizationMembership, error) {
	if r.orgLoaded {
		return r.orgMembership, nil
	}
	m, err := r.store.GetOrganizationMembership(ctx, r.ws.OrganizationID, r.userID)
	if err != nil {
		return nil, err
	}
	r.orgLoaded = true
	r.orgMembership = m
	return m, nil
}
