package access

import (
	"context"

	"github.com/platinummonkey/trellis/pkg/contextkeys"
	"github.com/platinummonkey/trellis/pkg/model"
	"github.com/platinummonkey/trellis/pkg/roles"
)

// Session is the request-scoped caller: who is asking and the evaluator
// that answers. It is passed explicitly or through the request context,
// never held globally.
type Session struct {
	userID    int64
	evaluator *Evaluator
}

// NewSession creates a session for an authenticated user.
func NewSession(userID int64, evaluator *Evaluator) *Session {
	return &Session{userID: userID, evaluator: evaluator}
}

// AnonymousSession creates a session without an identity. It can only
// reach public workspaces.
func AnonymousSession(evaluator *Evaluator) *Session {
	return &Session{userID: Anonymous, evaluator: evaluator}
}

// UserID returns the caller's id, Anonymous when unauthenticated.
func (s *Session) UserID() int64 {
	return s.userID
}

// Authenticated reports whether the caller presented an identity.
func (s *Session) Authenticated() bool {
	return s.userID != Anonymous
}

// Evaluator returns the session's evaluator.
func (s *Session) Evaluator() *Evaluator {
	return s.evaluator
}

// RequireUser fails with Unauthenticated for anonymous sessions.
func (s *Session) RequireUser() error {
	if !s.Authenticated() {
		return Unauthenticated()
	}
	return nil
}

func (s *Session) EffectiveRole(ctx context.Context, workspaceID int64) (*roles.WorkspaceRole, error) {
	return s.evaluator.EffectiveRole(ctx, s.userID, workspaceID)
}

func (s *Session) AssertMinimumRole(ctx context.Context, workspaceID int64, required roles.WorkspaceRole) (*Resolution, error) {
	return s.evaluator.AssertMinimumRole(ctx, s.userID, workspaceID, required)
}

func (s *Session) CanAccessProject(ctx context.Context, workspaceID int64) (bool, error) {
	return s.evaluator.CanAccessProject(ctx, s.userID, workspaceID)
}

func (s *Session) CanAccessWorkspace(ctx context.Context, ws *model.Workspace) (bool, error) {
	return s.evaluator.CanAccessWorkspace(ctx, s.userID, ws)
}

func (s *Session) CanEditProject(ctx context.Context, workspaceID int64) (bool, error) {
	return s.evaluator.CanEditProject(ctx, s.userID, workspaceID)
}

func (s *Session) CanManageProject(ctx context.Context, workspaceID int64) (bool, error) {
	return s.evaluator.CanManageProject(ctx, s.userID, workspaceID)
}

func (s *Session) OrganizationRole(ctx context.Context, organizationID int64) (*roles.OrganizationRole, error) {
	return s.evaluator.OrganizationRole(ctx, s.userID, organizationID)
}

func (s *Session) TeamRole(ctx context.Context, teamID int64) (*roles.TeamRole, error) {
	return s.evaluator.TeamRole(ctx, s.userID, teamID)
}

// WithSession stores the session in ctx along with the user id used by the
// request logger.
func WithSession(ctx context.Context, s *Session) context.Context {
	ctx = contextkeys.WithSession(ctx, s)
	if s.Authenticated() {
		ctx = contextkeys.WithUserID(ctx, s.userID)
	}
	return ctx
}

// SessionFromContext returns the session set by the auth middleware.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextkeys.SessionKey).(*Session)
	return s, ok && s != nil
}
