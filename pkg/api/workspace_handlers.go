package api

import (
	"net/http"
	"strconv"

	"github.com/platinummonkey/trellis/pkg/access"
	"github.com/platinummonkey/trellis/pkg/httputil"
	"github.com/platinummonkey/trellis/pkg/model"
	"github.com/platinummonkey/trellis/pkg/roles"
)

// RoleResponse is the body of GET /workspaces/{id}/role. Role is null when
// the caller has no access.
type RoleResponse struct {
	WorkspaceID int64                `json:"workspace_id"`
	Role        *roles.WorkspaceRole `json:"role"`
}

// listWorkspaces lists the live workspaces the caller holds a role on,
// leaving out those open to the caller only because they are public. With
// organization_id it lists that organization's workspaces filtered through
// the evaluator, public ones included, which also serves anonymous callers.
// With deleted=true it lists the caller's trash.
func (s *Server) listWorkspaces(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r)
	if !ok {
		return
	}

	deleted, err := httputil.ParseQueryBool(r, "deleted", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if orgParam := r.URL.Query().Get("organization_id"); orgParam != "" {
		organizationID, err := strconv.ParseInt(orgParam, 10, 64)
		if err != nil || organizationID <= 0 {
			httputil.WriteBadRequest(w, "invalid organization_id: "+orgParam)
			return
		}
		s.listOrganizationWorkspaces(w, r, sess, organizationID)
		return
	}

	if err := sess.RequireUser(); err != nil {
		httputil.WriteAccessError(w, r, err)
		return
	}

	var workspaces []*model.Workspace
	if deleted {
		workspaces, err = s.store.ListDeletedWorkspaces(r.Context(), sess.UserID())
	} else {
		workspaces, err = s.store.ListWorkspacesForUser(r.Context(), sess.UserID())
	}
	if err != nil {
		httputil.WriteAccessError(w, r, err)
		return
	}
	if workspaces == nil {
		workspaces = []*model.Workspace{}
	}
	httputil.WriteSuccess(w, workspaces)
}

func (s *Server) listOrganizationWorkspaces(w http.ResponseWriter, r *http.Request, sess *access.Session, organizationID int64) {
	all, err := s.store.ListOrganizationWorkspaces(r.Context(), organizationID)
	if err != nil {
		httputil.WriteAccessError(w, r, err)
		return
	}

	visible := make([]*model.Workspace, 0, len(all))
	for _, ws := range all {
		ok, err := sess.CanAccessWorkspace(r.Context(), ws)
		if err != nil {
			httputil.WriteAccessError(w, r, err)
			return
		}
		if ok {
			visible = append(visible, ws)
		}
	}
	httputil.WriteSuccess(w, visible)
}

func (s *Server) createWorkspace(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r)
	if !ok {
		return
	}

	var in access.CreateWorkspaceInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}

	ws, err := s.memberships.CreateWorkspace(r.Context(), sess, in)
	if err != nil {
		httputil.WriteAccessError(w, r, err)
		return
	}
	httputil.WriteCreated(w, ws)
}

func (s *Server) deleteWorkspace(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r)
	if !ok {
		return
	}
	workspaceID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.memberships.SoftDeleteWorkspace(r.Context(), sess, workspaceID); err != nil {
		httputil.WriteAccessError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) updateVisibility(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r)
	if !ok {
		return
	}
	workspaceID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var v access.Visibility
	if !httputil.ParseJSONOrError(w, r, &v) {
		return
	}

	if err := s.memberships.UpdateVisibility(r.Context(), sess, workspaceID, v); err != nil {
		httputil.WriteAccessError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// getEffectiveRole reports the caller's role. A workspace that does not
// exist is 404 even for callers with no role at all.
func (s *Server) getEffectiveRole(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r)
	if !ok {
		return
	}
	workspaceID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := sess.EffectiveRole(r.Context(), workspaceID)
	if err != nil {
		httputil.WriteAccessError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, RoleResponse{WorkspaceID: workspaceID, Role: role})
}
