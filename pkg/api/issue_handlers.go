package api

import (
	"net/http"

	"github.com/platinummonkey/trellis/pkg/httputil"
	"github.com/platinummonkey/trellis/pkg/issues"
)

func (s *Server) listWorkspaceIssues(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r)
	if !ok {
		return
	}
	workspaceID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	views, err := s.issues.ListWorkspaceIssues(r.Context(), sess, workspaceID)
	if err != nil {
		httputil.WriteAccessError(w, r, err)
		return
	}
	if views == nil {
		views = []*issues.View{}
	}
	httputil.WriteSuccess(w, views)
}

func (s *Server) getIssue(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r)
	if !ok {
		return
	}
	issueID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	view, err := s.issues.GetIssue(r.Context(), sess, issueID)
	if err != nil {
		httputil.WriteAccessError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, view)
}
