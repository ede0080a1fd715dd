package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/trellis/pkg/access"
	"github.com/platinummonkey/trellis/pkg/httputil"
	"github.com/platinummonkey/trellis/pkg/roles"
)

// AddMemberRequest is the body of POST .../members.
type AddMemberRequest[R roles.Role] struct {
	UserID int64 `json:"user_id"`
	Role   R     `json:"role"`
}

// UpdateMemberRequest is the body of PATCH .../members/{userID}.
type UpdateMemberRequest[R roles.Role] struct {
	Role R `json:"role"`
}

// memberOps binds one scope's membership operations.
type memberOps[R roles.Role] struct {
	add    func(ctx context.Context, sess *access.Session, scopeID, userID int64, role R) error
	update func(ctx context.Context, sess *access.Session, scopeID, userID int64, role R) error
	remove func(ctx context.Context, sess *access.Session, scopeID, userID int64) error
}

// registerMemberRoutes mounts POST prefix/{id}/members and
// PATCH|DELETE prefix/{id}/members/{userID}.
func registerMemberRoutes[R roles.Role](router *mux.Router, prefix string, ops memberOps[R]) {
	router.HandleFunc(prefix+"/{id}/members", ops.handleAdd).Methods("POST")
	router.HandleFunc(prefix+"/{id}/members/{userID}", ops.handleUpdate).Methods("PATCH")
	router.HandleFunc(prefix+"/{id}/members/{userID}", ops.handleRemove).Methods("DELETE")
}

func (o memberOps[R]) handleAdd(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r)
	if !ok {
		return
	}
	scopeID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req AddMemberRequest[R]
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		httputil.WriteBadRequest(w, "user_id is required")
		return
	}

	if err := o.add(r.Context(), sess, scopeID, req.UserID, req.Role); err != nil {
		httputil.WriteAccessError(w, r, err)
		return
	}
	httputil.WriteCreated(w, req)
}

func (o memberOps[R]) handleUpdate(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r)
	if !ok {
		return
	}
	scopeID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}

	var req UpdateMemberRequest[R]
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := o.update(r.Context(), sess, scopeID, userID, req.Role); err != nil {
		httputil.WriteAccessError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, AddMemberRequest[R]{UserID: userID, Role: req.Role})
}

func (o memberOps[R]) handleRemove(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r)
	if !ok {
		return
	}
	scopeID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}

	if err := o.remove(r.Context(), sess, scopeID, userID); err != nil {
		httputil.WriteAccessError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
