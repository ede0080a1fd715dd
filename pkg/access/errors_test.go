package access

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/trellis/pkg/roles"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("loading issue: %w", NotFound("workspace", 42))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrForbidden))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, "workspace not found", NotFound("workspace", 42).Error())
}

func TestForbidden_RevealsOnlyRequiredRole(t *testing.T) {
	err := Forbidden(roles.WorkspaceEditor)

	assert.Equal(t, "editor", err.RequiredRole)
	assert.Equal(t, "not authorized", err.Error())
	assert.Empty(t, err.Resource)
	assert.Empty(t, err.ID)
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &Error{Kind: KindValidation, Message: "bad input", Err: cause}

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "bad input: boom", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Unauthenticated(), http.StatusUnauthorized},
		{Forbidden(roles.WorkspaceAdmin), http.StatusForbidden},
		{NotFound("team", 1), http.StatusNotFound},
		{Conflict("dup"), http.StatusConflict},
		{Validation("bad"), http.StatusBadRequest},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "%v", tt.err)
	}
	assert.False(t, IsAccessError(errors.New("db down")))
}
