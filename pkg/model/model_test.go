package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUser_DisplayName(t *testing.T) {
	var nilUser *User
	assert.Equal(t, "Unknown", nilUser.DisplayName())
	assert.Equal(t, "Ada", (&User{Name: "Ada", Email: "ada@example.com"}).DisplayName())
	assert.Equal(t, "ada@example.com", (&User{Email: "ada@example.com"}).DisplayName())
	assert.Equal(t, "Unknown", (&User{}).DisplayName())

	assert.Nil(t, nilUser.Summarize())
	assert.Equal(t, &UserSummary{ID: 3, Name: "bob@example.com", Email: "bob@example.com"},
		(&User{ID: 3, Email: "bob@example.com"}).Summarize())
}

func TestWorkspace_IsOwner(t *testing.T) {
	owner := int64(5)
	ws := &Workspace{CreatedBy: 1, OwnerID: &owner}

	assert.True(t, ws.IsOwner(1), "creator")
	assert.True(t, ws.IsOwner(5), "owner")
	assert.False(t, ws.IsOwner(2))
	assert.False(t, ws.IsOwner(0), "anonymous is never the owner")
}

func TestWorkspace_Sharing(t *testing.T) {
	team := int64(9)
	ws := &Workspace{TeamID: &team, SharedWithTeamIDs: []int64{3, 4}}
	assert.True(t, ws.OwnedByTeam())
	assert.True(t, ws.SharedWith(4))
	assert.False(t, ws.SharedWith(9))
}

func TestWorkflowStates_RoundTrip(t *testing.T) {
	v, err := DefaultWorkflow().Value()
	require.NoError(t, err)

	var states WorkflowStates
	require.NoError(t, states.Scan([]byte(v.(string))))
	assert.Equal(t, DefaultWorkflow(), states)

	require.NoError(t, states.Scan(nil))
	assert.Nil(t, states)
	assert.Error(t, states.Scan(12))

	empty, err := WorkflowStates(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", empty)
}
