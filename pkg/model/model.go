package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/trellis/pkg/roles"
	"github.com/platinummonkey/trellis/pkg/softdelete"
)

// UnknownUserName is shown for users that cannot be resolved.
const UnknownUserName = "Unknown"

// User is referenced by every membership record.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Image     string    `json:"image,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DisplayName falls back from name to email to UnknownUserName.
func (u *User) DisplayName() string {
	if u == nil {
		return UnknownUserName
	}
	if u.Name != "" {
		return u.Name
	}
	if u.Email != "" {
		return u.Email
	}
	return UnknownUserName
}

// UserSummary is the projection attached to enriched rows.
type UserSummary struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`
}

// Summarize returns nil for a nil user so missing users stay absent.
func (u *User) Summarize() *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{ID: u.ID, Name: u.DisplayName(), Email: u.Email, Image: u.Image}
}

type Organization struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type OrganizationMembership struct {
	OrganizationID int64                  `json:"organization_id"`
	UserID         int64                  `json:"user_id"`
	Role           roles.OrganizationRole `json:"role"`
	AddedBy        *int64                 `json:"added_by,omitempty"`
	AddedAt        time.Time              `json:"added_at"`
}

type Team struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedBy      int64     `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}

type TeamMembership struct {
	TeamID  int64          `json:"team_id"`
	UserID  int64          `json:"user_id"`
	Role    roles.TeamRole `json:"role"`
	AddedBy *int64         `json:"added_by,omitempty"`
	AddedAt time.Time      `json:"added_at"`
}

// Workspace is a project. TeamID and OwnerID identify the owning
// principal; CreatedBy is kept separately because the creator keeps admin
// even after ownership moves to a team.
type Workspace struct {
	ID                int64          `json:"id"`
	Key               string         `json:"key"`
	Name              string         `json:"name"`
	OrganizationID    int64          `json:"organization_id"`
	TeamID            *int64         `json:"team_id,omitempty"`
	OwnerID           *int64         `json:"owner_id,omitempty"`
	CreatedBy         int64          `json:"created_by"`
	IsPublic          bool           `json:"is_public"`
	IsCompanyPublic   bool           `json:"is_company_public"`
	SharedWithTeamIDs []int64        `json:"shared_with_team_ids,omitempty"`
	WorkflowStates    WorkflowStates `json:"workflow_states,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	softdelete.Marker
}

// IsOwner reports whether userID is the workspace owner or its creator.
// That principal cannot be removed or demoted.
func (w *Workspace) IsOwner(userID int64) bool {
	if userID == 0 {
		return false
	}
	return w.CreatedBy == userID || (w.OwnerID != nil && *w.OwnerID == userID)
}

// OwnedByTeam reports whether a team is the owning principal.
func (w *Workspace) OwnedByTeam() bool {
	return w.TeamID != nil
}

// SharedWith reports whether teamID is on the explicit share list.
func (w *Workspace) SharedWith(teamID int64) bool {
	for _, id := range w.SharedWithTeamIDs {
		if id == teamID {
			return true
		}
	}
	return false
}

type WorkspaceMembership struct {
	WorkspaceID int64               `json:"workspace_id"`
	UserID      int64               `json:"user_id"`
	Role        roles.WorkspaceRole `json:"role"`
	AddedBy     *int64              `json:"added_by,omitempty"`
	AddedAt     time.Time           `json:"added_at"`
}

// WorkflowCategory groups workflow states.
type WorkflowCategory string

const (
	CategoryTodo       WorkflowCategory = "todo"
	CategoryInProgress WorkflowCategory = "inprogress"
	CategoryDone       WorkflowCategory = "done"
)

type WorkflowState struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Category WorkflowCategory `json:"category"`
	Order    int              `json:"order"`
}

// WorkflowStates is stored as a JSON column.
type WorkflowStates []WorkflowState

// DefaultWorkflow is assigned to new workspaces.
func DefaultWorkflow() WorkflowStates {
	return WorkflowStates{
		{ID: "todo", Name: "To Do", Category: CategoryTodo, Order: 0},
		{ID: "inprogress", Name: "In Progress", Category: CategoryInProgress, Order: 1},
		{ID: "review", Name: "In Review", Category: CategoryInProgress, Order: 2},
		{ID: "done", Name: "Done", Category: CategoryDone, Order: 3},
	}
}

// Value implements driver.Valuer.
func (s WorkflowStates) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow states: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *WorkflowStates) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into workflow states", src)
	}
	return json.Unmarshal(raw, s)
}

// Issue and its children inherit the access policy of their workspace.
type Issue struct {
	ID          int64     `json:"id"`
	WorkspaceID int64     `json:"workspace_id"`
	Key         string    `json:"key"`
	Title       string    `json:"title"`
	Status      string    `json:"status"`
	AssigneeID  *int64    `json:"assignee_id,omitempty"`
	ReporterID  int64     `json:"reporter_id"`
	SprintID    *int64    `json:"sprint_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	softdelete.Marker
}

type Sprint struct {
	ID          int64      `json:"id"`
	WorkspaceID int64      `json:"workspace_id"`
	Name        string     `json:"name"`
	StartsAt    *time.Time `json:"starts_at,omitempty"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	softdelete.Marker
}
