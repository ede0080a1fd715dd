package roles

import (
	"database/sql/driver"
	"fmt"
)

// Scope identifies a level of the resource hierarchy. Each scope has its
// own role enum and its roles are never compared with another scope's.
type Scope string

const (
	ScopeWorkspace    Scope = "workspace"
	ScopeOrganization Scope = "organization"
	ScopeTeam         Scope = "team"
)

// rankTables holds the total order of every scope. A role missing from its
// table has rank 0 and is never sufficient.
var rankTables = map[Scope]map[string]int{
	ScopeWorkspace: {
		string(WorkspaceViewer): 1,
		string(WorkspaceEditor): 2,
		string(WorkspaceAdmin):  3,
	},
	ScopeOrganization: {
		string(OrganizationMember): 1,
		string(OrganizationAdmin):  2,
		string(OrganizationOwner):  3,
	},
	ScopeTeam: {
		string(TeamMember): 1,
		string(TeamLead):   2,
	},
}

// Role is the closed set of per-scope role types.
type Role interface {
	WorkspaceRole | OrganizationRole | TeamRole
	Scope() Scope
	Rank() int
	String() string
}

// WorkspaceRole is a role on a workspace/project.
type WorkspaceRole string

const (
	WorkspaceViewer WorkspaceRole = "viewer"
	WorkspaceEditor WorkspaceRole = "editor"
	WorkspaceAdmin  WorkspaceRole = "admin"
)

// OrganizationRole is a role on an organization.
type OrganizationRole string

const (
	OrganizationMember OrganizationRole = "member"
	OrganizationAdmin  OrganizationRole = "admin"
	OrganizationOwner  OrganizationRole = "owner"
)

// TeamRole is a role on a team.
type TeamRole string

const (
	TeamMember TeamRole = "member"
	TeamLead   TeamRole = "lead"
)

func (r WorkspaceRole) Scope() Scope { return ScopeWorkspace }

func (r WorkspaceRole) Rank() int { return rankTables[ScopeWorkspace][string(r)] }

func (r WorkspaceRole) String() string { return string(r) }

// Valid reports whether r is a member of the enum.
func (r WorkspaceRole) Valid() bool { return r.Rank() > 0 }

func (r OrganizationRole) Scope() Scope { return ScopeOrganization }

func (r OrganizationRole) Rank() int { return rankTables[ScopeOrganization][string(r)] }

func (r OrganizationRole) String() string { return string(r) }

// Valid reports whether r is a member of the enum.
func (r OrganizationRole) Valid() bool { return r.Rank() > 0 }

func (r TeamRole) Scope() Scope { return ScopeTeam }

func (r TeamRole) Rank() int { return rankTables[ScopeTeam][string(r)] }

func (r TeamRole) String() string { return string(r) }

// Valid reports whether r is a member of the enum.
func (r TeamRole) Valid() bool { return r.Rank() > 0 }

// Sufficient reports whether have meets required. A nil role (no membership)
// is never sufficient.
func Sufficient[R Role](have *R, required R) bool {
	if have == nil {
		return false
	}
	rank, requiredRank := (*have).Rank(), required.Rank()
	return rank > 0 && requiredRank > 0 && rank >= requiredRank
}

// SufficientRole is the untyped form of Sufficient for callers holding raw
// role strings. Unknown scopes or roles are never sufficient.
func SufficientRole(scope Scope, have *string, required string) bool {
	if have == nil {
		return false
	}
	table, ok := rankTables[scope]
	if !ok {
		return false
	}
	haveRank, requiredRank := table[*have], table[required]
	return haveRank > 0 && requiredRank > 0 && haveRank >= requiredRank
}

// Ptr returns a pointer to r, for building nullable roles inline.
func Ptr[R Role](r R) *R {
	return &r
}

// ParseWorkspaceRole validates s against the workspace enum.
func ParseWorkspaceRole(s string) (WorkspaceRole, error) {
	r := WorkspaceRole(s)
	if !r.Valid() {
		return "", &InvalidRoleError{Scope: ScopeWorkspace, Value: s}
	}
	return r, nil
}

// ParseOrganizationRole validates s against the organization enum.
func ParseOrganizationRole(s string) (OrganizationRole, error) {
	r := OrganizationRole(s)
	if !r.Valid() {
		return "", &InvalidRoleError{Scope: ScopeOrganization, Value: s}
	}
	return r, nil
}

// ParseTeamRole validates s against the team enum.
func ParseTeamRole(s string) (TeamRole, error) {
	r := TeamRole(s)
	if !r.Valid() {
		return "", &InvalidRoleError{Scope: ScopeTeam, Value: s}
	}
	return r, nil
}

// InvalidRoleError is returned when a value is outside its scope's enum.
type InvalidRoleError struct {
	Scope Scope
	Value string
}

func (e *InvalidRoleError) Error() string {
	return fmt.Sprintf("invalid %s role %q", e.Scope, e.Value)
}

// UnmarshalText rejects roles outside the enum, so JSON bodies carrying an
// unknown role fail to decode.
func (r *WorkspaceRole) UnmarshalText(text []byte) error {
	parsed, err := ParseWorkspaceRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r *OrganizationRole) UnmarshalText(text []byte) error {
	parsed, err := ParseOrganizationRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r *TeamRole) UnmarshalText(text []byte) error {
	parsed, err := ParseTeamRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Scan implements sql.Scanner.
func (r *WorkspaceRole) Scan(src interface{}) error {
	return scanRole(src, ParseWorkspaceRole, r)
}

// Value implements driver.Valuer.
func (r WorkspaceRole) Value() (driver.Value, error) {
	return valueRole(r)
}

// Scan implements sql.Scanner.
func (r *OrganizationRole) Scan(src interface{}) error {
	return scanRole(src, ParseOrganizationRole, r)
}

// Value implements driver.Valuer.
func (r OrganizationRole) Value() (driver.Value, error) {
	return valueRole(r)
}

// Scan implements sql.Scanner.
func (r *TeamRole) Scan(src interface{}) error {
	return scanRole(src, ParseTeamRole, r)
}

// Value implements driver.Valuer.
func (r TeamRole) Value() (driver.Value, error) {
	return valueRole(r)
}

func scanRole[R Role](src interface{}, parse func(string) (R, error), dest *R) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	case nil:
		return fmt.Errorf("cannot scan NULL into role")
	default:
		return fmt.Errorf("cannot scan %T into role", src)
	}
	parsed, err := parse(raw)
	if err != nil {
		return err
	}
	*dest = parsed
	return nil
}

func valueRole[R Role](r R) (driver.Value, error) {
	if r.Rank() == 0 {
		return nil, &InvalidRoleError{Scope: r.Scope(), Value: r.String()}
	}
	return r.String(), nil
}
