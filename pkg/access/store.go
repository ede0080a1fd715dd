package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/trellis/pkg/model"
	"github.com/platinummonkey/trellis/pkg/roles"
	"github.com/platinummonkey/trellis/pkg/softdelete"
)

// RoleStore reads membership and role records for one scope at a time. It
// carries no policy: a missing record is (nil, nil), never an error.
type RoleStore interface {
	// GetWorkspace returns the workspace whether or not it is soft-deleted.
	GetWorkspace(ctx context.Context, workspaceID int64) (*model.Workspace, error)
	GetTeam(ctx context.Context, teamID int64) (*model.Team, error)
	GetWorkspaceMembership(ctx context.Context, workspaceID, userID int64) (*model.WorkspaceMembership, error)
	GetOrganizationMembership(ctx context.Context, organizationID, userID int64) (*model.OrganizationMembership, error)
	GetTeamMembership(ctx context.Context, teamID, userID int64) (*model.TeamMembership, error)
	IsMemberOfAnyTeam(ctx context.Context, userID int64, teamIDs []int64) (bool, error)
}

// Store is the SQL implementation of RoleStore and MembershipStore.
type Store struct {
	db *sql.DB
}

// NewStore creates a new store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const workspaceColumns = `id, project_key, name, organization_id, team_id, owner_id, created_by,
	is_public, is_company_public, workflow_states, created_at, updated_at, deleted_at, deleted_by`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkspace(row scanner) (*model.Workspace, error) {
	var (
		ws        model.Workspace
		teamID    sql.NullInt64
		ownerID   sql.NullInt64
		deletedAt sql.NullTime
		deletedBy sql.NullInt64
	)
	err := row.Scan(
		&ws.ID, &ws.Key, &ws.Name, &ws.OrganizationID, &teamID, &ownerID, &ws.CreatedBy,
		&ws.IsPublic, &ws.IsCompanyPublic, &ws.WorkflowStates, &ws.CreatedAt, &ws.UpdatedAt,
		&deletedAt, &deletedBy,
	)
	if err != nil {
		return nil, err
	}
	ws.TeamID = nullInt64Ptr(teamID)
	ws.OwnerID = nullInt64Ptr(ownerID)
	ws.DeletedBy = nullInt64Ptr(deletedBy)
	if deletedAt.Valid {
		t := deletedAt.Time
		ws.DeletedAt = &t
	}
	return &ws, nil
}

// GetWorkspace retrieves a workspace and its share list.
func (s *Store) GetWorkspace(ctx context.Context, workspaceID int64) (*model.Workspace, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE id = $1`, workspaceID)
	ws, err := scanWorkspace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}

	if err := s.attachSharedTeams(ctx, []*model.Workspace{ws}); err != nil {
		return nil, err
	}
	return ws, nil
}

// attachSharedTeams fills SharedWithTeamIDs for every workspace with one
// query.
func (s *Store) attachSharedTeams(ctx context.Context, workspaces []*model.Workspace) error {
	if len(workspaces) == 0 {
		return nil
	}

	byID := make(map[int64]*model.Workspace, len(workspaces))
	args := make([]interface{}, 0, len(workspaces))
	for _, ws := range workspaces {
		byID[ws.ID] = ws
		args = append(args, ws.ID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT workspace_id, team_id FROM workspace_shared_teams
		WHERE workspace_id IN (`+Placeholders(1, len(args))+`)
		ORDER BY workspace_id, team_id`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to list shared teams: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var workspaceID, teamID int64
		if err := rows.Scan(&workspaceID, &teamID); err != nil {
			return fmt.Errorf("failed to scan shared team: %w", err)
		}
		if ws, ok := byID[workspaceID]; ok {
			ws.SharedWithTeamIDs = append(ws.SharedWithTeamIDs, teamID)
		}
	}
	return rows.Err()
}

// GetTeam retrieves a team by ID.
func (s *Store) GetTeam(ctx context.Context, teamID int64) (*model.Team, error) {
	var team model.Team
	err := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, name, created_by, created_at FROM teams WHERE id = $1`,
		teamID,
	).Scan(&team.ID, &team.OrganizationID, &team.Name, &team.CreatedBy, &team.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	return &team, nil
}

// GetWorkspaceMembership retrieves the user's explicit workspace membership.
func (s *Store) GetWorkspaceMembership(ctx context.Context, workspaceID, userID int64) (*model.WorkspaceMembership, error) {
	var (
		m       model.WorkspaceMembership
		addedBy sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT workspace_id, user_id, role, added_by, added_at
		FROM workspace_members
		WHERE workspace_id = $1 AND user_id = $2`,
		workspaceID, userID,
	).Scan(&m.WorkspaceID, &m.UserID, &m.Role, &addedBy, &m.AddedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace membership: %w", err)
	}
	m.AddedBy = nullInt64Ptr(addedBy)
	return &m, nil
}

// GetOrganizationMembership retrieves the user's organization membership.
func (s *Store) GetOrganizationMembership(ctx context.Context, organizationID, userID int64) (*model.OrganizationMembership, error) {
	var (
		m       model.OrganizationMembership
		addedBy sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT organization_id, user_id, role, added_by, added_at
		FROM organization_members
		WHERE organization_id = $1 AND user_id = $2`,
		organizationID, userID,
	).Scan(&m.OrganizationID, &m.UserID, &m.Role, &addedBy, &m.AddedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization membership: %w", err)
	}
	m.AddedBy = nullInt64Ptr(addedBy)
	return &m, nil
}

// GetTeamMembership retrieves the user's team membership.
func (s *Store) GetTeamMembership(ctx context.Context, teamID, userID int64) (*model.TeamMembership, error) {
	var (
		m       model.TeamMembership
		addedBy sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT team_id, user_id, role, added_by, added_at
		FROM team_members
		WHERE team_id = $1 AND user_id = $2`,
		teamID, userID,
	).Scan(&m.TeamID, &m.UserID, &m.Role, &addedBy, &m.AddedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team membership: %w", err)
	}
	m.AddedBy = nullInt64Ptr(addedBy)
	return &m, nil
}

// IsMemberOfAnyTeam reports whether the user belongs to at least one of
// teamIDs, in a single query.
func (s *Store) IsMemberOfAnyTeam(ctx context.Context, userID int64, teamIDs []int64) (bool, error) {
	if len(teamIDs) == 0 {
		return false, nil
	}

	args := make([]interface{}, 0, len(teamIDs)+1)
	args = append(args, userID)
	for _, id := range teamIDs {
		args = append(args, id)
	}

	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM team_members WHERE user_id = $1 AND team_id IN (`+Placeholders(2, len(teamIDs))+`) LIMIT 1`,
		args...,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check team membership: %w", err)
	}
	return true, nil
}

// ListWorkspacesForUser lists the live workspaces on which the user holds
// a role through ownership, membership, an organization admin or owning
// team lead override, company-wide sharing or a shared team. Workspaces
// reachable only because they are public are left out.
func (s *Store) ListWorkspacesForUser(ctx context.Context, userID int64) ([]*model.Workspace, error) {
	return s.listWorkspaces(ctx,
		`SELECT `+prefixed("w", workspaceColumns)+`
		FROM workspaces w
		WHERE `+softdelete.LiveClause("w")+`
		  AND (w.created_by = $1 OR w.owner_id = $1
		    OR EXISTS (SELECT 1 FROM workspace_members m
		        WHERE m.workspace_id = w.id AND m.user_id = $1)
		    OR EXISTS (SELECT 1 FROM organization_members o
		        WHERE o.organization_id = w.organization_id AND o.user_id = $1
		          AND (o.role IN ($2, $3) OR w.is_company_public))
		    OR EXISTS (SELECT 1 FROM team_members t
		        WHERE t.team_id = w.team_id AND t.user_id = $1 AND t.role = $4)
		    OR EXISTS (SELECT 1 FROM workspace_shared_teams st
		        JOIN team_members t ON t.team_id = st.team_id
		        WHERE st.workspace_id = w.id AND t.user_id = $1))
		ORDER BY w.name ASC`,
		userID, roles.OrganizationAdmin.String(), roles.OrganizationOwner.String(), roles.TeamLead.String(),
	)
}

// ListOrganizationWorkspaces lists the live workspaces of an organization.
// Callers filter the result through the Evaluator.
func (s *Store) ListOrganizationWorkspaces(ctx context.Context, organizationID int64) ([]*model.Workspace, error) {
	return s.listWorkspaces(ctx,
		`SELECT `+prefixed("w", workspaceColumns)+`
		FROM workspaces w
		WHERE w.organization_id = $1 AND `+softdelete.LiveClause("w")+`
		ORDER BY w.name ASC`,
		organizationID,
	)
}

// ListDeletedWorkspaces lists the trash of workspaces owned or created by
// the user.
func (s *Store) ListDeletedWorkspaces(ctx context.Context, userID int64) ([]*model.Workspace, error) {
	return s.listWorkspaces(ctx,
		`SELECT `+prefixed("w", workspaceColumns)+`
		FROM workspaces w
		WHERE `+softdelete.DeletedClause("w")+`
		  AND (w.created_by = $1 OR w.owner_id = $1)
		ORDER BY w.deleted_at DESC`,
		userID,
	)
}

// WorkspacesByIDs returns the live workspaces among ids. Missing and
// soft-deleted workspaces are absent from the map.
func (s *Store) WorkspacesByIDs(ctx context.Context, ids []int64) (map[int64]*model.Workspace, error) {
	out := make(map[int64]*model.Workspace, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	list, err := s.listWorkspaces(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces
		WHERE id IN (`+Placeholders(1, len(ids))+`) AND `+softdelete.LiveClause(""),
		args...,
	)
	if err != nil {
		return nil, err
	}
	for _, ws := range list {
		out[ws.ID] = ws
	}
	return out, nil
}

func (s *Store) listWorkspaces(ctx context.Context, query string, args ...interface{}) ([]*model.Workspace, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var out []*model.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		out = append(out, ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workspaces: %w", err)
	}

	if err := s.attachSharedTeams(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Placeholders renders n positional parameters starting at $start.
func Placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

func prefixed(alias, columns string) string {
	fields := strings.Split(columns, ",")
	for i, f := range fields {
		fields[i] = alias + "." + strings.TrimSpace(f)
	}
	return strings.Join(fields, ", ")
}

func nullInt64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
