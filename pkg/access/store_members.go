package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/trellis/pkg/model"
	"github.com/platinummonkey/trellis/pkg/roles"
)

// MembershipStore writes membership rows and workspace lifecycle state.
// Only the Memberships service calls it, after the access check.
type MembershipStore interface {
	RoleStore

	WorkspaceKeyExists(ctx context.Context, key string) (bool, error)
	CreateWorkspace(ctx context.Context, ws *model.Workspace) error
	UpdateWorkspaceVisibility(ctx context.Context, workspaceID int64, v Visibility) error
	SoftDeleteWorkspace(ctx context.Context, workspaceID, deletedBy int64, at time.Time) (*DeletedWorkspace, error)

	InsertWorkspaceMember(ctx context.Context, workspaceID, userID int64, role roles.WorkspaceRole, addedBy int64) error
	UpdateWorkspaceMemberRole(ctx context.Context, workspaceID, userID int64, role roles.WorkspaceRole) error
	DeleteWorkspaceMember(ctx context.Context, workspaceID, userID int64) error

	InsertOrganizationMember(ctx context.Context, organizationID, userID int64, role roles.OrganizationRole, addedBy int64) error
	UpdateOrganizationMemberRole(ctx context.Context, organizationID, userID int64, role roles.OrganizationRole) error
	DeleteOrganizationMember(ctx context.Context, organizationID, userID int64) error

	InsertTeamMember(ctx context.Context, teamID, userID int64, role roles.TeamRole, addedBy int64) error
	UpdateTeamMemberRole(ctx context.Context, teamID, userID int64, role roles.TeamRole) error
	DeleteTeamMember(ctx context.Context, teamID, userID int64) error
}

// Visibility holds the sharing flags of a workspace.
type Visibility struct {
	IsPublic          bool    `json:"is_public"`
	IsCompanyPublic   bool    `json:"is_company_public"`
	SharedWithTeamIDs []int64 `json:"shared_with_team_ids"`
}

type membershipTable struct {
	table    string
	scope    string
	resource string
}

var (
	workspaceMembers    = membershipTable{table: "workspace_members", scope: "workspace_id", resource: "workspace membership"}
	organizationMembers = membershipTable{table: "organization_members", scope: "organization_id", resource: "organization membership"}
	teamMembers         = membershipTable{table: "team_members", scope: "team_id", resource: "team membership"}
)

// CreateWorkspace inserts the workspace, its share list and the creator's
// admin membership in one transaction. ws.ID is set on success.
func (s *Store) CreateWorkspace(ctx context.Context, ws *model.Workspace) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := nowUTC()
	if ws.WorkflowStates == nil {
		ws.WorkflowStates = model.DefaultWorkflow()
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO workspaces (project_key, name, organization_id, team_id, owner_id, created_by,
			is_public, is_company_public, workflow_states, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING id`,
		ws.Key, ws.Name, ws.OrganizationID, ws.TeamID, ws.OwnerID, ws.CreatedBy,
		ws.IsPublic, ws.IsCompanyPublic, ws.WorkflowStates, now,
	).Scan(&ws.ID)
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	if err := insertSharedTeams(ctx, tx, ws.ID, ws.SharedWithTeamIDs); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workspace_members (workspace_id, user_id, role, added_by, added_at)
		VALUES ($1, $2, $3, $2, $4)`,
		ws.ID, ws.CreatedBy, roles.WorkspaceAdmin, now,
	)
	if err != nil {
		return fmt.Errorf("failed to add creator membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit workspace: %w", err)
	}

	ws.CreatedAt = now
	ws.UpdatedAt = now
	return nil
}

// UpdateWorkspaceVisibility replaces the sharing flags and share list.
func (s *Store) UpdateWorkspaceVisibility(ctx context.Context, workspaceID int64, v Visibility) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE workspaces SET is_public = $1, is_company_public = $2, updated_at = $3
		WHERE id = $4 AND deleted_at IS NULL`,
		v.IsPublic, v.IsCompanyPublic, nowUTC(), workspaceID,
	)
	if err != nil {
		return fmt.Errorf("failed to update workspace visibility: %w", err)
	}
	if err := expectRow(result, NotFound("workspace", workspaceID)); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM workspace_shared_teams WHERE workspace_id = $1`, workspaceID); err != nil {
		return fmt.Errorf("failed to clear shared teams: %w", err)
	}
	if err := insertSharedTeams(ctx, tx, workspaceID, v.SharedWithTeamIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit visibility: %w", err)
	}
	return nil
}

func insertSharedTeams(ctx context.Context, tx *sql.Tx, workspaceID int64, teamIDs []int64) error {
	seen := make(map[int64]struct{}, len(teamIDs))
	for _, teamID := range teamIDs {
		if _, dup := seen[teamID]; dup {
			continue
		}
		seen[teamID] = struct{}{}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO workspace_shared_teams (workspace_id, team_id) VALUES ($1, $2)`,
			workspaceID, teamID,
		)
		if err != nil {
			return fmt.Errorf("failed to share workspace with team %d: %w", teamID, err)
		}
	}
	return nil
}

// WorkspaceKeyExists reports whether any workspace, live or deleted, uses
// key.
func (s *Store) WorkspaceKeyExists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM workspaces WHERE project_key = $1`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check workspace key: %w", err)
	}
	return true, nil
}

// DeletedWorkspace names the rows stamped by one workspace delete.
type DeletedWorkspace struct {
	WorkspaceID int64
	IssueIDs    []int64
	SprintIDs   []int64
}

// SoftDeleteWorkspace stamps the deletion marker on the workspace and its
// live issues and sprints with one timestamp. The marker is written only
// while it is unset, so a second delete reports NotFound and the original
// timestamp is kept.
func (s *Store) SoftDeleteWorkspace(ctx context.Context, workspaceID, deletedBy int64, at time.Time) (*DeletedWorkspace, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE workspaces SET deleted_at = $1, deleted_by = $2, updated_at = $1
		WHERE id = $3 AND deleted_at IS NULL`,
		at, deletedBy, workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to delete workspace: %w", err)
	}
	if err := expectRow(result, NotFound("workspace", workspaceID)); err != nil {
		return nil, err
	}

	deleted := &DeletedWorkspace{WorkspaceID: workspaceID}
	if deleted.IssueIDs, err = stampChildren(ctx, tx, "issues", workspaceID, deletedBy, at); err != nil {
		return nil, err
	}
	if deleted.SprintIDs, err = stampChildren(ctx, tx, "sprints", workspaceID, deletedBy, at); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delete: %w", err)
	}
	return deleted, nil
}

// stampChildren marks the live rows of table in the workspace deleted and
// returns their ids.
func stampChildren(ctx context.Context, tx *sql.Tx, table string, workspaceID, deletedBy int64, at time.Time) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		UPDATE %s SET deleted_at = $1, deleted_by = $2
		WHERE workspace_id = $3 AND deleted_at IS NULL
		RETURNING id`, table),
		at, deletedBy, workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to cascade delete to %s: %w", table, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s id: %w", table, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to cascade delete to %s: %w", table, err)
	}
	return ids, nil
}

func (s *Store) InsertWorkspaceMember(ctx context.Context, workspaceID, userID int64, role roles.WorkspaceRole, addedBy int64) error {
	return s.insertMember(ctx, workspaceMembers, workspaceID, userID, role, addedBy)
}

func (s *Store) UpdateWorkspaceMemberRole(ctx context.Context, workspaceID, userID int64, role roles.WorkspaceRole) error {
	return s.updateMemberRole(ctx, workspaceMembers, workspaceID, userID, role)
}

func (s *Store) DeleteWorkspaceMember(ctx context.Context, workspaceID, userID int64) error {
	return s.deleteMember(ctx, workspaceMembers, workspaceID, userID)
}

func (s *Store) InsertOrganizationMember(ctx context.Context, organizationID, userID int64, role roles.OrganizationRole, addedBy int64) error {
	return s.insertMember(ctx, organizationMembers, organizationID, userID, role, addedBy)
}

func (s *Store) UpdateOrganizationMemberRole(ctx context.Context, organizationID, userID int64, role roles.OrganizationRole) error {
	return s.updateMemberRole(ctx, organizationMembers, organizationID, userID, role)
}

func (s *Store) DeleteOrganizationMember(ctx context.Context, organizationID, userID int64) error {
	return s.deleteMember(ctx, organizationMembers, organizationID, userID)
}

func (s *Store) InsertTeamMember(ctx context.Context, teamID, userID int64, role roles.TeamRole, addedBy int64) error {
	return s.insertMember(ctx, teamMembers, teamID, userID, role, addedBy)
}

func (s *Store) UpdateTeamMemberRole(ctx context.Context, teamID, userID int64, role roles.TeamRole) error {
	return s.updateMemberRole(ctx, teamMembers, teamID, userID, role)
}

func (s *Store) DeleteTeamMember(ctx context.Context, teamID, userID int64) error {
	return s.deleteMember(ctx, teamMembers, teamID, userID)
}

// insertMember adds a membership row. An existing row is left untouched and
// reported as Conflict.
func (s *Store) insertMember(ctx context.Context, t membershipTable, scopeID, userID int64, role interface{}, addedBy int64) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, user_id, role, added_by, added_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (%s, user_id) DO NOTHING`,
		t.table, t.scope, t.scope,
	)
	result, err := s.db.ExecContext(ctx, query, scopeID, userID, role, addedBy, nowUTC())
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return expectRow(result, Conflict(t.resource+" already exists"))
}

// updateMemberRole overwrites the role. Concurrent updates are last write
// wins.
func (s *Store) updateMemberRole(ctx context.Context, t membershipTable, scopeID, userID int64, role interface{}) error {
	query := fmt.Sprintf(`UPDATE %s SET role = $1 WHERE %s = $2 AND user_id = $3`, t.table, t.scope)
	result, err := s.db.ExecContext(ctx, query, role, scopeID, userID)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}
	return expectRow(result, NotFound(t.resource, userID))
}

func (s *Store) deleteMember(ctx context.Context, t membershipTable, scopeID, userID int64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND user_id = $2`, t.table, t.scope)
	result, err := s.db.ExecContext(ctx, query, scopeID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return expectRow(result, NotFound(t.resource, userID))
}

// expectRow returns onZero when the statement touched no rows.
func expectRow(result sql.Result, onZero error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return onZero
	}
	return nil
}
