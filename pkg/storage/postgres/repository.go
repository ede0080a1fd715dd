package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/trellis/pkg/access"
	"github.com/platinummonkey/trellis/pkg/model"
	"github.com/platinummonkey/trellis/pkg/softdelete"
)

// Repository serves the multi-gets behind batch loads and the issue reads.
// Every multi-get is one query over the distinct ids and returns live rows
// only.
type Repository struct {
	db         *sql.DB
	workspaces *access.Store
}

// NewRepository creates a repository over db, typically a read replica.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, workspaces: access.NewStore(db)}
}

// queryByIDs runs query with ids bound from $1 and hands every row to scan.
func queryByIDs(ctx context.Context, db *sql.DB, entity, query string, ids []int64, scan func(*sql.Rows) error) error {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(query, access.Placeholders(1, len(ids))), args...)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", entity, err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("failed to scan %s: %w", entity, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating %s: %w", entity, err)
	}
	return nil
}

func (r *Repository) UsersByIDs(ctx context.Context, ids []int64) (map[int64]*model.User, error) {
	out := make(map[int64]*model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	err := queryByIDs(ctx, r.db, "users",
		`SELECT id, name, email, image, created_at FROM users WHERE id IN (%s)`, ids,
		func(rows *sql.Rows) error {
			var u model.User
			if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Image, &u.CreatedAt); err != nil {
				return err
			}
			out[u.ID] = &u
			return nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) TeamsByIDs(ctx context.Context, ids []int64) (map[int64]*model.Team, error) {
	out := make(map[int64]*model.Team, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	err := queryByIDs(ctx, r.db, "teams",
		`SELECT id, organization_id, name, created_by, created_at FROM teams WHERE id IN (%s)`, ids,
		func(rows *sql.Rows) error {
			var t model.Team
			if err := rows.Scan(&t.ID, &t.OrganizationID, &t.Name, &t.CreatedBy, &t.CreatedAt); err != nil {
				return err
			}
			out[t.ID] = &t
			return nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) OrganizationsByIDs(ctx context.Context, ids []int64) (map[int64]*model.Organization, error) {
	out := make(map[int64]*model.Organization, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	err := queryByIDs(ctx, r.db, "organizations",
		`SELECT id, name, slug, created_by, created_at FROM organizations WHERE id IN (%s)`, ids,
		func(rows *sql.Rows) error {
			var o model.Organization
			if err := rows.Scan(&o.ID, &o.Name, &o.Slug, &o.CreatedBy, &o.CreatedAt); err != nil {
				return err
			}
			out[o.ID] = &o
			return nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) WorkspacesByIDs(ctx context.Context, ids []int64) (map[int64]*model.Workspace, error) {
	return r.workspaces.WorkspacesByIDs(ctx, ids)
}

const sprintColumns = `id, workspace_id, name, starts_at, ends_at, deleted_at, deleted_by`

func scanSprint(rows *sql.Rows) (*model.Sprint, error) {
	var (
		s         model.Sprint
		startsAt  sql.NullTime
		endsAt    sql.NullTime
		deletedAt sql.NullTime
		deletedBy sql.NullInt64
	)
	if err := rows.Scan(&s.ID, &s.WorkspaceID, &s.Name, &startsAt, &endsAt, &deletedAt, &deletedBy); err != nil {
		return nil, err
	}
	s.StartsAt = timePtr(startsAt)
	s.EndsAt = timePtr(endsAt)
	s.DeletedAt = timePtr(deletedAt)
	s.DeletedBy = int64Ptr(deletedBy)
	return &s, nil
}

func (r *Repository) SprintsByIDs(ctx context.Context, ids []int64) (map[int64]*model.Sprint, error) {
	out := make(map[int64]*model.Sprint, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	err := queryByIDs(ctx, r.db, "sprints",
		`SELECT `+sprintColumns+` FROM sprints WHERE id IN (%s) AND `+softdelete.LiveClause(""), ids,
		func(rows *sql.Rows) error {
			s, err := scanSprint(rows)
			if err != nil {
				return err
			}
			out[s.ID] = s
			return nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

const issueColumns = `id, workspace_id, issue_key, title, status, assignee_id, reporter_id, sprint_id,
	created_at, updated_at, deleted_at, deleted_by`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIssue(row rowScanner) (*model.Issue, error) {
	var (
		i          model.Issue
		assigneeID sql.NullInt64
		sprintID   sql.NullInt64
		deletedAt  sql.NullTime
		deletedBy  sql.NullInt64
	)
	err := row.Scan(
		&i.ID, &i.WorkspaceID, &i.Key, &i.Title, &i.Status, &assigneeID, &i.ReporterID, &sprintID,
		&i.CreatedAt, &i.UpdatedAt, &deletedAt, &deletedBy,
	)
	if err != nil {
		return nil, err
	}
	i.AssigneeID = int64Ptr(assigneeID)
	i.SprintID = int64Ptr(sprintID)
	i.DeletedAt = timePtr(deletedAt)
	i.DeletedBy = int64Ptr(deletedBy)
	return &i, nil
}

func (r *Repository) IssuesByIDs(ctx context.Context, ids []int64) (map[int64]*model.Issue, error) {
	out := make(map[int64]*model.Issue, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	err := queryByIDs(ctx, r.db, "issues",
		`SELECT `+issueColumns+` FROM issues WHERE id IN (%s) AND `+softdelete.LiveClause(""), ids,
		func(rows *sql.Rows) error {
			i, err := scanIssue(rows)
			if err != nil {
				return err
			}
			out[i.ID] = i
			return nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetIssue returns the issue whether or not it is soft-deleted, or nil when
// it does not exist.
func (r *Repository) GetIssue(ctx context.Context, issueID int64) (*model.Issue, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = $1`, issueID)
	issue, err := scanIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}
	return issue, nil
}

// ListIssues returns the live issues of a workspace ordered by id.
func (r *Repository) ListIssues(ctx context.Context, workspaceID int64) ([]*model.Issue, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+issueColumns+` FROM issues
		WHERE workspace_id = $1 AND `+softdelete.LiveClause("")+`
		ORDER BY id`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer rows.Close()

	var out []*model.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		out = append(out, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating issues: %w", err)
	}
	return out, nil
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
