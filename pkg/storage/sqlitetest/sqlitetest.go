// Package sqlitetest provides an in-memory SQLite copy of the schema and
// fixture helpers for unit tests.
package sqlitetest

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/trellis/pkg/model"
	"github.com/platinummonkey/trellis/pkg/roles"
)

// Schema mirrors the Postgres migrations in SQLite syntax.
const Schema = `
CREATE TABLE users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	image TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE organizations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	slug TEXT NOT NULL UNIQUE,
	created_by INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE organization_members (
	organization_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	role TEXT NOT NULL,
	added_by INTEGER,
	added_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (organization_id, user_id)
);

CREATE TABLE teams (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	organization_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	created_by INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE team_members (
	team_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	role TEXT NOT NULL,
	added_by INTEGER,
	added_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (team_id, user_id)
);

CREATE TABLE workspaces (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_key TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	organization_id INTEGER NOT NULL,
	team_id INTEGER,
	owner_id INTEGER,
	created_by INTEGER NOT NULL,
	is_public BOOLEAN NOT NULL DEFAULT 0,
	is_company_public BOOLEAN NOT NULL DEFAULT 0,
	workflow_states TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	deleted_at DATETIME,
	deleted_by INTEGER
);

CREATE TABLE workspace_shared_teams (
	workspace_id INTEGER NOT NULL,
	team_id INTEGER NOT NULL,
	PRIMARY KEY (workspace_id, team_id)
);

CREATE TABLE workspace_members (
	workspace_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	role TEXT NOT NULL,
	added_by INTEGER,
	added_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (workspace_id, user_id)
);

CREATE TABLE sprints (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	workspace_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	starts_at DATETIME,
	ends_at DATETIME,
	deleted_at DATETIME,
	deleted_by INTEGER
);

CREATE TABLE issues (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	workspace_id INTEGER NOT NULL,
	issue_key TEXT NOT NULL,
	title TEXT NOT NULL,
	status TEXT NOT NULL,
	assignee_id INTEGER,
	reporter_id INTEGER NOT NULL,
	sprint_id INTEGER,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	deleted_at DATETIME,
	deleted_by INTEGER
);

CREATE TABLE api_tokens (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	token_hash TEXT NOT NULL UNIQUE,
	token_prefix TEXT NOT NULL,
	name TEXT NOT NULL,
	expires_at DATETIME,
	revoked_at DATETIME,
	last_used_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE audit_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	event_type TEXT NOT NULL,
	status TEXT NOT NULL,
	user_id INTEGER,
	resource_type TEXT,
	resource_id TEXT,
	request_id TEXT,
	message TEXT,
	metadata TEXT,
	changes TEXT
);
`

// Open returns a fresh in-memory database with the schema applied. The pool
// is pinned to one connection because every SQLite :memory: connection is
// its own database.
func Open(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(Schema)
	require.NoError(t, err)
	return db
}

// Fixture inserts rows for tests. Every helper fails the test on error.
type Fixture struct {
	t  *testing.T
	DB *sql.DB
}

// NewFixture opens a database and wraps it.
func NewFixture(t *testing.T) *Fixture {
	return &Fixture{t: t, DB: Open(t)}
}

func (f *Fixture) insert(query string, args ...interface{}) int64 {
	f.t.Helper()
	result, err := f.DB.Exec(query, args...)
	require.NoError(f.t, err)
	id, err := result.LastInsertId()
	require.NoError(f.t, err)
	return id
}

func (f *Fixture) exec(query string, args ...interface{}) {
	f.t.Helper()
	_, err := f.DB.Exec(query, args...)
	require.NoError(f.t, err)
}

// User inserts a user and returns its id.
func (f *Fixture) User(name, email string) int64 {
	f.t.Helper()
	return f.insert(`INSERT INTO users (name, email) VALUES ($1, $2)`, name, email)
}

// Organization inserts an organization owned by ownerID.
func (f *Fixture) Organization(slug string, ownerID int64) int64 {
	f.t.Helper()
	id := f.insert(`INSERT INTO organizations (name, slug, created_by) VALUES ($1, $1, $2)`, slug, ownerID)
	f.OrganizationMember(id, ownerID, roles.OrganizationOwner)
	return id
}

func (f *Fixture) OrganizationMember(organizationID, userID int64, role roles.OrganizationRole) {
	f.t.Helper()
	f.exec(`INSERT INTO organization_members (organization_id, user_id, role) VALUES ($1, $2, $3)`, organizationID, userID, role)
}

// Team inserts a team in organizationID.
func (f *Fixture) Team(organizationID int64, name string, createdBy int64) int64 {
	f.t.Helper()
	return f.insert(`INSERT INTO teams (organization_id, name, created_by) VALUES ($1, $2, $3)`, organizationID, name, createdBy)
}

func (f *Fixture) TeamMember(teamID, userID int64, role roles.TeamRole) {
	f.t.Helper()
	f.exec(`INSERT INTO team_members (team_id, user_id, role) VALUES ($1, $2, $3)`, teamID, userID, role)
}

// Workspace inserts ws without any membership rows and sets ws.ID.
func (f *Fixture) Workspace(ws *model.Workspace) int64 {
	f.t.Helper()
	if ws.WorkflowStates == nil {
		ws.WorkflowStates = model.DefaultWorkflow()
	}
	ws.ID = f.insert(`
		INSERT INTO workspaces (project_key, name, organization_id, team_id, owner_id, created_by,
			is_public, is_company_public, workflow_states, deleted_at, deleted_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		ws.Key, ws.Name, ws.OrganizationID, ws.TeamID, ws.OwnerID, ws.CreatedBy,
		ws.IsPublic, ws.IsCompanyPublic, ws.WorkflowStates, ws.DeletedAt, ws.DeletedBy,
	)
	for _, teamID := range ws.SharedWithTeamIDs {
		f.exec(`INSERT INTO workspace_shared_teams (workspace_id, team_id) VALUES ($1, $2)`, ws.ID, teamID)
	}
	return ws.ID
}

func (f *Fixture) WorkspaceMember(workspaceID, userID int64, role roles.WorkspaceRole) {
	f.t.Helper()
	f.exec(`INSERT INTO workspace_members (workspace_id, user_id, role) VALUES ($1, $2, $3)`, workspaceID, userID, role)
}

// Sprint inserts a live sprint.
func (f *Fixture) Sprint(workspaceID int64, name string) int64 {
	f.t.Helper()
	return f.insert(`INSERT INTO sprints (workspace_id, name) VALUES ($1, $2)`, workspaceID, name)
}

// Issue inserts issue and sets its id.
func (f *Fixture) Issue(issue *model.Issue) int64 {
	f.t.Helper()
	if issue.Status == "" {
		issue.Status = "todo"
	}
	issue.ID = f.insert(`
		INSERT INTO issues (workspace_id, issue_key, title, status, assignee_id, reporter_id, sprint_id, deleted_at, deleted_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		issue.WorkspaceID, issue.Key, issue.Title, issue.Status, issue.AssigneeID, issue.ReporterID, issue.SprintID,
		issue.DeletedAt, issue.DeletedBy,
	)
	return issue.ID
}

// SoftDelete stamps table row id as deleted at the given time.
func (f *Fixture) SoftDelete(table string, id, by int64, at time.Time) {
	f.t.Helper()
	f.exec(`UPDATE `+table+` SET deleted_at = $1, deleted_by = $2 WHERE id = $3`, at, by, id)
}
