package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/trellis/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the schema migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users, organizations and teams",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL DEFAULT '',
					email VARCHAR(255) NOT NULL DEFAULT '',
					image TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS organizations (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					slug VARCHAR(255) NOT NULL UNIQUE,
					created_by BIGINT NOT NULL REFERENCES users(id),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS organization_members (
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role VARCHAR(20) NOT NULL CHECK (role IN ('member', 'admin', 'owner')),
					added_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (organization_id, user_id)
				);
				CREATE INDEX IF NOT EXISTS idx_organization_members_user ON organization_members(user_id);

				CREATE TABLE IF NOT EXISTS teams (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					created_by BIGINT NOT NULL REFERENCES users(id),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS team_members (
					team_id BIGINT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role VARCHAR(20) NOT NULL CHECK (role IN ('member', 'lead')),
					added_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (team_id, user_id)
				);
				CREATE INDEX IF NOT EXISTS idx_team_members_user ON team_members(user_id);
			`,
		},
		{
			Version:     2,
			Description: "Create workspaces and workspace memberships",
			SQL: `
				CREATE TABLE IF NOT EXISTS workspaces (
					id BIGSERIAL PRIMARY KEY,
					project_key VARCHAR(32) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					team_id BIGINT REFERENCES teams(id) ON DELETE SET NULL,
					owner_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
					created_by BIGINT NOT NULL REFERENCES users(id),
					is_public BOOLEAN NOT NULL DEFAULT FALSE,
					is_company_public BOOLEAN NOT NULL DEFAULT FALSE,
					workflow_states JSONB NOT NULL DEFAULT '[]',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMPTZ,
					deleted_by BIGINT REFERENCES users(id) ON DELETE SET NULL
				);
				CREATE INDEX IF NOT EXISTS idx_workspaces_organization_live ON workspaces(organization_id) WHERE deleted_at IS NULL;
				CREATE INDEX IF NOT EXISTS idx_workspaces_deleted_at ON workspaces(deleted_at) WHERE deleted_at IS NOT NULL;

				CREATE TABLE IF NOT EXISTS workspace_shared_teams (
					workspace_id BIGINT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
					team_id BIGINT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
					PRIMARY KEY (workspace_id, team_id)
				);

				CREATE TABLE IF NOT EXISTS workspace_members (
					workspace_id BIGINT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role VARCHAR(20) NOT NULL CHECK (role IN ('viewer', 'editor', 'admin')),
					added_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (workspace_id, user_id)
				);
				CREATE INDEX IF NOT EXISTS idx_workspace_members_user ON workspace_members(user_id);
			`,
		},
		{
			Version:     3,
			Description: "Create sprints and issues",
			SQL: `
				CREATE TABLE IF NOT EXISTS sprints (
					id BIGSERIAL PRIMARY KEY,
					workspace_id BIGINT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					starts_at TIMESTAMPTZ,
					ends_at TIMESTAMPTZ,
					deleted_at TIMESTAMPTZ,
					deleted_by BIGINT REFERENCES users(id) ON DELETE SET NULL
				);
				CREATE INDEX IF NOT EXISTS idx_sprints_workspace_live ON sprints(workspace_id) WHERE deleted_at IS NULL;

				CREATE TABLE IF NOT EXISTS issues (
					id BIGSERIAL PRIMARY KEY,
					workspace_id BIGINT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
					issue_key VARCHAR(64) NOT NULL,
					title TEXT NOT NULL,
					status VARCHAR(64) NOT NULL,
					assignee_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
					reporter_id BIGINT NOT NULL REFERENCES users(id),
					sprint_id BIGINT REFERENCES sprints(id) ON DELETE SET NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMPTZ,
					deleted_by BIGINT REFERENCES users(id) ON DELETE SET NULL
				);
				CREATE INDEX IF NOT EXISTS idx_issues_workspace_live ON issues(workspace_id, created_at) WHERE deleted_at IS NULL;
			`,
		},
		{
			Version:     4,
			Description: "Create api tokens and audit events",
			SQL: `
				CREATE TABLE IF NOT EXISTS api_tokens (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					token_hash VARCHAR(64) NOT NULL UNIQUE,
					token_prefix VARCHAR(16) NOT NULL,
					name VARCHAR(255) NOT NULL,
					expires_at TIMESTAMPTZ,
					revoked_at TIMESTAMPTZ,
					last_used_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS audit_events (
					id BIGSERIAL PRIMARY KEY,
					timestamp TIMESTAMPTZ NOT NULL,
					event_type VARCHAR(100) NOT NULL,
					status VARCHAR(20) NOT NULL,
					user_id BIGINT,
					resource_type VARCHAR(50),
					resource_id VARCHAR(255),
					request_id VARCHAR(100),
					message TEXT,
					metadata JSONB,
					changes JSONB
				);
				CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_events_resource ON audit_events(resource_type, resource_id);
			`,
		},
	}
}

// RunMigrations applies every migration not yet recorded in
// schema_migrations, each in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		log := logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})
		log.Info("Running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		log.Info("Migration completed")
	}

	return nil
}
