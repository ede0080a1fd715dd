package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// DBLogger writes audit events to the audit_events table.
type DBLogger struct {
	eventLogger
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger. The audit_events
// table is created by the access migrations.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	l := &DBLogger{db: db}
	l.eventLogger = eventLogger{log: l.Log}
	return l, nil
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	var metadataJSON, changesJSON []byte
	var err error

	if len(event.Metadata) > 0 {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	if event.Changes != nil {
		changesJSON, err = json.Marshal(event.Changes)
		if err != nil {
			return fmt.Errorf("failed to marshal changes: %w", err)
		}
	}

	err = l.db.QueryRowContext(ctx, `
		INSERT INTO audit_events (
			timestamp, event_type, status, user_id,
			resource_type, resource_id, request_id,
			message, metadata, changes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		event.Timestamp, string(event.EventType), string(event.Status), event.UserID,
		string(event.ResourceType), event.ResourceID, event.RequestID,
		event.Message, nullableJSON(metadataJSON), nullableJSON(changesJSON),
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	return nil
}

// Close is a no-op; the database handle is owned by the caller.
func (l *DBLogger) Close() error {
	return nil
}

func nullableJSON(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return string(b)
}
