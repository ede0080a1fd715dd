package softdelete

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/trellis/pkg/audit"
	"github.com/platinummonkey/trellis/pkg/observability"
)

// DefaultTables lists the soft-deletable tables, children before parents so
// that a purge never leaves a dangling child behind a purged parent.
var DefaultTables = []string{"issues", "sprints", "workspaces"}

// Cascade names a child table whose rows are removed with an expired parent
// row, live or not. Column references the parent's id.
type Cascade struct {
	Table  string
	Column string
}

// DefaultCascades removes everything that hangs off a purged workspace.
var DefaultCascades = map[string][]Cascade{
	"workspaces": {
		{Table: "issues", Column: "workspace_id"},
		{Table: "sprints", Column: "workspace_id"},
		{Table: "workspace_members", Column: "workspace_id"},
		{Table: "workspace_shared_teams", Column: "workspace_id"},
	},
}

// Archiver receives purged rows before they are permanently deleted.
type Archiver interface {
	Archive(ctx context.Context, table string, rows []map[string]interface{}) error
}

// Purger permanently removes rows whose soft deletion is older than the
// retention window.
type Purger struct {
	db        *sql.DB
	tables    []string
	cascades  map[string][]Cascade
	retention time.Duration
	archiver  Archiver
	audit     audit.Logger
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// PurgerOption configures a Purger.
type PurgerOption func(*Purger)

// WithRetention overrides DefaultRetention.
func WithRetention(d time.Duration) PurgerOption {
	return func(p *Purger) { p.retention = d }
}

// WithTables overrides DefaultTables. Order matters: children first.
func WithTables(tables ...string) PurgerOption {
	return func(p *Purger) { p.tables = tables }
}

// WithCascades overrides DefaultCascades.
func WithCascades(c map[string][]Cascade) PurgerOption {
	return func(p *Purger) { p.cascades = c }
}

// WithAudit records one retention event per table that lost rows.
func WithAudit(l audit.Logger) PurgerOption {
	return func(p *Purger) { p.audit = l }
}

// WithArchiver archives rows before deletion. An archive failure aborts the
// purge of that table.
func WithArchiver(a Archiver) PurgerOption {
	return func(p *Purger) { p.archiver = a }
}

func WithLogger(l *observability.Logger) PurgerOption {
	return func(p *Purger) { p.logger = l }
}

func WithMetrics(m *observability.Metrics) PurgerOption {
	return func(p *Purger) { p.metrics = m }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) PurgerOption {
	return func(p *Purger) { p.now = now }
}

// NewPurger creates a purger over db.
func NewPurger(db *sql.DB, opts ...PurgerOption) *Purger {
	p := &Purger{
		db:        db,
		tables:    DefaultTables,
		cascades:  DefaultCascades,
		retention: DefaultRetention,
		audit:     audit.NoOp(),
		logger:    observability.NewLogger(observability.InfoLevel, nil),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Purge runs one pass over every table and returns the rows removed per
// table. It stops at the first failing table.
func (p *Purger) Purge(ctx context.Context) (map[string]int64, error) {
	cutoff := p.now().UTC().Add(-p.retention)
	purged := make(map[string]int64, len(p.tables))

	for _, table := range p.tables {
		n, err := p.purgeTable(ctx, table, cutoff)
		if err != nil {
			return purged, fmt.Errorf("failed to purge %s: %w", table, err)
		}
		purged[table] = n
		p.metrics.RecordPurge(table, n)
		if n > 0 {
			p.logger.WithFields(map[string]interface{}{
				"table":  table,
				"rows":   n,
				"cutoff": cutoff,
			}).Info("Purged soft-deleted rows")
			p.recordAudit(ctx, table, n, cutoff)
		}
	}

	return purged, nil
}

func (p *Purger) purgeTable(ctx context.Context, table string, cutoff time.Time) (int64, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	where := " WHERE " + PurgeClause("", "$1")

	if err := p.archive(ctx, tx, table, where, cutoff); err != nil {
		return 0, err
	}

	for _, c := range p.cascades[table] {
		childWhere := " WHERE " + c.Column + " IN (SELECT id FROM " + table + where + ")"
		if err := p.archive(ctx, tx, c.Table, childWhere, cutoff); err != nil {
			return 0, err
		}
		result, err := tx.ExecContext(ctx, "DELETE FROM "+c.Table+childWhere, cutoff)
		if err != nil {
			return 0, fmt.Errorf("failed to delete %s of expired %s: %w", c.Table, table, err)
		}
		if n, err := result.RowsAffected(); err == nil && n > 0 {
			p.logger.WithFields(map[string]interface{}{
				"table":  c.Table,
				"parent": table,
				"rows":   n,
			}).Info("Purged child rows")
		}
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM "+table+where, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired rows: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}
	return n, nil
}

// archive hands the rows matching where to the archiver, if any.
func (p *Purger) archive(ctx context.Context, tx *sql.Tx, table, where string, cutoff time.Time) error {
	if p.archiver == nil {
		return nil
	}
	rows, err := tx.QueryContext(ctx, "SELECT * FROM "+table+where, cutoff)
	if err != nil {
		return fmt.Errorf("failed to select expired rows: %w", err)
	}
	records, err := scanMaps(rows)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := p.archiver.Archive(ctx, table, records); err != nil {
		return fmt.Errorf("failed to archive rows: %w", err)
	}
	return nil
}

func (p *Purger) recordAudit(ctx context.Context, table string, n int64, cutoff time.Time) {
	changes := &audit.ChangeDetails{After: map[string]interface{}{"rows": n, "cutoff": cutoff}}
	if err := p.audit.LogDataMutation(ctx, audit.EventTypeSoftDeletePurge, nil, audit.ResourceTypeTable, table, changes, "soft-deleted rows purged"); err != nil {
		p.logger.WithError(err).Warn("Failed to audit purge")
	}
}

// Schedule registers the purge on c using a standard five-field cron spec.
func (p *Purger) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		if _, err := p.Purge(context.Background()); err != nil {
			p.logger.WithError(err).Error("Scheduled purge failed")
		}
	})
}

func scanMaps(rows *sql.Rows) ([]map[string]interface{}, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var out []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		record := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
				continue
			}
			record[col] = values[i]
		}
		out = append(out, record)
	}
	return out, rows.Err()
}
