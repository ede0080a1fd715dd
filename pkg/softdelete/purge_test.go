package softdelete

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/trellis/pkg/audit"
	"github.com/platinummonkey/trellis/pkg/observability"
)

type fakeArchiver struct {
	tables []string
	rows   [][]map[string]interface{}
	err    error
}

func (f *fakeArchiver) Archive(ctx context.Context, table string, rows []map[string]interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.tables = append(f.tables, table)
	f.rows = append(f.rows, rows)
	return nil
}

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestPurger(t *testing.T, opts ...PurgerOption) (*Purger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	base := []PurgerOption{
		WithClock(func() time.Time { return fixedNow }),
		WithLogger(observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})),
	}
	return NewPurger(db, append(base, opts...)...), mock
}

func TestPurger_DeletesExpiredRowsChildFirst(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	p, mock := newTestPurger(t, WithMetrics(metrics), WithCascades(nil))
	cutoff := fixedNow.Add(-DefaultRetention)

	for i, table := range []string{"issues", "sprints", "workspaces"} {
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM ` + table + ` WHERE deleted_at IS NOT NULL AND deleted_at < \$1`).
			WithArgs(cutoff).
			WillReturnResult(sqlmock.NewResult(0, int64(i+1)))
		mock.ExpectCommit()
	}

	purged, err := p.Purge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"issues": 1, "sprints": 2, "workspaces": 3}, purged)
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.SoftDeletePurgedTotal.WithLabelValues("workspaces")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurger_CascadesToWorkspaceChildren(t *testing.T) {
	var out bytes.Buffer
	auditLog := audit.NewLogLogger(observability.NewLogger(observability.InfoLevel, &out))
	p, mock := newTestPurger(t, WithTables("workspaces"), WithAudit(auditLog))
	cutoff := fixedNow.Add(-DefaultRetention)

	mock.ExpectBegin()
	for _, child := range []string{"issues", "sprints", "workspace_members", "workspace_shared_teams"} {
		mock.ExpectExec(`DELETE FROM ` + child + ` WHERE workspace_id IN \(SELECT id FROM workspaces WHERE deleted_at IS NOT NULL AND deleted_at < \$1\)`).
			WithArgs(cutoff).
			WillReturnResult(sqlmock.NewResult(0, 2))
	}
	mock.ExpectExec(`DELETE FROM workspaces WHERE deleted_at IS NOT NULL AND deleted_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	purged, err := p.Purge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"workspaces": 1}, purged)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Contains(t, out.String(), string(audit.EventTypeSoftDeletePurge))
}

func TestPurger_CascadeFailureRollsBack(t *testing.T) {
	p, mock := newTestPurger(t, WithTables("workspaces"))

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM issues WHERE workspace_id IN`).WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	_, err := p.Purge(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to delete issues of expired workspaces")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurger_ArchivesBeforeDelete(t *testing.T) {
	archiver := &fakeArchiver{}
	p, mock := newTestPurger(t, WithTables("issues"), WithArchiver(archiver), WithRetention(time.Hour))
	cutoff := fixedNow.Add(-time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM issues WHERE deleted_at IS NOT NULL AND deleted_at < \$1`).
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow(int64(9), []byte("old issue")))
	mock.ExpectExec(`DELETE FROM issues`).WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	purged, err := p.Purge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged["issues"])
	require.Len(t, archiver.rows, 1)
	assert.Equal(t, "old issue", archiver.rows[0][0]["title"])
	assert.Equal(t, []string{"issues"}, archiver.tables)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurger_ArchiveFailureRollsBack(t *testing.T) {
	archiver := &fakeArchiver{err: errors.New("bucket unavailable")}
	p, mock := newTestPurger(t, WithTables("sprints", "workspaces"), WithArchiver(archiver))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM sprints`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectRollback()

	purged, err := p.Purge(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to purge sprints")
	assert.Empty(t, purged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurger_Schedule(t *testing.T) {
	p, _ := newTestPurger(t)
	c := cron.New()

	id, err := p.Schedule(c, "0 3 * * *")
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = p.Schedule(c, "not a schedule")
	assert.Error(t, err)
}
