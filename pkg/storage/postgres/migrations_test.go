package postgres

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/trellis/pkg/observability"
)

func TestGetMigrations_Ordered(t *testing.T) {
	migrations := GetMigrations()
	require.NotEmpty(t, migrations)
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.Description)
		assert.NotEmpty(t, m.SQL)
	}
}

func TestRunMigrations_SkipsApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	migrations := GetMigrations()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	applied := sqlmock.NewRows([]string{"version"})
	for _, m := range migrations[:len(migrations)-1] {
		applied.AddRow(m.Version)
	}
	mock.ExpectQuery(`SELECT version FROM schema_migrations`).WillReturnRows(applied)

	last := migrations[len(migrations)-1]
	mock.ExpectBegin()
	mock.ExpectExec(`.+`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).
		WithArgs(last.Version, last.Description).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	var out bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &out)
	require.NoError(t, RunMigrations(context.Background(), db, logger))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Contains(t, out.String(), "Migration completed")
}

func TestRunMigrations_RollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version FROM schema_migrations`).WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectBegin()
	mock.ExpectExec(`.+`).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	logger := observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
	err = RunMigrations(context.Background(), db, logger)
	assert.ErrorContains(t, err, "failed to execute migration 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}
