package softdelete

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Marker
	Name string
}

func TestMarker_MarkDeletedOnce(t *testing.T) {
	var m Marker
	assert.False(t, m.IsDeleted())

	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, m.MarkDeleted(7, first))
	assert.True(t, m.IsDeleted())
	assert.Equal(t, first, *m.DeletedAt)
	assert.Equal(t, int64(7), *m.DeletedBy)

	err := m.MarkDeleted(8, first.Add(time.Hour))
	assert.ErrorIs(t, err, ErrAlreadyDeleted)
	assert.Equal(t, first, *m.DeletedAt, "timestamp must not change")
	assert.Equal(t, int64(7), *m.DeletedBy)
}

func TestPredicates(t *testing.T) {
	now := time.Now()
	live := record{Name: "live"}
	gone := record{Name: "gone", Marker: Marker{DeletedAt: &now}}

	assert.True(t, NotDeleted(live))
	assert.False(t, NotDeleted(gone))
	assert.True(t, OnlyDeleted(gone))
	assert.True(t, NotDeleted(&live), "pointer receivers satisfy Record")

	all := []record{live, gone, {Name: "also live"}}
	assert.Equal(t, []record{live, {Name: "also live"}}, FilterLive(all))
	assert.Equal(t, []record{gone}, FilterDeleted(all))
	assert.Empty(t, FilterLive([]record{}))
}

func TestEligibleForPurge(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-31 * 24 * time.Hour)
	recent := now.Add(-time.Hour)

	assert.True(t, EligibleForPurge(Marker{DeletedAt: &old}, now, DefaultRetention))
	assert.False(t, EligibleForPurge(Marker{DeletedAt: &recent}, now, DefaultRetention))
	assert.False(t, EligibleForPurge(Marker{}, now, DefaultRetention))

	age, ok := TimeSinceDeletion(Marker{DeletedAt: &recent}, now)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, age)
}

func TestClauses(t *testing.T) {
	assert.Equal(t, "deleted_at IS NULL", LiveClause(""))
	assert.Equal(t, "w.deleted_at IS NULL", LiveClause("w"))
	assert.Equal(t, "i.deleted_at IS NOT NULL", DeletedClause("i"))
	assert.Equal(t, "deleted_at IS NOT NULL AND deleted_at < $1", PurgeClause("", "$1"))
}
