package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReplicaURLs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty string", input: "", expected: nil},
		{name: "single url", input: "postgres://r1/db", expected: []string{"postgres://r1/db"}},
		{name: "trims and skips blanks", input: " postgres://r1/db , ,postgres://r2/db ", expected: []string{"postgres://r1/db", "postgres://r2/db"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseReplicaURLs(tt.input))
		})
	}
}

// stubOpen makes openDB hand out sqlmock connections keyed by URL.
func stubOpen(t *testing.T, pingErrs map[string]error) map[string]sqlmock.Sqlmock {
	t.Helper()
	mocks := make(map[string]sqlmock.Sqlmock)
	original := openDB
	t.Cleanup(func() { openDB = original })

	openDB = func(driver, url string) (*sql.DB, error) {
		if url == "bad://open" {
			return nil, errors.New("bad url")
		}
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		mock.ExpectPing().WillReturnError(pingErrs[url])
		mock.ExpectClose()
		mocks[url] = mock
		return db, nil
	}
	return mocks
}

func TestNewConnectionManager(t *testing.T) {
	t.Run("primary and replicas", func(t *testing.T) {
		stubOpen(t, map[string]error{"r2": errors.New("down")})

		cm, err := NewConnectionManager(context.Background(), ConnectionConfig{
			PrimaryURL:  "primary",
			ReplicaURLs: []string{"r1", "r2", "bad://open"},
			MaxConns:    10,
			Timeout:     time.Second,
		})
		require.NoError(t, err)
		assert.Len(t, cm.replicas, 1)
		assert.NotEqual(t, cm.Primary(), cm.Replica())
	})

	t.Run("primary ping fails", func(t *testing.T) {
		stubOpen(t, map[string]error{"primary": errors.New("refused")})

		cm, err := NewConnectionManager(context.Background(), ConnectionConfig{PrimaryURL: "primary"})
		assert.Nil(t, cm)
		assert.ErrorContains(t, err, "failed to connect to primary")
	})
}

func TestConnectionManager_Replica(t *testing.T) {
	t.Run("no replicas falls back to primary", func(t *testing.T) {
		primary := &sql.DB{}
		cm := &ConnectionManager{primary: primary}
		assert.Equal(t, primary, cm.Replica())
	})

	t.Run("round robin", func(t *testing.T) {
		r1, r2, r3 := &sql.DB{}, &sql.DB{}, &sql.DB{}
		cm := &ConnectionManager{primary: &sql.DB{}, replicas: []*sql.DB{r1, r2, r3}}

		selections := make(map[*sql.DB]int)
		for i := 0; i < 30; i++ {
			selections[cm.Replica()]++
		}
		assert.Equal(t, 10, selections[r1])
		assert.Equal(t, 10, selections[r2])
		assert.Equal(t, 10, selections[r3])
	})

	t.Run("concurrent selection", func(t *testing.T) {
		r1, r2 := &sql.DB{}, &sql.DB{}
		cm := &ConnectionManager{primary: &sql.DB{}, replicas: []*sql.DB{r1, r2}}

		var wg sync.WaitGroup
		var mu sync.Mutex
		selections := make(map[*sql.DB]int)
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				db := cm.Replica()
				mu.Lock()
				selections[db]++
				mu.Unlock()
			}()
		}
		wg.Wait()
		assert.Equal(t, 100, selections[r1]+selections[r2])
	})
}

func newPingMock(t *testing.T, pingErr error) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing().WillReturnError(pingErr)
	return db, mock
}

func TestConnectionManager_HealthCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("primary down", func(t *testing.T) {
		primary, _ := newPingMock(t, errors.New("down"))
		cm := &ConnectionManager{primary: primary}
		assert.ErrorContains(t, cm.HealthCheck(ctx), "primary unhealthy")
	})

	t.Run("some replicas down is healthy", func(t *testing.T) {
		primary, _ := newPingMock(t, nil)
		r1, _ := newPingMock(t, nil)
		r2, _ := newPingMock(t, errors.New("down"))
		cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{r1, r2}}
		assert.NoError(t, cm.HealthCheck(ctx))
	})

	t.Run("all replicas down", func(t *testing.T) {
		primary, _ := newPingMock(t, nil)
		r1, _ := newPingMock(t, errors.New("down"))
		cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{r1}}
		assert.ErrorContains(t, cm.HealthCheck(ctx), "all replicas unhealthy: replica-0")
	})
}

func TestConnectionManager_RemoveUnhealthyReplicas(t *testing.T) {
	healthy, _ := newPingMock(t, nil)
	broken, mock := newPingMock(t, errors.New("down"))
	mock.ExpectClose()

	cm := &ConnectionManager{primary: &sql.DB{}, replicas: []*sql.DB{healthy, broken}}
	assert.Equal(t, 1, cm.RemoveUnhealthyReplicas(context.Background()))
	assert.Equal(t, []*sql.DB{healthy}, cm.replicas)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionManager_Close(t *testing.T) {
	primary, pm, err := sqlmock.New()
	require.NoError(t, err)
	replica, rm, err := sqlmock.New()
	require.NoError(t, err)
	pm.ExpectClose()
	rm.ExpectClose().WillReturnError(errors.New("stuck"))

	cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{replica}}
	err = cm.Close()
	assert.ErrorContains(t, err, "replica-0: stuck")
	assert.Empty(t, cm.replicas)
}

func TestConnectionManager_Stats(t *testing.T) {
	primary, _, err := sqlmock.New()
	require.NoError(t, err)
	replica, _, err := sqlmock.New()
	require.NoError(t, err)

	cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{replica}}
	stats := cm.Stats()
	assert.Len(t, stats.Replicas, 1)
}

func TestReplicaPoolSize(t *testing.T) {
	assert.Equal(t, 2, replicaPoolSize(0))
	assert.Equal(t, 2, replicaPoolSize(3))
	assert.Equal(t, 10, replicaPoolSize(20))
}
