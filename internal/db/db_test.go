package db

import (
	"io/fs"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func migrationsSub(t *testing.T) fs.FS {
	t.Helper()
	fsys, err := fs.Sub(migrationsFS, "migrations")
	require.NoError(t, err)
	return fsys
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "NewDB")
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPairMeasurementLog(t *testing.T) {
	db := newTestDB(t)
	runID := uuid.NewString()

	for i := 0; i < 3; i++ {
		err := db.RecordPairMeasurement(&PairMeasurement{
			RunID:     runID,
			TakenUnix: time.Now().UnixNano(),
			FromTagID: 1,
			ToTagID:   2,
			FromTwist: -1.5,
			Distance:  float64(100 + i),
			ToTwist:   1.5,
			Goodness:  float64(20 - i),
			Accepted:  i == 2,
		})
		require.NoError(t, err)
	}

	got, err := db.ListPairMeasurements(1, 2, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Reverse insertion order: the accepted improvement comes back first.
	assert.True(t, got[0].Accepted)
	assert.Equal(t, 102.0, got[0].Distance)
	assert.Equal(t, runID, got[0].RunID)
	assert.False(t, got[2].Accepted)

	none, err := db.ListPairMeasurements(5, 6, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMapSnapshotStore(t *testing.T) {
	db := newTestDB(t)

	latest, err := db.LatestMapSnapshot()
	require.NoError(t, err)
	assert.Nil(t, latest, "empty store should have no latest snapshot")

	xml := []byte(`<Map Tags_Count="0" Arcs_Count="0"></Map>`)
	id, err := db.InsertMapSnapshot(&MapSnapshot{
		TakenUnix: time.Now().UnixNano(),
		TagsCount: 0,
		ArcsCount: 0,
		MapXML:    xml,
		Reason:    "test",
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	_, err = db.InsertMapSnapshot(&MapSnapshot{
		TakenUnix: time.Now().UnixNano(),
		TagsCount: 3,
		ArcsCount: 3,
		MapXML:    xml,
		Reason:    "second",
	})
	require.NoError(t, err)

	latest, err = db.LatestMapSnapshot()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "second", latest.Reason)
	assert.Equal(t, 3, latest.TagsCount)
	assert.Equal(t, xml, latest.MapXML)

	list, err := db.ListMapSnapshots(10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Reason)
}

func TestGetDatabaseStats(t *testing.T) {
	db := newTestDB(t)

	stats, err := db.GetDatabaseStats()
	require.NoError(t, err)
	assert.Zero(t, stats.Measurements)

	for _, g := range []float64{0, 10, 20, 30} {
		require.NoError(t, db.RecordPairMeasurement(&PairMeasurement{
			RunID: "r", FromTagID: 1, ToTagID: 2, Goodness: g, Accepted: g < 15,
		}))
	}

	stats, err = db.GetDatabaseStats()
	require.NoError(t, err)
	assert.EqualValues(t, 4, stats.Measurements)
	assert.EqualValues(t, 2, stats.Accepted)
	assert.InDelta(t, 15.0, stats.GoodnessMean, 1e-9)
}

func TestMigrateVersionAndDown(t *testing.T) {
	db := newTestDB(t)

	fsys := migrationsSub(t)
	version, dirty, err := db.MigrateVersion(fsys)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.EqualValues(t, 1, version)

	require.NoError(t, db.MigrateDown(fsys))
	_, err = db.Exec(`SELECT COUNT(*) FROM pair_measurement`)
	assert.Error(t, err, "table should be gone after down migration")

	require.NoError(t, db.MigrateUp(fsys))
	require.NoError(t, db.RecordPairMeasurement(&PairMeasurement{RunID: "r", FromTagID: 1, ToTagID: 2}))
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	for _, endpoint := range []string{"/debug/db-stats", "/debug/tailsql/"} {
		t.Run(endpoint, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, endpoint, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			// Auth may refuse, but the route must be registered.
			assert.NotEqual(t, http.StatusNotFound, w.Code)
		})
	}
}
