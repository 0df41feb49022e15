package db

import (
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/thermal.capture/internal/radiometry"
	"github.com/banshee-data/thermal.capture/internal/testutil"
	"github.com/banshee-data/thermal.capture/internal/vospi"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "thermal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testFrame(fill byte) vospi.Frame {
	return testutil.FilledFrame(vospi.GeometrySingleSegment, fill)
}

func TestOpenDB_MigratesToLatest(t *testing.T) {
	db := openTestDB(t)

	version, dirty, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// reopening an up-to-date store is a no-op
	require.NoError(t, db.MigrateUp(MigrationsFS()))
}

func TestMigrateDownAndUp(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.MigrateDown(MigrationsFS()))
	version, _, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	_, err = db.Exec(`SELECT sync_losses FROM captures`)
	assert.Error(t, err, "column should be gone after rolling back")

	require.NoError(t, db.MigrateTo(MigrationsFS(), 2))
	_, err = db.Exec(`SELECT sync_losses FROM captures`)
	assert.NoError(t, err)
}

func TestRecordAndLoadCapture(t *testing.T) {
	db := openTestDB(t)
	at := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

	c := NewCapture(testFrame(0x40), radiometry.FormatRGB565, at)
	c.Resyncs = 2
	c.SyncLosses = 1
	require.NoError(t, db.RecordCapture(c))

	got, err := db.LoadCapture(c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.True(t, at.Equal(got.CapturedAt))
	assert.Equal(t, 80, got.Width)
	assert.Equal(t, "rgb565", got.PixelFormat)
	assert.Equal(t, uint64(2), got.Resyncs)
	assert.Equal(t, uint64(1), got.SyncLosses)
	assert.InDelta(t, 64.0, got.Summary.Mean, 1e-9)
	assert.Equal(t, c.Frame, got.Frame)
	assert.Equal(t, uint8(0x40), radiometry.Intensity(got.VospiFrame(), 100))

	_, err = db.LoadCapture("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordCapture_RequiresFrame(t *testing.T) {
	db := openTestDB(t)
	err := db.RecordCapture(Capture{ID: "x", CapturedAt: time.Now()})
	assert.Error(t, err)
}

func TestRecentLatestAndPrune(t *testing.T) {
	db := openTestDB(t)

	_, err := db.LatestCapture()
	assert.ErrorIs(t, err, ErrNotFound)

	base := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		c := NewCapture(testFrame(byte(i)), radiometry.FormatGrayscale, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, db.RecordCapture(c))
		ids = append(ids, c.ID)
	}

	recent, err := db.RecentCaptures(3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, ids[4], recent[0].ID)
	assert.Equal(t, ids[2], recent[2].ID)
	assert.Nil(t, recent[0].Frame, "listing must not load frame data")

	latest, err := db.LatestCapture()
	require.NoError(t, err)
	assert.Equal(t, ids[4], latest.ID)
	assert.NotEmpty(t, latest.Frame)

	removed, err := db.PruneCaptures(2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
	n, err := db.CountCaptures()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	removed, err = db.PruneCaptures(0)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestAttachAdminRoutes(t *testing.T) {
	db := openTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	w := testutil.Serve(t, mux, http.MethodGet, "/debug/backup")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/gzip", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasSuffix(w.Header().Get("Content-Disposition"), ".db.gz"))
	assert.NotZero(t, w.Body.Len())
}
