package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "counts.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStatsCountsByDirection(t *testing.T) {
	s := openTestStore(t)

	now := time.Now()
	require.NoError(t, s.LogCrossing("in", 1, now))
	require.NoError(t, s.LogCrossing("in", 2, now))
	require.NoError(t, s.LogCrossing("out", 1, now))

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalIn)
	assert.Equal(t, int64(1), stats.TotalOut)
}

func TestStatsOnEmptyDatabase(t *testing.T) {
	s := openTestStore(t)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.TotalIn)
	assert.Zero(t, stats.TotalOut)
}

func TestRecentCrossingsNewestFirst(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.LogCrossing("in", i+1, base.Add(time.Duration(i)*time.Second)))
	}

	rows, err := s.RecentCrossings(3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 5, rows[0].TrackID)
	assert.Equal(t, 3, rows[2].TrackID)
	assert.Equal(t, "in", rows[0].Direction)
}

func TestLogAlertPersists(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.LogAlert(12, 10))

	var count int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM alerts WHERE current_count = 12 AND threshold = 10`)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 1, count)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counts.sqlite")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.LogCrossing("out", 9, time.Now()))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalOut)
}
