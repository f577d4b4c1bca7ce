package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T, maxEntries int) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"), maxEntries)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndRecent(t *testing.T) {
	l := openTestLedger(t, 10)
	ctx := context.Background()
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	want := Entry{
		ID:              "c1",
		Filename:        "scans/base0001.laz",
		PointCount:      4_000_001,
		DecimationStep:  2,
		CaptureDuration: 1500 * time.Millisecond,
		WriteDuration:   250 * time.Millisecond,
		FileSize:        56_000_000,
		IMUCount:        200,
		IMURateHz:       200,
		Serials:         []string{"47MDL9T0020193", "47MDL9T0020194"},
		CreatedAt:       created,
	}
	got, err := l.Record(ctx, want)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	entries, err := l.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	if diff := cmp.Diff(want, entries[0], cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
		t.Errorf("Recent() mismatch (-want +got):\n%s", diff)
	}
}

func TestRecord_FillsIDAndTimestamp(t *testing.T) {
	l := openTestLedger(t, 10)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	e, err := l.Record(context.Background(), Entry{Filename: "a.laz"})
	require.NoError(t, err)

	id, err := uuid.Parse(e.ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
	assert.True(t, e.CreatedAt.Equal(now))

	entries, err := l.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Serials)
}

func TestRecord_TrimsToMaxEntries(t *testing.T) {
	l := openTestLedger(t, 3)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := l.Record(ctx, Entry{
			Filename:  fmt.Sprintf("base%04d.laz", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	entries, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Filename)
	}
	assert.Equal(t, []string{"base0004.laz", "base0003.laz", "base0002.laz"}, names)
}

func TestOpen_ReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	l, err := Open(path, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxEntries, l.maxEntries)
	_, err = l.Record(context.Background(), Entry{Filename: "first.laz"})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = Open(path, 5)
	require.NoError(t, err)
	defer l.Close()
	entries, err := l.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "first.laz", entries[0].Filename)
}

func TestOpen_AppliesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(path, 1)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var version int
	var dirty bool
	require.NoError(t, db.QueryRow("SELECT version, dirty FROM schema_migrations").Scan(&version, &dirty))
	assert.Equal(t, 1, version)
	assert.False(t, dirty)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='captures'").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestOpen_BadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "ledger.db"), 1)
	assert.Error(t, err)
}

func TestRecord_CancelledContext(t *testing.T) {
	l := openTestLedger(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Record(ctx, Entry{Filename: "x.laz"})
	assert.Error(t, err)
}
