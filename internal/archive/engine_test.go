package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beyondk-network/gmvtracker/internal/storage/models"
	"github.com/beyondk-network/gmvtracker/internal/storage/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Client {
	t.Helper()
	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { store.Close() })
	return store
}

func seedSession(t *testing.T, store *sqlite.Client, sessionID string, items ...string) {
	t.Helper()
	batch := make([]models.ProductMetric, 0, len(items))
	for _, id := range items {
		batch = append(batch, models.ProductMetric{
			ItemID:   id,
			ItemName: "item " + id,
			Revenue:  1000,
		})
	}
	_, err := store.WriteBatch(context.Background(), sessionID, "Live "+sessionID, batch)
	require.NoError(t, err)
}

func TestSnapshotWritesOnce(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "1758200000", "a", "b", "c")

	engine := NewEngine(store)
	base := time.Date(2025, 9, 18, 20, 0, 0, 0, time.UTC)
	engine.SetClock(func() time.Time { return base })

	res, err := engine.Snapshot(context.Background(), "1758200000")
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, int64(3), res.Rows)

	// A second trigger inside the cooldown is a no-op that reports the
	// original timestamp.
	engine.SetClock(func() time.Time { return base.Add(10 * time.Minute) })
	res, err = engine.Snapshot(context.Background(), "1758200000")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, base.Unix(), res.ArchivedAt.Unix())

	slots, err := store.Timeslots(context.Background(), "1758200000")
	require.NoError(t, err)
	assert.Len(t, slots, 1)
}

func TestSnapshotAfterCooldown(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "1758200000", "a", "b")

	engine := NewEngine(store)
	base := time.Date(2025, 9, 18, 20, 0, 0, 0, time.UTC)
	engine.SetClock(func() time.Time { return base })

	_, err := engine.Snapshot(context.Background(), "1758200000")
	require.NoError(t, err)

	engine.SetClock(func() time.Time { return base.Add(time.Hour) })
	res, err := engine.Snapshot(context.Background(), "1758200000")
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	slots, err := store.Timeslots(context.Background(), "1758200000")
	require.NoError(t, err)
	require.Len(t, slots, 2)

	// Rows inside one snapshot share a single timestamp.
	for _, slot := range slots {
		rows, err := store.SnapshotAt(context.Background(), "1758200000", slot.ArchivedAt)
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	}
}

func TestSnapshotLeavesLiveIntact(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "1758200000", "a", "b")

	engine := NewEngine(store)
	engine.SetClock(func() time.Time {
		return time.Date(2025, 9, 18, 20, 0, 0, 0, time.UTC)
	})

	_, err := engine.Snapshot(context.Background(), "1758200000")
	require.NoError(t, err)

	result, err := store.Read(context.Background(), sqlite.ReadParams{SessionID: "1758200000"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Total)
}

func TestSnapshotIndependentSessions(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "1758200000", "a")
	seedSession(t, store, "1758203600", "b")

	engine := NewEngine(store)
	base := time.Date(2025, 9, 18, 20, 0, 0, 0, time.UTC)
	engine.SetClock(func() time.Time { return base })

	_, err := engine.Snapshot(context.Background(), "1758200000")
	require.NoError(t, err)

	// The other session has its own cooldown window.
	engine.SetClock(func() time.Time { return base.Add(5 * time.Minute) })
	res, err := engine.Snapshot(context.Background(), "1758203600")
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, int64(1), res.Rows)
}
