package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beyondk-network/gmvtracker/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, client.InitSchema())
	t.Cleanup(func() { client.Close() })
	return client
}

func metric(itemID string, revenue int64) models.ProductMetric {
	return models.ProductMetric{
		ItemID:   itemID,
		ItemName: "item " + itemID,
		Revenue:  revenue,
	}
}

func TestWriteBatchReplacesSession(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	n, err := client.WriteBatch(ctx, "100", "s", []models.ProductMetric{
		metric("a", 1), metric("b", 2), metric("c", 3),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// The next batch is the complete new state, not a delta.
	n, err = client.WriteBatch(ctx, "100", "s", []models.ProductMetric{
		metric("b", 20),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	result, err := client.Read(ctx, ReadParams{SessionID: "100"})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "b", result.Rows[0].ItemID)
	assert.Equal(t, int64(20), result.Rows[0].Revenue)
}

func TestWriteBatchSessionIsolation(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.WriteBatch(ctx, "100", "first", []models.ProductMetric{metric("a", 1)})
	require.NoError(t, err)
	_, err = client.WriteBatch(ctx, "200", "second", []models.ProductMetric{metric("b", 2)})
	require.NoError(t, err)

	// Replacing session 200 never touches session 100.
	_, err = client.WriteBatch(ctx, "200", "second", []models.ProductMetric{metric("c", 3)})
	require.NoError(t, err)

	result, err := client.Read(ctx, ReadParams{SessionID: "100"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Total)
	assert.Equal(t, "a", result.Rows[0].ItemID)
}

func TestWriteBatchDuplicateItemsLastWins(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	n, err := client.WriteBatch(ctx, "100", "s", []models.ProductMetric{
		metric("a", 1),
		metric("b", 2),
		metric("a", 10),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	result, err := client.Read(ctx, ReadParams{SessionID: "100", SortBy: "item_name", SortDir: "asc"})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, int64(10), result.Rows[0].Revenue)
}

func TestReadSortAllowList(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.WriteBatch(ctx, "100", "s", []models.ProductMetric{
		metric("a", 1), metric("b", 3), metric("c", 2),
	})
	require.NoError(t, err)

	// An unknown sort column quietly falls back to revenue desc.
	result, err := client.Read(ctx, ReadParams{SessionID: "100", SortBy: "item_id; DROP TABLE gmv_live"})
	require.NoError(t, err)
	require.Len(t, result.Rows, 3)
	assert.Equal(t, "b", result.Rows[0].ItemID)
	assert.Equal(t, "a", result.Rows[2].ItemID)
}

func TestReadPagination(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	batch := make([]models.ProductMetric, 0, 25)
	for i := 0; i < 25; i++ {
		batch = append(batch, metric(string(rune('a'+i)), int64(i)))
	}
	_, err := client.WriteBatch(ctx, "100", "s", batch)
	require.NoError(t, err)

	result, err := client.Read(ctx, ReadParams{SessionID: "100", Page: 2, PerPage: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(25), result.Total)
	assert.Len(t, result.Rows, 10)

	// Per-page is clamped to at least 10.
	result, err = client.Read(ctx, ReadParams{SessionID: "100", PerPage: 3})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 10)
}

func TestReadSearchFilter(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.WriteBatch(ctx, "100", "s", []models.ProductMetric{
		{ItemID: "1001", ItemName: "Sữa Chua Uống", Revenue: 1},
		{ItemID: "1002", ItemName: "Kem đánh răng", Revenue: 2},
	})
	require.NoError(t, err)

	result, err := client.Read(ctx, ReadParams{SessionID: "100", Search: "sữa chua"})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "1001", result.Rows[0].ItemID)

	// Item id substring matches too.
	result, err = client.Read(ctx, ReadParams{SessionID: "100", Search: "1002"})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
}

func TestReadStats(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.WriteBatch(ctx, "100", "s", []models.ProductMetric{
		{ItemID: "a", Revenue: 100, ConfirmedRevenue: 80, Clicks: 10, Orders: 2, ItemsSold: 3, AddToCart: 5},
		{ItemID: "b", Revenue: 200, ConfirmedRevenue: 150, Clicks: 20, Orders: 4, ItemsSold: 6, AddToCart: 10},
	})
	require.NoError(t, err)

	result, err := client.Read(ctx, ReadParams{SessionID: "100"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Stats.TotalProducts)
	assert.Equal(t, int64(300), result.Stats.TotalRevenue)
	assert.Equal(t, int64(230), result.Stats.TotalConfirmedRevenue)
	assert.Equal(t, int64(30), result.Stats.TotalClicks)
	assert.Equal(t, int64(6), result.Stats.TotalOrders)
	assert.Equal(t, int64(9), result.Stats.TotalItemsSold)
	assert.Equal(t, int64(15), result.Stats.TotalAddToCart)
	assert.Zero(t, result.Stats.WithLink)
}

func TestActiveSessionsNewestFirstCapped(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	for _, id := range []string{"100", "300", "200"} {
		_, err := client.WriteBatch(ctx, id, "Session "+id, []models.ProductMetric{metric("a", 1)})
		require.NoError(t, err)
	}

	sessions, err := client.ActiveSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "300", sessions[0].SessionID)
	assert.Equal(t, "200", sessions[1].SessionID)
}

func TestActiveSessionsTitlePreference(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	// Placeholder title first, then a real one arrives.
	_, err := client.WriteBatch(ctx, "100", "Session 100", []models.ProductMetric{metric("a", 1)})
	require.NoError(t, err)

	client.SetClock(func() time.Time { return time.Now().Add(time.Minute) })
	_, err = client.WriteBatch(ctx, "100", "[16.01] KOL Name", []models.ProductMetric{metric("a", 1)})
	require.NoError(t, err)

	sessions, err := client.ActiveSessions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "[16.01] KOL Name", sessions[0].SessionTitle)
}

func TestKeepLatestSessions(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	for _, id := range []string{"100", "200", "300", "400"} {
		_, err := client.WriteBatch(ctx, id, "s", []models.ProductMetric{metric("a", 1), metric("b", 2)})
		require.NoError(t, err)
	}

	archivedAt := time.Date(2025, 9, 18, 20, 0, 0, 0, time.UTC)
	_, err := client.CopySessionToHistory(ctx, "100", archivedAt)
	require.NoError(t, err)

	deleted, err := client.KeepLatestSessions(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)

	sessions, err := client.ActiveSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "400", sessions[0].SessionID)
	assert.Equal(t, "300", sessions[1].SessionID)

	// Sweeping the live table leaves the archive log intact.
	slots, err := client.Timeslots(ctx, "100")
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, archivedAt.Unix(), slots[0].ArchivedAt.Unix())

	rows, err := client.SnapshotAt(ctx, "100", archivedAt)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = client.KeepLatestSessions(ctx, 0)
	assert.Error(t, err)
}

func TestConfigRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	value, err := client.GetConfig(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, client.SetConfig(ctx, "last_sync", "2025-01-15 20:30:00"))
	require.NoError(t, client.SetConfig(ctx, "last_sync", "2025-01-15 21:00:00"))

	value, err = client.GetConfig(ctx, "last_sync")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-15 21:00:00", value)
}
