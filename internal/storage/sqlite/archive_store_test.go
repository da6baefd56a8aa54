package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beyondk-network/gmvtracker/internal/storage/models"
)

func TestLastArchivedAtEmpty(t *testing.T) {
	client := newTestClient(t)

	_, ok, err := client.LastArchivedAt(context.Background(), "100")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCopySessionToHistorySharedTimestamp(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.WriteBatch(ctx, "100", "s", []models.ProductMetric{
		metric("a", 1), metric("b", 2),
	})
	require.NoError(t, err)

	at := time.Date(2025, 9, 18, 20, 0, 0, 0, time.UTC)
	rows, err := client.CopySessionToHistory(ctx, "100", at)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rows)

	last, ok, err := client.LastArchivedAt(ctx, "100")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, at.Unix(), last.Unix())

	slots, err := client.Timeslots(ctx, "100")
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, int64(2), slots[0].ItemCount)
	assert.Equal(t, at.Unix(), slots[0].ArchivedAt.Unix())
}

func TestArchivedSessionsDirectory(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.WriteBatch(ctx, "100", "first", []models.ProductMetric{metric("a", 1)})
	require.NoError(t, err)
	_, err = client.WriteBatch(ctx, "200", "second", []models.ProductMetric{metric("b", 2), metric("c", 3)})
	require.NoError(t, err)

	t0 := time.Date(2025, 9, 18, 20, 0, 0, 0, time.UTC)
	_, err = client.CopySessionToHistory(ctx, "100", t0)
	require.NoError(t, err)
	_, err = client.CopySessionToHistory(ctx, "100", t0.Add(time.Hour))
	require.NoError(t, err)
	_, err = client.CopySessionToHistory(ctx, "200", t0.Add(2*time.Hour))
	require.NoError(t, err)

	sessions, err := client.ArchivedSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	byID := map[string]models.ArchivedSession{}
	for _, s := range sessions {
		byID[s.SessionID] = s
	}
	assert.Equal(t, int64(2), byID["100"].TimeslotCount)
	assert.Equal(t, int64(1), byID["100"].ItemCount)
	assert.Equal(t, int64(2), byID["200"].ItemCount)
	assert.Equal(t, t0.Add(2*time.Hour).Unix(), byID["200"].LastArchived.Unix())
}

func TestCopySessionToHistoryKeepsEnrichment(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.WriteBatch(ctx, "100", "s", []models.ProductMetric{metric("1001", 10)})
	require.NoError(t, err)
	_, err = client.ReplaceAll(ctx, 1, []models.DealEntry{{ItemID: "1001", ShopID: "55", Cluster: "A"}})
	require.NoError(t, err)
	_, err = client.RefreshLiveEnrichment(ctx, 1)
	require.NoError(t, err)

	// The next scrape cycle rewrites the session before any further
	// deal-list sync happens. The rewrite must not shed the mapping.
	_, err = client.WriteBatch(ctx, "100", "s", []models.ProductMetric{metric("1001", 20)})
	require.NoError(t, err)

	t0 := time.Date(2025, 9, 18, 20, 0, 0, 0, time.UTC)
	_, err = client.CopySessionToHistory(ctx, "100", t0)
	require.NoError(t, err)

	var shopID, cluster, link string
	err = client.db.QueryRow(`SELECT shop_id, cluster, link_sp FROM gmv_history WHERE item_id = '1001'`).
		Scan(&shopID, &cluster, &link)
	require.NoError(t, err)
	assert.Equal(t, "55", shopID)
	assert.Equal(t, "A", cluster)
	assert.Equal(t, "https://shopee.vn/a-i.55.1001", link)
}

func TestWriteBatchEnrichesFromPinnedInstance(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.ReplaceAll(ctx, 1, []models.DealEntry{{ItemID: "1001", ShopID: "55", Cluster: "One"}})
	require.NoError(t, err)
	_, err = client.ReplaceAll(ctx, 2, []models.DealEntry{{ItemID: "1001", ShopID: "77", Cluster: "Two"}})
	require.NoError(t, err)
	require.NoError(t, client.PinSession(ctx, "100", 2))

	_, err = client.WriteBatch(ctx, "100", "s", []models.ProductMetric{metric("1001", 10)})
	require.NoError(t, err)

	var shopID, link string
	err = client.db.QueryRow(`SELECT shop_id, link_sp FROM gmv_live WHERE item_id = '1001'`).
		Scan(&shopID, &link)
	require.NoError(t, err)
	assert.Equal(t, "77", shopID)
	assert.Equal(t, "https://shopee.vn/a-i.77.1001", link)
}

func TestSnapshotAtPreservesHistory(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.WriteBatch(ctx, "100", "s", []models.ProductMetric{metric("a", 100)})
	require.NoError(t, err)

	t0 := time.Date(2025, 9, 18, 20, 0, 0, 0, time.UTC)
	_, err = client.CopySessionToHistory(ctx, "100", t0)
	require.NoError(t, err)

	// Later live changes never alter the captured snapshot metrics.
	_, err = client.WriteBatch(ctx, "100", "s", []models.ProductMetric{metric("a", 999)})
	require.NoError(t, err)

	rows, err := client.SnapshotAt(ctx, "100", t0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(100), rows[0].Revenue)
	assert.Equal(t, t0.Unix(), rows[0].ArchivedAt.Unix())

	// An unknown timeslot returns nothing.
	rows, err = client.SnapshotAt(ctx, "100", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, rows)
}
