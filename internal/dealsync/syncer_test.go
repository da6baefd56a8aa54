package dealsync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beyondk-network/gmvtracker/internal/cache"
	"github.com/beyondk-network/gmvtracker/internal/storage/models"
	"github.com/beyondk-network/gmvtracker/internal/storage/sqlite"
)

type fakeSource struct {
	values [][]string
	title  string
	err    error
	calls  int
}

func (f *fakeSource) Fetch(context.Context, string, string) ([][]string, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	return f.values, f.title, nil
}

func newTestSyncer(t *testing.T, source Source) (*Syncer, *sqlite.Client, *cache.ReadCache) {
	t.Helper()
	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { store.Close() })

	reads := cache.NewReadCache(time.Minute)
	syncer := NewSyncer(store, reads, cache.NewMappingCache(2*time.Hour, nil), source)
	syncer.retryCfg.MaxAttempts = 1
	return syncer, store, reads
}

func configureInstance(t *testing.T, store *sqlite.Client, instance int) {
	t.Helper()
	ctx := context.Background()
	urlKey, sheetKey := configKeys(instance)
	require.NoError(t, store.SetConfig(ctx, urlKey, "https://docs.google.com/spreadsheets/d/abc123abc123abc123abc123/edit"))
	require.NoError(t, store.SetConfig(ctx, sheetKey, "Deal list"))
}

func TestSyncReplacesMappingAndEnrichesLive(t *testing.T) {
	source := &fakeSource{
		title: "[16.01] Internal | Vũ Ngọc Anh x Phát La",
		values: [][]string{
			{"notes", ""},
			{"Final Item ID", "Shop ID", "Cluster"},
			{"1001", "vinamilk+55", "FMCG"},
			{"1002", "abc99xyz", "Beauty"},
			{"", "123", ""},
		},
	}
	syncer, store, reads := newTestSyncer(t, source)
	ctx := context.Background()
	configureInstance(t, store, 1)

	_, err := store.WriteBatch(ctx, "1758200000", "Session 1758200000", []models.ProductMetric{
		{ItemID: "1001", ItemName: "noodles", Revenue: 500},
	})
	require.NoError(t, err)

	// Dashboard responses cached before the sync hold pre-sync mappings.
	staleKey := cache.Key{SortBy: "revenue", SortDir: "desc", SessionID: "1758200000"}
	reads.Put(staleKey, &models.DatasetSnapshot{})

	res, err := syncer.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, reads.Get(staleKey))
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, "[16.01] Vũ Ngọc Anh x Phát La", res.Title)
	assert.False(t, res.FromCache)

	read, err := store.Read(ctx, sqlite.ReadParams{SessionID: "1758200000"})
	require.NoError(t, err)
	require.Len(t, read.Rows, 1)
	assert.Equal(t, "55", read.Rows[0].ShopID)
	assert.Equal(t, "FMCG", read.Rows[0].Cluster)
	assert.Equal(t, "https://shopee.vn/a-i.55.1001", read.Rows[0].Link)
	assert.Equal(t, "[16.01] Vũ Ngọc Anh x Phát La", read.Rows[0].SessionTitle)

	last, err := store.GetConfig(ctx, "last_sync")
	require.NoError(t, err)
	assert.NotEmpty(t, last)
}

func TestSyncSecondRunUsesMappingCache(t *testing.T) {
	source := &fakeSource{
		title: "Title",
		values: [][]string{
			{"Item ID", "Shop ID"},
			{"1001", "55"},
		},
	}
	syncer, store, _ := newTestSyncer(t, source)
	ctx := context.Background()
	configureInstance(t, store, 1)

	_, err := syncer.Sync(ctx, 1)
	require.NoError(t, err)

	res, err := syncer.Sync(ctx, 1)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, 1, source.calls)
}

func TestSyncNotConfigured(t *testing.T) {
	syncer, _, _ := newTestSyncer(t, &fakeSource{})

	_, err := syncer.Sync(context.Background(), 2)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSyncFetchFailure(t *testing.T) {
	source := &fakeSource{err: errors.New("upstream down")}
	syncer, store, _ := newTestSyncer(t, source)
	configureInstance(t, store, 1)

	_, err := syncer.Sync(context.Background(), 1)
	assert.Error(t, err)

	// Failed syncs leave no partial mapping behind.
	count, err := store.DealEntryCount(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSyncInstanceTwoPinnedSessions(t *testing.T) {
	source := &fakeSource{
		title: "[20.03] Internal | Mega Live",
		values: [][]string{
			{"Item ID", "Shop ID", "Cluster"},
			{"2001", "77", "Tech"},
		},
	}
	syncer, store, _ := newTestSyncer(t, source)
	ctx := context.Background()
	configureInstance(t, store, 2)

	_, err := store.WriteBatch(ctx, "1758200000", "first", []models.ProductMetric{{ItemID: "2001"}})
	require.NoError(t, err)
	_, err = store.WriteBatch(ctx, "1758203600", "second", []models.ProductMetric{{ItemID: "2001"}})
	require.NoError(t, err)
	require.NoError(t, store.PinSession(ctx, "1758203600", 2))

	res, err := syncer.Sync(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)

	// Only the pinned session picks up instance-2 enrichment and title.
	pinned, err := store.Read(ctx, sqlite.ReadParams{SessionID: "1758203600"})
	require.NoError(t, err)
	require.Len(t, pinned.Rows, 1)
	assert.Equal(t, "77", pinned.Rows[0].ShopID)
	assert.Equal(t, "[20.03] Mega Live", pinned.Rows[0].SessionTitle)

	other, err := store.Read(ctx, sqlite.ReadParams{SessionID: "1758200000"})
	require.NoError(t, err)
	require.Len(t, other.Rows, 1)
	assert.Equal(t, "first", other.Rows[0].SessionTitle)
}
