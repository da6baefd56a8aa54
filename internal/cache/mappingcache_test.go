package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/beyondk-network/gmvtracker/internal/storage/models"
)

func TestMappingCacheRoundTrip(t *testing.T) {
	c := NewMappingCache(2*time.Hour, nil)
	ctx := context.Background()

	entries := []models.DealEntry{{ItemID: "1", ShopID: "100", Cluster: "A"}}
	c.Put(ctx, 1, entries)

	got, ok := c.Get(ctx, 1)
	assert.True(t, ok)
	assert.Equal(t, entries, got)

	// Instances are independent.
	_, ok = c.Get(ctx, 2)
	assert.False(t, ok)
}

func TestMappingCacheExpiry(t *testing.T) {
	c := NewMappingCache(2*time.Hour, nil)
	ctx := context.Background()

	base := time.Now()
	c.SetClock(func() time.Time { return base })
	c.Put(ctx, 1, []models.DealEntry{{ItemID: "1"}})

	c.SetClock(func() time.Time { return base.Add(2*time.Hour + time.Second) })
	_, ok := c.Get(ctx, 1)
	assert.False(t, ok)
}

func TestMappingCacheInvalidate(t *testing.T) {
	c := NewMappingCache(2*time.Hour, nil)
	ctx := context.Background()

	c.Put(ctx, 1, []models.DealEntry{{ItemID: "1"}})
	c.Put(ctx, 2, []models.DealEntry{{ItemID: "2"}})
	c.Invalidate(ctx)

	_, ok := c.Get(ctx, 1)
	assert.False(t, ok)
	_, ok = c.Get(ctx, 2)
	assert.False(t, ok)
}

type fakeMirror struct {
	store map[int][]models.DealEntry
}

func (m *fakeMirror) SetDealList(_ context.Context, instance int, entries []models.DealEntry, _ time.Duration) error {
	m.store[instance] = entries
	return nil
}

func (m *fakeMirror) GetDealList(_ context.Context, instance int) ([]models.DealEntry, bool, error) {
	entries, ok := m.store[instance]
	return entries, ok, nil
}

func (m *fakeMirror) InvalidateDealLists(context.Context) error {
	m.store = make(map[int][]models.DealEntry)
	return nil
}

func TestMappingCacheMirrorFallback(t *testing.T) {
	mirror := &fakeMirror{store: map[int][]models.DealEntry{
		2: {{ItemID: "9", ShopID: "900"}},
	}}
	c := NewMappingCache(2*time.Hour, mirror)
	ctx := context.Background()

	// Local miss falls through to the mirror and repopulates memory.
	got, ok := c.Get(ctx, 2)
	assert.True(t, ok)
	assert.Equal(t, "9", got[0].ItemID)

	c.Put(ctx, 1, []models.DealEntry{{ItemID: "1"}})
	assert.Len(t, mirror.store[1], 1)

	c.Invalidate(ctx)
	assert.Empty(t, mirror.store)
}
