package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/beyondk-network/gmvtracker/internal/metrics"
	"github.com/beyondk-network/gmvtracker/internal/storage/models"
	"github.com/beyondk-network/gmvtracker/pkg/logger"
)

// Mirror is an optional cross-process backend for the mapping cache.
// A nil mirror reduces the cache to process memory.
type Mirror interface {
	SetDealList(ctx context.Context, instance int, entries []models.DealEntry, ttl time.Duration) error
	GetDealList(ctx context.Context, instance int) ([]models.DealEntry, bool, error)
	InvalidateDealLists(ctx context.Context) error
}

type mappingEntry struct {
	entries  []models.DealEntry
	storedAt time.Time
}

// MappingCache holds fetched deal-list mappings per instance so repeated
// syncs within the TTL skip the upstream fetch. Mirror failures degrade
// to the in-memory copy, never to an error for the caller.
type MappingCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[int]mappingEntry
	mirror  Mirror
}

func NewMappingCache(ttl time.Duration, mirror Mirror) *MappingCache {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &MappingCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[int]mappingEntry),
		mirror:  mirror,
	}
}

// SetClock overrides the time source for tests.
func (c *MappingCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *MappingCache) Get(ctx context.Context, instance int) ([]models.DealEntry, bool) {
	c.mu.Lock()
	e, ok := c.entries[instance]
	if ok && c.now().Sub(e.storedAt) < c.ttl {
		c.mu.Unlock()
		metrics.CacheHits.WithLabelValues("mapping").Inc()
		return e.entries, true
	}
	if ok {
		delete(c.entries, instance)
	}
	c.mu.Unlock()

	if c.mirror != nil {
		entries, found, err := c.mirror.GetDealList(ctx, instance)
		if err != nil {
			logger.Warn("Mapping cache mirror read failed", zap.Error(err))
		} else if found {
			c.mu.Lock()
			c.entries[instance] = mappingEntry{entries: entries, storedAt: c.now()}
			c.mu.Unlock()
			metrics.CacheHits.WithLabelValues("mapping").Inc()
			return entries, true
		}
	}

	metrics.CacheMisses.WithLabelValues("mapping").Inc()
	return nil, false
}

func (c *MappingCache) Put(ctx context.Context, instance int, entries []models.DealEntry) {
	c.mu.Lock()
	c.entries[instance] = mappingEntry{entries: entries, storedAt: c.now()}
	c.mu.Unlock()

	if c.mirror != nil {
		if err := c.mirror.SetDealList(ctx, instance, entries, c.ttl); err != nil {
			logger.Warn("Mapping cache mirror write failed", zap.Error(err))
		}
	}
}

// Invalidate drops every instance, locally and in the mirror.
func (c *MappingCache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[int]mappingEntry)
	c.mu.Unlock()

	if c.mirror != nil {
		if err := c.mirror.InvalidateDealLists(ctx); err != nil {
			logger.Warn("Mapping cache mirror invalidate failed", zap.Error(err))
		}
	}
}
