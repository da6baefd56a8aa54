// Package cache holds the in-process read caches backing the dashboard
// endpoints.
package cache

import (
	"sync"
	"time"

	"github.com/beyondk-network/gmvtracker/internal/metrics"
	"github.com/beyondk-network/gmvtracker/internal/storage/models"
)

// Key identifies one cached full-dataset variant. Paginated reads bypass
// the cache entirely, so only the parameters of the full read appear here.
type Key struct {
	SortBy    string
	SortDir   string
	SessionID string
}

type entry struct {
	key      Key
	snapshot *models.DatasetSnapshot
	storedAt time.Time
}

// ReadCache keeps the most recent full-dataset response for a short TTL.
// Holding a single entry is intentional: the dashboard polls one variant
// at a time, and a new variant or a data write should evict immediately
// rather than serve siblings of disputed freshness.
type ReadCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	entry *entry
}

func NewReadCache(ttl time.Duration) *ReadCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ReadCache{ttl: ttl, now: time.Now}
}

// SetClock overrides the time source for tests.
func (c *ReadCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the cached snapshot for key, or nil when the cache is
// empty, holds a different variant, or the entry has expired.
func (c *ReadCache) Get(key Key) *models.DatasetSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry == nil || c.entry.key != key {
		metrics.CacheMisses.WithLabelValues("read").Inc()
		return nil
	}
	if c.now().Sub(c.entry.storedAt) >= c.ttl {
		c.entry = nil
		metrics.CacheMisses.WithLabelValues("read").Inc()
		return nil
	}

	metrics.CacheHits.WithLabelValues("read").Inc()
	return c.entry.snapshot
}

// Put stores a snapshot, replacing whatever variant was cached before.
func (c *ReadCache) Put(key Key, snapshot *models.DatasetSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = &entry{key: key, snapshot: snapshot, storedAt: c.now()}
}

// Invalidate drops the cached entry. Writers call this so the next read
// sees fresh data instead of waiting out the TTL.
func (c *ReadCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = nil
}

// Status reports the cache's current entry for the diagnostics endpoint.
func (c *ReadCache) Status() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry == nil {
		return map[string]any{"cached": false, "ttl_seconds": c.ttl.Seconds()}
	}
	age := c.now().Sub(c.entry.storedAt)
	return map[string]any{
		"cached":      true,
		"ttl_seconds": c.ttl.Seconds(),
		"age_seconds": age.Seconds(),
		"sort_by":     c.entry.key.SortBy,
		"sort_dir":    c.entry.key.SortDir,
		"session_id":  c.entry.key.SessionID,
		"rows":        len(c.entry.snapshot.Rows),
	}
}
