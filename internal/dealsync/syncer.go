package dealsync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/beyondk-network/gmvtracker/internal/cache"
	"github.com/beyondk-network/gmvtracker/internal/metrics"
	"github.com/beyondk-network/gmvtracker/internal/storage/models"
	"github.com/beyondk-network/gmvtracker/internal/storage/sqlite"
	"github.com/beyondk-network/gmvtracker/pkg/circuitbreaker"
	"github.com/beyondk-network/gmvtracker/pkg/logger"
	"github.com/beyondk-network/gmvtracker/pkg/retry"
)

// ErrNotConfigured means no upstream URL or sheet name is set for the
// requested instance. Callers treat it as a declined sync, not a failure.
var ErrNotConfigured = errors.New("deal list source not configured")

// Config key names per instance, kept in the database so the dashboard
// can change sources at runtime.
func configKeys(instance int) (urlKey, sheetKey string) {
	if instance == 2 {
		return "deallist2_url", "deallist2_sheet"
	}
	return "spreadsheet_url", "deallist_sheet"
}

// Result summarizes one completed sync.
type Result struct {
	Instance    int    `json:"instance"`
	Count       int    `json:"count"`
	Title       string `json:"parsed_title,omitempty"`
	RowsUpdated int64  `json:"rows_updated"`
	FromCache   bool   `json:"from_cache"`
}

// Syncer replaces a deal-list instance from its upstream source and
// pushes the fresh mapping through the live store. One breaker guards
// the upstream; fetches inside it retry with backoff.
type Syncer struct {
	store    *sqlite.Client
	reads    *cache.ReadCache
	mappings *cache.MappingCache
	source   Source
	breaker  *circuitbreaker.Breaker
	retryCfg retry.Config
}

func NewSyncer(store *sqlite.Client, reads *cache.ReadCache, mappings *cache.MappingCache, source Source) *Syncer {
	retryCfg := retry.DefaultConfig()
	retryCfg.Logger = logger.Log

	return &Syncer{
		store:    store,
		reads:    reads,
		mappings: mappings,
		source:   source,
		breaker: circuitbreaker.New("deallist-source", circuitbreaker.Config{
			FailureThreshold: 3,
			Timeout:          2 * time.Minute,
			Logger:           logger.Log,
		}),
		retryCfg: retryCfg,
	}
}

// Sync refreshes one deal-list instance. The mapping cache short-circuits
// the upstream fetch; either way the instance table is wholesale replaced
// and the live rows re-enriched so snapshots capture the new mapping.
func (s *Syncer) Sync(ctx context.Context, instance int) (*Result, error) {
	if instance != 1 && instance != 2 {
		return nil, fmt.Errorf("invalid deal list instance %d", instance)
	}
	label := strconv.Itoa(instance)

	urlKey, sheetKey := configKeys(instance)
	url, err := s.store.GetConfig(ctx, urlKey)
	if err != nil {
		return nil, err
	}
	sheetName, err := s.store.GetConfig(ctx, sheetKey)
	if err != nil {
		return nil, err
	}
	if url == "" || sheetName == "" {
		metrics.DealListSyncs.WithLabelValues(label, "not_configured").Inc()
		return nil, ErrNotConfigured
	}

	result := &Result{Instance: instance}

	entries, cached := s.mappings.Get(ctx, instance)
	if cached {
		result.FromCache = true
	} else {
		var title string
		entries, title, err = s.fetchEntries(ctx, url, sheetName)
		if err != nil {
			metrics.DealListSyncs.WithLabelValues(label, "error").Inc()
			return nil, err
		}
		result.Title = ParseSheetTitle(title)
		s.mappings.Put(ctx, instance, entries)
	}

	count, err := s.store.ReplaceAll(ctx, instance, entries)
	if err != nil {
		metrics.DealListSyncs.WithLabelValues(label, "error").Inc()
		return nil, err
	}
	result.Count = count

	updated, err := s.store.RefreshLiveEnrichment(ctx, instance)
	if err != nil {
		metrics.DealListSyncs.WithLabelValues(label, "error").Inc()
		return nil, err
	}
	result.RowsUpdated = updated

	if result.Title != "" {
		if _, err := s.store.UpdateSessionTitles(ctx, instance, result.Title); err != nil {
			logger.Warn("Failed to update session titles", zap.Error(err))
		}
		if instance == 1 {
			if err := s.store.SetConfig(ctx, "current_session_title", result.Title); err != nil {
				logger.Warn("Failed to store session title", zap.Error(err))
			}
		}
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	if err := s.store.SetConfig(ctx, "last_sync", now); err != nil {
		logger.Warn("Failed to store last sync time", zap.Error(err))
	}

	// Cached dashboard reads now show stale enrichment.
	s.reads.Invalidate()

	logger.Info("Deal list synced",
		zap.Int("instance", instance),
		zap.Int("entries", count),
		zap.Int64("rows_updated", updated),
		zap.Bool("from_cache", result.FromCache),
	)
	metrics.DealListSyncs.WithLabelValues(label, "success").Inc()
	return result, nil
}

func (s *Syncer) fetchEntries(ctx context.Context, url, sheetName string) ([]models.DealEntry, string, error) {
	type fetched struct {
		values [][]string
		title  string
	}

	res, err := retry.DoWithResult(ctx, s.retryCfg, func() (fetched, error) {
		var f fetched
		err := s.breaker.Execute(ctx, func() error {
			var err error
			f.values, f.title, err = s.source.Fetch(ctx, url, sheetName)
			return err
		})
		return f, err
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch deal list: %w", err)
	}
	if len(res.values) == 0 {
		return nil, "", fmt.Errorf("deal list sheet %s is empty", sheetName)
	}

	headerIdx := FindHeaderRow(res.values)
	cols, err := ResolveColumns(res.values[headerIdx])
	if err != nil {
		return nil, "", err
	}

	cellAt := func(row []string, idx int) string {
		if idx < 0 || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var entries []models.DealEntry
	for _, row := range res.values[headerIdx+1:] {
		entry := models.DealEntry{
			ItemID:  cellAt(row, cols.ItemID),
			ShopID:  ExtractShopID(cellAt(row, cols.ShopID)),
			Cluster: cellAt(row, cols.Cluster),
		}
		if entry.ItemID != "" && entry.ShopID != "" {
			entries = append(entries, entry)
		}
	}

	return entries, res.title, nil
}
