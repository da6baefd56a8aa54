package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/beyondk-network/gmvtracker/internal/cache"
	"github.com/beyondk-network/gmvtracker/internal/storage/models"
	"github.com/beyondk-network/gmvtracker/internal/storage/sqlite"
	"github.com/beyondk-network/gmvtracker/pkg/logger"
)

type GmvHandler struct {
	store *sqlite.Client
	reads *cache.ReadCache
}

func NewGmvHandler(store *sqlite.Client, reads *cache.ReadCache) *GmvHandler {
	return &GmvHandler{
		store: store,
		reads: reads,
	}
}

func readParams(c *fiber.Ctx) sqlite.ReadParams {
	return sqlite.ReadParams{
		SessionID: c.Query("session_id"),
		ShopID:    c.Query("shop_id"),
		Search:    c.Query("search"),
		SortBy:    c.Query("sort_by", "revenue"),
		SortDir:   c.Query("sort_dir", "desc"),
		Page:      c.QueryInt("page", 1),
		PerPage:   c.QueryInt("per_page", 50),
	}
}

// TopGmv serves the paginated product table. Paginated reads always hit
// the database; only the full-dataset endpoint is cached.
func (h *GmvHandler) TopGmv(c *fiber.Ctx) error {
	params := readParams(c)

	result, err := h.store.Read(c.Context(), params)
	if err != nil {
		logger.Error("Failed to read gmv data", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to read data",
		})
	}

	shopIDs, err := h.store.DistinctShopIDs(c.Context())
	if err != nil {
		logger.Error("Failed to list shop ids", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to read data",
		})
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"data":      result.Rows,
		"stats":     result.Stats,
		"shop_ids":  shopIDs,
		"total":     result.Total,
		"page":      params.Page,
		"per_page":  params.PerPage,
		"last_sync": h.lastSync(c),
	})
}

// AllData serves the full enriched dataset behind the short-TTL read
// cache. The response says whether it was served from cache.
func (h *GmvHandler) AllData(c *fiber.Ctx) error {
	key := cache.Key{
		SortBy:    c.Query("sort_by", "revenue"),
		SortDir:   c.Query("sort_dir", "desc"),
		SessionID: c.Query("session_id"),
	}

	if snapshot := h.reads.Get(key); snapshot != nil {
		return c.JSON(fiber.Map{
			"success":    true,
			"data":       snapshot.Rows,
			"stats":      snapshot.Stats,
			"shop_ids":   snapshot.ShopIDs,
			"last_sync":  snapshot.LastSync,
			"from_cache": true,
		})
	}

	result, err := h.store.Read(c.Context(), sqlite.ReadParams{
		SessionID: key.SessionID,
		SortBy:    key.SortBy,
		SortDir:   key.SortDir,
		PerPage:   10000,
	})
	if err != nil {
		logger.Error("Failed to read full dataset", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to read data",
		})
	}

	shopIDs, err := h.store.DistinctShopIDs(c.Context())
	if err != nil {
		logger.Error("Failed to list shop ids", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to read data",
		})
	}

	snapshot := &models.DatasetSnapshot{
		Rows:     result.Rows,
		ShopIDs:  shopIDs,
		Stats:    result.Stats,
		LastSync: h.lastSync(c),
	}
	h.reads.Put(key, snapshot)

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       snapshot.Rows,
		"stats":      snapshot.Stats,
		"shop_ids":   snapshot.ShopIDs,
		"last_sync":  snapshot.LastSync,
		"from_cache": false,
	})
}

// ShopIDs powers the shop filter dropdown.
func (h *GmvHandler) ShopIDs(c *fiber.Ctx) error {
	ids, err := h.store.DistinctShopIDs(c.Context())
	if err != nil {
		logger.Error("Failed to list shop ids", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to read shop ids",
		})
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"shop_ids": ids,
	})
}

func (h *GmvHandler) lastSync(c *fiber.Ctx) string {
	lastSync, err := h.store.GetConfig(c.Context(), "last_sync")
	if err != nil || lastSync == "" {
		if observed, err := h.store.LatestObservedAt(c.Context()); err == nil {
			return observed
		}
	}
	return lastSync
}
