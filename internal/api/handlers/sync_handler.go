package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/beyondk-network/gmvtracker/internal/cache"
	"github.com/beyondk-network/gmvtracker/internal/dealsync"
	"github.com/beyondk-network/gmvtracker/internal/storage/sqlite"
	"github.com/beyondk-network/gmvtracker/pkg/logger"
)

// configKeys lists the settings the dashboard may read or write. It is
// an allow-list so the config endpoint cannot become a generic KV store.
var configKeys = map[string]bool{
	"spreadsheet_url":       true,
	"deallist_sheet":        true,
	"deallist2_url":         true,
	"deallist2_sheet":       true,
	"auto_sync_enabled":     true,
	"current_session_title": true,
	"last_sync":             true,
}

type SyncHandler struct {
	syncer   *dealsync.Syncer
	auto     *dealsync.AutoSyncer
	store    *sqlite.Client
	reads    *cache.ReadCache
	mappings *cache.MappingCache
	stream   *StreamHandler
}

func NewSyncHandler(syncer *dealsync.Syncer, auto *dealsync.AutoSyncer, store *sqlite.Client, reads *cache.ReadCache, mappings *cache.MappingCache, stream *StreamHandler) *SyncHandler {
	return &SyncHandler{
		syncer:   syncer,
		auto:     auto,
		store:    store,
		reads:    reads,
		mappings: mappings,
		stream:   stream,
	}
}

func (h *SyncHandler) RefreshDealList(c *fiber.Ctx) error {
	return h.refresh(c, 1)
}

func (h *SyncHandler) RefreshDealList2(c *fiber.Ctx) error {
	return h.refresh(c, 2)
}

func (h *SyncHandler) refresh(c *fiber.Ctx, instance int) error {
	result, err := h.syncer.Sync(c.Context(), instance)
	if err != nil {
		if errors.Is(err, dealsync.ErrNotConfigured) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "Deal list source is not configured",
			})
		}
		logger.Error("Deal list sync failed", zap.Int("instance", instance), zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to sync deal list",
		})
	}

	if h.stream != nil {
		h.stream.NotifyStats(c.Context())
	}

	return c.JSON(fiber.Map{
		"success": true,
		"result":  result,
	})
}

func (h *SyncHandler) AutoSyncStart(c *fiber.Ctx) error {
	h.auto.Start()
	if err := h.store.SetConfig(c.Context(), "auto_sync_enabled", "true"); err != nil {
		logger.Warn("Failed to persist auto-sync setting", zap.Error(err))
	}
	return c.JSON(fiber.Map{
		"success": true,
		"status":  h.auto.Status(),
	})
}

func (h *SyncHandler) AutoSyncStop(c *fiber.Ctx) error {
	h.auto.Stop()
	if err := h.store.SetConfig(c.Context(), "auto_sync_enabled", "false"); err != nil {
		logger.Warn("Failed to persist auto-sync setting", zap.Error(err))
	}
	return c.JSON(fiber.Map{
		"success": true,
		"status":  h.auto.Status(),
	})
}

func (h *SyncHandler) AutoSyncStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"status":  h.auto.Status(),
	})
}

func (h *SyncHandler) CacheStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"read":    h.reads.Status(),
	})
}

// CacheRefresh drops both caches so the next read and the next sync hit
// their sources.
func (h *SyncHandler) CacheRefresh(c *fiber.Ctx) error {
	h.reads.Invalidate()
	h.mappings.Invalidate(c.Context())
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Caches cleared",
	})
}

func (h *SyncHandler) GetConfig(c *fiber.Ctx) error {
	values := make(map[string]string)
	for key := range configKeys {
		value, err := h.store.GetConfig(c.Context(), key)
		if err != nil {
			logger.Error("Failed to read config", zap.String("key", key), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"error":   "Failed to read config",
			})
		}
		values[key] = value
	}
	return c.JSON(fiber.Map{
		"success": true,
		"config":  values,
	})
}

func (h *SyncHandler) SetConfig(c *fiber.Ctx) error {
	var req map[string]string
	if err := c.BodyParser(&req); err != nil || len(req) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	sourceChanged := false
	for key, value := range req {
		if !configKeys[key] {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "Unknown config key: " + key,
			})
		}
		if err := h.store.SetConfig(c.Context(), key, value); err != nil {
			logger.Error("Failed to write config", zap.String("key", key), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"error":   "Failed to write config",
			})
		}
		if strings.Contains(key, "url") || strings.Contains(key, "sheet") {
			sourceChanged = true
		}
	}

	// A changed source makes the cached mapping stale.
	if sourceChanged {
		h.mappings.Invalidate(c.Context())
	}

	return c.JSON(fiber.Map{
		"success": true,
		"updated": len(req),
	})
}
