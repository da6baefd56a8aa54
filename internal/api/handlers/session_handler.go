package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/beyondk-network/gmvtracker/internal/archive"
	"github.com/beyondk-network/gmvtracker/internal/cache"
	"github.com/beyondk-network/gmvtracker/internal/storage/sqlite"
	"github.com/beyondk-network/gmvtracker/pkg/logger"
)

type SessionHandler struct {
	store    *sqlite.Client
	archiver *archive.Engine
	reads    *cache.ReadCache
}

func NewSessionHandler(store *sqlite.Client, archiver *archive.Engine, reads *cache.ReadCache) *SessionHandler {
	return &SessionHandler{
		store:    store,
		archiver: archiver,
		reads:    reads,
	}
}

// Active lists the most recent live sessions, two by default.
func (h *SessionHandler) Active(c *fiber.Ctx) error {
	sessions, err := h.store.ActiveSessions(c.Context(), c.QueryInt("limit", 2))
	if err != nil {
		logger.Error("Failed to list active sessions", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to list sessions",
		})
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"sessions": sessions,
	})
}

// Archived lists sessions present in the history log.
func (h *SessionHandler) Archived(c *fiber.Ctx) error {
	sessions, err := h.store.ArchivedSessions(c.Context())
	if err != nil {
		logger.Error("Failed to list archived sessions", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to list sessions",
		})
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"sessions": sessions,
	})
}

// Timeslots lists a session's archive snapshots, newest first.
func (h *SessionHandler) Timeslots(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	slots, err := h.store.Timeslots(c.Context(), sessionID)
	if err != nil {
		logger.Error("Failed to list timeslots", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to list timeslots",
		})
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"session_id": sessionID,
		"timeslots":  slots,
	})
}

// Snapshot returns the archived rows of one timeslot, identified by its
// unix archived_at value.
func (h *SessionHandler) Snapshot(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	archivedAt := c.QueryInt("archived_at", 0)
	if archivedAt <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "archived_at is required",
		})
	}

	rows, err := h.store.SnapshotAt(c.Context(), sessionID, time.Unix(int64(archivedAt), 0))
	if err != nil {
		logger.Error("Failed to read snapshot", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to read snapshot",
		})
	}
	return c.JSON(fiber.Map{
		"success":     true,
		"session_id":  sessionID,
		"archived_at": archivedAt,
		"data":        rows,
	})
}

// Archive triggers a manual snapshot. Within the cooldown this is a
// reported no-op, not an error.
func (h *SessionHandler) Archive(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	result, err := h.archiver.Snapshot(c.Context(), sessionID)
	if err != nil {
		logger.Error("Failed to archive session", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to archive session",
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"result":  result,
	})
}

// DealListMappings returns which sessions are pinned to deal list 2.
func (h *SessionHandler) DealListMappings(c *fiber.Ctx) error {
	mappings, err := h.store.SessionMappings(c.Context())
	if err != nil {
		logger.Error("Failed to read session mappings", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to read mappings",
		})
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"mappings": mappings,
	})
}

// PinDealList assigns a session to a deal-list instance.
func (h *SessionHandler) PinDealList(c *fiber.Ctx) error {
	sessionID := c.Params("id")

	var req struct {
		Instance int `json:"instance"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	if err := h.store.PinSession(c.Context(), sessionID, req.Instance); err != nil {
		if errors.Is(err, sqlite.ErrInvalidInstance) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "instance must be 1 or 2",
			})
		}
		logger.Error("Failed to pin session", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to pin session",
		})
	}

	// The session now joins against the other instance table.
	h.reads.Invalidate()

	return c.JSON(fiber.Map{
		"success":    true,
		"session_id": sessionID,
		"instance":   req.Instance,
	})
}

// Retention deletes live rows of all but the newest N sessions.
func (h *SessionHandler) Retention(c *fiber.Ctx) error {
	var req struct {
		Keep int `json:"keep"`
	}
	if err := c.BodyParser(&req); err != nil || req.Keep < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "keep must be a positive integer",
		})
	}

	deleted, err := h.store.KeepLatestSessions(c.Context(), req.Keep)
	if err != nil {
		logger.Error("Failed to sweep sessions", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to sweep sessions",
		})
	}

	h.reads.Invalidate()

	return c.JSON(fiber.Map{
		"success":      true,
		"kept":         req.Keep,
		"rows_deleted": deleted,
	})
}
