package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/beyondk-network/gmvtracker/internal/storage/sqlite"
	"github.com/beyondk-network/gmvtracker/pkg/logger"
)

// StreamHandler pushes aggregate stats to dashboard clients over a
// websocket, so the summary bar updates without polling.
type StreamHandler struct {
	store *sqlite.Client

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func NewStreamHandler(store *sqlite.Client) *StreamHandler {
	return &StreamHandler{
		store:   store,
		clients: make(map[*websocket.Conn]bool),
	}
}

// HandleConnection serves one client. The initial stats frame goes out
// immediately; afterwards the connection idles until a broadcast or the
// client disconnects.
func (h *StreamHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	h.sendStats(context.Background(), c)

	for {
		// Clients only listen; reads exist to notice disconnects.
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
}

// NotifyStats broadcasts fresh stats to every connected client. Called
// after writes that change the aggregates.
func (h *StreamHandler) NotifyStats(ctx context.Context) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		h.sendStats(ctx, c)
	}
}

func (h *StreamHandler) sendStats(ctx context.Context, c *websocket.Conn) {
	result, err := h.store.Read(ctx, sqlite.ReadParams{PerPage: 10})
	if err != nil {
		logger.Error("Failed to read stats for stream", zap.Error(err))
		return
	}

	msg := map[string]any{
		"type":  "stats",
		"stats": result.Stats,
		"at":    time.Now().Format(time.RFC3339),
	}
	if err := c.WriteJSON(msg); err != nil {
		logger.Warn("Failed to push stats frame", zap.Error(err))
	}
}
