// Package ws pushes job and pipeline lifecycle events to connected
// WebSocket clients, so a frontend can show live progress without
// polling.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/jotstack/jotstack/internal/events"
)

// Hub manages WebSocket connections and fans events out to them. It
// implements events.Handler so it can be registered directly on the
// event broadcaster.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewHub creates a WebSocket hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger.With("component", "ws_hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request to a WebSocket connection and registers
// it for event delivery. The connection is read only to detect close.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("websocket client connected", "client_count", count)

	go h.readUntilClose(conn)
}

// HandleEvent implements events.Handler: every broadcast event is pushed
// to every connected client. A failed write drops the client.
func (h *Hub) HandleEvent(ctx context.Context, event *events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		if err := conn.WriteJSON(event); err != nil {
			h.logger.Warn("failed to push event, dropping client",
				"event", event.Name,
				"error", err)
			delete(h.clients, conn)
			_ = conn.Close()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}

func (h *Hub) readUntilClose(conn *websocket.Conn) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		count := len(h.clients)
		h.mu.Unlock()
		_ = conn.Close()
		h.logger.Info("websocket client disconnected", "client_count", count)
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

var _ events.Handler = (*Hub)(nil)
