package events

import (
	"context"
	"log/slog"
	"sync"
)

// InMemoryBroadcaster is a simple Broadcaster implementation that fans
// events out to handlers registered in the same process.
type InMemoryBroadcaster struct {
	handlers []Handler
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewInMemoryBroadcaster creates a new instance of InMemoryBroadcaster.
func NewInMemoryBroadcaster(logger *slog.Logger) *InMemoryBroadcaster {
	return &InMemoryBroadcaster{
		handlers: make([]Handler, 0),
		logger:   logger.With("component", "in_memory_broadcaster"),
	}
}

// RegisterHandler adds a new handler to receive events.
func (b *InMemoryBroadcaster) RegisterHandler(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
	b.logger.Debug("registered event handler", "handler_count", len(b.handlers))
}

// Broadcast delivers the event to every registered handler. Having no
// handlers is not an error; the event is simply dropped.
func (b *InMemoryBroadcaster) Broadcast(ctx context.Context, name string, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	event := NewEvent(name, payload)

	b.logger.Debug("broadcasting event",
		"event_id", event.ID,
		"event_name", name,
		"handler_count", len(handlers))

	for _, handler := range handlers {
		handler.HandleEvent(ctx, event)
	}
}
