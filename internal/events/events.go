package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Lifecycle event names published by the queue manager and pipeline executor.
const (
	JobCreated   = "job.created"
	JobStarted   = "job.started"
	JobCompleted = "job.completed"
	JobFailed    = "job.failed"
	JobRetry     = "job.retry"
	JobCancelled = "job.cancelled"

	PipelineStarted   = "pipeline.started"
	PipelineCompleted = "pipeline.completed"
	PipelineFailed    = "pipeline.failed"
	PipelineCancelled = "pipeline.cancelled"
)

// Event is a lifecycle notification. The payload is serialized at creation
// so handlers can forward it without knowing the producing package's types.
type Event struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Name identifies what happened, e.g. "job.completed"
	Name string `json:"name"`

	// Payload contains event-specific data serialized as JSON
	Payload json.RawMessage `json:"payload"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// NewEvent creates an Event with the given name and payload. Payloads that
// cannot be serialized produce an event with a null payload rather than an
// error; notifications are best-effort.
func NewEvent(name string, payload any) *Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("null")
	}

	return &Event{
		ID:        uuid.New(),
		Name:      name,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *Event) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Handler receives broadcast events. Implementations must not block for
// long; there is no delivery guarantee and no redelivery.
type Handler interface {
	HandleEvent(ctx context.Context, event *Event)
}

// Broadcaster publishes lifecycle events to any number of subscribers.
// Broadcast is fire-and-forget: it never fails and never blocks the caller
// on subscriber errors.
type Broadcaster interface {
	Broadcast(ctx context.Context, name string, payload any)
}
