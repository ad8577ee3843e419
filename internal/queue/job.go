package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a job.
type Status string

// Possible job status values.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Job represents a unit of persisted background work. The queue never
// interprets Payload or Result; serialization is the caller's concern.
// All mutations after creation go through the Manager.
type Job struct {
	ID             uuid.UUID       `json:"id"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	Priority       int             `json:"priority"`
	Status         Status          `json:"status"`
	CorrelationKey string          `json:"correlation_key,omitempty"`

	// Retry bookkeeping. RetryCount is the number of failed attempts so
	// far; NextRetryAt gates re-dispatch after a retryable failure.
	RetryCount  int        `json:"retry_count"`
	LastRetryAt *time.Time `json:"last_retry_at,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	// Terminal outputs, mutually exclusive.
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ExecutorFunc performs the actual work for one job type. The returned
// bytes become the job's result; a returned error routes the job through
// the retry/failure path.
type ExecutorFunc func(ctx context.Context, jobID uuid.UUID, payload json.RawMessage) (json.RawMessage, error)

// JobStore defines the persistence interface consumed by the Manager.
// The store is the single source of truth for job state; the Manager only
// caches how many jobs are currently running.
type JobStore interface {
	// CreateJob persists a new job.
	CreateJob(ctx context.Context, job *Job) error

	// GetJob retrieves a job by id.
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)

	// UpdateJob persists the job's mutable fields (status, retry
	// bookkeeping, result, error, timestamps).
	UpdateJob(ctx context.Context, job *Job) error

	// ClaimJob persists the job's transition to running, but only while
	// its stored status is still pending. It reports false without
	// writing anything when another actor (a cancel, a competing
	// dispatcher) moved the job first; the store is the arbiter.
	ClaimJob(ctx context.Context, job *Job) (bool, error)

	// FindActiveJob returns a pending or running job with the given type
	// and correlation key, or store.ErrJobNotFound if none exists.
	FindActiveJob(ctx context.Context, jobType, correlationKey string) (*Job, error)

	// ListDispatchable returns up to limit pending jobs that are not
	// waiting on a retry delay, ordered by priority descending and then
	// creation time ascending (FIFO within a priority band).
	ListDispatchable(ctx context.Context, limit int) ([]*Job, error)

	// ListByStatus returns all jobs with the given status, ordered by
	// creation time ascending.
	ListByStatus(ctx context.Context, status Status) ([]*Job, error)

	// ListRetryDue returns pending jobs whose NextRetryAt is at or before
	// the given instant.
	ListRetryDue(ctx context.Context, now time.Time) ([]*Job, error)

	// ClearNextRetryAt resets a job's retry gate so it becomes
	// dispatchable again.
	ClearNextRetryAt(ctx context.Context, id uuid.UUID) error
}
