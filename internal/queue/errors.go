package queue

import "errors"

// Common errors returned by the Manager.
var (
	// ErrNoExecutor indicates a job's type has no registered executor.
	// This is a permanent failure; the job is never retried.
	ErrNoExecutor = errors.New("no executor registered for job type")

	// ErrNotCancellable is returned when cancellation is requested for a
	// job that is not pending. Running jobs cannot be cancelled; completed,
	// failed and cancelled jobs are already terminal.
	ErrNotCancellable = errors.New("job is not cancellable")

	// ErrManagerStopped is returned when a submission arrives after Stop.
	ErrManagerStopped = errors.New("queue manager is stopped")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("queue manager already started")
)
