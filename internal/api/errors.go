package api

import (
	"errors"
	"net/http"

	"github.com/jotstack/jotstack/internal/pipeline"
	"github.com/jotstack/jotstack/internal/queue"
	"github.com/jotstack/jotstack/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status
// codes without leaking internal error types or messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, queue.ErrNotCancellable),
		errors.Is(err, pipeline.ErrNotCancellable):
		return http.StatusConflict

	case errors.Is(err, pipeline.ErrPipelineDisabled),
		errors.Is(err, pipeline.ErrCycle):
		return http.StatusUnprocessableEntity

	case errors.Is(err, queue.ErrManagerStopped):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-facing message for the
// error.
func GetSafeErrorMessage(err error) string {
	switch {
	case err == nil:
		return "An unexpected error occurred"

	case errors.Is(err, store.ErrJobNotFound):
		return "Job not found"

	case errors.Is(err, store.ErrPipelineNotFound):
		return "Pipeline not found"

	case errors.Is(err, store.ErrExecutionNotFound):
		return "Execution not found"

	case errors.Is(err, store.ErrNotFound):
		return "Not found"

	case errors.Is(err, queue.ErrNotCancellable),
		errors.Is(err, pipeline.ErrNotCancellable):
		return "Only pending work can be cancelled"

	case errors.Is(err, pipeline.ErrPipelineDisabled):
		return "Pipeline is disabled"

	case errors.Is(err, pipeline.ErrCycle):
		return "Pipeline graph contains a cycle"

	case errors.Is(err, queue.ErrManagerStopped):
		return "Service is shutting down"

	default:
		return "An unexpected error occurred"
	}
}
