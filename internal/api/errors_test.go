package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jotstack/jotstack/internal/pipeline"
	"github.com/jotstack/jotstack/internal/queue"
	"github.com/jotstack/jotstack/internal/store"
)

func TestMapErrorToStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"job not found", store.ErrJobNotFound, http.StatusNotFound},
		{"pipeline not found", store.ErrPipelineNotFound, http.StatusNotFound},
		{"execution not found", store.ErrExecutionNotFound, http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("lookup: %w", store.ErrJobNotFound), http.StatusNotFound},
		{"job not cancellable", queue.ErrNotCancellable, http.StatusConflict},
		{"execution not cancellable", pipeline.ErrNotCancellable, http.StatusConflict},
		{"pipeline disabled", pipeline.ErrPipelineDisabled, http.StatusUnprocessableEntity},
		{"cycle", pipeline.ErrCycle, http.StatusUnprocessableEntity},
		{"manager stopped", queue.ErrManagerStopped, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapErrorToStatusCode(tt.err))
		})
	}
}

func TestGetSafeErrorMessageNeverLeaksInternals(t *testing.T) {
	internal := errors.New("pq: connection refused host=10.0.0.5 password=hunter2")
	msg := GetSafeErrorMessage(internal)
	assert.Equal(t, "An unexpected error occurred", msg)

	assert.Equal(t, "Job not found", GetSafeErrorMessage(fmt.Errorf("x: %w", store.ErrJobNotFound)))
	assert.Equal(t, "Pipeline is disabled", GetSafeErrorMessage(pipeline.ErrPipelineDisabled))
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
}
