package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jotstack/jotstack/internal/api/shared"
	"github.com/jotstack/jotstack/internal/pipeline"
)

// PipelineHandler serves the pipeline execution endpoints.
type PipelineHandler struct {
	executor *pipeline.Executor
}

// NewPipelineHandler creates a new PipelineHandler.
func NewPipelineHandler(executor *pipeline.Executor) *PipelineHandler {
	return &PipelineHandler{executor: executor}
}

// ExecutePipeline handles POST /api/pipelines/{id}/execute. The run
// proceeds asynchronously; the response carries the execution id for
// polling.
func (h *PipelineHandler) ExecutePipeline(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid pipeline ID")
		return
	}

	var req ExecutePipelineRequest
	if r.Body != nil {
		// An empty body triggers the pipeline with no input.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	executionID, err := h.executor.Execute(r.Context(), pipelineID, req.Input)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, ExecutePipelineResponse{ExecutionID: executionID})
}

// GetExecution handles GET /api/executions/{id}, returning the execution
// with its full node trace.
func (h *PipelineHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	trace, err := h.executor.GetExecutionStatus(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, NewExecutionResponse(trace))
}

// CancelExecution handles POST /api/executions/{id}/cancel.
func (h *PipelineHandler) CancelExecution(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.executor.CancelExecution(r.Context(), id); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	trace, err := h.executor.GetExecutionStatus(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, NewExecutionResponse(trace))
}

func (h *PipelineHandler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid execution ID")
		return uuid.Nil, false
	}
	return id, true
}
