package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jotstack/jotstack/internal/api/shared"
	"github.com/jotstack/jotstack/internal/queue"
)

// JobHandler serves the background job endpoints. It is a thin layer over
// the queue manager; all queue semantics live there.
type JobHandler struct {
	manager  *queue.Manager
	validate *validator.Validate
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(manager *queue.Manager) *JobHandler {
	return &JobHandler{
		manager:  manager,
		validate: validator.New(),
	}
}

// CreateJob handles POST /api/jobs. Enqueueing with a correlation key
// that matches an active job returns that job instead of creating a new
// one.
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Job type is required")
		return
	}

	job, err := h.manager.Enqueue(r.Context(), req.Type, req.Payload, queue.EnqueueOptions{
		Priority:       req.Priority,
		CorrelationKey: req.CorrelationKey,
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, NewJobResponse(job))
}

// GetJob handles GET /api/jobs/{id}.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	job, err := h.manager.GetJob(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, NewJobResponse(job))
}

// CancelJob handles POST /api/jobs/{id}/cancel. Only pending jobs can be
// cancelled.
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	job, err := h.manager.Cancel(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, NewJobResponse(job))
}

func (h *JobHandler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid job ID")
		return uuid.Nil, false
	}
	return id, true
}
