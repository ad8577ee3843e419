package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/jotstack/jotstack/internal/pipeline"
	"github.com/jotstack/jotstack/internal/queue"
)

// CreateJobRequest is the request body for enqueueing a background job.
type CreateJobRequest struct {
	Type           string          `json:"type" validate:"required"`
	Payload        json.RawMessage `json:"payload"`
	Priority       int             `json:"priority"`
	CorrelationKey string          `json:"correlation_key"`
}

// JobResponse is the API representation of a job.
type JobResponse struct {
	ID             uuid.UUID       `json:"id"`
	Type           string          `json:"type"`
	Status         queue.Status    `json:"status"`
	Priority       int             `json:"priority"`
	CorrelationKey string          `json:"correlation_key,omitempty"`
	RetryCount     int             `json:"retry_count"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// NewJobResponse converts a job to its API representation.
func NewJobResponse(job *queue.Job) JobResponse {
	return JobResponse{
		ID:             job.ID,
		Type:           job.Type,
		Status:         job.Status,
		Priority:       job.Priority,
		CorrelationKey: job.CorrelationKey,
		RetryCount:     job.RetryCount,
		NextRetryAt:    job.NextRetryAt,
		Result:         job.Result,
		ErrorMessage:   job.ErrorMessage,
		CreatedAt:      job.CreatedAt,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
	}
}

// ExecutePipelineRequest is the request body for triggering a pipeline.
type ExecutePipelineRequest struct {
	Input json.RawMessage `json:"input"`
}

// ExecutePipelineResponse acknowledges a started pipeline run.
type ExecutePipelineResponse struct {
	ExecutionID uuid.UUID `json:"execution_id"`
}

// NodeExecutionResponse is the API representation of one node's trace
// record.
type NodeExecutionResponse struct {
	ID           uuid.UUID           `json:"id"`
	NodeID       uuid.UUID           `json:"node_id"`
	Status       pipeline.NodeStatus `json:"status"`
	OutputData   json.RawMessage     `json:"output_data,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
	StartedAt    time.Time           `json:"started_at"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
}

// ExecutionResponse is the API representation of a pipeline run with its
// node trace.
type ExecutionResponse struct {
	ID           uuid.UUID                `json:"id"`
	PipelineID   uuid.UUID                `json:"pipeline_id"`
	Status       pipeline.ExecutionStatus `json:"status"`
	OutputData   json.RawMessage          `json:"output_data,omitempty"`
	ErrorMessage string                   `json:"error_message,omitempty"`
	CreatedAt    time.Time                `json:"created_at"`
	StartedAt    *time.Time               `json:"started_at,omitempty"`
	CompletedAt  *time.Time               `json:"completed_at,omitempty"`
	Nodes        []NodeExecutionResponse  `json:"nodes"`
}

// NewExecutionResponse converts an execution trace to its API
// representation.
func NewExecutionResponse(trace *pipeline.ExecutionTrace) ExecutionResponse {
	resp := ExecutionResponse{
		ID:           trace.Execution.ID,
		PipelineID:   trace.Execution.PipelineID,
		Status:       trace.Execution.Status,
		OutputData:   trace.Execution.OutputData,
		ErrorMessage: trace.Execution.ErrorMessage,
		CreatedAt:    trace.Execution.CreatedAt,
		StartedAt:    trace.Execution.StartedAt,
		CompletedAt:  trace.Execution.CompletedAt,
		Nodes:        []NodeExecutionResponse{},
	}
	for _, ne := range trace.Nodes {
		resp.Nodes = append(resp.Nodes, NodeExecutionResponse{
			ID:           ne.ID,
			NodeID:       ne.NodeID,
			Status:       ne.Status,
			OutputData:   ne.OutputData,
			ErrorMessage: ne.ErrorMessage,
			StartedAt:    ne.StartedAt,
			CompletedAt:  ne.CompletedAt,
		})
	}
	return resp
}
