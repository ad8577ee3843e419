package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus represents the state of a pipeline execution.
type ExecutionStatus string

// Possible execution status values.
const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// NodeStatus represents the state of a single node execution. Nodes never
// reached because of an upstream failure have no record at all.
type NodeStatus string

// Possible node execution status values.
const (
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
	NodeCancelled NodeStatus = "cancelled"
)

// Pipeline is a named, reusable DAG of processing nodes. The node and edge
// sets are only validated for acyclicity at execution start, since an
// external editor may apply edits incrementally.
type Pipeline struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Enabled     bool      `json:"enabled"`
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Node is one processing step. Op selects the registered operation;
// Config carries free-form parameters such as prompts and model settings.
type Node struct {
	ID      uuid.UUID      `json:"id"`
	Op      string         `json:"op"`
	Enabled bool           `json:"enabled"`
	Config  map[string]any `json:"config,omitempty"`
}

// Edge is a directed data dependency between two nodes. OutputKey names
// the field read from the upstream node's result (default "output");
// InputKey names the field it is stored under in the downstream node's
// input (default derived from the upstream node id).
type Edge struct {
	ID         uuid.UUID `json:"id"`
	FromNodeID uuid.UUID `json:"from_node_id"`
	ToNodeID   uuid.UUID `json:"to_node_id"`
	OutputKey  string    `json:"output_key,omitempty"`
	InputKey   string    `json:"input_key,omitempty"`
}

// Execution is one run of a pipeline.
type Execution struct {
	ID           uuid.UUID       `json:"id"`
	PipelineID   uuid.UUID       `json:"pipeline_id"`
	Status       ExecutionStatus `json:"status"`
	InputData    json.RawMessage `json:"input_data,omitempty"`
	OutputData   json.RawMessage `json:"output_data,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// NodeExecution is the recorded attempt to run one node during one
// execution. Records are created lazily as the executor reaches each node
// in topological order.
type NodeExecution struct {
	ID           uuid.UUID       `json:"id"`
	ExecutionID  uuid.UUID       `json:"execution_id"`
	NodeID       uuid.UUID       `json:"node_id"`
	Status       NodeStatus      `json:"status"`
	InputData    json.RawMessage `json:"input_data,omitempty"`
	OutputData   json.RawMessage `json:"output_data,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Store defines persistence for pipeline definitions.
type Store interface {
	// GetPipeline retrieves a pipeline with its nodes and edges, or
	// store.ErrPipelineNotFound.
	GetPipeline(ctx context.Context, id uuid.UUID) (*Pipeline, error)

	// CreatePipeline persists a pipeline definition with its nodes and
	// edges.
	CreatePipeline(ctx context.Context, p *Pipeline) error
}

// ExecutionStore defines persistence for execution traces.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, e *Execution) error
	UpdateExecution(ctx context.Context, e *Execution) error

	// GetExecution retrieves an execution by id, or
	// store.ErrExecutionNotFound.
	GetExecution(ctx context.Context, id uuid.UUID) (*Execution, error)

	CreateNodeExecution(ctx context.Context, ne *NodeExecution) error
	UpdateNodeExecution(ctx context.Context, ne *NodeExecution) error

	// ListNodeExecutions returns an execution's node records ordered by
	// start time ascending.
	ListNodeExecutions(ctx context.Context, executionID uuid.UUID) ([]*NodeExecution, error)
}
