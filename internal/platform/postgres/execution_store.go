package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/jotstack/jotstack/internal/pipeline"
	"github.com/jotstack/jotstack/internal/platform/logger"
	"github.com/jotstack/jotstack/internal/store"
)

// ExecutionStore implements pipeline.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	db store.DBTX
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(db store.DBTX) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// CreateExecution persists a new execution record.
func (s *ExecutionStore) CreateExecution(ctx context.Context, e *pipeline.Execution) error {
	log := logger.FromContext(ctx)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_executions
			(id, pipeline_id, status, input_data, output_data, error_message,
			 created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		e.ID, e.PipelineID, e.Status, []byte(e.InputData), []byte(e.OutputData),
		nullString(e.ErrorMessage), e.CreatedAt, e.StartedAt, e.CompletedAt)
	if err != nil {
		log.Error("failed to create execution",
			"execution_id", e.ID,
			"pipeline_id", e.PipelineID,
			"error", err)
		return mapError(fmt.Errorf("failed to create execution: %w", err), store.ErrExecutionNotFound)
	}
	return nil
}

// UpdateExecution persists the execution's mutable fields.
func (s *ExecutionStore) UpdateExecution(ctx context.Context, e *pipeline.Execution) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_executions
		SET status = $1, output_data = $2, error_message = $3,
			started_at = $4, completed_at = $5
		WHERE id = $6
	`,
		e.Status, []byte(e.OutputData), nullString(e.ErrorMessage),
		e.StartedAt, e.CompletedAt, e.ID)
	if err != nil {
		return mapError(fmt.Errorf("failed to update execution: %w", err), store.ErrExecutionNotFound)
	}
	return checkRowsAffected(result, store.ErrExecutionNotFound)
}

// GetExecution retrieves an execution by id.
func (s *ExecutionStore) GetExecution(ctx context.Context, id uuid.UUID) (*pipeline.Execution, error) {
	var e pipeline.Execution
	var input, output []byte
	var errorMessage sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, pipeline_id, status, input_data, output_data, error_message,
			created_at, started_at, completed_at
		FROM pipeline_executions WHERE id = $1
	`, id).Scan(
		&e.ID, &e.PipelineID, &e.Status, &input, &output, &errorMessage,
		&e.CreatedAt, &e.StartedAt, &e.CompletedAt)
	if err != nil {
		return nil, mapError(err, store.ErrExecutionNotFound)
	}

	e.InputData = input
	e.OutputData = output
	e.ErrorMessage = errorMessage.String
	return &e, nil
}

// CreateNodeExecution persists a new node execution record.
func (s *ExecutionStore) CreateNodeExecution(ctx context.Context, ne *pipeline.NodeExecution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO node_executions
			(id, execution_id, node_id, status, input_data, output_data,
			 error_message, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		ne.ID, ne.ExecutionID, ne.NodeID, ne.Status, []byte(ne.InputData),
		[]byte(ne.OutputData), nullString(ne.ErrorMessage), ne.StartedAt, ne.CompletedAt)
	if err != nil {
		return mapError(fmt.Errorf("failed to create node execution: %w", err), store.ErrExecutionNotFound)
	}
	return nil
}

// UpdateNodeExecution persists the node execution's mutable fields.
func (s *ExecutionStore) UpdateNodeExecution(ctx context.Context, ne *pipeline.NodeExecution) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE node_executions
		SET status = $1, output_data = $2, error_message = $3, completed_at = $4
		WHERE id = $5
	`,
		ne.Status, []byte(ne.OutputData), nullString(ne.ErrorMessage),
		ne.CompletedAt, ne.ID)
	if err != nil {
		return mapError(fmt.Errorf("failed to update node execution: %w", err), store.ErrExecutionNotFound)
	}
	return checkRowsAffected(result, store.ErrExecutionNotFound)
}

// ListNodeExecutions returns an execution's node records ordered by start
// time ascending.
func (s *ExecutionStore) ListNodeExecutions(ctx context.Context, executionID uuid.UUID) ([]*pipeline.NodeExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, node_id, status, input_data, output_data,
			error_message, started_at, completed_at
		FROM node_executions
		WHERE execution_id = $1
		ORDER BY started_at ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query node executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*pipeline.NodeExecution
	for rows.Next() {
		var ne pipeline.NodeExecution
		var input, output []byte
		var errorMessage sql.NullString
		err := rows.Scan(
			&ne.ID, &ne.ExecutionID, &ne.NodeID, &ne.Status, &input, &output,
			&errorMessage, &ne.StartedAt, &ne.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node execution: %w", err)
		}
		ne.InputData = input
		ne.OutputData = output
		ne.ErrorMessage = errorMessage.String
		result = append(result, &ne)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate node executions: %w", err)
	}
	return result, nil
}

var _ pipeline.ExecutionStore = (*ExecutionStore)(nil)
