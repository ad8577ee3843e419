package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jotstack/jotstack/internal/pipeline"
	"github.com/jotstack/jotstack/internal/store"
)

// ExecutionStore implements pipeline.ExecutionStore using SQLite.
type ExecutionStore struct {
	db store.DBTX
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(db store.DBTX) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// CreateExecution persists a new execution record.
func (s *ExecutionStore) CreateExecution(ctx context.Context, e *pipeline.Execution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_executions
			(id, pipeline_id, status, input_data, output_data, error_message,
			 created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID.String(), e.PipelineID.String(), e.Status, []byte(e.InputData),
		[]byte(e.OutputData), nullString(e.ErrorMessage),
		e.CreatedAt, e.StartedAt, e.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// UpdateExecution persists the execution's mutable fields.
func (s *ExecutionStore) UpdateExecution(ctx context.Context, e *pipeline.Execution) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_executions
		SET status = ?, output_data = ?, error_message = ?,
			started_at = ?, completed_at = ?
		WHERE id = ?
	`,
		e.Status, []byte(e.OutputData), nullString(e.ErrorMessage),
		e.StartedAt, e.CompletedAt, e.ID.String())
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	return checkRowsAffected(result, store.ErrExecutionNotFound)
}

// GetExecution retrieves an execution by id.
func (s *ExecutionStore) GetExecution(ctx context.Context, id uuid.UUID) (*pipeline.Execution, error) {
	var e pipeline.Execution
	var eid, pid string
	var input, output []byte
	var errorMessage sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, pipeline_id, status, input_data, output_data, error_message,
			created_at, started_at, completed_at
		FROM pipeline_executions WHERE id = ?
	`, id.String()).Scan(
		&eid, &pid, &e.Status, &input, &output, &errorMessage,
		&e.CreatedAt, &e.StartedAt, &e.CompletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	if e.ID, err = uuid.Parse(eid); err != nil {
		return nil, fmt.Errorf("invalid execution id %q: %w", eid, err)
	}
	if e.PipelineID, err = uuid.Parse(pid); err != nil {
		return nil, fmt.Errorf("invalid pipeline id %q: %w", pid, err)
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ne.ID.String(), ne.ExecutionID.String(), ne.NodeID.String(), ne.Status,
		[]byte(ne.InputData), []byte(ne.OutputData), nullString(ne.ErrorMessage),
		ne.StartedAt, ne.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to create node execution: %w", err)
	}
	return nil
}

// UpdateNodeExecution persists the node execution's mutable fields.
func (s *ExecutionStore) UpdateNodeExecution(ctx context.Context, ne *pipeline.NodeExecution) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE node_executions
		SET status = ?, output_data = ?, error_message = ?, completed_at = ?
		WHERE id = ?
	`,
		ne.Status, []byte(ne.OutputData), nullString(ne.ErrorMessage),
		ne.CompletedAt, ne.ID.String())
	if err != nil {
		return fmt.Errorf("failed to update node execution: %w", err)
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
		WHERE execution_id = ?
		ORDER BY started_at ASC
	`, executionID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query node executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*pipeline.NodeExecution
	for rows.Next() {
		var ne pipeline.NodeExecution
		var id, execID, nodeID string
		var input, output []byte
		var errorMessage sql.NullString
		err := rows.Scan(
			&id, &execID, &nodeID, &ne.Status, &input, &output,
			&errorMessage, &ne.StartedAt, &ne.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node execution: %w", err)
		}
		if ne.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid node execution id %q: %w", id, err)
		}
		if ne.ExecutionID, err = uuid.Parse(execID); err != nil {
			return nil, fmt.Errorf("invalid execution id %q: %w", execID, err)
		}
		if ne.NodeID, err = uuid.Parse(nodeID); err != nil {
			return nil, fmt.Errorf("invalid node id %q: %w", nodeID, err)
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
