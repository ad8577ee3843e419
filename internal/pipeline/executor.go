package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jotstack/jotstack/internal/events"
)

// PreviousOutputKey is the reserved input field holding the raw output of
// the previously executed node, alongside any per-edge remapped fields.
const PreviousOutputKey = "previous"

// DefaultOutputKey is the field read from an upstream node's result when
// an edge does not name one.
const DefaultOutputKey = "output"

// OperationFunc performs the work of one node. It receives the node (for
// its configuration) and the computed input object, and returns the node's
// output object.
type OperationFunc func(ctx context.Context, node Node, input map[string]any) (map[string]any, error)

// ExecutionTrace is an execution record together with its ordered node
// execution records, for audit and debugging.
type ExecutionTrace struct {
	Execution *Execution       `json:"execution"`
	Nodes     []*NodeExecution `json:"nodes"`
}

// Executor runs pipelines: it validates the DAG, computes a deterministic
// topological order, executes enabled nodes one at a time threading data
// between them, and records a complete trace. Node execution is strictly
// sequential; a node's declared predecessors are always a subset of
// "everything executed so far", so single-threaded sequencing is
// sufficient and keeps the trace unambiguous.
type Executor struct {
	pipelines  Store
	executions ExecutionStore
	notifier   events.Broadcaster
	logger     *slog.Logger

	opMu sync.RWMutex
	ops  map[string]OperationFunc

	wg sync.WaitGroup
}

// NewExecutor creates a pipeline executor over the given stores and
// notifier.
func NewExecutor(pipelines Store, executions ExecutionStore, notifier events.Broadcaster, logger *slog.Logger) *Executor {
	return &Executor{
		pipelines:  pipelines,
		executions: executions,
		notifier:   notifier,
		logger:     logger.With("component", "pipeline_executor"),
		ops:        make(map[string]OperationFunc),
	}
}

// RegisterOperation associates an operation key with its implementation.
// Registering the same key again replaces the previous operation.
func (e *Executor) RegisterOperation(op string, fn OperationFunc) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.ops[op] = fn
}

// Execute starts a pipeline run and returns the execution id immediately;
// node execution proceeds in the background and callers observe progress
// through GetExecutionStatus or the notifier.
//
// A cycle in the graph is a configuration error reported here, before any
// node runs: the execution is marked failed and no node execution records
// are created.
func (e *Executor) Execute(ctx context.Context, pipelineID uuid.UUID, triggerInput json.RawMessage) (uuid.UUID, error) {
	p, err := e.pipelines.GetPipeline(ctx, pipelineID)
	if err != nil {
		return uuid.Nil, err
	}
	if !p.Enabled {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrPipelineDisabled, pipelineID)
	}

	execution := &Execution{
		ID:         uuid.New(),
		PipelineID: p.ID,
		Status:     ExecutionPending,
		InputData:  triggerInput,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.executions.CreateExecution(ctx, execution); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create execution: %w", err)
	}

	g, err := buildGraph(p.Nodes, p.Edges)
	var order []uuid.UUID
	if err == nil {
		order, err = g.topologicalOrder()
	}
	if err != nil {
		e.failExecution(ctx, execution, err)
		return execution.ID, err
	}

	now := time.Now().UTC()
	execution.Status = ExecutionRunning
	execution.StartedAt = &now
	if err := e.executions.UpdateExecution(ctx, execution); err != nil {
		return execution.ID, fmt.Errorf("failed to start execution: %w", err)
	}

	e.logger.Info("pipeline execution started",
		"execution_id", execution.ID,
		"pipeline_id", p.ID,
		"node_count", len(order))
	e.notifier.Broadcast(ctx, events.PipelineStarted, executionEvent(execution))

	e.wg.Add(1)
	go e.run(execution, g, order)

	return execution.ID, nil
}

// CancelExecution marks a non-terminal execution cancelled, along with any
// currently running node execution. It does not interrupt an in-flight
// node operation; it only prevents the next node from starting. Completed
// node effects are not rolled back.
func (e *Executor) CancelExecution(ctx context.Context, executionID uuid.UUID) error {
	execution, err := e.executions.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}

	switch execution.Status {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return fmt.Errorf("%w: execution %s is %s", ErrNotCancellable, executionID, execution.Status)
	}

	now := time.Now().UTC()
	execution.Status = ExecutionCancelled
	execution.CompletedAt = &now
	if err := e.executions.UpdateExecution(ctx, execution); err != nil {
		return fmt.Errorf("failed to cancel execution: %w", err)
	}

	nodes, err := e.executions.ListNodeExecutions(ctx, executionID)
	if err != nil {
		return err
	}
	for _, ne := range nodes {
		if ne.Status == NodeRunning {
			ne.Status = NodeCancelled
			ne.CompletedAt = &now
			if err := e.executions.UpdateNodeExecution(ctx, ne); err != nil {
				e.logger.Error("failed to cancel node execution",
					"execution_id", executionID,
					"node_execution_id", ne.ID,
					"error", err)
			}
		}
	}

	e.logger.Info("pipeline execution cancelled", "execution_id", executionID)
	e.notifier.Broadcast(ctx, events.PipelineCancelled, executionEvent(execution))
	return nil
}

// GetExecutionStatus returns the execution record plus its full ordered
// list of node execution records.
func (e *Executor) GetExecutionStatus(ctx context.Context, executionID uuid.UUID) (*ExecutionTrace, error) {
	execution, err := e.executions.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	nodes, err := e.executions.ListNodeExecutions(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return &ExecutionTrace{Execution: execution, Nodes: nodes}, nil
}

// Wait blocks until all in-flight executions have finished. Intended for
// shutdown and tests.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// run executes the ordered nodes sequentially, threading data between
// them. It runs detached from the caller's context: an Execute caller
// going away must not abort the run.
func (e *Executor) run(execution *Execution, g *graph, order []uuid.UUID) {
	defer e.wg.Done()

	ctx := context.Background()
	logger := e.logger.With("execution_id", execution.ID, "pipeline_id", execution.PipelineID)

	// The running input: the trigger input initially, then each completed
	// node's output. Outputs of every completed node are also kept for
	// per-edge remapping.
	current := decodeObject(execution.InputData)
	outputs := make(map[uuid.UUID]map[string]any)

	for _, nodeID := range order {
		// The store is the source of truth for cancellation; re-check
		// before each node so a cancel lands between nodes, never mid-node.
		latest, err := e.executions.GetExecution(ctx, execution.ID)
		if err != nil {
			logger.Error("failed to refresh execution state", "error", err)
			return
		}
		if latest.Status == ExecutionCancelled {
			logger.Info("execution cancelled, stopping before next node", "node_id", nodeID)
			return
		}

		node := g.nodes[nodeID]

		if !node.Enabled {
			// A disabled node is transparent: record it skipped and pass
			// the running input through unchanged.
			e.recordSkipped(ctx, logger, execution.ID, node)
			outputs[nodeID] = current
			continue
		}

		input := e.buildNodeInput(node, g.incoming[nodeID], current, outputs)

		output, err := e.executeNode(ctx, logger, execution.ID, node, input)
		if err != nil {
			e.failExecution(ctx, execution, fmt.Errorf("node %s: %w", node.ID, err))
			return
		}

		outputs[nodeID] = output
		current = output
	}

	now := time.Now().UTC()
	execution.Status = ExecutionCompleted
	execution.OutputData = encodeObject(current)
	execution.CompletedAt = &now
	if err := e.executions.UpdateExecution(ctx, execution); err != nil {
		logger.Error("failed to mark execution completed", "error", err)
		return
	}

	logger.Info("pipeline execution completed")
	e.notifier.Broadcast(ctx, events.PipelineCompleted, executionEvent(execution))
}

// buildNodeInput derives a node's input from the running input plus the
// explicit remapping of each incoming edge: the edge's OutputKey field is
// read from the upstream node's result and re-keyed under the edge's
// InputKey, alongside the raw previous output under PreviousOutputKey.
// A node with no incoming edges receives the running input unchanged.
func (e *Executor) buildNodeInput(node Node, incoming []Edge, current map[string]any, outputs map[uuid.UUID]map[string]any) map[string]any {
	if len(incoming) == 0 {
		return current
	}

	input := make(map[string]any, len(current)+len(incoming)+1)
	for k, v := range current {
		input[k] = v
	}

	for _, edge := range incoming {
		upstream, ok := outputs[edge.FromNodeID]
		if !ok {
			continue
		}

		outputKey := edge.OutputKey
		if outputKey == "" {
			outputKey = DefaultOutputKey
		}
		value, ok := upstream[outputKey]
		if !ok {
			continue
		}

		inputKey := edge.InputKey
		if inputKey == "" {
			inputKey = "input_" + edge.FromNodeID.String()[:8]
		}
		input[inputKey] = value
	}

	input[PreviousOutputKey] = current
	return input
}

// executeNode runs a single enabled node and records its trace.
func (e *Executor) executeNode(ctx context.Context, logger *slog.Logger, executionID uuid.UUID, node Node, input map[string]any) (map[string]any, error) {
	e.opMu.RLock()
	fn, ok := e.ops[node.Op]
	e.opMu.RUnlock()

	record := &NodeExecution{
		ID:          uuid.New(),
		ExecutionID: executionID,
		NodeID:      node.ID,
		Status:      NodeRunning,
		InputData:   encodeObject(input),
		StartedAt:   time.Now().UTC(),
	}
	if err := e.executions.CreateNodeExecution(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to record node execution: %w", err)
	}

	logger.Debug("node started", "node_id", node.ID, "op", node.Op)

	var output map[string]any
	var execErr error
	if !ok {
		execErr = fmt.Errorf("%w: %q", ErrUnknownOperation, node.Op)
	} else {
		output, execErr = fn(ctx, node, input)
	}

	now := time.Now().UTC()
	record.CompletedAt = &now

	if execErr != nil {
		record.Status = NodeFailed
		record.ErrorMessage = execErr.Error()
		if err := e.executions.UpdateNodeExecution(ctx, record); err != nil {
			logger.Error("failed to record node failure", "node_id", node.ID, "error", err)
		}
		logger.Error("node failed", "node_id", node.ID, "op", node.Op, "error", execErr)
		return nil, execErr
	}

	record.Status = NodeCompleted
	record.OutputData = encodeObject(output)
	if err := e.executions.UpdateNodeExecution(ctx, record); err != nil {
		logger.Error("failed to record node completion", "node_id", node.ID, "error", err)
	}

	logger.Debug("node completed", "node_id", node.ID, "op", node.Op)
	return output, nil
}

// recordSkipped writes the trace record for a disabled node.
func (e *Executor) recordSkipped(ctx context.Context, logger *slog.Logger, executionID uuid.UUID, node Node) {
	now := time.Now().UTC()
	record := &NodeExecution{
		ID:          uuid.New(),
		ExecutionID: executionID,
		NodeID:      node.ID,
		Status:      NodeSkipped,
		StartedAt:   now,
		CompletedAt: &now,
	}
	if err := e.executions.CreateNodeExecution(ctx, record); err != nil {
		logger.Error("failed to record skipped node", "node_id", node.ID, "error", err)
	}
	logger.Debug("node skipped", "node_id", node.ID)
}

// failExecution marks the execution failed with the triggering error.
func (e *Executor) failExecution(ctx context.Context, execution *Execution, cause error) {
	now := time.Now().UTC()
	execution.Status = ExecutionFailed
	execution.ErrorMessage = cause.Error()
	execution.CompletedAt = &now
	if err := e.executions.UpdateExecution(ctx, execution); err != nil {
		e.logger.Error("failed to mark execution failed",
			"execution_id", execution.ID,
			"error", err)
		return
	}

	e.logger.Error("pipeline execution failed",
		"execution_id", execution.ID,
		"error", cause)
	e.notifier.Broadcast(ctx, events.PipelineFailed, executionEvent(execution))
}

// executionEvent is the payload broadcast with pipeline lifecycle events.
func executionEvent(e *Execution) map[string]any {
	payload := map[string]any{
		"execution_id": e.ID,
		"pipeline_id":  e.PipelineID,
		"status":       e.Status,
	}
	if e.ErrorMessage != "" {
		payload["error"] = e.ErrorMessage
	}
	return payload
}

// decodeObject parses a JSON blob into an object, wrapping non-object
// values under an "input" key so data threading always works on maps.
func decodeObject(data json.RawMessage) map[string]any {
	if len(data) == 0 {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err == nil && obj != nil {
		return obj
	}
	var value any
	if err := json.Unmarshal(data, &value); err == nil {
		return map[string]any{"input": value}
	}
	return map[string]any{"input": string(data)}
}

// encodeObject serializes a node input/output object.
func encodeObject(obj map[string]any) json.RawMessage {
	if obj == nil {
		return nil
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil
	}
	return data
}
