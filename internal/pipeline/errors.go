package pipeline

import "errors"

// Configuration errors, surfaced before any node runs.
var (
	// ErrCycle indicates the pipeline's node/edge set is not a DAG.
	ErrCycle = errors.New("pipeline graph contains a cycle")

	// ErrPipelineDisabled indicates the pipeline exists but is
	// administratively disabled.
	ErrPipelineDisabled = errors.New("pipeline is disabled")

	// ErrUnknownOperation indicates a node references an operation that
	// was never registered.
	ErrUnknownOperation = errors.New("no operation registered for node op")

	// ErrNotCancellable is returned when cancelling an execution that has
	// already reached a terminal state.
	ErrNotCancellable = errors.New("execution is not cancellable")

	// ErrUnknownEdgeNode indicates an edge references a node id that is
	// not part of the pipeline.
	ErrUnknownEdgeNode = errors.New("edge references unknown node")
)
