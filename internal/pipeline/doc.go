// Package pipeline executes automation workflows modeled as directed
// acyclic graphs of nodes. Each node performs a registered operation;
// edges both order the nodes and remap output fields of one node into
// input fields of the next. Runs are recorded as executions with a full
// per-node trace.
//
// Execution is deliberately sequential: nodes run one at a time in a
// deterministic topological order, so a pipeline behaves the same way on
// every run and its trace reads top to bottom.
package pipeline
