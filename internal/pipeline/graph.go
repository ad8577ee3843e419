package pipeline

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// graph is the in-memory execution structure built from a pipeline
// definition: per node, its incoming and outgoing edges.
type graph struct {
	nodes    map[uuid.UUID]Node
	incoming map[uuid.UUID][]Edge
	outgoing map[uuid.UUID][]Edge
}

// buildGraph constructs the adjacency structure, rejecting edges that
// reference nodes outside the pipeline.
func buildGraph(nodes []Node, edges []Edge) (*graph, error) {
	g := &graph{
		nodes:    make(map[uuid.UUID]Node, len(nodes)),
		incoming: make(map[uuid.UUID][]Edge),
		outgoing: make(map[uuid.UUID][]Edge),
	}

	for _, n := range nodes {
		g.nodes[n.ID] = n
	}

	for _, e := range edges {
		if _, ok := g.nodes[e.FromNodeID]; !ok {
			return nil, fmt.Errorf("%w: from %s", ErrUnknownEdgeNode, e.FromNodeID)
		}
		if _, ok := g.nodes[e.ToNodeID]; !ok {
			return nil, fmt.Errorf("%w: to %s", ErrUnknownEdgeNode, e.ToNodeID)
		}
		g.outgoing[e.FromNodeID] = append(g.outgoing[e.FromNodeID], e)
		g.incoming[e.ToNodeID] = append(g.incoming[e.ToNodeID], e)
	}

	return g, nil
}

// topologicalOrder computes an execution order using Kahn's algorithm.
// Ties among zero-in-degree nodes are broken by node id, so the same DAG
// always yields the same order. Returns ErrCycle if the produced order is
// shorter than the node count.
func (g *graph) topologicalOrder() ([]uuid.UUID, error) {
	inDegree := make(map[uuid.UUID]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = len(g.incoming[id])
	}

	var ready []uuid.UUID
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sortIDs(ready)

	order := make([]uuid.UUID, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		var unlocked []uuid.UUID
		for _, e := range g.outgoing[id] {
			inDegree[e.ToNodeID]--
			if inDegree[e.ToNodeID] == 0 {
				unlocked = append(unlocked, e.ToNodeID)
			}
		}
		if len(unlocked) > 0 {
			sortIDs(unlocked)
			ready = mergeSorted(ready, unlocked)
		}
	}

	if len(order) != len(g.nodes) {
		return nil, ErrCycle
	}
	return order, nil
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
}

// mergeSorted merges two id slices that are each sorted ascending.
func mergeSorted(a, b []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].String() < b[j].String() {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
