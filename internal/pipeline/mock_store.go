package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jotstack/jotstack/internal/store"
)

// MockPipelineStore is an in-memory Store for tests.
type MockPipelineStore struct {
	mu        sync.Mutex
	pipelines map[uuid.UUID]*Pipeline
}

// NewMockPipelineStore creates an empty mock pipeline store.
func NewMockPipelineStore() *MockPipelineStore {
	return &MockPipelineStore{pipelines: make(map[uuid.UUID]*Pipeline)}
}

// CreatePipeline implements Store.CreatePipeline.
func (m *MockPipelineStore) CreatePipeline(ctx context.Context, p *Pipeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	cp.Nodes = append([]Node(nil), p.Nodes...)
	cp.Edges = append([]Edge(nil), p.Edges...)
	m.pipelines[p.ID] = &cp
	return nil
}

// GetPipeline implements Store.GetPipeline.
func (m *MockPipelineStore) GetPipeline(ctx context.Context, id uuid.UUID) (*Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pipelines[id]
	if !ok {
		return nil, store.ErrPipelineNotFound
	}
	cp := *p
	cp.Nodes = append([]Node(nil), p.Nodes...)
	cp.Edges = append([]Edge(nil), p.Edges...)
	return &cp, nil
}

// MockExecutionStore is an in-memory ExecutionStore for tests. Node
// execution order is preserved by insertion sequence so ListNodeExecutions
// remains stable even when start timestamps collide.
type MockExecutionStore struct {
	mu         sync.Mutex
	executions map[uuid.UUID]*Execution
	nodes      map[uuid.UUID]*NodeExecution
	order      map[uuid.UUID]int
	seq        int
}

// NewMockExecutionStore creates an empty mock execution store.
func NewMockExecutionStore() *MockExecutionStore {
	return &MockExecutionStore{
		executions: make(map[uuid.UUID]*Execution),
		nodes:      make(map[uuid.UUID]*NodeExecution),
		order:      make(map[uuid.UUID]int),
	}
}

// CreateExecution implements ExecutionStore.CreateExecution.
func (m *MockExecutionStore) CreateExecution(ctx context.Context, e *Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.executions[e.ID] = &cp
	return nil
}

// UpdateExecution implements ExecutionStore.UpdateExecution.
func (m *MockExecutionStore) UpdateExecution(ctx context.Context, e *Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[e.ID]; !ok {
		return store.ErrExecutionNotFound
	}
	cp := *e
	m.executions[e.ID] = &cp
	return nil
}

// GetExecution implements ExecutionStore.GetExecution.
func (m *MockExecutionStore) GetExecution(ctx context.Context, id uuid.UUID) (*Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, store.ErrExecutionNotFound
	}
	cp := *e
	return &cp, nil
}

// CreateNodeExecution implements ExecutionStore.CreateNodeExecution.
func (m *MockExecutionStore) CreateNodeExecution(ctx context.Context, ne *NodeExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ne
	m.nodes[ne.ID] = &cp
	m.order[ne.ID] = m.seq
	m.seq++
	return nil
}

// UpdateNodeExecution implements ExecutionStore.UpdateNodeExecution.
func (m *MockExecutionStore) UpdateNodeExecution(ctx context.Context, ne *NodeExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[ne.ID]; !ok {
		return store.ErrExecutionNotFound
	}
	cp := *ne
	m.nodes[ne.ID] = &cp
	return nil
}

// ListNodeExecutions implements ExecutionStore.ListNodeExecutions.
func (m *MockExecutionStore) ListNodeExecutions(ctx context.Context, executionID uuid.UUID) ([]*NodeExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*NodeExecution
	for _, ne := range m.nodes {
		if ne.ExecutionID == executionID {
			cp := *ne
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.Before(result[j].StartedAt)
		}
		return m.order[result[i].ID] < m.order[result[j].ID]
	})
	return result, nil
}

var (
	_ Store          = (*MockPipelineStore)(nil)
	_ ExecutionStore = (*MockExecutionStore)(nil)
)
