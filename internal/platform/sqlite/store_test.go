package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jotstack/jotstack/internal/pipeline"
	"github.com/jotstack/jotstack/internal/queue"
	"github.com/jotstack/jotstack/internal/store"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newJob(jobType string, priority int) *queue.Job {
	return &queue.Job{
		ID:        uuid.New(),
		Type:      jobType,
		Payload:   json.RawMessage(`{"note_id":"n1"}`),
		Priority:  priority,
		Status:    queue.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

func TestJobStoreRoundTrip(t *testing.T) {
	s := NewJobStore(openTestDB(t))
	ctx := context.Background()

	job := newJob("summarize_note", 1)
	job.CorrelationKey = "note:n1"
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "summarize_note", got.Type)
	assert.Equal(t, "note:n1", got.CorrelationKey)
	assert.JSONEq(t, `{"note_id":"n1"}`, string(got.Payload))
	assert.Equal(t, queue.StatusPending, got.Status)

	now := time.Now().UTC()
	got.Status = queue.StatusCompleted
	got.Result = json.RawMessage(`{"summary":"done"}`)
	got.CompletedAt = &now
	require.NoError(t, s.UpdateJob(ctx, got))

	final, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, final.Status)
	assert.JSONEq(t, `{"summary":"done"}`, string(final.Result))
	require.NotNil(t, final.CompletedAt)
}

func TestJobStoreGetMissing(t *testing.T) {
	s := NewJobStore(openTestDB(t))

	_, err := s.GetJob(context.Background(), uuid.New())
	require.ErrorIs(t, err, store.ErrJobNotFound)

	err = s.UpdateJob(context.Background(), newJob("x", 0))
	require.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestJobStoreFindActiveJob(t *testing.T) {
	s := NewJobStore(openTestDB(t))
	ctx := context.Background()

	active := newJob("summarize_note", 0)
	active.CorrelationKey = "note:n1"
	require.NoError(t, s.CreateJob(ctx, active))

	done := newJob("summarize_note", 0)
	done.CorrelationKey = "note:n2"
	done.Status = queue.StatusCompleted
	require.NoError(t, s.CreateJob(ctx, done))

	found, err := s.FindActiveJob(ctx, "summarize_note", "note:n1")
	require.NoError(t, err)
	assert.Equal(t, active.ID, found.ID)

	// Terminal jobs do not count as active.
	_, err = s.FindActiveJob(ctx, "summarize_note", "note:n2")
	require.ErrorIs(t, err, store.ErrJobNotFound)

	_, err = s.FindActiveJob(ctx, "other_type", "note:n1")
	require.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestJobStoreClaimJob(t *testing.T) {
	s := NewJobStore(openTestDB(t))
	ctx := context.Background()

	job := newJob("summarize_note", 0)
	require.NoError(t, s.CreateJob(ctx, job))

	now := time.Now().UTC()
	job.Status = queue.StatusRunning
	job.StartedAt = &now
	claimed, err := s.ClaimJob(ctx, job)
	require.NoError(t, err)
	assert.True(t, claimed)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)

	// The job is no longer pending, so a second claim loses.
	claimed, err = s.ClaimJob(ctx, job)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestJobStoreClaimLosesToCancel(t *testing.T) {
	s := NewJobStore(openTestDB(t))
	ctx := context.Background()

	job := newJob("summarize_note", 0)
	require.NoError(t, s.CreateJob(ctx, job))

	now := time.Now().UTC()
	cancelled, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	cancelled.Status = queue.StatusCancelled
	cancelled.CompletedAt = &now
	require.NoError(t, s.UpdateJob(ctx, cancelled))

	job.Status = queue.StatusRunning
	job.StartedAt = &now
	claimed, err := s.ClaimJob(ctx, job)
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCancelled, got.Status)
}

func TestJobStoreActiveCorrelationIsUnique(t *testing.T) {
	s := NewJobStore(openTestDB(t))
	ctx := context.Background()

	first := newJob("summarize_note", 0)
	first.CorrelationKey = "note:n1"
	require.NoError(t, s.CreateJob(ctx, first))

	dup := newJob("summarize_note", 0)
	dup.CorrelationKey = "note:n1"
	err := s.CreateJob(ctx, dup)
	require.ErrorIs(t, err, store.ErrDuplicate)

	// A terminal job frees the key for resubmission.
	now := time.Now().UTC()
	done, err := s.GetJob(ctx, first.ID)
	require.NoError(t, err)
	done.Status = queue.StatusCompleted
	done.CompletedAt = &now
	require.NoError(t, s.UpdateJob(ctx, done))

	require.NoError(t, s.CreateJob(ctx, dup))
}

func TestJobStoreDispatchOrdering(t *testing.T) {
	s := NewJobStore(openTestDB(t))
	ctx := context.Background()

	base := time.Now().UTC()
	low := newJob("work", 0)
	low.CreatedAt = base
	highLate := newJob("work", 5)
	highLate.CreatedAt = base.Add(2 * time.Second)
	highEarly := newJob("work", 5)
	highEarly.CreatedAt = base.Add(time.Second)
	gated := newJob("work", 9)
	retryAt := base.Add(time.Hour)
	gated.NextRetryAt = &retryAt

	for _, j := range []*queue.Job{low, highLate, highEarly, gated} {
		require.NoError(t, s.CreateJob(ctx, j))
	}

	jobs, err := s.ListDispatchable(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 3, "retry-gated job must be excluded")
	assert.Equal(t, highEarly.ID, jobs[0].ID)
	assert.Equal(t, highLate.ID, jobs[1].ID)
	assert.Equal(t, low.ID, jobs[2].ID)

	jobs, err = s.ListDispatchable(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, highEarly.ID, jobs[0].ID)
}

func TestJobStoreRetryDueAndClear(t *testing.T) {
	s := NewJobStore(openTestDB(t))
	ctx := context.Background()

	now := time.Now().UTC()
	due := newJob("work", 0)
	dueAt := now.Add(-time.Minute)
	due.NextRetryAt = &dueAt
	future := newJob("work", 0)
	futureAt := now.Add(time.Hour)
	future.NextRetryAt = &futureAt

	require.NoError(t, s.CreateJob(ctx, due))
	require.NoError(t, s.CreateJob(ctx, future))

	ready, err := s.ListRetryDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, due.ID, ready[0].ID)

	require.NoError(t, s.ClearNextRetryAt(ctx, due.ID))

	got, err := s.GetJob(ctx, due.ID)
	require.NoError(t, err)
	assert.Nil(t, got.NextRetryAt)

	dispatchable, err := s.ListDispatchable(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dispatchable, 1)
	assert.Equal(t, due.ID, dispatchable[0].ID)
}

func TestPipelineStoreRoundTrip(t *testing.T) {
	db := openTestDB(t)
	s := NewPipelineStore(db)
	ctx := context.Background()

	a := pipeline.Node{ID: uuid.New(), Op: "llm", Enabled: true, Config: map[string]any{"prompt": "Summarize: {{note.body}}"}}
	b := pipeline.Node{ID: uuid.New(), Op: "llm", Enabled: false}
	now := time.Now().UTC()
	p := &pipeline.Pipeline{
		ID:          uuid.New(),
		Name:        "summarize-and-tag",
		Description: "derives tags from a summary",
		Enabled:     true,
		Nodes:       []pipeline.Node{a, b},
		Edges: []pipeline.Edge{{
			ID:         uuid.New(),
			FromNodeID: a.ID,
			ToNodeID:   b.ID,
			OutputKey:  "output",
			InputKey:   "summary",
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreatePipeline(ctx, p))

	got, err := s.GetPipeline(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.True(t, got.Enabled)
	require.Len(t, got.Nodes, 2)
	require.Len(t, got.Edges, 1)

	nodesByID := map[uuid.UUID]pipeline.Node{}
	for _, n := range got.Nodes {
		nodesByID[n.ID] = n
	}
	assert.Equal(t, "Summarize: {{note.body}}", nodesByID[a.ID].Config["prompt"])
	assert.False(t, nodesByID[b.ID].Enabled)

	assert.Equal(t, a.ID, got.Edges[0].FromNodeID)
	assert.Equal(t, "summary", got.Edges[0].InputKey)

	_, err = s.GetPipeline(ctx, uuid.New())
	require.ErrorIs(t, err, store.ErrPipelineNotFound)
}

func TestExecutionStoreRoundTrip(t *testing.T) {
	db := openTestDB(t)
	s := NewExecutionStore(db)
	ctx := context.Background()

	exec := &pipeline.Execution{
		ID:         uuid.New(),
		PipelineID: uuid.New(),
		Status:     pipeline.ExecutionPending,
		InputData:  json.RawMessage(`{"note":"text"}`),
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.CreateExecution(ctx, exec))

	started := time.Now().UTC()
	exec.Status = pipeline.ExecutionRunning
	exec.StartedAt = &started
	require.NoError(t, s.UpdateExecution(ctx, exec))

	first := &pipeline.NodeExecution{
		ID:          uuid.New(),
		ExecutionID: exec.ID,
		NodeID:      uuid.New(),
		Status:      pipeline.NodeCompleted,
		OutputData:  json.RawMessage(`{"output":"s"}`),
		StartedAt:   started,
	}
	second := &pipeline.NodeExecution{
		ID:          uuid.New(),
		ExecutionID: exec.ID,
		NodeID:      uuid.New(),
		Status:      pipeline.NodeFailed,
		ErrorMessage: "model call failed",
		StartedAt:   started.Add(time.Second),
	}
	require.NoError(t, s.CreateNodeExecution(ctx, first))
	require.NoError(t, s.CreateNodeExecution(ctx, second))

	records, err := s.ListNodeExecutions(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, first.ID, records[0].ID)
	assert.Equal(t, second.ID, records[1].ID)
	assert.Equal(t, "model call failed", records[1].ErrorMessage)

	_, err = s.GetExecution(ctx, uuid.New())
	require.ErrorIs(t, err, store.ErrExecutionNotFound)
}
