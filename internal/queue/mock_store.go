package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jotstack/jotstack/internal/store"
)

// MockJobStore implements the JobStore interface in memory for testing.
// Individual operations can be overridden through the exported function
// fields; unset fields fall back to the map-backed default behavior.
type MockJobStore struct {
	mutex sync.RWMutex
	jobs  map[uuid.UUID]*Job
	order map[uuid.UUID]int
	seq   int

	CreateFn     func(ctx context.Context, job *Job) error
	UpdateFn     func(ctx context.Context, job *Job) error
	ClaimFn      func(ctx context.Context, job *Job) (bool, error)
	FindActiveFn func(ctx context.Context, jobType, correlationKey string) (*Job, error)
}

// NewMockJobStore creates an empty in-memory job store.
func NewMockJobStore() *MockJobStore {
	return &MockJobStore{
		jobs:  make(map[uuid.UUID]*Job),
		order: make(map[uuid.UUID]int),
	}
}

// CreateJob persists a copy of the job. An active job with the same type
// and correlation key is rejected with store.ErrDuplicate, mirroring the
// partial unique index the SQL stores carry.
func (s *MockJobStore) CreateJob(ctx context.Context, job *Job) error {
	if s.CreateFn != nil {
		return s.CreateFn(ctx, job)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if job.CorrelationKey != "" {
		for _, existing := range s.jobs {
			if existing.Type == job.Type && existing.CorrelationKey == job.CorrelationKey &&
				(existing.Status == StatusPending || existing.Status == StatusRunning) {
				return store.ErrDuplicate
			}
		}
	}

	// Sequence number breaks creation-time ties so FIFO order within a
	// priority band is exact even when timestamps collide.
	s.seq++
	s.order[job.ID] = s.seq
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

// GetJob returns a copy of the stored job.
func (s *MockJobStore) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	clone := *job
	return &clone, nil
}

// UpdateJob overwrites the stored job's mutable fields.
func (s *MockJobStore) UpdateJob(ctx context.Context, job *Job) error {
	if s.UpdateFn != nil {
		return s.UpdateFn(ctx, job)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return store.ErrJobNotFound
	}
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

// ClaimJob marks the job running only while its stored status is still
// pending; a false result means another actor moved the job first.
func (s *MockJobStore) ClaimJob(ctx context.Context, job *Job) (bool, error) {
	if s.ClaimFn != nil {
		return s.ClaimFn(ctx, job)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored, ok := s.jobs[job.ID]
	if !ok {
		return false, store.ErrJobNotFound
	}
	if stored.Status != StatusPending {
		return false, nil
	}
	clone := *job
	s.jobs[job.ID] = &clone
	return true, nil
}

// FindActiveJob returns a pending or running job matching type and key.
func (s *MockJobStore) FindActiveJob(ctx context.Context, jobType, correlationKey string) (*Job, error) {
	if s.FindActiveFn != nil {
		return s.FindActiveFn(ctx, jobType, correlationKey)
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, job := range s.jobs {
		if job.Type == jobType && job.CorrelationKey == correlationKey &&
			(job.Status == StatusPending || job.Status == StatusRunning) {
			clone := *job
			return &clone, nil
		}
	}
	return nil, store.ErrJobNotFound
}

// ListDispatchable returns pending jobs without a retry gate, ordered by
// priority descending then creation time ascending.
func (s *MockJobStore) ListDispatchable(ctx context.Context, limit int) ([]*Job, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var eligible []*Job
	for _, job := range s.jobs {
		if job.Status == StatusPending && job.NextRetryAt == nil {
			clone := *job
			eligible = append(eligible, &clone)
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		if !eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
		}
		return s.order[eligible[i].ID] < s.order[eligible[j].ID]
	})

	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

// ListByStatus returns all jobs with the given status.
func (s *MockJobStore) ListByStatus(ctx context.Context, status Status) ([]*Job, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var jobs []*Job
	for _, job := range s.jobs {
		if job.Status == status {
			clone := *job
			jobs = append(jobs, &clone)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// ListRetryDue returns pending jobs whose retry delay has elapsed.
func (s *MockJobStore) ListRetryDue(ctx context.Context, now time.Time) ([]*Job, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var due []*Job
	for _, job := range s.jobs {
		if job.Status == StatusPending && job.NextRetryAt != nil && !job.NextRetryAt.After(now) {
			clone := *job
			due = append(due, &clone)
		}
	}
	return due, nil
}

// ClearNextRetryAt removes a job's retry gate.
func (s *MockJobStore) ClearNextRetryAt(ctx context.Context, id uuid.UUID) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	job.NextRetryAt = nil
	return nil
}

// Ensure MockJobStore implements JobStore.
var _ JobStore = (*MockJobStore)(nil)
