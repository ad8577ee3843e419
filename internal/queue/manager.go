package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jotstack/jotstack/internal/backoff"
	"github.com/jotstack/jotstack/internal/events"
	"github.com/jotstack/jotstack/internal/store"
)

// ManagerConfig holds configuration for the queue manager.
type ManagerConfig struct {
	// MaxConcurrency is the global ceiling on concurrently running jobs.
	MaxConcurrency int

	// MaxRetryAttempts is the total number of executions a retryable job
	// receives before it is marked failed.
	MaxRetryAttempts int

	// RetryCheckInterval defines how often to scan for jobs whose retry
	// delay has elapsed. If zero, defaults to 5 seconds.
	RetryCheckInterval time.Duration

	// Backoff configures the delay schedule between retry attempts.
	Backoff backoff.Config

	// IsRetryable classifies executor errors. When nil every error is
	// treated as retryable.
	IsRetryable func(error) bool
}

// DefaultManagerConfig returns a ManagerConfig with reasonable defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxConcurrency:     2,
		MaxRetryAttempts:   3,
		RetryCheckInterval: 5 * time.Second,
		Backoff:            backoff.DefaultConfig(),
	}
}

// EnqueueOptions carries the optional parameters of a job submission.
type EnqueueOptions struct {
	// CorrelationKey enables idempotent submission: while a pending or
	// running job with the same type and key exists, Enqueue returns that
	// job instead of creating a duplicate.
	CorrelationKey string

	// Priority orders dispatch; higher values dispatch first.
	Priority int
}

// jobEvent is the payload broadcast with every job lifecycle event.
type jobEvent struct {
	JobID      uuid.UUID `json:"job_id"`
	Type       string    `json:"type"`
	Status     Status    `json:"status"`
	RetryCount int       `json:"retry_count,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Manager owns admission, concurrency control, dispatch, retry scheduling
// and crash recovery for the persisted job table. Construct one per process
// with NewManager; it holds no global state, so tests can run several
// isolated instances concurrently.
type Manager struct {
	store    JobStore
	notifier events.Broadcaster
	cfg      ManagerConfig
	logger   *slog.Logger

	execMu    sync.RWMutex
	executors map[string]ExecutorFunc

	// mu guards running, started and stopped. The running counter is the
	// only in-memory cache of job state; everything else lives in the store.
	mu      sync.Mutex
	running int
	started bool
	stopped bool

	// wake is the single scheduling trigger: enqueues, job completions and
	// the retry timer all reduce to a send here, and the scheduler
	// goroutine serializes the capacity check.
	wake chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	execWg sync.WaitGroup
}

// NewManager creates a queue manager over the given store and notifier.
func NewManager(jobStore JobStore, notifier events.Broadcaster, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 1
	}
	if cfg.RetryCheckInterval <= 0 {
		cfg.RetryCheckInterval = 5 * time.Second
	}
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = func(error) bool { return true }
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		store:     jobStore,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger.With("component", "queue_manager"),
		executors: make(map[string]ExecutorFunc),
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// RegisterExecutor associates a job type with the function that performs
// its work. Registration is expected before Start; registering the same
// type again replaces the previous executor.
func (m *Manager) RegisterExecutor(jobType string, fn ExecutorFunc) {
	m.execMu.Lock()
	defer m.execMu.Unlock()
	m.executors[jobType] = fn
}

// Start recovers orphaned work and begins dispatching.
//
// Recovery policy: every job found running was interrupted by a crash and
// is reset to pending for re-dispatch. This is at-least-once execution;
// executors must tolerate re-running interrupted work. No job is lost and
// none double-executes concurrently, since dispatch only begins after
// recovery completes.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	if err := m.recover(ctx); err != nil {
		return fmt.Errorf("failed to recover interrupted jobs: %w", err)
	}

	m.wg.Add(1)
	go m.schedulerLoop()

	m.triggerDispatch()
	return nil
}

// Stop disables further dispatch and waits for in-flight jobs to finish.
// Running executors are not forcibly aborted; shutdown is cooperative.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.execWg.Wait()
	m.logger.Info("queue manager stopped")
}

// Enqueue submits a job. If opts.CorrelationKey matches a pending or
// running job of the same type, that job is returned unchanged instead of
// creating a duplicate.
func (m *Manager) Enqueue(ctx context.Context, jobType string, payload json.RawMessage, opts EnqueueOptions) (*Job, error) {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return nil, ErrManagerStopped
	}

	if opts.CorrelationKey != "" {
		existing, err := m.store.FindActiveJob(ctx, jobType, opts.CorrelationKey)
		if err == nil {
			m.logger.Debug("returning existing job for correlation key",
				"job_id", existing.ID,
				"job_type", jobType,
				"correlation_key", opts.CorrelationKey)
			return existing, nil
		}
		if !store.IsNotFoundError(err) {
			return nil, fmt.Errorf("failed to check for duplicate job: %w", err)
		}
	}

	job := &Job{
		ID:             uuid.New(),
		Type:           jobType,
		Payload:        payload,
		Priority:       opts.Priority,
		Status:         StatusPending,
		CorrelationKey: opts.CorrelationKey,
		CreatedAt:      time.Now().UTC(),
	}

	if err := m.store.CreateJob(ctx, job); err != nil {
		// Two submissions racing past the duplicate check both reach the
		// insert; the store's unique constraint picks the winner and the
		// loser falls back to the job that got in.
		if opts.CorrelationKey != "" && errors.Is(err, store.ErrDuplicate) {
			existing, findErr := m.store.FindActiveJob(ctx, jobType, opts.CorrelationKey)
			if findErr == nil {
				m.logger.Debug("concurrent duplicate submission, returning existing job",
					"job_id", existing.ID,
					"job_type", jobType,
					"correlation_key", opts.CorrelationKey)
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	m.logger.Info("job enqueued",
		"job_id", job.ID,
		"job_type", job.Type,
		"priority", job.Priority)

	m.notifier.Broadcast(ctx, events.JobCreated, jobEvent{
		JobID:  job.ID,
		Type:   job.Type,
		Status: job.Status,
	})

	m.triggerDispatch()
	return job, nil
}

// Cancel transitions a pending job to cancelled. Jobs already dispatched
// cannot be cancelled: running, completed, failed and cancelled jobs all
// produce ErrNotCancellable, wrapped with the current status so the calling
// layer can surface a meaningful rejection.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) (*Job, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	if job.Status != StatusPending {
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotCancellable, id, job.Status)
	}

	now := time.Now().UTC()
	job.Status = StatusCancelled
	job.CompletedAt = &now
	if err := m.store.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}

	m.logger.Info("job cancelled", "job_id", job.ID, "job_type", job.Type)
	m.notifier.Broadcast(ctx, events.JobCancelled, jobEvent{
		JobID:  job.ID,
		Type:   job.Type,
		Status: job.Status,
	})

	return job, nil
}

// GetJob returns the current persisted state of a job.
func (m *Manager) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	return m.store.GetJob(ctx, id)
}

// recover resets jobs left running by a previous process.
func (m *Manager) recover(ctx context.Context) error {
	orphaned, err := m.store.ListByStatus(ctx, StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to list running jobs: %w", err)
	}

	if len(orphaned) == 0 {
		return nil
	}

	m.logger.Info("recovering jobs interrupted by restart", "count", len(orphaned))

	for _, job := range orphaned {
		job.Status = StatusPending
		job.StartedAt = nil
		job.ErrorMessage = "interrupted by restart"
		if err := m.store.UpdateJob(ctx, job); err != nil {
			m.logger.Error("failed to reset interrupted job",
				"job_id", job.ID,
				"job_type", job.Type,
				"error", err)
			continue
		}
	}

	return nil
}

// triggerDispatch requests a dispatch pass. The buffered channel collapses
// concurrent triggers into one pending pass, so callers never block.
func (m *Manager) triggerDispatch() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// schedulerLoop is the only goroutine that performs capacity checks, which
// keeps the running count from ever exceeding MaxConcurrency no matter how
// many triggers race.
func (m *Manager) schedulerLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.RetryCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.wake:
			m.dispatchPass()
		case <-ticker.C:
			m.promoteDueRetries()
			m.dispatchPass()
		}
	}
}

// dispatchPass starts as many eligible jobs as free capacity allows.
func (m *Manager) dispatchPass() {
	m.mu.Lock()
	capacity := m.cfg.MaxConcurrency - m.running
	m.mu.Unlock()

	if capacity <= 0 {
		return
	}

	jobs, err := m.store.ListDispatchable(m.ctx, capacity)
	if err != nil {
		m.logger.Error("failed to fetch dispatchable jobs", "error", err)
		return
	}

	for _, job := range jobs {
		m.mu.Lock()
		if m.running >= m.cfg.MaxConcurrency {
			m.mu.Unlock()
			break
		}
		m.running++
		m.mu.Unlock()

		m.execWg.Add(1)
		go m.execute(job)
	}
}

// promoteDueRetries clears the retry gate of jobs whose delay has elapsed.
// A retry becoming due and capacity becoming free must independently
// unblock a job, so this runs on its own timer rather than per dispatch.
func (m *Manager) promoteDueRetries() {
	due, err := m.store.ListRetryDue(m.ctx, time.Now().UTC())
	if err != nil {
		m.logger.Error("failed to scan for due retries", "error", err)
		return
	}

	for _, job := range due {
		if err := m.store.ClearNextRetryAt(m.ctx, job.ID); err != nil {
			m.logger.Error("failed to clear retry gate",
				"job_id", job.ID,
				"error", err)
		}
	}
}

// execute runs a single dispatched job and records its outcome. Executor
// panics and errors never escape; they are converted into the retry or
// failure path.
func (m *Manager) execute(job *Job) {
	defer m.execWg.Done()

	// Jobs run detached from the scheduler's lifetime: Stop never aborts
	// in-flight work.
	ctx := context.Background()
	logger := m.logger.With("job_id", job.ID, "job_type", job.Type)

	now := time.Now().UTC()
	job.Status = StatusRunning
	job.StartedAt = &now
	job.ErrorMessage = ""

	// The claim is conditional on the job still being pending: a cancel
	// landing between the dispatch fetch and here wins, and the job must
	// stay cancelled rather than resurrect into running.
	claimed, err := m.store.ClaimJob(ctx, job)
	if err != nil {
		logger.Error("failed to claim job for execution", "error", err)
		m.releaseSlot()
		return
	}
	if !claimed {
		logger.Info("job no longer pending, dispatch abandoned")
		m.releaseSlot()
		return
	}

	logger.Info("job started", "attempt", job.RetryCount+1)
	m.notifier.Broadcast(ctx, events.JobStarted, jobEvent{
		JobID:      job.ID,
		Type:       job.Type,
		Status:     job.Status,
		RetryCount: job.RetryCount,
	})

	result, err := m.runExecutor(ctx, job)
	if err != nil {
		m.handleFailure(ctx, logger, job, err)
	} else {
		m.handleSuccess(ctx, logger, job, result)
	}

	m.releaseSlot()
}

// runExecutor invokes the registered executor, converting a missing
// registration or a panic into an error.
func (m *Manager) runExecutor(ctx context.Context, job *Job) (result json.RawMessage, err error) {
	m.execMu.RLock()
	fn, ok := m.executors[job.Type]
	m.execMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoExecutor, job.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panicked: %v", r)
		}
	}()

	return fn(ctx, job.ID, job.Payload)
}

func (m *Manager) handleSuccess(ctx context.Context, logger *slog.Logger, job *Job, result json.RawMessage) {
	now := time.Now().UTC()
	job.Status = StatusCompleted
	job.Result = result
	job.ErrorMessage = ""
	job.CompletedAt = &now

	if err := m.store.UpdateJob(ctx, job); err != nil {
		logger.Error("failed to mark job completed", "error", err)
		return
	}

	logger.Info("job completed")
	m.notifier.Broadcast(ctx, events.JobCompleted, jobEvent{
		JobID:  job.ID,
		Type:   job.Type,
		Status: job.Status,
	})
}

func (m *Manager) handleFailure(ctx context.Context, logger *slog.Logger, job *Job, execErr error) {
	// Missing executors are permanent no matter what the classifier says.
	retryable := m.cfg.IsRetryable(execErr) && !errors.Is(execErr, ErrNoExecutor)

	job.RetryCount++

	if retryable && job.RetryCount < m.cfg.MaxRetryAttempts {
		now := time.Now().UTC()
		delay := backoff.Delay(job.RetryCount, m.cfg.Backoff)
		next := now.Add(delay)

		job.Status = StatusPending
		job.LastRetryAt = &now
		job.NextRetryAt = &next
		job.ErrorMessage = execErr.Error()

		if err := m.store.UpdateJob(ctx, job); err != nil {
			logger.Error("failed to schedule retry", "error", err)
			return
		}

		logger.Warn("job failed, retry scheduled",
			"error", execErr,
			"retry_count", job.RetryCount,
			"next_retry_in", delay)
		m.notifier.Broadcast(ctx, events.JobRetry, jobEvent{
			JobID:      job.ID,
			Type:       job.Type,
			Status:     job.Status,
			RetryCount: job.RetryCount,
			Error:      execErr.Error(),
		})
		return
	}

	now := time.Now().UTC()
	job.Status = StatusFailed
	job.ErrorMessage = execErr.Error()
	job.CompletedAt = &now

	if err := m.store.UpdateJob(ctx, job); err != nil {
		logger.Error("failed to mark job failed", "error", err)
		return
	}

	logger.Error("job failed permanently",
		"error", execErr,
		"retry_count", job.RetryCount)
	m.notifier.Broadcast(ctx, events.JobFailed, jobEvent{
		JobID:      job.ID,
		Type:       job.Type,
		Status:     job.Status,
		RetryCount: job.RetryCount,
		Error:      execErr.Error(),
	})
}

// releaseSlot frees a concurrency slot and requests another dispatch pass
// so idle capacity is reclaimed without polling.
func (m *Manager) releaseSlot() {
	m.mu.Lock()
	m.running--
	m.mu.Unlock()
	m.triggerDispatch()
}
