package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jotstack/jotstack/internal/backoff"
	"github.com/jotstack/jotstack/internal/events"
	"github.com/jotstack/jotstack/internal/store"
)

var errFlaky = errors.New("downstream unavailable")

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func testConfig() ManagerConfig {
	return ManagerConfig{
		MaxConcurrency:     2,
		MaxRetryAttempts:   3,
		RetryCheckInterval: 10 * time.Millisecond,
		Backoff: backoff.Config{
			InitialDelay: 5 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     50 * time.Millisecond,
			Jitter:       false,
		},
	}
}

func newTestManager(t *testing.T, cfg ManagerConfig) (*Manager, *MockJobStore) {
	t.Helper()
	jobStore := NewMockJobStore()
	notifier := events.NewInMemoryBroadcaster(setupTestLogger())
	m := NewManager(jobStore, notifier, cfg, setupTestLogger())
	return m, jobStore
}

func waitForStatus(t *testing.T, jobStore *MockJobStore, id uuid.UUID, status Status) *Job {
	t.Helper()
	var got *Job
	require.Eventually(t, func() bool {
		job, err := jobStore.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		got = job
		return job.Status == status
	}, 3*time.Second, 5*time.Millisecond,
		"job %s never reached status %s (last seen %v)", id, status, got)
	return got
}

func TestEnqueueDeduplicatesByCorrelationKey(t *testing.T) {
	m, jobStore := newTestManager(t, testConfig())
	ctx := context.Background()

	first, err := m.Enqueue(ctx, "note_analysis", json.RawMessage(`{"note":"n1"}`),
		EnqueueOptions{CorrelationKey: "note-1"})
	require.NoError(t, err)

	second, err := m.Enqueue(ctx, "note_analysis", json.RawMessage(`{"note":"n1"}`),
		EnqueueOptions{CorrelationKey: "note-1"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	pending, err := jobStore.ListByStatus(ctx, StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestEnqueueDifferentKeysCreateSeparateJobs(t *testing.T) {
	m, _ := newTestManager(t, testConfig())
	ctx := context.Background()

	first, err := m.Enqueue(ctx, "note_analysis", nil, EnqueueOptions{CorrelationKey: "note-1"})
	require.NoError(t, err)
	second, err := m.Enqueue(ctx, "note_analysis", nil, EnqueueOptions{CorrelationKey: "note-2"})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestConcurrencyCeilingIsNeverExceeded(t *testing.T) {
	m, jobStore := newTestManager(t, testConfig())
	ctx := context.Background()

	var current, peak int64
	m.RegisterExecutor("slow", func(ctx context.Context, jobID uuid.UUID, payload json.RawMessage) (json.RawMessage, error) {
		n := atomic.AddInt64(&current, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt64(&current, -1)
		return nil, nil
	})

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		job, err := m.Enqueue(ctx, "slow", nil, EnqueueOptions{})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	for _, id := range ids {
		waitForStatus(t, jobStore, id, StatusCompleted)
	}

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2),
		"more than MaxConcurrency jobs were running at once")
}

func TestPriorityOrdersDispatchFIFOWithinBand(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrency = 1
	m, jobStore := newTestManager(t, cfg)
	ctx := context.Background()

	var mu sync.Mutex
	var executed []uuid.UUID
	m.RegisterExecutor("ordered", func(ctx context.Context, jobID uuid.UUID, payload json.RawMessage) (json.RawMessage, error) {
		mu.Lock()
		executed = append(executed, jobID)
		mu.Unlock()
		return nil, nil
	})

	low1, err := m.Enqueue(ctx, "ordered", nil, EnqueueOptions{Priority: 0})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	low2, err := m.Enqueue(ctx, "ordered", nil, EnqueueOptions{Priority: 0})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	high, err := m.Enqueue(ctx, "ordered", nil, EnqueueOptions{Priority: 5})
	require.NoError(t, err)

	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	waitForStatus(t, jobStore, low2.ID, StatusCompleted)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, executed, 3)
	assert.Equal(t, high.ID, executed[0], "highest priority job must dispatch first")
	assert.Equal(t, low1.ID, executed[1], "FIFO within the priority band")
	assert.Equal(t, low2.ID, executed[2])
}

func TestRetryableFailureExhaustsAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.IsRetryable = func(err error) bool { return errors.Is(err, errFlaky) }
	m, jobStore := newTestManager(t, cfg)
	ctx := context.Background()

	var attempts int64
	m.RegisterExecutor("flaky", func(ctx context.Context, jobID uuid.UUID, payload json.RawMessage) (json.RawMessage, error) {
		atomic.AddInt64(&attempts, 1)
		return nil, errFlaky
	})

	job, err := m.Enqueue(ctx, "flaky", nil, EnqueueOptions{})
	require.NoError(t, err)

	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	failed := waitForStatus(t, jobStore, job.ID, StatusFailed)

	assert.Equal(t, int64(3), atomic.LoadInt64(&attempts), "exactly MaxRetryAttempts executions")
	assert.Equal(t, 3, failed.RetryCount)
	assert.Contains(t, failed.ErrorMessage, "downstream unavailable")
	assert.Empty(t, failed.Result)
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	m, jobStore := newTestManager(t, testConfig())
	ctx := context.Background()

	var attempts int64
	m.RegisterExecutor("recovers", func(ctx context.Context, jobID uuid.UUID, payload json.RawMessage) (json.RawMessage, error) {
		if atomic.AddInt64(&attempts, 1) < 3 {
			return nil, errFlaky
		}
		return json.RawMessage(`{"ok":true}`), nil
	})

	job, err := m.Enqueue(ctx, "recovers", nil, EnqueueOptions{})
	require.NoError(t, err)

	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	completed := waitForStatus(t, jobStore, job.ID, StatusCompleted)

	assert.Equal(t, int64(3), atomic.LoadInt64(&attempts))
	assert.JSONEq(t, `{"ok":true}`, string(completed.Result))
	assert.Empty(t, completed.ErrorMessage, "stale error must be cleared on success")
}

func TestNonRetryableFailureFailsImmediately(t *testing.T) {
	cfg := testConfig()
	permanent := errors.New("bad payload")
	cfg.IsRetryable = func(err error) bool { return !errors.Is(err, permanent) }
	m, jobStore := newTestManager(t, cfg)
	ctx := context.Background()

	var attempts int64
	m.RegisterExecutor("broken", func(ctx context.Context, jobID uuid.UUID, payload json.RawMessage) (json.RawMessage, error) {
		atomic.AddInt64(&attempts, 1)
		return nil, permanent
	})

	job, err := m.Enqueue(ctx, "broken", nil, EnqueueOptions{})
	require.NoError(t, err)

	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	waitForStatus(t, jobStore, job.ID, StatusFailed)
	assert.Equal(t, int64(1), atomic.LoadInt64(&attempts))
}

func TestMissingExecutorIsPermanentFailure(t *testing.T) {
	m, jobStore := newTestManager(t, testConfig())
	ctx := context.Background()

	job, err := m.Enqueue(ctx, "unregistered", nil, EnqueueOptions{})
	require.NoError(t, err)

	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	failed := waitForStatus(t, jobStore, job.ID, StatusFailed)
	assert.Equal(t, 1, failed.RetryCount)
	assert.Contains(t, failed.ErrorMessage, "no executor registered")
}

func TestExecutorPanicBecomesFailure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetryAttempts = 1
	m, jobStore := newTestManager(t, cfg)
	ctx := context.Background()

	m.RegisterExecutor("panics", func(ctx context.Context, jobID uuid.UUID, payload json.RawMessage) (json.RawMessage, error) {
		panic("executor bug")
	})

	job, err := m.Enqueue(ctx, "panics", nil, EnqueueOptions{})
	require.NoError(t, err)

	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	failed := waitForStatus(t, jobStore, job.ID, StatusFailed)
	assert.Contains(t, failed.ErrorMessage, "executor panicked")
}

func TestCancelPendingJob(t *testing.T) {
	m, _ := newTestManager(t, testConfig())
	ctx := context.Background()

	job, err := m.Enqueue(ctx, "later", nil, EnqueueOptions{})
	require.NoError(t, err)

	cancelled, err := m.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CompletedAt)
}

func TestCancelRunningJobIsRejected(t *testing.T) {
	m, jobStore := newTestManager(t, testConfig())
	ctx := context.Background()

	release := make(chan struct{})
	m.RegisterExecutor("blocking", func(ctx context.Context, jobID uuid.UUID, payload json.RawMessage) (json.RawMessage, error) {
		<-release
		return nil, nil
	})

	job, err := m.Enqueue(ctx, "blocking", nil, EnqueueOptions{})
	require.NoError(t, err)

	require.NoError(t, m.Start(ctx))
	defer func() {
		close(release)
		m.Stop()
	}()

	waitForStatus(t, jobStore, job.ID, StatusRunning)

	_, err = m.Cancel(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotCancellable)

	// The rejection must leave the job untouched.
	current, err := jobStore.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, current.Status)
}

func TestCancelTerminalJobIsRejected(t *testing.T) {
	m, jobStore := newTestManager(t, testConfig())
	ctx := context.Background()

	m.RegisterExecutor("quick", func(ctx context.Context, jobID uuid.UUID, payload json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})

	job, err := m.Enqueue(ctx, "quick", nil, EnqueueOptions{})
	require.NoError(t, err)

	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	waitForStatus(t, jobStore, job.ID, StatusCompleted)

	_, err = m.Cancel(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestCancelBetweenFetchAndClaimWins(t *testing.T) {
	m, jobStore := newTestManager(t, testConfig())
	ctx := context.Background()

	var runs atomic.Int32
	m.RegisterExecutor("note_analysis", func(ctx context.Context, jobID uuid.UUID, payload json.RawMessage) (json.RawMessage, error) {
		runs.Add(1)
		return nil, nil
	})

	// Cancel inside the claim, the window between the dispatcher's
	// pending-job fetch and its mark-running write. The job is still
	// pending in the store at that instant, so the cancel must succeed
	// and the claim must then lose.
	var cancelled *Job
	var cancelErr error
	jobStore.ClaimFn = func(ctx context.Context, job *Job) (bool, error) {
		jobStore.ClaimFn = nil
		cancelled, cancelErr = m.Cancel(ctx, job.ID)
		return jobStore.ClaimJob(ctx, job)
	}

	job, err := m.Enqueue(ctx, "note_analysis", nil, EnqueueOptions{})
	require.NoError(t, err)

	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	final := waitForStatus(t, jobStore, job.ID, StatusCancelled)
	require.NoError(t, cancelErr)
	require.NotNil(t, cancelled)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, StatusCancelled, final.Status)

	// A successfully cancelled job must never execute.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, runs.Load())
}

func TestEnqueueConcurrentDuplicateReturnsExistingJob(t *testing.T) {
	m, jobStore := newTestManager(t, testConfig())
	ctx := context.Background()

	first, err := m.Enqueue(ctx, "note_analysis", nil, EnqueueOptions{CorrelationKey: "note-1"})
	require.NoError(t, err)

	// A second submission racing past the duplicate check: the lookup
	// misses once, as if the first insert had not landed yet, so the
	// insert proceeds and hits the unique constraint.
	jobStore.FindActiveFn = func(ctx context.Context, jobType, correlationKey string) (*Job, error) {
		jobStore.FindActiveFn = nil
		return nil, store.ErrJobNotFound
	}

	second, err := m.Enqueue(ctx, "note_analysis", nil, EnqueueOptions{CorrelationKey: "note-1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	pending, err := jobStore.ListByStatus(ctx, StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRestartRecoveryRedispatchesOrphanedJobs(t *testing.T) {
	jobStore := NewMockJobStore()
	ctx := context.Background()

	// Simulate a job that a crashed process left running.
	started := time.Now().UTC().Add(-time.Minute)
	orphan := &Job{
		ID:        uuid.New(),
		Type:      "note_analysis",
		Status:    StatusRunning,
		CreatedAt: started,
		StartedAt: &started,
	}
	require.NoError(t, jobStore.CreateJob(ctx, orphan))

	notifier := events.NewInMemoryBroadcaster(setupTestLogger())
	m := NewManager(jobStore, notifier, testConfig(), setupTestLogger())

	var executions int64
	m.RegisterExecutor("note_analysis", func(ctx context.Context, jobID uuid.UUID, payload json.RawMessage) (json.RawMessage, error) {
		atomic.AddInt64(&executions, 1)
		return nil, nil
	})

	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	waitForStatus(t, jobStore, orphan.ID, StatusCompleted)
	assert.Equal(t, int64(1), atomic.LoadInt64(&executions))
}

func TestEnqueueAfterStopIsRejected(t *testing.T) {
	m, _ := newTestManager(t, testConfig())
	require.NoError(t, m.Start(context.Background()))
	m.Stop()

	_, err := m.Enqueue(context.Background(), "anything", nil, EnqueueOptions{})
	assert.ErrorIs(t, err, ErrManagerStopped)
}

func TestStartTwiceIsRejected(t *testing.T) {
	m, _ := newTestManager(t, testConfig())
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	assert.ErrorIs(t, m.Start(context.Background()), ErrAlreadyStarted)
}

func TestLifecycleEventsAreBroadcast(t *testing.T) {
	jobStore := NewMockJobStore()
	notifier := events.NewInMemoryBroadcaster(setupTestLogger())

	var mu sync.Mutex
	var names []string
	notifier.RegisterHandler(eventHandlerFunc(func(ctx context.Context, e *events.Event) {
		mu.Lock()
		names = append(names, e.Name)
		mu.Unlock()
	}))

	m := NewManager(jobStore, notifier, testConfig(), setupTestLogger())
	m.RegisterExecutor("quick", func(ctx context.Context, jobID uuid.UUID, payload json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})

	ctx := context.Background()
	job, err := m.Enqueue(ctx, "quick", nil, EnqueueOptions{})
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	waitForStatus(t, jobStore, job.ID, StatusCompleted)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(names) >= 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{events.JobCreated, events.JobStarted, events.JobCompleted}, names[:3])
}

type eventHandlerFunc func(ctx context.Context, e *events.Event)

func (f eventHandlerFunc) HandleEvent(ctx context.Context, e *events.Event) { f(ctx, e) }
