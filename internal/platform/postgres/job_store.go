package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jotstack/jotstack/internal/platform/logger"
	"github.com/jotstack/jotstack/internal/queue"
	"github.com/jotstack/jotstack/internal/store"
)

// JobStore implements queue.JobStore using PostgreSQL.
type JobStore struct {
	db store.DBTX
}

// NewJobStore creates a new JobStore.
func NewJobStore(db store.DBTX) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `id, type, payload, priority, status, correlation_key,
	retry_count, last_retry_at, next_retry_at, result, error_message,
	created_at, started_at, completed_at`

// CreateJob persists a new job.
func (s *JobStore) CreateJob(ctx context.Context, job *queue.Job) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.Type,
		[]byte(job.Payload),
		job.Priority,
		job.Status,
		nullString(job.CorrelationKey),
		job.RetryCount,
		job.LastRetryAt,
		job.NextRetryAt,
		[]byte(job.Result),
		nullString(job.ErrorMessage),
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
	)
	if err != nil {
		log.Error("failed to create job",
			"job_id", job.ID,
			"job_type", job.Type,
			"error", err)
		return mapError(fmt.Errorf("failed to create job: %w", err), store.ErrJobNotFound)
	}

	return nil
}

// GetJob retrieves a job by id.
func (s *JobStore) GetJob(ctx context.Context, id uuid.UUID) (*queue.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	return s.scanJob(s.db.QueryRowContext(ctx, query, id))
}

// UpdateJob persists the job's mutable fields.
func (s *JobStore) UpdateJob(ctx context.Context, job *queue.Job) error {
	log := logger.FromContext(ctx)

	query := `
		UPDATE jobs
		SET status = $1, priority = $2, retry_count = $3, last_retry_at = $4,
			next_retry_at = $5, result = $6, error_message = $7,
			started_at = $8, completed_at = $9
		WHERE id = $10
	`

	result, err := s.db.ExecContext(ctx, query,
		job.Status,
		job.Priority,
		job.RetryCount,
		job.LastRetryAt,
		job.NextRetryAt,
		[]byte(job.Result),
		nullString(job.ErrorMessage),
		job.StartedAt,
		job.CompletedAt,
		job.ID,
	)
	if err != nil {
		log.Error("failed to update job", "job_id", job.ID, "error", err)
		return mapError(fmt.Errorf("failed to update job: %w", err), store.ErrJobNotFound)
	}

	return checkRowsAffected(result, store.ErrJobNotFound)
}

// ClaimJob transitions the job to running only while its stored status is
// still pending. Zero rows affected means a cancel or a competing
// dispatcher moved the job first; the claim is reported lost, not failed.
func (s *JobStore) ClaimJob(ctx context.Context, job *queue.Job) (bool, error) {
	query := `
		UPDATE jobs
		SET status = $1, started_at = $2, error_message = NULL
		WHERE id = $3 AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		job.Status, job.StartedAt, job.ID, queue.StatusPending)
	if err != nil {
		return false, mapError(fmt.Errorf("failed to claim job: %w", err), store.ErrJobNotFound)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check claim result: %w", err)
	}
	return affected > 0, nil
}

// FindActiveJob returns a pending or running job with the given type and
// correlation key.
func (s *JobStore) FindActiveJob(ctx context.Context, jobType, correlationKey string) (*queue.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE type = $1 AND correlation_key = $2 AND status IN ($3, $4)
		ORDER BY created_at ASC
		LIMIT 1
	`
	return s.scanJob(s.db.QueryRowContext(ctx, query,
		jobType, correlationKey, queue.StatusPending, queue.StatusRunning))
}

// ListDispatchable returns pending jobs not gated behind a retry delay,
// highest priority first, FIFO within a priority band.
func (s *JobStore) ListDispatchable(ctx context.Context, limit int) ([]*queue.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1 AND next_retry_at IS NULL
		ORDER BY priority DESC, created_at ASC
		LIMIT $2
	`
	return s.queryJobs(ctx, query, queue.StatusPending, limit)
}

// ListByStatus returns all jobs with the given status, oldest first.
func (s *JobStore) ListByStatus(ctx context.Context, status queue.Status) ([]*queue.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1
		ORDER BY created_at ASC
	`
	return s.queryJobs(ctx, query, status)
}

// ListRetryDue returns pending jobs whose retry delay has elapsed.
func (s *JobStore) ListRetryDue(ctx context.Context, now time.Time) ([]*queue.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1 AND next_retry_at IS NOT NULL AND next_retry_at <= $2
		ORDER BY next_retry_at ASC
	`
	return s.queryJobs(ctx, query, queue.StatusPending, now)
}

// ClearNextRetryAt resets a job's retry gate.
func (s *JobStore) ClearNextRetryAt(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET next_retry_at = NULL WHERE id = $1`, id)
	if err != nil {
		return mapError(fmt.Errorf("failed to clear retry gate: %w", err), store.ErrJobNotFound)
	}
	return checkRowsAffected(result, store.ErrJobNotFound)
}

func (s *JobStore) queryJobs(ctx context.Context, query string, args ...any) ([]*queue.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query jobs: %w", err), store.ErrJobNotFound)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*queue.Job
	for rows.Next() {
		job, err := scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *JobStore) scanJob(row rowScanner) (*queue.Job, error) {
	job, err := scanJobRow(row)
	if err != nil {
		return nil, mapError(err, store.ErrJobNotFound)
	}
	return job, nil
}

func scanJobRow(row rowScanner) (*queue.Job, error) {
	var job queue.Job
	var payload, result []byte
	var correlationKey, errorMessage sql.NullString

	err := row.Scan(
		&job.ID,
		&job.Type,
		&payload,
		&job.Priority,
		&job.Status,
		&correlationKey,
		&job.RetryCount,
		&job.LastRetryAt,
		&job.NextRetryAt,
		&result,
		&errorMessage,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Payload = payload
	job.Result = result
	job.CorrelationKey = correlationKey.String
	job.ErrorMessage = errorMessage.String
	return &job, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ queue.JobStore = (*JobStore)(nil)
