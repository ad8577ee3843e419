package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jotstack/jotstack/internal/queue"
	"github.com/jotstack/jotstack/internal/store"
)

// JobStore implements queue.JobStore using SQLite.
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID.String(),
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
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to create job: %w", store.ErrDuplicate)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by id.
func (s *JobStore) GetJob(ctx context.Context, id uuid.UUID) (*queue.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id.String())
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// UpdateJob persists the job's mutable fields.
func (s *JobStore) UpdateJob(ctx context.Context, job *queue.Job) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, priority = ?, retry_count = ?, last_retry_at = ?,
			next_retry_at = ?, result = ?, error_message = ?,
			started_at = ?, completed_at = ?
		WHERE id = ?
	`,
		job.Status,
		job.Priority,
		job.RetryCount,
		job.LastRetryAt,
		job.NextRetryAt,
		[]byte(job.Result),
		nullString(job.ErrorMessage),
		job.StartedAt,
		job.CompletedAt,
		job.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return checkRowsAffected(result, store.ErrJobNotFound)
}

// ClaimJob transitions the job to running only while its stored status is
// still pending. Zero rows affected means a cancel or a competing
// dispatcher moved the job first; the claim is reported lost, not failed.
func (s *JobStore) ClaimJob(ctx context.Context, job *queue.Job) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, started_at = ?, error_message = NULL
		WHERE id = ? AND status = ?
	`,
		job.Status, job.StartedAt, job.ID.String(), queue.StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
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
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE type = ? AND correlation_key = ? AND status IN (?, ?)
		ORDER BY created_at ASC
		LIMIT 1
	`, jobType, correlationKey, queue.StatusPending, queue.StatusRunning)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListDispatchable returns pending jobs not gated behind a retry delay,
// highest priority first, FIFO within a priority band.
func (s *JobStore) ListDispatchable(ctx context.Context, limit int) ([]*queue.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = ? AND next_retry_at IS NULL
		ORDER BY priority DESC, created_at ASC
		LIMIT ?
	`, queue.StatusPending, limit)
}

// ListByStatus returns all jobs with the given status, oldest first.
func (s *JobStore) ListByStatus(ctx context.Context, status queue.Status) ([]*queue.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = ?
		ORDER BY created_at ASC
	`, status)
}

// ListRetryDue returns pending jobs whose retry delay has elapsed.
func (s *JobStore) ListRetryDue(ctx context.Context, now time.Time) ([]*queue.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		ORDER BY next_retry_at ASC
	`, queue.StatusPending, now)
}

// ClearNextRetryAt resets a job's retry gate.
func (s *JobStore) ClearNextRetryAt(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET next_retry_at = NULL WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to clear retry gate: %w", err)
	}
	return checkRowsAffected(result, store.ErrJobNotFound)
}

func (s *JobStore) queryJobs(ctx context.Context, query string, args ...any) ([]*queue.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*queue.Job
	for rows.Next() {
		job, err := scanJob(rows)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*queue.Job, error) {
	var job queue.Job
	var id string
	var payload, result []byte
	var correlationKey, errorMessage sql.NullString

	err := row.Scan(
		&id,
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

	job.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid job id %q: %w", id, err)
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

func checkRowsAffected(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

var _ queue.JobStore = (*JobStore)(nil)
