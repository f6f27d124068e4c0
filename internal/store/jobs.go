package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/rescribe/pkg/types"
)

// jobColumns is the canonical column list scanned by [scanJob].
const jobColumns = `id, user_id, status, audio_path, original_filename,
       transcript, error_message, webhook_url,
       processing_started, processing_ended, created_at, updated_at`

// CreateJob inserts job in state PENDING. A missing ID is assigned a fresh
// UUID; CreatedAt and UpdatedAt are always set by the store. The passed job
// is updated in place with the assigned values.
func (s *Store) CreateJob(ctx context.Context, job *types.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = types.StatusPending
	}
	if !job.Status.IsValid() {
		return fmt.Errorf("store: create job: invalid status %q", job.Status)
	}
	ts := now()
	job.CreatedAt = ts
	job.UpdatedAt = ts

	const q = `
		INSERT INTO jobs
		    (id, user_id, status, audio_path, original_filename, webhook_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		job.ID,
		job.UserID,
		string(job.Status),
		job.AudioPath,
		job.OriginalFilename,
		job.WebhookURL,
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("store: create job: %w", err)
	}
	return nil
}

// GetJob returns the job with the given id, or (nil, nil) when no such job
// exists.
func (s *Store) GetJob(ctx context.Context, id string) (*types.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	job, err := scanJob(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally filtered by user and status.
// limit caps the result; values <= 0 fall back to 100.
func (s *Store) ListJobs(ctx context.Context, userID string, status types.JobStatus, limit int) ([]types.Job, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		conditions []string
		args       []any
	)
	if userID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, userID)
	}
	if status != "" {
		if !status.IsValid() {
			return nil, fmt.Errorf("store: list jobs: invalid status %q", status)
		}
		conditions = append(conditions, "status = ?")
		args = append(args, string(status))
	}

	q := `SELECT ` + jobColumns + ` FROM jobs`
	if len(conditions) > 0 {
		q += " WHERE " + strings.Join(conditions, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	jobs := []types.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list jobs: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ClaimNextPending atomically transitions the oldest PENDING job to
// PROCESSING and returns it. The subselect and the status guard run inside
// one UPDATE, so concurrent claimers cannot take the same job: exactly one
// caller wins and everyone else gets (nil, nil).
func (s *Store) ClaimNextPending(ctx context.Context) (*types.Job, error) {
	ts := formatTime(now())

	q := `
		UPDATE jobs
		SET    status = 'PROCESSING', processing_started = ?, updated_at = ?
		WHERE  id = (
		           SELECT id FROM jobs
		           WHERE  status = 'PENDING'
		           ORDER  BY created_at, id
		           LIMIT  1
		       )
		  AND  status = 'PENDING'
		RETURNING ` + jobColumns

	job, err := scanJob(s.db.QueryRowContext(ctx, q, ts, ts))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: claim next pending: %w", err)
	}
	return job, nil
}

// RequeueStale moves every PROCESSING job back to PENDING and returns how
// many were moved. Called once at startup: after a crash or hard kill,
// claimed jobs would otherwise be stranded forever.
func (s *Store) RequeueStale(ctx context.Context) (int64, error) {
	const q = `
		UPDATE jobs
		SET    status = 'PENDING', processing_started = NULL, updated_at = ?
		WHERE  status = 'PROCESSING'`

	res, err := s.db.ExecContext(ctx, q, formatTime(now()))
	if err != nil {
		return 0, fmt.Errorf("store: requeue stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: requeue stale: %w", err)
	}
	return n, nil
}

// FinalizeSuccess completes a PROCESSING job with its final transcript.
// It fails if the job is not currently PROCESSING.
func (s *Store) FinalizeSuccess(ctx context.Context, id, transcript string) error {
	const q = `
		UPDATE jobs
		SET    status = 'COMPLETED', transcript = ?, processing_ended = ?, updated_at = ?
		WHERE  id = ? AND status = 'PROCESSING'`

	ts := formatTime(now())
	return s.finalize(ctx, q, id, transcript, ts, ts, id)
}

// FinalizeFailure marks a PROCESSING job FAILED with the given message.
// It fails if the job is not currently PROCESSING.
func (s *Store) FinalizeFailure(ctx context.Context, id, errMsg string) error {
	const q = `
		UPDATE jobs
		SET    status = 'FAILED', error_message = ?, processing_ended = ?, updated_at = ?
		WHERE  id = ? AND status = 'PROCESSING'`

	ts := formatTime(now())
	return s.finalize(ctx, q, id, errMsg, ts, ts, id)
}

func (s *Store) finalize(ctx context.Context, q, id string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("store: finalize job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: finalize job %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("store: finalize job %s: job is not PROCESSING", id)
	}
	return nil
}

// rowScanner covers both [sql.Row] and [sql.Rows].
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob reads one jobs row in [jobColumns] order.
func scanJob(row rowScanner) (*types.Job, error) {
	var (
		job        types.Job
		status     string
		transcript sql.NullString
		errMsg     sql.NullString
		started    sql.NullString
		ended      sql.NullString
		createdAt  string
		updatedAt  string
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&status,
		&job.AudioPath,
		&job.OriginalFilename,
		&transcript,
		&errMsg,
		&job.WebhookURL,
		&started,
		&ended,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	job.Status = types.JobStatus(status)
	job.Transcript = transcript.String
	job.ErrorMessage = errMsg.String

	var err error
	if job.ProcessingStarted, err = parseTime(started.String); err != nil {
		return nil, err
	}
	if job.ProcessingEnded, err = parseTime(ended.String); err != nil {
		return nil, err
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &job, nil
}
