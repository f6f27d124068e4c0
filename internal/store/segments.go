package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MrWong99/rescribe/pkg/types"
)

// SaveSegments persists the first-pass word timeline for jobID in one
// transaction. Words are stored in the order given; call it once per job,
// right after the first pass succeeds.
func (s *Store) SaveSegments(ctx context.Context, jobID string, words []types.Word) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: save segments: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
		INSERT INTO segments (job_id, word, start_time, end_time, confidence)
		VALUES (?, ?, ?, ?, ?)`

	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("store: save segments: prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, w := range words {
		if _, err := stmt.ExecContext(ctx, jobID, w.Text, w.Start, w.End, w.Probability); err != nil {
			return fmt.Errorf("store: save segments: insert %q: %w", w.Text, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: save segments: commit: %w", err)
	}
	return nil
}

// SegmentsByJob returns the stored timeline for jobID ordered by start time.
func (s *Store) SegmentsByJob(ctx context.Context, jobID string) ([]types.Segment, error) {
	const q = `
		SELECT id, job_id, word, start_time, end_time, confidence
		FROM   segments
		WHERE  job_id = ?
		ORDER  BY start_time, id`

	rows, err := s.db.QueryContext(ctx, q, jobID)
	if err != nil {
		return nil, fmt.Errorf("store: segments for job %s: %w", jobID, err)
	}
	defer func() { _ = rows.Close() }()

	segments := []types.Segment{}
	for rows.Next() {
		var seg types.Segment
		if err := rows.Scan(&seg.ID, &seg.JobID, &seg.Text, &seg.Start, &seg.End, &seg.Confidence); err != nil {
			return nil, fmt.Errorf("store: segments for job %s: %w", jobID, err)
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// FindSegmentInRange returns one segment of jobID fully contained in
// [start, end], or (nil, nil) when none is. The result anchors a correction
// record to the timeline; it is not used for alignment.
func (s *Store) FindSegmentInRange(ctx context.Context, jobID string, start, end float64) (*types.Segment, error) {
	const q = `
		SELECT id, job_id, word, start_time, end_time, confidence
		FROM   segments
		WHERE  job_id = ? AND start_time >= ? AND end_time <= ?
		ORDER  BY start_time, id
		LIMIT  1`

	var seg types.Segment
	err := s.db.QueryRowContext(ctx, q, jobID, start, end).Scan(
		&seg.ID, &seg.JobID, &seg.Text, &seg.Start, &seg.End, &seg.Confidence,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: segment in [%.2f, %.2f] for job %s: %w", start, end, jobID, err)
	}
	return &seg, nil
}
