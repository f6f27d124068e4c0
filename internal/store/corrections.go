package store

import (
	"context"
	"fmt"

	"github.com/MrWong99/rescribe/pkg/types"
)

// SaveCorrection records the outcome of one second-pass window. CreatedAt
// and ID are assigned by the store and written back into c.
func (s *Store) SaveCorrection(ctx context.Context, c *types.Correction) error {
	c.CreatedAt = now()

	const q = `
		INSERT INTO corrections
		    (segment_id, original_text, corrected_text, trigger_confidence,
		     clip_path, clip_start, clip_end, edit_distance, applied, reject_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, q,
		c.SegmentID,
		c.OriginalText,
		c.CorrectedText,
		c.TriggerConfidence,
		c.ClipPath,
		c.ClipStart,
		c.ClipEnd,
		c.EditDistance,
		boolToInt(c.Applied),
		c.RejectReason,
		formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("store: save correction: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("store: save correction: %w", err)
	}
	return nil
}

// CorrectionsByJob returns every correction recorded for jobID ordered by
// window position. The join walks corrections through their anchor segment.
func (s *Store) CorrectionsByJob(ctx context.Context, jobID string) ([]types.Correction, error) {
	const q = `
		SELECT c.id, c.segment_id, c.original_text, c.corrected_text, c.trigger_confidence,
		       c.clip_path, c.clip_start, c.clip_end, c.edit_distance, c.applied, c.reject_reason,
		       c.created_at
		FROM   corrections c
		JOIN   segments s ON s.id = c.segment_id
		WHERE  s.job_id = ?
		ORDER  BY c.clip_start, c.id`

	rows, err := s.db.QueryContext(ctx, q, jobID)
	if err != nil {
		return nil, fmt.Errorf("store: corrections for job %s: %w", jobID, err)
	}
	defer func() { _ = rows.Close() }()

	corrections := []types.Correction{}
	for rows.Next() {
		var (
			c         types.Correction
			applied   int
			createdAt string
		)
		if err := rows.Scan(
			&c.ID, &c.SegmentID, &c.OriginalText, &c.CorrectedText, &c.TriggerConfidence,
			&c.ClipPath, &c.ClipStart, &c.ClipEnd, &c.EditDistance, &applied, &c.RejectReason,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("store: corrections for job %s: %w", jobID, err)
		}
		c.Applied = applied != 0
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		corrections = append(corrections, c)
	}
	return corrections, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
