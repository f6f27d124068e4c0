// Package store provides the SQLite-backed persistence layer for Rescribe
// jobs, their word-level timelines, and the correction audit trail.
//
// The database is embedded (modernc.org/sqlite, pure Go) and opened in WAL
// mode so the HTTP API can read while the worker writes. [New] runs
// [Migrate] on every start; the schema is idempotent.
//
// Usage:
//
//	st, err := store.New(ctx, "rescribe.db")
//	if err != nil { … }
//	defer st.Close()
//
//	_ = st.CreateJob(ctx, &job)
//	claimed, _ := st.ClaimNextPending(ctx)
package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ─────────────────────────────────────────────────────────────────────────────
// jobs — one row per transcription request
// ─────────────────────────────────────────────────────────────────────────────

const ddlJobs = `
CREATE TABLE IF NOT EXISTS jobs (
    id                 TEXT PRIMARY KEY,
    user_id            TEXT NOT NULL,
    status             TEXT NOT NULL DEFAULT 'PENDING'
                       CHECK(status IN ('PENDING', 'PROCESSING', 'COMPLETED', 'FAILED')),
    audio_path         TEXT NOT NULL,
    original_filename  TEXT NOT NULL DEFAULT '',
    transcript         TEXT,
    error_message      TEXT,
    webhook_url        TEXT NOT NULL DEFAULT '',
    processing_started TEXT,
    processing_ended   TEXT,
    created_at         TEXT NOT NULL,
    updated_at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_created
    ON jobs (status, created_at);

CREATE INDEX IF NOT EXISTS idx_jobs_user_status
    ON jobs (user_id, status);
`

// ─────────────────────────────────────────────────────────────────────────────
// segments — the persisted first-pass word timeline
// ─────────────────────────────────────────────────────────────────────────────

const ddlSegments = `
CREATE TABLE IF NOT EXISTS segments (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id     TEXT NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
    word       TEXT NOT NULL,
    start_time REAL NOT NULL,
    end_time   REAL NOT NULL,
    confidence REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_segments_job
    ON segments (job_id);

CREATE INDEX IF NOT EXISTS idx_segments_job_confidence
    ON segments (job_id, confidence);
`

// ─────────────────────────────────────────────────────────────────────────────
// corrections — audit trail of second-pass windows
// ─────────────────────────────────────────────────────────────────────────────

const ddlCorrections = `
CREATE TABLE IF NOT EXISTS corrections (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    segment_id         INTEGER NOT NULL REFERENCES segments (id) ON DELETE CASCADE,
    original_text      TEXT NOT NULL,
    corrected_text     TEXT NOT NULL,
    trigger_confidence REAL NOT NULL,
    clip_path          TEXT NOT NULL DEFAULT '',
    clip_start         REAL NOT NULL,
    clip_end           REAL NOT NULL,
    edit_distance      INTEGER NOT NULL DEFAULT 0,
    applied            INTEGER NOT NULL DEFAULT 0,
    reject_reason      TEXT NOT NULL DEFAULT '',
    created_at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_corrections_segment
    ON corrections (segment_id);
`

// Migrate creates all required tables and indexes if they do not exist.
// It is idempotent and safe to call on every application start.
func Migrate(ctx context.Context, db *sql.DB) error {
	statements := []string{
		ddlJobs,
		ddlSegments,
		ddlCorrections,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migrate: %w", err)
		}
	}
	return nil
}
