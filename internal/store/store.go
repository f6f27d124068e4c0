package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)
)

// timeFormat is a fixed-width RFC 3339 variant with nanosecond precision.
// All timestamps are stored in UTC with this format, so lexicographic
// ORDER BY on timestamp columns is chronological.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the SQLite-backed persistence layer for Rescribe. It holds a
// single [sql.DB] pool; all methods are safe for concurrent use.
type Store struct {
	db *sql.DB
}

type options struct {
	busyTimeout  time.Duration
	maxOpenConns int
}

// Option customises a [Store] created by [New].
type Option func(*options)

// WithBusyTimeout sets how long a connection waits on a locked database
// before failing. The default is 5 seconds.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// WithMaxOpenConns caps the connection pool size. The default is 25; WAL
// mode allows many readers alongside the single writer.
func WithMaxOpenConns(n int) Option {
	return func(o *options) { o.maxOpenConns = n }
}

// New opens (creating if necessary) the SQLite database at path, applies the
// operational pragmas, verifies connectivity, and runs [Migrate].
//
// The pragmas ride in the DSN so they apply to every connection in the pool:
// WAL journaling, NORMAL synchronous, foreign keys on, and a busy timeout.
func New(ctx context.Context, path string, opts ...Option) (*Store, error) {
	o := options{
		busyTimeout:  5 * time.Second,
		maxOpenConns: 25,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		path, o.busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}

	db.SetMaxOpenConns(o.maxOpenConns)
	db.SetMaxIdleConns(o.maxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: %w", err)
	}

	return &Store{db: db}, nil
}

// Ping verifies the database connection is alive. Used by the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// now returns the current time in UTC. The storage format keeps full
// nanosecond precision, so a value written and read back compares equal.
func now() time.Time {
	return time.Now().UTC()
}

// formatTime renders t for storage. The zero time stores as the empty string.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

// parseTime reads a stored timestamp. Empty input yields the zero time.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: parse timestamp %q: %w", s, err)
	}
	return t, nil
}
