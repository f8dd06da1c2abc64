// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	_ "modernc.org/sqlite"
)

var (
	// ErrStorageUnavailable wraps every failure of the underlying database.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrDuplicateQueuedVote is returned when a different vote for the same
	// poll and identity is still waiting to be synced.
	ErrDuplicateQueuedVote = errors.New("a vote for this poll is already queued")
	// ErrShadowQueueFull means the database is down and the in-memory
	// fallback queue has no room left.
	ErrShadowQueueFull = fmt.Errorf("%w: shadow queue full", ErrStorageUnavailable)
	ErrInvalidRecord   = errors.New("invalid record")
)

const (
	// DefaultSoftCap is the quota used when no QuotaProvider is configured.
	DefaultSoftCap uint64 = 50 * 1024 * 1024
	// DefaultCleanupAge is the retention used by callers that have no
	// opinion of their own.
	DefaultCleanupAge    = 7 * 24 * time.Hour
	defaultShadowCap     = 32
	defaultBusyTimeoutMs = 5000
)

// QuotaProvider reports the platform's view of storage usage and quota.
type QuotaProvider interface {
	Estimate(ctx context.Context) (used, quota uint64, err error)
}

// Store is the device-side database for cached polls, queued votes, drafts,
// and small key/value settings.
type Store struct {
	db      *sql.DB
	path    string
	now     func() time.Time
	logger  *slog.Logger
	softCap uint64
	quota   QuotaProvider

	// writeMu serializes writes so read-modify-write sequences on the same
	// record cannot interleave.
	writeMu sync.Mutex
	shadow  *shadowQueue
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithSoftCap sets the quota reported when no QuotaProvider is configured.
func WithSoftCap(bytes uint64) Option {
	return func(s *Store) { s.softCap = bytes }
}

func WithQuotaProvider(p QuotaProvider) Option {
	return func(s *Store) { s.quota = p }
}

// WithShadowCapacity bounds the in-memory queue used while the database is
// failing.
func WithShadowCapacity(n int) Option {
	return func(s *Store) { s.shadow.capacity = n }
}

// Open opens (creating if needed) the SQLite database at path and applies
// the schema.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:    path,
		now:     time.Now,
		logger:  slog.Default(),
		softCap: DefaultSoftCap,
		shadow:  &shadowQueue{capacity: defaultShadowCap},
	}
	for _, opt := range opts {
		opt(s)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=auto_vacuum(incremental)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		path, defaultBusyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open offline store: %w", err)
	}
	// One connection keeps SQLite from returning SQLITE_BUSY between our
	// own goroutines.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping offline store: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create offline schema: %w", err)
	}
	s.db = db

	s.logger.Debug("offline store opened", "path", path, "soft_cap", humanize.IBytes(s.softCap))
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file the store was opened with.
func (s *Store) Path() string {
	return s.path
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

// isUniqueViolation matches the SQLite driver's constraint error text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cached_poll (
    id TEXT PRIMARY KEY,
    data TEXT NOT NULL,
    cached_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cached_poll_cached_at ON cached_poll(cached_at);

CREATE TABLE IF NOT EXISTS offline_vote (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    poll_id TEXT NOT NULL,
    choice TEXT NOT NULL,
    user_id TEXT NOT NULL DEFAULT '',
    anonymous_id TEXT NOT NULL DEFAULT '',
    identity TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    synced INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_offline_vote_poll_id ON offline_vote(poll_id);
CREATE INDEX IF NOT EXISTS idx_offline_vote_synced ON offline_vote(synced);
CREATE UNIQUE INDEX IF NOT EXISTS idx_offline_vote_pending
    ON offline_vote(poll_id, identity) WHERE synced = 0;

CREATE TABLE IF NOT EXISTS offline_draft (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL,
    option_a TEXT NOT NULL,
    option_b TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    is_public INTEGER NOT NULL DEFAULT 0,
    duration_hours INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    synced INTEGER NOT NULL DEFAULT 0,
    server_poll_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_offline_draft_synced ON offline_draft(synced);
`
