// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"database/sql"
	"fmt"
)

// CreateSchema creates all tables needed for the application.
// Safe to call multiple times - uses IF NOT EXISTS.
// The same DDL runs on SQLite and PostgreSQL.
func CreateSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// DropSchema removes every table. Used by tests to start from scratch.
func DropSchema(db *sql.DB) error {
	_, err := db.Exec(`
		DROP TABLE IF EXISTS vote;
		DROP TABLE IF EXISTS poll;
	`)
	if err != nil {
		return fmt.Errorf("failed to drop schema: %w", err)
	}
	return nil
}

// Times are unix milliseconds so both drivers scan them the same way.
const schema = `
-- Polls
CREATE TABLE IF NOT EXISTS poll (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    option_a TEXT NOT NULL,
    option_b TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'closed')),
    is_public BOOLEAN NOT NULL DEFAULT FALSE,
    client_draft_id TEXT UNIQUE,
    expires_at BIGINT NOT NULL,
    closed_at BIGINT,
    created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_poll_status ON poll(status);
CREATE INDEX IF NOT EXISTS idx_poll_created_at ON poll(created_at);

-- Votes
CREATE TABLE IF NOT EXISTS vote (
    id TEXT PRIMARY KEY,
    poll_id TEXT NOT NULL REFERENCES poll(id) ON DELETE CASCADE,
    choice TEXT NOT NULL CHECK (choice IN ('option_a', 'option_b')),
    identity TEXT NOT NULL,
    ip_hash TEXT,
    user_agent TEXT,
    created_at BIGINT NOT NULL,
    UNIQUE (poll_id, identity)
);

CREATE INDEX IF NOT EXISTS idx_vote_poll_id ON vote(poll_id);
`
