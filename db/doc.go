// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db is the authoritative poll and vote store behind the HTTP API.

# Schema Creation

CreateSchema initializes all required tables:

	if err := db.CreateSchema(conn); err != nil {
		log.Fatal(err)
	}

Safe to call multiple times - uses IF NOT EXISTS for all tables and indexes.
The same DDL runs on SQLite and PostgreSQL; times are stored as unix
milliseconds.

# Tables

  - poll: Poll metadata, lifecycle state and the optional client draft id
  - vote: One row per identity per poll

# Relationships

	poll 1──* vote

vote.poll_id uses ON DELETE CASCADE.

# Repository

Repository implements acceptance.Backend:

	repo := db.NewRepository(conn, pollCache)
	svc := acceptance.NewService(repo.WithMeta(db.VoteMeta{IPHash: h}))

Uniqueness of (poll_id, identity) is enforced by the table constraint, so
two concurrent inserts for the same voter resolve to exactly one vote and
one acceptance.ErrAlreadyVoted. Publishing a draft is keyed on
client_draft_id and returns the existing poll on replay.

GetPoll is cache-aside when a cache.PollCache is supplied; every write that
changes counts or status invalidates the entry.
*/
package db
