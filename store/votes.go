// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/danielhkuo/pollsync/models"
)

const voteColumns = `id, poll_id, choice, user_id, anonymous_id, created_at, synced`

// SaveOfflineVote inserts the vote or replaces the one with the same id.
// A second un-synced vote for the same poll and identity is refused with
// ErrDuplicateQueuedVote. When the database write fails the vote is held in
// memory and the returned error wraps ErrStorageUnavailable.
func (s *Store) SaveOfflineVote(ctx context.Context, v models.OfflineVote) error {
	if v.ID == "" || v.PollID == "" || !v.Choice.Valid() || !v.Identity().Valid() {
		return fmt.Errorf("%w: vote needs id, poll, choice and exactly one identity", ErrInvalidRecord)
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.shadow.len() > 0 {
		if err := s.recoverShadowLocked(ctx); err != nil {
			return s.holdVote(v, err)
		}
	}

	err := s.upsertVote(ctx, v)
	if isUniqueViolation(err) {
		return ErrDuplicateQueuedVote
	}
	if err != nil {
		return s.holdVote(v, unavailable("save vote", err))
	}
	return nil
}

func (s *Store) holdVote(v models.OfflineVote, cause error) error {
	if err := s.shadow.putVote(v); err != nil {
		if errors.Is(err, ErrDuplicateQueuedVote) {
			return err
		}
		return errors.Join(cause, err)
	}
	s.logger.Warn("holding vote in memory", "error", cause, "vote_id", v.ID, "poll_id", v.PollID)
	return cause
}

func (s *Store) upsertVote(ctx context.Context, v models.OfflineVote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO offline_vote (id, poll_id, choice, user_id, anonymous_id, identity, created_at, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			poll_id = excluded.poll_id,
			choice = excluded.choice,
			user_id = excluded.user_id,
			anonymous_id = excluded.anonymous_id,
			identity = excluded.identity,
			created_at = excluded.created_at,
			synced = excluded.synced
	`, v.ID, v.PollID, string(v.Choice), v.UserID, v.AnonymousID, v.Identity().Key(),
		millis(v.CreatedAt), boolInt(v.Synced))
	return err
}

// GetOfflineVotes returns votes in insertion order. An empty pollID means
// every poll. On storage failure the held votes are returned with the error.
func (s *Store) GetOfflineVotes(ctx context.Context, pollID string) ([]models.OfflineVote, error) {
	query := `SELECT ` + voteColumns + ` FROM offline_vote`
	var args []any
	if pollID != "" {
		query += ` WHERE poll_id = ?`
		args = append(args, pollID)
	}
	query += ` ORDER BY seq`

	votes, err := s.queryVotes(ctx, query, args...)
	return s.withHeldVotes(votes, err, func(v models.OfflineVote) bool {
		return pollID == "" || v.PollID == pollID
	})
}

// PendingVotes returns every un-synced vote in insertion order.
func (s *Store) PendingVotes(ctx context.Context) ([]models.OfflineVote, error) {
	votes, err := s.queryVotes(ctx, `SELECT `+voteColumns+` FROM offline_vote WHERE synced = 0 ORDER BY seq`)
	return s.withHeldVotes(votes, err, func(v models.OfflineVote) bool { return !v.Synced })
}

// FindVote returns the most recent local vote by identityKey on pollID.
func (s *Store) FindVote(ctx context.Context, pollID, identityKey string) (models.OfflineVote, bool, error) {
	for _, v := range s.shadow.snapshotVotes() {
		if v.PollID == pollID && v.Identity().Key() == identityKey {
			return v, true, nil
		}
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+voteColumns+` FROM offline_vote
		WHERE poll_id = ? AND identity = ?
		ORDER BY seq DESC LIMIT 1
	`, pollID, identityKey)
	v, err := scanVote(row)
	if err == sql.ErrNoRows {
		return models.OfflineVote{}, false, nil
	}
	if err != nil {
		return models.OfflineVote{}, false, unavailable("find vote", err)
	}
	return v, true, nil
}

// MarkVoteSynced flags the vote as acknowledged by the remote store.
func (s *Store) MarkVoteSynced(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE offline_vote SET synced = 1 WHERE id = ?`, id)
	if err != nil {
		if s.shadow.markVoteSynced(id) {
			return nil
		}
		return unavailable("mark vote synced", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.shadow.markVoteSynced(id)
	}
	return nil
}

func (s *Store) queryVotes(ctx context.Context, query string, args ...any) ([]models.OfflineVote, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query votes", err)
	}
	defer rows.Close()

	votes := []models.OfflineVote{}
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, unavailable("scan vote", err)
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query votes", err)
	}
	return votes, nil
}

func (s *Store) withHeldVotes(votes []models.OfflineVote, err error, keep func(models.OfflineVote) bool) ([]models.OfflineVote, error) {
	seen := make(map[string]bool, len(votes))
	for _, v := range votes {
		seen[v.ID] = true
	}
	for _, v := range s.shadow.snapshotVotes() {
		if !seen[v.ID] && keep(v) {
			votes = append(votes, v)
		}
	}
	if votes == nil {
		votes = []models.OfflineVote{}
	}
	return votes, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVote(sc scanner) (models.OfflineVote, error) {
	var v models.OfflineVote
	var choice string
	var createdAt int64
	err := sc.Scan(&v.ID, &v.PollID, &choice, &v.UserID, &v.AnonymousID, &createdAt, &v.Synced)
	if err != nil {
		return models.OfflineVote{}, err
	}
	v.Choice = models.Choice(choice)
	v.CreatedAt = fromMillis(createdAt)
	return v, nil
}
