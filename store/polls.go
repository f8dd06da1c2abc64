// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/danielhkuo/pollsync/models"
)

// CachePoll stores a snapshot of the poll and refreshes its cached_at.
func (s *Store) CachePoll(ctx context.Context, p models.Poll) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal poll: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cached_poll (id, data, cached_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET data = excluded.data, cached_at = excluded.cached_at
	`, p.ID, string(data), millis(s.now()))
	if err != nil {
		return unavailable("cache poll", err)
	}
	return nil
}

func (s *Store) GetCachedPoll(ctx context.Context, id string) (models.OfflinePoll, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT data, cached_at FROM cached_poll WHERE id = ?`, id)
	p, err := scanCachedPoll(row)
	if err == sql.ErrNoRows {
		return models.OfflinePoll{}, false, nil
	}
	if err != nil {
		return models.OfflinePoll{}, false, unavailable("get cached poll", err)
	}
	return p, true, nil
}

// GetCachedPolls returns cached polls, most recently cached first.
func (s *Store) GetCachedPolls(ctx context.Context) ([]models.OfflinePoll, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data, cached_at FROM cached_poll ORDER BY cached_at DESC, id`)
	if err != nil {
		return nil, unavailable("query cached polls", err)
	}
	defer rows.Close()

	polls := []models.OfflinePoll{}
	for rows.Next() {
		p, err := scanCachedPoll(rows)
		if err != nil {
			return nil, unavailable("scan cached poll", err)
		}
		polls = append(polls, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query cached polls", err)
	}
	return polls, nil
}

// ApplyOptimisticVote bumps the cached counts for choice. It is a no-op
// when the poll is not cached.
func (s *Store) ApplyOptimisticVote(ctx context.Context, pollID string, choice models.Choice) error {
	if !choice.Valid() {
		return fmt.Errorf("%w: unknown choice %q", ErrInvalidRecord, choice)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin optimistic update", err)
	}
	defer tx.Rollback()

	var data string
	err = tx.QueryRowContext(ctx, `SELECT data FROM cached_poll WHERE id = ?`, pollID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return unavailable("read cached poll", err)
	}

	var p models.Poll
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return fmt.Errorf("unmarshal cached poll: %w", err)
	}
	switch choice {
	case models.ChoiceOptionA:
		p.OptionAVotes++
	case models.ChoiceOptionB:
		p.OptionBVotes++
	}
	p.VotesCount++

	updated, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal poll: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE cached_poll SET data = ? WHERE id = ?`, string(updated), pollID); err != nil {
		return unavailable("update cached poll", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit optimistic update", err)
	}
	return nil
}

func scanCachedPoll(sc scanner) (models.OfflinePoll, error) {
	var data string
	var cachedAt int64
	if err := sc.Scan(&data, &cachedAt); err != nil {
		return models.OfflinePoll{}, err
	}
	var p models.OfflinePoll
	if err := json.Unmarshal([]byte(data), &p.Poll); err != nil {
		return models.OfflinePoll{}, fmt.Errorf("unmarshal cached poll: %w", err)
	}
	p.CachedAt = fromMillis(cachedAt)
	return p, nil
}
