// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package store

import (
	"context"
	"slices"
	"sync"

	"github.com/danielhkuo/pollsync/models"
)

// shadowQueue holds votes and drafts whose database write failed. Entries
// keep insertion order and are upserted by id.
type shadowQueue struct {
	mu       sync.Mutex
	capacity int
	votes    []models.OfflineVote
	drafts   []models.OfflineDraft
}

func (q *shadowQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.votes) + len(q.drafts)
}

func (q *shadowQueue) putVote(v models.OfflineVote) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := v.Identity().Key()
	for i, existing := range q.votes {
		if existing.ID == v.ID {
			q.votes[i] = v
			return nil
		}
		if !existing.Synced && !v.Synced && existing.PollID == v.PollID && existing.Identity().Key() == key {
			return ErrDuplicateQueuedVote
		}
	}
	if len(q.votes)+len(q.drafts) >= q.capacity {
		return ErrShadowQueueFull
	}
	q.votes = append(q.votes, v)
	return nil
}

func (q *shadowQueue) putDraft(d models.OfflineDraft) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, existing := range q.drafts {
		if existing.ID == d.ID {
			q.drafts[i] = d
			return nil
		}
	}
	if len(q.votes)+len(q.drafts) >= q.capacity {
		return ErrShadowQueueFull
	}
	q.drafts = append(q.drafts, d)
	return nil
}

func (q *shadowQueue) snapshotVotes() []models.OfflineVote {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.votes)
}

func (q *shadowQueue) snapshotDrafts() []models.OfflineDraft {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.drafts)
}

func (q *shadowQueue) markVoteSynced(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.votes {
		if q.votes[i].ID == id {
			q.votes[i].Synced = true
			return true
		}
	}
	return false
}

func (q *shadowQueue) markDraftSynced(id, serverPollID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.drafts {
		if q.drafts[i].ID == id {
			q.drafts[i].Synced = true
			q.drafts[i].ServerPollID = serverPollID
			return true
		}
	}
	return false
}

func (q *shadowQueue) removeVote(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.votes = slices.DeleteFunc(q.votes, func(v models.OfflineVote) bool { return v.ID == id })
}

func (q *shadowQueue) removeDraft(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.drafts)
	q.drafts = slices.DeleteFunc(q.drafts, func(d models.OfflineDraft) bool { return d.ID == id })
	return len(q.drafts) != n
}

func (q *shadowQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.votes = nil
	q.drafts = nil
}

// ShadowLen reports how many records are waiting in memory for the database
// to come back.
func (s *Store) ShadowLen() int {
	return s.shadow.len()
}

// RecoverShadow writes held records back to the database. It stops at the
// first storage failure and keeps whatever was not written.
func (s *Store) RecoverShadow(ctx context.Context) error {
	if s.shadow.len() == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.recoverShadowLocked(ctx)
}

// recoverShadowLocked must be called with writeMu held.
func (s *Store) recoverShadowLocked(ctx context.Context) error {
	var recovered int
	for _, v := range s.shadow.snapshotVotes() {
		err := s.upsertVote(ctx, v)
		if isUniqueViolation(err) {
			s.logger.Warn("dropping held vote that conflicts with a queued vote",
				"vote_id", v.ID, "poll_id", v.PollID)
			s.shadow.removeVote(v.ID)
			continue
		}
		if err != nil {
			return unavailable("recover held votes", err)
		}
		s.shadow.removeVote(v.ID)
		recovered++
	}
	for _, d := range s.shadow.snapshotDrafts() {
		if err := s.upsertDraft(ctx, d); err != nil {
			return unavailable("recover held drafts", err)
		}
		s.shadow.removeDraft(d.ID)
		recovered++
	}
	if recovered > 0 {
		s.logger.Info("recovered held records", "count", recovered)
	}
	return nil
}
