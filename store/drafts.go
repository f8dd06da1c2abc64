// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/danielhkuo/pollsync/models"
)

const draftColumns = `id, title, option_a, option_b, description, is_public, duration_hours,
	created_at, updated_at, synced, server_poll_id`

// SaveDraft creates or updates a draft and always refreshes UpdatedAt.
// A draft without an id gets a new one; the saved draft is returned either
// way, including when it could only be held in memory.
func (s *Store) SaveDraft(ctx context.Context, d models.OfflineDraft) (models.OfflineDraft, error) {
	if d.Title == "" || d.OptionA == "" || d.OptionB == "" {
		return d, fmt.Errorf("%w: draft needs a title and both options", ErrInvalidRecord)
	}
	now := s.now()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.shadow.len() > 0 {
		if err := s.recoverShadowLocked(ctx); err != nil {
			return d, s.holdDraft(d, err)
		}
	}
	if err := s.upsertDraft(ctx, d); err != nil {
		return d, s.holdDraft(d, unavailable("save draft", err))
	}
	return d, nil
}

func (s *Store) holdDraft(d models.OfflineDraft, cause error) error {
	if err := s.shadow.putDraft(d); err != nil {
		return errors.Join(cause, err)
	}
	s.logger.Warn("holding draft in memory", "error", cause, "draft_id", d.ID)
	return cause
}

func (s *Store) upsertDraft(ctx context.Context, d models.OfflineDraft) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO offline_draft (`+draftColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			option_a = excluded.option_a,
			option_b = excluded.option_b,
			description = excluded.description,
			is_public = excluded.is_public,
			duration_hours = excluded.duration_hours,
			updated_at = excluded.updated_at,
			synced = excluded.synced,
			server_poll_id = excluded.server_poll_id
	`, d.ID, d.Title, d.OptionA, d.OptionB, d.Description, boolInt(d.IsPublic), d.DurationHours,
		millis(d.CreatedAt), millis(d.UpdatedAt), boolInt(d.Synced), d.ServerPollID)
	return err
}

// GetDrafts returns every draft, synced or not, in insertion order.
func (s *Store) GetDrafts(ctx context.Context) ([]models.OfflineDraft, error) {
	drafts, err := s.queryDrafts(ctx, `SELECT `+draftColumns+` FROM offline_draft ORDER BY seq`)
	return s.withHeldDrafts(drafts, err, func(models.OfflineDraft) bool { return true })
}

// PendingDrafts returns un-published drafts in insertion order.
func (s *Store) PendingDrafts(ctx context.Context) ([]models.OfflineDraft, error) {
	drafts, err := s.queryDrafts(ctx, `SELECT `+draftColumns+` FROM offline_draft WHERE synced = 0 ORDER BY seq`)
	return s.withHeldDrafts(drafts, err, func(d models.OfflineDraft) bool { return !d.Synced })
}

func (s *Store) GetDraft(ctx context.Context, id string) (models.OfflineDraft, bool, error) {
	for _, d := range s.shadow.snapshotDrafts() {
		if d.ID == id {
			return d, true, nil
		}
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM offline_draft WHERE id = ?`, id)
	d, err := scanDraft(row)
	if err == sql.ErrNoRows {
		return models.OfflineDraft{}, false, nil
	}
	if err != nil {
		return models.OfflineDraft{}, false, unavailable("get draft", err)
	}
	return d, true, nil
}

func (s *Store) DeleteDraft(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	held := s.shadow.removeDraft(id)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM offline_draft WHERE id = ?`, id); err != nil {
		if held {
			return nil
		}
		return unavailable("delete draft", err)
	}
	return nil
}

// MarkDraftSynced records the server id the draft was published as.
func (s *Store) MarkDraftSynced(ctx context.Context, id, serverPollID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE offline_draft SET synced = 1, server_poll_id = ? WHERE id = ?
	`, serverPollID, id)
	if err != nil {
		if s.shadow.markDraftSynced(id, serverPollID) {
			return nil
		}
		return unavailable("mark draft synced", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.shadow.markDraftSynced(id, serverPollID)
	}
	return nil
}

func (s *Store) queryDrafts(ctx context.Context, query string, args ...any) ([]models.OfflineDraft, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query drafts", err)
	}
	defer rows.Close()

	drafts := []models.OfflineDraft{}
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, unavailable("scan draft", err)
		}
		drafts = append(drafts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query drafts", err)
	}
	return drafts, nil
}

func (s *Store) withHeldDrafts(drafts []models.OfflineDraft, err error, keep func(models.OfflineDraft) bool) ([]models.OfflineDraft, error) {
	seen := make(map[string]bool, len(drafts))
	for _, d := range drafts {
		seen[d.ID] = true
	}
	for _, d := range s.shadow.snapshotDrafts() {
		if !seen[d.ID] && keep(d) {
			drafts = append(drafts, d)
		}
	}
	if drafts == nil {
		drafts = []models.OfflineDraft{}
	}
	return drafts, err
}

func scanDraft(sc scanner) (models.OfflineDraft, error) {
	var d models.OfflineDraft
	var createdAt, updatedAt int64
	err := sc.Scan(&d.ID, &d.Title, &d.OptionA, &d.OptionB, &d.Description, &d.IsPublic,
		&d.DurationHours, &createdAt, &updatedAt, &d.Synced, &d.ServerPollID)
	if err != nil {
		return models.OfflineDraft{}, err
	}
	d.CreatedAt = fromMillis(createdAt)
	d.UpdatedAt = fromMillis(updatedAt)
	return d, nil
}
