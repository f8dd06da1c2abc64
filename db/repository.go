// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/danielhkuo/pollsync/acceptance"
	"github.com/danielhkuo/pollsync/auth"
	"github.com/danielhkuo/pollsync/cache"
	"github.com/danielhkuo/pollsync/models"
)

// Repository is the authoritative poll and vote store. It implements
// acceptance.Backend.
type Repository struct {
	db    *sql.DB
	cache cache.PollCache
	now   func() time.Time
}

func NewRepository(db *sql.DB, pc cache.PollCache) *Repository {
	if pc == nil {
		pc = cache.Noop{}
	}
	return &Repository{db: db, cache: pc, now: time.Now}
}

// SetClock replaces the time source used for created, closed and vote times.
func (r *Repository) SetClock(now func() time.Time) {
	r.now = now
}

// VoteMeta is stored alongside a vote for abuse review.
type VoteMeta struct {
	IPHash    string
	UserAgent string
}

// isUniqueViolation matches both drivers' constraint error text.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

const pollSelect = `
	SELECT p.id, p.title, p.description, p.option_a, p.option_b, p.status, p.is_public,
	       p.expires_at, p.created_at,
	       COALESCE(SUM(CASE WHEN v.choice = 'option_a' THEN 1 ELSE 0 END), 0),
	       COALESCE(SUM(CASE WHEN v.choice = 'option_b' THEN 1 ELSE 0 END), 0)
	FROM poll p
	LEFT JOIN vote v ON v.poll_id = p.id
`

type scanner interface {
	Scan(dest ...any) error
}

func scanPoll(sc scanner) (models.Poll, error) {
	var p models.Poll
	var expiresAt, createdAt int64
	err := sc.Scan(&p.ID, &p.Title, &p.Description, &p.OptionA, &p.OptionB, &p.Status, &p.IsPublic,
		&expiresAt, &createdAt, &p.OptionAVotes, &p.OptionBVotes)
	if err != nil {
		return models.Poll{}, err
	}
	p.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	p.CreatedAt = time.UnixMilli(createdAt).UTC()
	p.VotesCount = p.OptionAVotes + p.OptionBVotes
	return p, nil
}

// GetPoll returns the poll with current counts, or acceptance.ErrPollNotFound.
func (r *Repository) GetPoll(ctx context.Context, pollID string) (*models.Poll, error) {
	if p, ok := r.cache.Get(ctx, pollID); ok {
		return p, nil
	}

	row := r.db.QueryRowContext(ctx, pollSelect+` WHERE p.id = $1 GROUP BY p.id`, pollID)
	p, err := scanPoll(row)
	if err == sql.ErrNoRows {
		return nil, acceptance.ErrPollNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query poll: %w", err)
	}
	r.cache.Set(ctx, p)
	return &p, nil
}

// ListPolls returns the most recently created polls first.
func (r *Repository) ListPolls(ctx context.Context, limit int, publicOnly bool) ([]models.Poll, error) {
	query := pollSelect
	if publicOnly {
		query += ` WHERE p.is_public = TRUE`
	}
	query += ` GROUP BY p.id ORDER BY p.created_at DESC, p.id LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query polls: %w", err)
	}
	defer rows.Close()

	polls := []models.Poll{}
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan poll: %w", err)
		}
		polls = append(polls, p)
	}
	return polls, rows.Err()
}

// CreatePoll inserts a new active poll. clientDraftID may be empty.
func (r *Repository) CreatePoll(ctx context.Context, req models.CreatePollRequest, clientDraftID string) (models.Poll, error) {
	pollID, err := auth.GenerateID(16)
	if err != nil {
		return models.Poll{}, err
	}
	hours := req.DurationHours
	if hours <= 0 {
		hours = models.DefaultDurationHours
	}
	now := r.now().UTC().Truncate(time.Millisecond)
	p := models.Poll{
		ID:          pollID,
		Title:       req.Title,
		Description: req.Description,
		OptionA:     req.OptionA,
		OptionB:     req.OptionB,
		Status:      models.StatusActive,
		IsPublic:    req.IsPublic,
		ExpiresAt:   now.Add(time.Duration(hours) * time.Hour),
		CreatedAt:   now,
	}

	var draftID sql.NullString
	if clientDraftID != "" {
		draftID = sql.NullString{String: clientDraftID, Valid: true}
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO poll (id, title, description, option_a, option_b, status, is_public,
		                  client_draft_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, p.ID, p.Title, p.Description, p.OptionA, p.OptionB, p.Status, p.IsPublic,
		draftID, p.ExpiresAt.UnixMilli(), p.CreatedAt.UnixMilli())
	if err != nil {
		return models.Poll{}, fmt.Errorf("failed to insert poll: %w", err)
	}
	return p, nil
}

// PublishDraft creates the poll for a device draft exactly once. Replaying
// the same client draft id returns the poll created the first time.
func (r *Repository) PublishDraft(ctx context.Context, req models.PublishDraftRequest) (models.Poll, bool, error) {
	if p, found, err := r.pollByDraft(ctx, req.ClientDraftID); err != nil || found {
		return p, false, err
	}

	p, err := r.CreatePoll(ctx, req.CreatePollRequest, req.ClientDraftID)
	if isUniqueViolation(err) {
		// Lost a race with a concurrent publish of the same draft.
		p, _, err = r.pollByDraft(ctx, req.ClientDraftID)
		return p, false, err
	}
	if err != nil {
		return models.Poll{}, false, err
	}
	return p, true, nil
}

func (r *Repository) pollByDraft(ctx context.Context, clientDraftID string) (models.Poll, bool, error) {
	row := r.db.QueryRowContext(ctx, pollSelect+` WHERE p.client_draft_id = $1 GROUP BY p.id`, clientDraftID)
	p, err := scanPoll(row)
	if err == sql.ErrNoRows {
		return models.Poll{}, false, nil
	}
	if err != nil {
		return models.Poll{}, false, fmt.Errorf("failed to query poll by draft: %w", err)
	}
	return p, true, nil
}

// ClosePoll marks an active poll closed. It returns acceptance.ErrPollClosed
// when the poll was already closed.
func (r *Repository) ClosePoll(ctx context.Context, pollID string) (time.Time, error) {
	closedAt := r.now().UTC().Truncate(time.Millisecond)
	res, err := r.db.ExecContext(ctx, `
		UPDATE poll SET status = $1, closed_at = $2 WHERE id = $3 AND status = $4
	`, models.StatusClosed, closedAt.UnixMilli(), pollID, models.StatusActive)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to close poll: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		r.cache.Invalidate(ctx, pollID)
		return closedAt, nil
	}

	var status string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM poll WHERE id = $1`, pollID).Scan(&status)
	if err == sql.ErrNoRows {
		return time.Time{}, acceptance.ErrPollNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query poll: %w", err)
	}
	return time.Time{}, acceptance.ErrPollClosed
}

// GetVote returns the choice identity made on pollID, if any.
func (r *Repository) GetVote(ctx context.Context, pollID string, identity models.Identity) (models.Choice, bool, error) {
	var choice string
	err := r.db.QueryRowContext(ctx, `
		SELECT choice FROM vote WHERE poll_id = $1 AND identity = $2
	`, pollID, identity.Key()).Scan(&choice)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query vote: %w", err)
	}
	return models.Choice(choice), true, nil
}

// InsertVote relies on UNIQUE (poll_id, identity): of two concurrent inserts
// for the same pair exactly one succeeds and the other gets ErrAlreadyVoted.
func (r *Repository) InsertVote(ctx context.Context, pollID string, choice models.Choice, identity models.Identity) (string, error) {
	return r.insertVote(ctx, pollID, choice, identity, VoteMeta{})
}

func (r *Repository) insertVote(ctx context.Context, pollID string, choice models.Choice, identity models.Identity, meta VoteMeta) (string, error) {
	voteID, err := auth.GenerateID(16)
	if err != nil {
		return "", err
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO vote (id, poll_id, choice, identity, ip_hash, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (poll_id, identity) DO NOTHING
	`, voteID, pollID, string(choice), identity.Key(), nullable(meta.IPHash), nullable(meta.UserAgent),
		r.now().UnixMilli())
	if isUniqueViolation(err) {
		return "", acceptance.ErrAlreadyVoted
	}
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") || strings.Contains(err.Error(), "foreign key") {
			return "", acceptance.ErrPollNotFound
		}
		return "", fmt.Errorf("failed to insert vote: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", acceptance.ErrAlreadyVoted
	}
	r.cache.Invalidate(ctx, pollID)
	return voteID, nil
}

// WithMeta returns a Backend whose inserts record meta.
func (r *Repository) WithMeta(meta VoteMeta) acceptance.Backend {
	return metaBackend{Repository: r, meta: meta}
}

type metaBackend struct {
	*Repository
	meta VoteMeta
}

func (b metaBackend) InsertVote(ctx context.Context, pollID string, choice models.Choice, identity models.Identity) (string, error) {
	return b.insertVote(ctx, pollID, choice, identity, b.meta)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

