package models

import "time"

// Poll status constants
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// Choice is one of the two sides of a poll.
type Choice string

const (
	ChoiceOptionA Choice = "option_a"
	ChoiceOptionB Choice = "option_b"
)

func (c Choice) Valid() bool {
	return c == ChoiceOptionA || c == ChoiceOptionB
}

// Rejection codes carried in ErrorResponse.Code so clients can tell a domain
// rejection apart from a transport failure.
const (
	CodePollNotFound = "poll_not_found"
	CodePollClosed   = "poll_closed"
	CodeAlreadyVoted = "already_voted"
)

// DefaultDurationHours is used when a poll or draft does not set a lifetime.
const DefaultDurationHours = 24

// Identity names the voter. Exactly one of the two fields is set.
type Identity struct {
	UserID      string `json:"user_id,omitempty"`
	AnonymousID string `json:"anonymous_id,omitempty"`
}

// Key is the value the one-vote-per-poll constraint is keyed on.
func (i Identity) Key() string {
	if i.UserID != "" {
		return i.UserID
	}
	return i.AnonymousID
}

func (i Identity) Valid() bool {
	return (i.UserID == "") != (i.AnonymousID == "")
}

func (i Identity) IsAnonymous() bool {
	return i.UserID == "" && i.AnonymousID != ""
}

// Request types

type CreatePollRequest struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	OptionA       string `json:"option_a"`
	OptionB       string `json:"option_b"`
	IsPublic      bool   `json:"is_public"`
	DurationHours int    `json:"duration_hours"`
}

type CastVoteRequest struct {
	Choice Choice `json:"choice"`
}

// PublishDraftRequest is replay-safe: the server keys it on ClientDraftID.
type PublishDraftRequest struct {
	ClientDraftID string `json:"client_draft_id"`
	CreatePollRequest
}

// Response types

type CreatePollResponse struct {
	PollID   string `json:"poll_id"`
	AdminKey string `json:"admin_key"`
}

type CastVoteResponse struct {
	VoteID string `json:"vote_id"`
	Choice Choice `json:"choice"`
}

type MyVoteResponse struct {
	Choice Choice `json:"choice"`
}

type PublishDraftResponse struct {
	PollID   string `json:"poll_id"`
	AdminKey string `json:"admin_key,omitempty"`
	Created  bool   `json:"created"`
}

type ClosePollResponse struct {
	ClosedAt time.Time `json:"closed_at"`
}

type ListPollsResponse struct {
	Polls []Poll `json:"polls"`
}

// Domain types

// Poll is the authoritative shape served by the remote service.
type Poll struct {
	ID           string    `json:"id" yaml:"id"`
	Title        string    `json:"title" yaml:"title"`
	Description  string    `json:"description" yaml:"description"`
	OptionA      string    `json:"option_a" yaml:"option_a"`
	OptionB      string    `json:"option_b" yaml:"option_b"`
	Status       string    `json:"status" yaml:"status"`
	IsPublic     bool      `json:"is_public" yaml:"is_public"`
	ExpiresAt    time.Time `json:"expires_at" yaml:"expires_at"`
	OptionAVotes int       `json:"option_a_votes" yaml:"option_a_votes"`
	OptionBVotes int       `json:"option_b_votes" yaml:"option_b_votes"`
	VotesCount   int       `json:"votes_count" yaml:"votes_count"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
}

// StatusOf is the effective status at now: a poll past its expiry is closed
// even if nobody closed it explicitly.
func StatusOf(p Poll, now time.Time) string {
	if p.Status == StatusClosed || !now.Before(p.ExpiresAt) {
		return StatusClosed
	}
	return StatusActive
}

// Vote is a row of the remote vote table.
type Vote struct {
	ID        string    `json:"id"`
	PollID    string    `json:"poll_id"`
	Choice    Choice    `json:"choice"`
	Identity  string    `json:"-"` // Never expose in JSON
	IPHash    *string   `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// OfflineVote is a vote recorded on the device. Synced is false until the
// remote store has acknowledged it.
type OfflineVote struct {
	ID          string    `json:"id"`
	PollID      string    `json:"poll_id"`
	Choice      Choice    `json:"choice"`
	UserID      string    `json:"user_id,omitempty"`
	AnonymousID string    `json:"anonymous_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Synced      bool      `json:"synced"`
}

func (v OfflineVote) Identity() Identity {
	return Identity{UserID: v.UserID, AnonymousID: v.AnonymousID}
}

// OfflineDraft is a poll composed on the device. ID stays stable until the
// draft is published, and is sent as the publish idempotency key.
type OfflineDraft struct {
	ID            string    `json:"id" yaml:"id"`
	Title         string    `json:"title" yaml:"title"`
	OptionA       string    `json:"option_a" yaml:"option_a"`
	OptionB       string    `json:"option_b" yaml:"option_b"`
	Description   string    `json:"description" yaml:"description"`
	IsPublic      bool      `json:"is_public" yaml:"is_public"`
	DurationHours int       `json:"duration_hours" yaml:"duration_hours"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"updated_at"`
	Synced        bool      `json:"synced" yaml:"synced"`
	ServerPollID  string    `json:"server_poll_id,omitempty" yaml:"server_poll_id,omitempty"`
}

// PublishRequest builds the replay-safe publish payload for the draft.
func (d OfflineDraft) PublishRequest() PublishDraftRequest {
	hours := d.DurationHours
	if hours <= 0 {
		hours = DefaultDurationHours
	}
	return PublishDraftRequest{
		ClientDraftID: d.ID,
		CreatePollRequest: CreatePollRequest{
			Title:         d.Title,
			Description:   d.Description,
			OptionA:       d.OptionA,
			OptionB:       d.OptionB,
			IsPublic:      d.IsPublic,
			DurationHours: hours,
		},
	}
}

// OfflinePoll is a cached poll snapshot. Counts may include optimistic
// increments for local votes the server has not confirmed yet.
type OfflinePoll struct {
	Poll     `yaml:",inline"`
	CachedAt time.Time `json:"cached_at" yaml:"cached_at"`
}

// SyncStatus is recomputed on demand and never persisted.
type SyncStatus struct {
	IsOnline       bool      `json:"is_online" yaml:"is_online"`
	LastSync       time.Time `json:"last_sync,omitempty" yaml:"last_sync,omitempty"`
	PendingVotes   int       `json:"pending_votes" yaml:"pending_votes"`
	PendingDrafts  int       `json:"pending_drafts" yaml:"pending_drafts"`
	SyncInProgress bool      `json:"sync_in_progress" yaml:"sync_in_progress"`
}

type StorageUsage struct {
	Used       uint64  `json:"used" yaml:"used"`
	Quota      uint64  `json:"quota" yaml:"quota"`
	Percentage float64 `json:"percentage" yaml:"percentage"`
}

// NeedsCleanup reports whether usage is at or above threshold percent.
func (u StorageUsage) NeedsCleanup(threshold float64) bool {
	return u.Percentage >= threshold
}

// Error response

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}
