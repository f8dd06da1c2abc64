// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package acceptance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielhkuo/pollsync/metrics"
	"github.com/danielhkuo/pollsync/models"
)

// Backend sentinels. Implementations return these so Submit can tell a
// domain rejection from a failure to reach the store.
var (
	ErrPollNotFound = errors.New("poll not found")
	ErrPollClosed   = errors.New("poll closed")
	ErrAlreadyVoted = errors.New("already voted")
)

var (
	ErrInvalidChoice   = errors.New("invalid choice")
	ErrInvalidIdentity = errors.New("identity must have exactly one of user id or anonymous id")
)

// Reason explains why a vote was not accepted.
type Reason string

const (
	PollNotFound Reason = models.CodePollNotFound
	PollClosed   Reason = models.CodePollClosed
	AlreadyVoted Reason = models.CodeAlreadyVoted
)

// Outcome is the domain result of a submission. Rejections are values,
// not errors.
type Outcome struct {
	Accepted bool
	VoteID   string
	Reason   Reason
}

func (o Outcome) String() string {
	if o.Accepted {
		return "accepted"
	}
	return string(o.Reason)
}

// TransportError means the backend could not be reached or failed; the vote
// may or may not have been recorded.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func transport(op string, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// Backend is the authoritative poll and vote store.
//
// InsertVote must be atomic with respect to (pollID, identity): a second
// insert for the same pair returns ErrAlreadyVoted no matter how the two
// calls interleave.
type Backend interface {
	GetPoll(ctx context.Context, pollID string) (*models.Poll, error)
	GetVote(ctx context.Context, pollID string, identity models.Identity) (models.Choice, bool, error)
	InsertVote(ctx context.Context, pollID string, choice models.Choice, identity models.Identity) (string, error)
}

// Service enforces one vote per identity per poll while the poll is active.
type Service struct {
	backend Backend
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(backend Backend, opts ...Option) *Service {
	s := &Service{
		backend: backend,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit records choice for identity on pollID. The returned error is
// non-nil only for invalid arguments or a *TransportError.
func (s *Service) Submit(ctx context.Context, pollID string, choice models.Choice, identity models.Identity) (Outcome, error) {
	if !choice.Valid() {
		return Outcome{}, fmt.Errorf("%w: %q", ErrInvalidChoice, choice)
	}
	if !identity.Valid() {
		return Outcome{}, ErrInvalidIdentity
	}

	out, err := s.submit(ctx, pollID, choice, identity)
	if err != nil {
		s.metrics.ObserveVote("transport_error")
		return Outcome{}, err
	}
	s.metrics.ObserveVote(out.String())
	if !out.Accepted {
		s.logger.Debug("vote rejected", "poll_id", pollID, "reason", out.Reason)
	}
	return out, nil
}

func (s *Service) submit(ctx context.Context, pollID string, choice models.Choice, identity models.Identity) (Outcome, error) {
	poll, err := s.backend.GetPoll(ctx, pollID)
	if errors.Is(err, ErrPollNotFound) {
		return Outcome{Reason: PollNotFound}, nil
	}
	if err != nil {
		return Outcome{}, transport("get poll", err)
	}
	if models.StatusOf(*poll, s.now()) != models.StatusActive {
		return Outcome{Reason: PollClosed}, nil
	}

	// Fast path only; the backend's uniqueness constraint decides races.
	if _, found, err := s.backend.GetVote(ctx, pollID, identity); err != nil {
		return Outcome{}, transport("get vote", err)
	} else if found {
		return Outcome{Reason: AlreadyVoted}, nil
	}

	voteID, err := s.backend.InsertVote(ctx, pollID, choice, identity)
	switch {
	case errors.Is(err, ErrAlreadyVoted):
		return Outcome{Reason: AlreadyVoted}, nil
	case errors.Is(err, ErrPollClosed):
		return Outcome{Reason: PollClosed}, nil
	case errors.Is(err, ErrPollNotFound):
		return Outcome{Reason: PollNotFound}, nil
	case err != nil:
		return Outcome{}, transport("insert vote", err)
	}
	return Outcome{Accepted: true, VoteID: voteID}, nil
}
