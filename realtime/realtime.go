// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Event kinds
const (
	KindVote   = "vote"
	KindClosed = "closed"
)

const (
	subjectPrefix   = "polls."
	subjectSuffix   = ".updated"
	allPollsSubject = "polls.*.updated"
)

// Event announces that a poll's counts or status changed.
type Event struct {
	PollID string    `json:"poll_id"`
	Kind   string    `json:"kind"`
	At     time.Time `json:"at"`
}

// Subject is the NATS subject events for pollID are published on.
func Subject(pollID string) string {
	return subjectPrefix + pollID + subjectSuffix
}

func pollIDFromSubject(subject string) string {
	if !strings.HasPrefix(subject, subjectPrefix) || !strings.HasSuffix(subject, subjectSuffix) {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(subject, subjectPrefix), subjectSuffix)
}

// Connect dials NATS with reconnects enabled.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Publisher announces poll changes. Publishing is best effort.
type Publisher interface {
	PollUpdated(ctx context.Context, pollID, kind string)
}

type Noop struct{}

func (Noop) PollUpdated(context.Context, string, string) {}

type publishConn interface {
	Publish(subject string, data []byte) error
}

type NATSPublisher struct {
	conn   publishConn
	now    func() time.Time
	logger *slog.Logger
}

func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: nc, now: time.Now, logger: slog.Default()}
}

func (p *NATSPublisher) PollUpdated(ctx context.Context, pollID, kind string) {
	if err := ctx.Err(); err != nil {
		return
	}
	data, err := json.Marshal(Event{PollID: pollID, Kind: kind, At: p.now().UTC()})
	if err != nil {
		p.logger.Warn("failed to encode poll event", "error", err, "poll_id", pollID)
		return
	}
	if err := p.conn.Publish(Subject(pollID), data); err != nil {
		p.logger.Warn("failed to publish poll event", "error", err, "poll_id", pollID)
	}
}

// Refresher re-downloads a poll into the local cache. Only polls already
// cached are refreshed; events for other polls are dropped.
type Refresher interface {
	IsPollCached(ctx context.Context, pollID string) bool
	DownloadPollData(ctx context.Context, pollID string) bool
}

// Subscriber refreshes cached polls when the server announces a change.
type Subscriber struct {
	refresher Refresher
	timeout   time.Duration
	logger    *slog.Logger
	sub       *nats.Subscription
}

func NewSubscriber(r Refresher, timeout time.Duration) *Subscriber {
	return &Subscriber{refresher: r, timeout: timeout, logger: slog.Default()}
}

// Start subscribes to updates for every poll.
func (s *Subscriber) Start(nc *nats.Conn) error {
	sub, err := nc.Subscribe(allPollsSubject, s.handle)
	if err != nil {
		return fmt.Errorf("subscribe to poll events: %w", err)
	}
	s.sub = sub
	return nil
}

func (s *Subscriber) Stop() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

func (s *Subscriber) handle(msg *nats.Msg) {
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		s.logger.Debug("ignoring malformed poll event", "error", err, "subject", msg.Subject)
	}
	if ev.PollID == "" {
		ev.PollID = pollIDFromSubject(msg.Subject)
	}
	if ev.PollID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if !s.refresher.IsPollCached(ctx, ev.PollID) {
		return
	}
	if !s.refresher.DownloadPollData(ctx, ev.PollID) {
		s.logger.Debug("failed to refresh poll after event", "poll_id", ev.PollID, "kind", ev.Kind)
	}
}
