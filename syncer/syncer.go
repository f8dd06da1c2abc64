// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package syncer

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danielhkuo/pollsync/acceptance"
	"github.com/danielhkuo/pollsync/connectivity"
	"github.com/danielhkuo/pollsync/metrics"
	"github.com/danielhkuo/pollsync/models"
	"github.com/danielhkuo/pollsync/store"
)

const (
	DefaultFlushTimeout     = 2 * time.Minute
	DefaultInterval         = time.Minute
	DefaultCleanupThreshold = 80.0
	DefaultRecentLimit      = 20

	lastSyncKey = "sync:last"

	kindVote  = "vote"
	kindDraft = "draft"
)

// Remote is the part of the poll service the engine needs besides vote
// submission, which goes through the acceptance service.
type Remote interface {
	PublishDraft(ctx context.Context, req models.PublishDraftRequest) (models.PublishDraftResponse, error)
	GetPoll(ctx context.Context, pollID string) (*models.Poll, error)
	ListRecentPolls(ctx context.Context, limit int) ([]models.Poll, error)
}

// State of the engine as seen by the UI.
type State int

const (
	Idle State = iota
	Syncing
	Offline
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Syncing:
		return "syncing"
	case Offline:
		return "offline"
	}
	return "unknown"
}

// Report summarizes one ForceSync call.
type Report struct {
	Skipped       bool          `json:"skipped" yaml:"skipped"`
	Offline       bool          `json:"offline" yaml:"offline"`
	TimedOut      bool          `json:"timed_out" yaml:"timed_out"`
	VotesSynced   int           `json:"votes_synced" yaml:"votes_synced"`
	VotesRejected int           `json:"votes_rejected" yaml:"votes_rejected"`
	VotesFailed   int           `json:"votes_failed" yaml:"votes_failed"`
	DraftsSynced  int           `json:"drafts_synced" yaml:"drafts_synced"`
	DraftsFailed  int           `json:"drafts_failed" yaml:"drafts_failed"`
	CleanedUp     int64         `json:"cleaned_up" yaml:"cleaned_up"`
	Duration      time.Duration `json:"duration" yaml:"duration"`
}

// Pending reports whether the pass left anything behind.
func (r Report) Pending() bool {
	return r.VotesRejected+r.VotesFailed+r.DraftsFailed > 0
}

func (r Report) result() string {
	switch {
	case r.Offline:
		return "offline"
	case r.Skipped:
		return "skipped"
	case r.TimedOut:
		return "timeout"
	case r.Pending():
		return "partial"
	}
	return "ok"
}

// Engine drains queued votes and drafts to the poll service. Only one flush
// runs at a time; a trigger that arrives during a flush is dropped.
type Engine struct {
	store   *store.Store
	votes   *acceptance.Service
	remote  Remote
	monitor connectivity.Monitor

	now              func() time.Time
	logger           *slog.Logger
	metrics          *metrics.Metrics
	flushTimeout     time.Duration
	interval         time.Duration
	cleanupThreshold float64
	cleanupMaxAge    time.Duration
	recentLimit      int

	running atomic.Bool

	mu       sync.Mutex
	lastSync time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithFlushTimeout bounds a single flush. Items not reached before the
// deadline stay pending.
func WithFlushTimeout(d time.Duration) Option {
	return func(e *Engine) { e.flushTimeout = d }
}

// WithInterval sets the periodic flush interval used by Start. Zero
// disables the ticker; connectivity transitions still trigger flushes.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithCleanupThreshold sets the storage usage percentage at which a flush
// is followed by CleanupOldData. Zero or less disables it.
func WithCleanupThreshold(pct float64) Option {
	return func(e *Engine) { e.cleanupThreshold = pct }
}

func WithCleanupMaxAge(d time.Duration) Option {
	return func(e *Engine) { e.cleanupMaxAge = d }
}

func WithRecentLimit(n int) Option {
	return func(e *Engine) { e.recentLimit = n }
}

func New(st *store.Store, votes *acceptance.Service, rc Remote, mon connectivity.Monitor, opts ...Option) *Engine {
	e := &Engine{
		store:            st,
		votes:            votes,
		remote:           rc,
		monitor:          mon,
		now:              time.Now,
		logger:           slog.Default(),
		flushTimeout:     DefaultFlushTimeout,
		interval:         DefaultInterval,
		cleanupThreshold: DefaultCleanupThreshold,
		cleanupMaxAge:    store.DefaultCleanupAge,
		recentLimit:      DefaultRecentLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.lastSync = e.loadLastSync()
	return e
}

func (e *Engine) State() State {
	if e.running.Load() {
		return Syncing
	}
	if !e.monitor.Online() {
		return Offline
	}
	return Idle
}

func (e *Engine) LastSync() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// ForceSync runs one flush now unless the device is offline or a flush is
// already running. Per-item failures are logged and left pending; they are
// never returned.
func (e *Engine) ForceSync(ctx context.Context) Report {
	if !e.monitor.Online() {
		e.metrics.ObserveFlush("offline", 0)
		return Report{Offline: true}
	}
	if !e.running.CompareAndSwap(false, true) {
		e.metrics.ObserveFlush("skipped", 0)
		return Report{Skipped: true}
	}
	defer e.running.Store(false)

	start := e.now()
	flushCtx, cancel := context.WithTimeout(ctx, e.flushTimeout)
	report := e.flush(flushCtx)
	cancel()

	if errors.Is(flushCtx.Err(), context.DeadlineExceeded) {
		report.TimedOut = true
		e.logger.Warn("sync flush timed out, remaining items stay pending", "timeout", e.flushTimeout)
	} else if ctx.Err() == nil {
		e.setLastSync(e.now())
	}

	e.updatePending(ctx)
	if ctx.Err() == nil {
		report.CleanedUp = e.cleanupIfNeeded(ctx)
	}

	report.Duration = e.now().Sub(start)
	e.metrics.ObserveFlush(report.result(), report.Duration)
	e.logger.Info("sync flush finished",
		"votes_synced", report.VotesSynced,
		"votes_pending", report.VotesRejected+report.VotesFailed,
		"drafts_synced", report.DraftsSynced,
		"drafts_pending", report.DraftsFailed,
		"duration_ms", report.Duration.Milliseconds())
	return report
}

func (e *Engine) flush(ctx context.Context) Report {
	var report Report

	if err := e.store.RecoverShadow(ctx); err != nil {
		e.logger.Warn("failed to recover held records", "error", err)
	}

	votes, err := e.store.PendingVotes(ctx)
	if err != nil {
		e.logger.Warn("failed to read pending votes", "error", err, "held", len(votes))
	}
	for _, v := range votes {
		if ctx.Err() != nil {
			return report
		}
		e.flushVote(ctx, v, &report)
	}

	drafts, err := e.store.PendingDrafts(ctx)
	if err != nil {
		e.logger.Warn("failed to read pending drafts", "error", err, "held", len(drafts))
	}
	for _, d := range drafts {
		if ctx.Err() != nil {
			return report
		}
		e.flushDraft(ctx, d, &report)
	}
	return report
}

func (e *Engine) flushVote(ctx context.Context, v models.OfflineVote, report *Report) {
	out, err := e.votes.Submit(ctx, v.PollID, v.Choice, v.Identity())
	if err != nil {
		report.VotesFailed++
		e.metrics.ObserveItem(kindVote, "error")
		e.logger.Warn("failed to submit queued vote", "error", err, "vote_id", v.ID, "poll_id", v.PollID)
		return
	}
	if !out.Accepted && out.Reason != acceptance.AlreadyVoted {
		report.VotesRejected++
		e.metrics.ObserveItem(kindVote, string(out.Reason))
		e.logger.Warn("queued vote rejected, leaving pending", "vote_id", v.ID, "poll_id", v.PollID, "reason", out.Reason)
		return
	}
	if err := e.store.MarkVoteSynced(ctx, v.ID); err != nil {
		// The server has the vote; the next pass resolves it as AlreadyVoted.
		report.VotesFailed++
		e.metrics.ObserveItem(kindVote, "error")
		e.logger.Error("failed to mark vote synced", "error", err, "vote_id", v.ID)
		return
	}
	report.VotesSynced++
	e.metrics.ObserveItem(kindVote, out.String())
}

func (e *Engine) flushDraft(ctx context.Context, d models.OfflineDraft, report *Report) {
	resp, err := e.remote.PublishDraft(ctx, d.PublishRequest())
	if err != nil {
		report.DraftsFailed++
		e.metrics.ObserveItem(kindDraft, "error")
		e.logger.Warn("failed to publish draft", "error", err, "draft_id", d.ID)
		return
	}
	if err := e.store.MarkDraftSynced(ctx, d.ID, resp.PollID); err != nil {
		report.DraftsFailed++
		e.metrics.ObserveItem(kindDraft, "error")
		e.logger.Error("failed to mark draft synced", "error", err, "draft_id", d.ID, "poll_id", resp.PollID)
		return
	}
	report.DraftsSynced++
	e.metrics.ObserveItem(kindDraft, "published")
}

func (e *Engine) cleanupIfNeeded(ctx context.Context) int64 {
	if e.cleanupThreshold <= 0 {
		return 0
	}
	usage, err := e.store.GetStorageUsage(ctx)
	if err != nil {
		e.logger.Warn("failed to read storage usage", "error", err)
		return 0
	}
	if !usage.NeedsCleanup(e.cleanupThreshold) {
		return 0
	}
	rep, err := e.store.CleanupOldData(ctx, e.cleanupMaxAge)
	if err != nil {
		e.logger.Warn("failed to clean up old data", "error", err)
		return 0
	}
	e.logger.Info("storage above threshold, cleaned up old data",
		"percentage", usage.Percentage, "removed", rep.Total())
	return rep.Total()
}

// GetSyncStatus counts pending items now. Counts include records held in
// memory while the database is unavailable.
func (e *Engine) GetSyncStatus(ctx context.Context) models.SyncStatus {
	votes, err := e.store.PendingVotes(ctx)
	if err != nil {
		e.logger.Warn("failed to count pending votes", "error", err)
	}
	drafts, err := e.store.PendingDrafts(ctx)
	if err != nil {
		e.logger.Warn("failed to count pending drafts", "error", err)
	}
	return models.SyncStatus{
		IsOnline:       e.monitor.Online(),
		LastSync:       e.LastSync(),
		PendingVotes:   len(votes),
		PendingDrafts:  len(drafts),
		SyncInProgress: e.running.Load(),
	}
}

// DownloadRecentPolls caches the most recent public polls.
func (e *Engine) DownloadRecentPolls(ctx context.Context) bool {
	polls, err := e.remote.ListRecentPolls(ctx, e.recentLimit)
	if err != nil {
		e.logger.Warn("failed to download recent polls", "error", err)
		return false
	}
	ok := true
	for _, p := range polls {
		if !e.cachePoll(ctx, p) {
			ok = false
		}
	}
	return ok
}

// IsPollCached reports whether pollID has a local snapshot. Storage errors
// read as not cached.
func (e *Engine) IsPollCached(ctx context.Context, pollID string) bool {
	_, ok, err := e.store.GetCachedPoll(ctx, pollID)
	if err != nil {
		e.logger.Warn("failed to read cached poll", "error", err, "poll_id", pollID)
		return false
	}
	return ok
}

// DownloadPollData refreshes one cached poll.
func (e *Engine) DownloadPollData(ctx context.Context, pollID string) bool {
	p, err := e.remote.GetPoll(ctx, pollID)
	if err != nil {
		e.logger.Warn("failed to download poll", "error", err, "poll_id", pollID)
		return false
	}
	return e.cachePoll(ctx, *p)
}

// cachePoll stores the server snapshot and re-applies votes the server has
// not seen yet, so the cached counts keep reflecting local votes.
func (e *Engine) cachePoll(ctx context.Context, p models.Poll) bool {
	if err := e.store.CachePoll(ctx, p); err != nil {
		e.logger.Warn("failed to cache poll", "error", err, "poll_id", p.ID)
		return false
	}
	votes, err := e.store.GetOfflineVotes(ctx, p.ID)
	if err != nil {
		e.logger.Warn("failed to read local votes", "error", err, "poll_id", p.ID)
	}
	for _, v := range votes {
		if v.Synced {
			continue
		}
		if err := e.store.ApplyOptimisticVote(ctx, p.ID, v.Choice); err != nil {
			e.logger.Warn("failed to apply optimistic vote", "error", err, "poll_id", p.ID)
		}
	}
	return true
}

// Start runs the engine in the background until ctx is done or Stop is
// called. It flushes once if online, on every offline to online
// transition, and on the configured interval.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go e.loop(ctx, e.done)
}

// Stop ends the background loop and waits for an in-flight flush started
// by it to return.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	changes, unsubscribe := e.monitor.Subscribe()
	defer unsubscribe()

	var tick <-chan time.Time
	if e.interval > 0 {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	if e.monitor.Online() {
		e.ForceSync(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case online := <-changes:
			if online {
				e.logger.Info("connectivity restored, syncing")
				e.ForceSync(ctx)
			}
		case <-tick:
			if e.monitor.Online() {
				e.ForceSync(ctx)
			}
		}
	}
}

func (e *Engine) updatePending(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	status := e.GetSyncStatus(ctx)
	e.metrics.SetPending(kindVote, status.PendingVotes)
	e.metrics.SetPending(kindDraft, status.PendingDrafts)
}

func (e *Engine) setLastSync(t time.Time) {
	e.mu.Lock()
	e.lastSync = t
	e.mu.Unlock()

	if err := e.store.Set(context.Background(), lastSyncKey, strconv.FormatInt(t.UnixMilli(), 10)); err != nil {
		e.logger.Warn("failed to persist last sync time", "error", err)
	}
}

// ResetLastSync forgets the last successful flush. It does not touch the
// store; callers clear the persisted value themselves.
func (e *Engine) ResetLastSync() {
	e.mu.Lock()
	e.lastSync = time.Time{}
	e.mu.Unlock()
}

func (e *Engine) loadLastSync() time.Time {
	v, ok, err := e.store.Get(context.Background(), lastSyncKey)
	if err != nil || !ok {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
