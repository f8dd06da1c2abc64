// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/danielhkuo/pollsync/acceptance"
	"github.com/danielhkuo/pollsync/clientconfig"
	"github.com/danielhkuo/pollsync/connectivity"
	"github.com/danielhkuo/pollsync/identity"
	"github.com/danielhkuo/pollsync/metrics"
	"github.com/danielhkuo/pollsync/models"
	"github.com/danielhkuo/pollsync/realtime"
	"github.com/danielhkuo/pollsync/remote"
	"github.com/danielhkuo/pollsync/store"
	"github.com/danielhkuo/pollsync/syncer"
)

const refreshTimeout = 10 * time.Second

// VoteResult is the answer to Vote. Queued means the device is offline and
// the vote waits in the local queue; it has not been accepted by the
// server yet.
type VoteResult struct {
	acceptance.Outcome
	Queued bool
}

// Client is the device-side entry point used by the UI. It owns the local
// store and the sync engine for its lifetime.
type Client struct {
	cfg        clientconfig.Config
	userID     string
	store      *store.Store
	identities *identity.Manager
	remote     *remote.Client
	votes      *acceptance.Service
	engine     *syncer.Engine
	monitor    connectivity.Monitor
	logger     *slog.Logger

	cancel     context.CancelFunc
	probeDone  chan struct{}
	nc         *nats.Conn
	subscriber *realtime.Subscriber
}

type options struct {
	monitor    connectivity.Monitor
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	quota      store.QuotaProvider
	httpClient *http.Client
	noStart    bool
}

type Option func(*options)

// WithMonitor replaces the built-in /health prober.
func WithMonitor(m connectivity.Monitor) Option {
	return func(o *options) { o.monitor = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithQuotaProvider(p store.QuotaProvider) Option {
	return func(o *options) { o.quota = p }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithoutBackgroundSync leaves the engine stopped; flushes then only happen
// through ForceSync.
func WithoutBackgroundSync() Option {
	return func(o *options) { o.noStart = true }
}

// New opens the local store and starts the background sync loop.
func New(ctx context.Context, cfg clientconfig.Config, opts ...Option) (*Client, error) {
	o := options{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	userID, err := cfg.UserID()
	if err != nil {
		return nil, fmt.Errorf("read user token: %w", err)
	}
	softCap, err := cfg.SoftCapBytes()
	if err != nil {
		return nil, err
	}

	storeOpts := []store.Option{
		store.WithClock(o.now),
		store.WithLogger(o.logger),
		store.WithSoftCap(softCap),
	}
	if o.quota != nil {
		storeOpts = append(storeOpts, store.WithQuotaProvider(o.quota))
	}
	st, err := store.Open(ctx, cfg.Store.Path, storeOpts...)
	if err != nil {
		return nil, err
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Server.Timeout}
	}
	remoteOpts := []remote.Option{remote.WithHTTPClient(httpClient), remote.WithLogger(o.logger)}
	if userID != "" {
		remoteOpts = append(remoteOpts, remote.WithTokenFunc(remote.StaticToken(userID, cfg.User.Token)))
	}
	rc := remote.New(cfg.Server.URL, remoteOpts...)

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:    cfg,
		userID: userID,
		store:  st,
		identities: identity.NewManager(st,
			identity.WithTTL(cfg.Identity.TTL),
			identity.WithClock(o.now),
			identity.WithLogger(o.logger)),
		remote: rc,
		votes: acceptance.NewService(rc,
			acceptance.WithClock(o.now),
			acceptance.WithLogger(o.logger),
			acceptance.WithMetrics(o.metrics)),
		monitor: o.monitor,
		logger:  o.logger,
		cancel:  cancel,
	}

	if c.monitor == nil {
		prober := connectivity.NewProber(rc,
			connectivity.WithInterval(cfg.Connectivity.ProbeInterval),
			connectivity.WithTimeout(cfg.Connectivity.ProbeTimeout),
			connectivity.WithLogger(o.logger))
		prober.Probe(ctx)
		c.monitor = prober
		c.probeDone = make(chan struct{})
		go func() {
			defer close(c.probeDone)
			prober.Run(runCtx)
		}()
	}

	c.engine = syncer.New(st, c.votes, rc, c.monitor,
		syncer.WithClock(o.now),
		syncer.WithLogger(o.logger),
		syncer.WithMetrics(o.metrics),
		syncer.WithInterval(cfg.Sync.Interval),
		syncer.WithFlushTimeout(cfg.Sync.FlushTimeout),
		syncer.WithCleanupThreshold(cfg.Sync.CleanupThreshold),
		syncer.WithCleanupMaxAge(cfg.Sync.CleanupMaxAge),
		syncer.WithRecentLimit(cfg.Sync.RecentLimit))
	if !o.noStart {
		c.engine.Start(runCtx)
	}

	if cfg.Realtime.NATSURL != "" {
		c.startRealtime()
	}
	return c, nil
}

// startRealtime is best effort: without NATS the cache refreshes on demand.
func (c *Client) startRealtime() {
	nc, err := realtime.Connect(c.cfg.Realtime.NATSURL, "pollsync-client")
	if err != nil {
		c.logger.Warn("failed to connect to realtime updates", "error", err)
		return
	}
	sub := realtime.NewSubscriber(c.engine, refreshTimeout)
	if err := sub.Start(nc); err != nil {
		c.logger.Warn("failed to subscribe to realtime updates", "error", err)
		nc.Close()
		return
	}
	c.nc = nc
	c.subscriber = sub
}

// Close stops background work and closes the local store.
func (c *Client) Close() error {
	c.engine.Stop()
	if c.subscriber != nil {
		if err := c.subscriber.Stop(); err != nil {
			c.logger.Warn("failed to unsubscribe from realtime updates", "error", err)
		}
	}
	if c.nc != nil {
		c.nc.Close()
	}
	c.cancel()
	if c.probeDone != nil {
		<-c.probeDone
	}
	return c.store.Close()
}

func (c *Client) identityFor(ctx context.Context, pollID string) models.Identity {
	if c.userID != "" {
		return models.Identity{UserID: c.userID}
	}
	return models.Identity{AnonymousID: c.identities.GetOrCreate(ctx, pollID)}
}

// existingIdentity is like identityFor but never issues a new token.
func (c *Client) existingIdentity(ctx context.Context, pollID string) (models.Identity, bool) {
	if c.userID != "" {
		return models.Identity{UserID: c.userID}, true
	}
	token, ok := c.identities.Lookup(ctx, pollID)
	if !ok {
		return models.Identity{}, false
	}
	return models.Identity{AnonymousID: token}, true
}

// Vote casts choice on pollID. Online, the vote goes straight to the
// server and a *acceptance.TransportError is returned when it cannot be
// reached. Offline, the vote is queued and counted optimistically in the
// cached poll.
func (c *Client) Vote(ctx context.Context, pollID string, choice models.Choice) (VoteResult, error) {
	if !choice.Valid() {
		return VoteResult{}, fmt.Errorf("%w: %q", acceptance.ErrInvalidChoice, choice)
	}
	voter := c.identityFor(ctx, pollID)

	if _, found, err := c.store.FindVote(ctx, pollID, voter.Key()); err != nil {
		c.logger.Warn("failed to look up local vote", "error", err, "poll_id", pollID)
	} else if found {
		return VoteResult{Outcome: acceptance.Outcome{Reason: acceptance.AlreadyVoted}}, nil
	}

	if !c.monitor.Online() {
		return c.queueVote(ctx, pollID, choice, voter)
	}

	out, err := c.votes.Submit(ctx, pollID, choice, voter)
	if err != nil {
		return VoteResult{}, err
	}
	if out.Accepted {
		c.recordVote(ctx, models.OfflineVote{
			ID:          out.VoteID,
			PollID:      pollID,
			Choice:      choice,
			UserID:      voter.UserID,
			AnonymousID: voter.AnonymousID,
			Synced:      true,
		})
	}
	return VoteResult{Outcome: out}, nil
}

func (c *Client) queueVote(ctx context.Context, pollID string, choice models.Choice, voter models.Identity) (VoteResult, error) {
	v := models.OfflineVote{
		ID:          uuid.NewString(),
		PollID:      pollID,
		Choice:      choice,
		UserID:      voter.UserID,
		AnonymousID: voter.AnonymousID,
	}
	err := c.store.SaveOfflineVote(ctx, v)
	switch {
	case errors.Is(err, store.ErrDuplicateQueuedVote):
		return VoteResult{Outcome: acceptance.Outcome{Reason: acceptance.AlreadyVoted}}, nil
	case errors.Is(err, store.ErrShadowQueueFull):
		return VoteResult{}, err
	case errors.Is(err, store.ErrStorageUnavailable):
		c.logger.Warn("vote held in memory until storage recovers", "vote_id", v.ID, "poll_id", pollID)
	case err != nil:
		return VoteResult{}, err
	}

	if err := c.store.ApplyOptimisticVote(ctx, pollID, choice); err != nil {
		c.logger.Warn("failed to update cached counts", "error", err, "poll_id", pollID)
	}
	return VoteResult{Outcome: acceptance.Outcome{Accepted: true, VoteID: v.ID}, Queued: true}, nil
}

// recordVote keeps a local copy of a vote the server already has, so
// GetUserVote answers offline.
func (c *Client) recordVote(ctx context.Context, v models.OfflineVote) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if err := c.store.SaveOfflineVote(ctx, v); err != nil && !errors.Is(err, store.ErrStorageUnavailable) {
		c.logger.Warn("failed to record vote locally", "error", err, "poll_id", v.PollID)
	}
	if err := c.store.ApplyOptimisticVote(ctx, v.PollID, v.Choice); err != nil {
		c.logger.Warn("failed to update cached counts", "error", err, "poll_id", v.PollID)
	}
}

// GetUserVote returns this device's choice on pollID. When nothing is
// recorded locally and the device is online, the server is asked.
func (c *Client) GetUserVote(ctx context.Context, pollID string) (models.Choice, bool) {
	voter, ok := c.existingIdentity(ctx, pollID)
	if !ok {
		return "", false
	}

	v, found, err := c.store.FindVote(ctx, pollID, voter.Key())
	if err != nil {
		c.logger.Warn("failed to look up local vote", "error", err, "poll_id", pollID)
	}
	if found {
		return v.Choice, true
	}
	if !c.monitor.Online() {
		return "", false
	}

	choice, found, err := c.remote.GetVote(ctx, pollID, voter)
	if err != nil {
		c.logger.Warn("failed to fetch vote from server", "error", err, "poll_id", pollID)
		return "", false
	}
	return choice, found
}

func (c *Client) HasVoted(ctx context.Context, pollID string) bool {
	_, found := c.GetUserVote(ctx, pollID)
	return found
}

func (c *Client) SaveDraft(ctx context.Context, d models.OfflineDraft) (models.OfflineDraft, error) {
	saved, err := c.store.SaveDraft(ctx, d)
	if errors.Is(err, store.ErrStorageUnavailable) && !errors.Is(err, store.ErrShadowQueueFull) {
		c.logger.Warn("draft held in memory until storage recovers", "draft_id", saved.ID)
		return saved, nil
	}
	return saved, err
}

func (c *Client) DeleteDraft(ctx context.Context, id string) error {
	return c.store.DeleteDraft(ctx, id)
}

func (c *Client) ListDrafts(ctx context.Context) ([]models.OfflineDraft, error) {
	return c.store.GetDrafts(ctx)
}

func (c *Client) GetSyncStatus(ctx context.Context) models.SyncStatus {
	return c.engine.GetSyncStatus(ctx)
}

func (c *Client) GetStorageUsage(ctx context.Context) (models.StorageUsage, error) {
	return c.store.GetStorageUsage(ctx)
}

func (c *Client) ForceSync(ctx context.Context) syncer.Report {
	return c.engine.ForceSync(ctx)
}

// CleanupOldData uses the configured retention when maxAge is zero.
func (c *Client) CleanupOldData(ctx context.Context, maxAge time.Duration) (store.CleanupReport, error) {
	if maxAge <= 0 {
		maxAge = c.cfg.Sync.CleanupMaxAge
	}
	return c.store.CleanupOldData(ctx, maxAge)
}

// ClearAllData wipes the device, anonymous tokens included. Callers must
// confirm with the user first.
func (c *Client) ClearAllData(ctx context.Context) error {
	if err := c.store.ClearAllData(ctx); err != nil {
		return err
	}
	c.identities.ClearAll(ctx)
	c.engine.ResetLastSync()
	return nil
}

func (c *Client) DownloadRecentPolls(ctx context.Context) bool {
	return c.engine.DownloadRecentPolls(ctx)
}

func (c *Client) DownloadPollData(ctx context.Context, pollID string) bool {
	return c.engine.DownloadPollData(ctx, pollID)
}

// CachedPolls returns every cached poll. Storage failures read as empty.
func (c *Client) CachedPolls(ctx context.Context) []models.OfflinePoll {
	polls, err := c.store.GetCachedPolls(ctx)
	if err != nil {
		c.logger.Warn("failed to read cached polls", "error", err)
		return nil
	}
	return polls
}

func (c *Client) CachedPoll(ctx context.Context, pollID string) (models.OfflinePoll, bool) {
	p, ok, err := c.store.GetCachedPoll(ctx, pollID)
	if err != nil {
		c.logger.Warn("failed to read cached poll", "error", err, "poll_id", pollID)
		return models.OfflinePoll{}, false
	}
	return p, ok
}

// Identities lists the anonymous token stored for each poll.
func (c *Client) Identities(ctx context.Context) map[string]string {
	return c.identities.ListAll(ctx)
}

func (c *Client) State() syncer.State {
	return c.engine.State()
}
