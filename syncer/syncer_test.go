// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package syncer

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/pollsync/acceptance"
	"github.com/danielhkuo/pollsync/connectivity"
	"github.com/danielhkuo/pollsync/metrics"
	"github.com/danielhkuo/pollsync/models"
	"github.com/danielhkuo/pollsync/remote"
	"github.com/danielhkuo/pollsync/store"
	"github.com/danielhkuo/pollsync/testutil/testserver"
)

const anonTab = "anon_1700000000000_tab0000001"

type harness struct {
	srv    *testserver.Server
	store  *store.Store
	net    *connectivity.Manual
	engine *Engine
}

func openStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "offline.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	srv := testserver.New(t)
	st := openStore(t)
	rc := remote.New(srv.URL)
	net := connectivity.NewManual(true)
	opts = append([]Option{WithInterval(0)}, opts...)
	return &harness{
		srv:    srv,
		store:  st,
		net:    net,
		engine: New(st, acceptance.NewService(rc), rc, net, opts...),
	}
}

func queueVote(t *testing.T, st *store.Store, id, pollID, anon string, choice models.Choice) {
	t.Helper()
	require.NoError(t, st.SaveOfflineVote(context.Background(), models.OfflineVote{
		ID: id, PollID: pollID, Choice: choice, AnonymousID: anon,
	}))
}

func TestOfflineThenOnline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pollID := h.srv.CreatePoll(t)

	h.net.Set(false)
	queueVote(t, h.store, "v1", pollID, anonTab, models.ChoiceOptionA)

	report := h.engine.ForceSync(ctx)
	assert.True(t, report.Offline)
	assert.Equal(t, Offline, h.engine.State())
	assert.Zero(t, h.srv.Requests(), "nothing is sent while offline")
	assert.Equal(t, 1, h.engine.GetSyncStatus(ctx).PendingVotes)

	h.net.Set(true)
	report = h.engine.ForceSync(ctx)
	assert.Equal(t, 1, report.VotesSynced)
	assert.False(t, report.Pending())

	status := h.engine.GetSyncStatus(ctx)
	assert.True(t, status.IsOnline)
	assert.Zero(t, status.PendingVotes)
	assert.False(t, status.LastSync.IsZero())
	assert.Equal(t, 1, h.srv.VoteCount(t, pollID))

	votes, err := h.store.GetOfflineVotes(ctx, pollID)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.True(t, votes[0].Synced)
}

func TestFlushIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pollID := h.srv.CreatePoll(t)

	vote := models.OfflineVote{ID: "v1", PollID: pollID, Choice: models.ChoiceOptionB, AnonymousID: anonTab}
	require.NoError(t, h.store.SaveOfflineVote(ctx, vote))
	require.Equal(t, 1, h.engine.ForceSync(ctx).VotesSynced)

	// Simulate a lost acknowledgement: the vote is pending again locally.
	require.NoError(t, h.store.SaveOfflineVote(ctx, vote))
	report := h.engine.ForceSync(ctx)

	assert.Equal(t, 1, report.VotesSynced)
	assert.Equal(t, 1, h.srv.VoteCount(t, pollID))
	assert.Zero(t, h.engine.GetSyncStatus(ctx).PendingVotes)
}

func TestTwoTabsSameToken(t *testing.T) {
	srv := testserver.New(t)
	ctx := context.Background()
	pollID := srv.CreatePoll(t)
	rc := remote.New(srv.URL)
	net := connectivity.NewManual(true)

	tabA := openStore(t)
	tabB := openStore(t)
	queueVote(t, tabA, "va", pollID, anonTab, models.ChoiceOptionA)
	queueVote(t, tabB, "vb", pollID, anonTab, models.ChoiceOptionB)

	engineA := New(tabA, acceptance.NewService(rc), rc, net, WithInterval(0))
	engineB := New(tabB, acceptance.NewService(rc), rc, net, WithInterval(0))

	var wg sync.WaitGroup
	reports := make([]Report, 2)
	for i, e := range []*Engine{engineA, engineB} {
		wg.Add(1)
		go func(i int, e *Engine) {
			defer wg.Done()
			reports[i] = e.ForceSync(ctx)
		}(i, e)
	}
	wg.Wait()

	assert.Equal(t, 1, srv.VoteCount(t, pollID))
	assert.Equal(t, 1, reports[0].VotesSynced)
	assert.Equal(t, 1, reports[1].VotesSynced)
	assert.Zero(t, engineA.GetSyncStatus(ctx).PendingVotes)
	assert.Zero(t, engineB.GetSyncStatus(ctx).PendingVotes)
}

func TestRejectedAndFailedVotesStayPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	openID := h.srv.CreatePoll(t)
	closedID := h.srv.CreatePoll(t)
	h.srv.ClosePoll(t, closedID)

	queueVote(t, h.store, "v-closed", closedID, anonTab, models.ChoiceOptionA)
	queueVote(t, h.store, "v-missing", "no-such-poll", anonTab, models.ChoiceOptionA)
	queueVote(t, h.store, "v-open", openID, anonTab, models.ChoiceOptionA)

	report := h.engine.ForceSync(ctx)
	assert.Equal(t, 2, report.VotesRejected)
	assert.Equal(t, 1, report.VotesSynced, "a stuck item does not block the queue")
	assert.True(t, report.Pending())
	assert.Equal(t, 2, h.engine.GetSyncStatus(ctx).PendingVotes)

	h.srv.SetDown(true)
	queueVote(t, h.store, "v-later", h.srv.CreatePoll(t), "anon_1700000000000_tab0000002", models.ChoiceOptionB)
	report = h.engine.ForceSync(ctx)
	assert.Equal(t, 3, report.VotesFailed)
	assert.Equal(t, 3, h.engine.GetSyncStatus(ctx).PendingVotes)

	h.srv.SetDown(false)
	report = h.engine.ForceSync(ctx)
	assert.Equal(t, 1, report.VotesSynced)
	assert.Equal(t, 2, report.VotesRejected)
}

func TestDraftsArePublishedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d, err := h.store.SaveDraft(ctx, models.OfflineDraft{Title: "Tabs or spaces", OptionA: "Tabs", OptionB: "Spaces"})
	require.NoError(t, err)

	report := h.engine.ForceSync(ctx)
	assert.Equal(t, 1, report.DraftsSynced)

	saved, ok, err := h.store.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, saved.Synced)
	assert.NotEmpty(t, saved.ServerPollID)

	report = h.engine.ForceSync(ctx)
	assert.Zero(t, report.DraftsSynced)
	assert.Equal(t, 1, h.srv.PollCount(t))
}

func TestDraftPublishFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.store.SaveDraft(ctx, models.OfflineDraft{Title: "Lunch", OptionA: "Pizza", OptionB: "Salad"})
	require.NoError(t, err)

	h.srv.SetDown(true)
	report := h.engine.ForceSync(ctx)
	assert.Equal(t, 1, report.DraftsFailed)
	assert.Equal(t, 1, h.engine.GetSyncStatus(ctx).PendingDrafts)
}

// blockingBackend holds GetPoll until released or the context ends.
type blockingBackend struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingBackend() *blockingBackend {
	return &blockingBackend{entered: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingBackend) GetPoll(ctx context.Context, pollID string) (*models.Poll, error) {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &models.Poll{ID: pollID, Status: models.StatusActive, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (b *blockingBackend) GetVote(context.Context, string, models.Identity) (models.Choice, bool, error) {
	return "", false, nil
}

func (b *blockingBackend) InsertVote(context.Context, string, models.Choice, models.Identity) (string, error) {
	return "server-vote", nil
}

func TestSecondTriggerIsSkipped(t *testing.T) {
	srv := testserver.New(t)
	st := openStore(t)
	backend := newBlockingBackend()
	rc := remote.New(srv.URL)
	e := New(st, acceptance.NewService(backend), rc, connectivity.NewManual(true), WithInterval(0))
	ctx := context.Background()

	queueVote(t, st, "v1", "p1", anonTab, models.ChoiceOptionA)

	first := make(chan Report)
	go func() { first <- e.ForceSync(ctx) }()
	<-backend.entered

	assert.Equal(t, Syncing, e.State())
	assert.True(t, e.GetSyncStatus(ctx).SyncInProgress)
	assert.True(t, e.ForceSync(ctx).Skipped)

	close(backend.release)
	report := <-first
	assert.Equal(t, 1, report.VotesSynced)
	assert.Equal(t, Idle, e.State())
}

func TestWatchdogReleasesGuard(t *testing.T) {
	srv := testserver.New(t)
	st := openStore(t)
	backend := newBlockingBackend()
	rc := remote.New(srv.URL)
	e := New(st, acceptance.NewService(backend), rc, connectivity.NewManual(true),
		WithInterval(0), WithFlushTimeout(20*time.Millisecond))
	ctx := context.Background()

	queueVote(t, st, "v1", "p1", anonTab, models.ChoiceOptionA)

	report := e.ForceSync(ctx)
	assert.True(t, report.TimedOut)
	assert.Equal(t, 1, report.VotesFailed)
	assert.True(t, e.LastSync().IsZero(), "a timed out pass is not a sync")
	assert.Equal(t, 1, e.GetSyncStatus(ctx).PendingVotes)

	close(backend.release)
	report = e.ForceSync(ctx)
	assert.False(t, report.Skipped)
	assert.Equal(t, 1, report.VotesSynced)
}

type fixedQuota struct{ used, quota uint64 }

func (q fixedQuota) Estimate(context.Context) (uint64, uint64, error) {
	return q.used, q.quota, nil
}

func TestCleanupAboveThreshold(t *testing.T) {
	ctx := context.Background()
	srv := testserver.New(t)
	rc := remote.New(srv.URL)

	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	run := func(t *testing.T, quota fixedQuota) Report {
		st := openStore(t, store.WithClock(clock), store.WithQuotaProvider(quota))
		require.NoError(t, st.CachePoll(ctx, models.Poll{ID: "old", Title: "Old"}))
		advance(10 * 24 * time.Hour)
		e := New(st, acceptance.NewService(rc), rc, connectivity.NewManual(true), WithInterval(0))
		return e.ForceSync(ctx)
	}

	t.Run("below threshold", func(t *testing.T) {
		assert.Zero(t, run(t, fixedQuota{used: 10, quota: 100}).CleanedUp)
	})
	t.Run("above threshold", func(t *testing.T) {
		assert.Equal(t, int64(1), run(t, fixedQuota{used: 90, quota: 100}).CleanedUp)
	})
}

func TestDownloadPollDataKeepsLocalVotes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pollID := h.srv.CreatePoll(t)

	h.net.Set(false)
	queueVote(t, h.store, "v1", pollID, anonTab, models.ChoiceOptionA)

	require.True(t, h.engine.DownloadPollData(ctx, pollID))
	cached, ok, err := h.store.GetCachedPoll(ctx, pollID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, cached.OptionAVotes, "pending vote is counted optimistically")

	h.net.Set(true)
	h.engine.ForceSync(ctx)
	require.True(t, h.engine.DownloadPollData(ctx, pollID))
	cached, _, err = h.store.GetCachedPoll(ctx, pollID)
	require.NoError(t, err)
	assert.Equal(t, 1, cached.OptionAVotes, "synced vote is not counted twice")

	assert.False(t, h.engine.DownloadPollData(ctx, "no-such-poll"))
}

func TestIsPollCached(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pollID := h.srv.CreatePoll(t)

	assert.False(t, h.engine.IsPollCached(ctx, pollID))
	require.True(t, h.engine.DownloadPollData(ctx, pollID))
	assert.True(t, h.engine.IsPollCached(ctx, pollID))
}

func TestDownloadRecentPolls(t *testing.T) {
	h := newHarness(t, WithRecentLimit(2))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		h.srv.CreatePoll(t)
	}

	require.True(t, h.engine.DownloadRecentPolls(ctx))
	polls, err := h.store.GetCachedPolls(ctx)
	require.NoError(t, err)
	assert.Len(t, polls, 2)

	h.srv.SetDown(true)
	assert.False(t, h.engine.DownloadRecentPolls(ctx))
}

func TestStartSyncsOnReconnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pollID := h.srv.CreatePoll(t)

	h.net.Set(false)
	queueVote(t, h.store, "v1", pollID, anonTab, models.ChoiceOptionA)

	h.engine.Start(ctx)
	defer h.engine.Stop()

	h.net.Set(true)
	require.Eventually(t, func() bool {
		return h.engine.GetSyncStatus(ctx).PendingVotes == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.srv.VoteCount(t, pollID))

	h.engine.Stop()
	h.engine.Stop()
}

func TestLastSyncSurvivesRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.engine.ForceSync(ctx)
	last := h.engine.LastSync()
	require.False(t, last.IsZero())

	rc := remote.New(h.srv.URL)
	again := New(h.store, acceptance.NewService(rc), rc, h.net)
	assert.Equal(t, last.UnixMilli(), again.LastSync().UnixMilli())
}

func TestFlushMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := newHarness(t, WithMetrics(m))
	ctx := context.Background()
	pollID := h.srv.CreatePoll(t)

	queueVote(t, h.store, "v1", pollID, anonTab, models.ChoiceOptionA)
	h.engine.ForceSync(ctx)

	h.net.Set(false)
	h.engine.ForceSync(ctx)

	expected := `
		# HELP pollsync_flush_runs_total Sync flush attempts by result.
		# TYPE pollsync_flush_runs_total counter
		pollsync_flush_runs_total{result="offline"} 1
		pollsync_flush_runs_total{result="ok"} 1
		# HELP pollsync_pending_items Items waiting to be synced.
		# TYPE pollsync_pending_items gauge
		pollsync_pending_items{kind="draft"} 0
		pollsync_pending_items{kind="vote"} 0
	`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"pollsync_flush_runs_total", "pollsync_pending_items"))
}
