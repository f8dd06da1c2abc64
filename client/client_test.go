// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/pollsync/acceptance"
	"github.com/danielhkuo/pollsync/clientconfig"
	"github.com/danielhkuo/pollsync/connectivity"
	"github.com/danielhkuo/pollsync/models"
	"github.com/danielhkuo/pollsync/syncer"
	"github.com/danielhkuo/pollsync/testutil"
	"github.com/danielhkuo/pollsync/testutil/testserver"
)

func testConfig(t *testing.T, srv *testserver.Server) clientconfig.Config {
	t.Helper()
	cfg, err := clientconfig.Load("")
	require.NoError(t, err)
	cfg.Server.URL = srv.URL
	cfg.Store.Path = filepath.Join(t.TempDir(), "device.db")
	return cfg
}

func newTestClient(t *testing.T, cfg clientconfig.Config, net connectivity.Monitor) *Client {
	t.Helper()
	c, err := New(context.Background(), cfg, WithMonitor(net), WithoutBackgroundSync())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestVoteOnline(t *testing.T) {
	srv := testserver.New(t)
	c := newTestClient(t, testConfig(t, srv), connectivity.NewManual(true))
	ctx := context.Background()
	pollID := srv.CreatePoll(t)

	res, err := c.Vote(ctx, pollID, models.ChoiceOptionB)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.False(t, res.Queued)
	assert.Equal(t, 1, srv.VoteCount(t, pollID))

	choice, ok := c.GetUserVote(ctx, pollID)
	require.True(t, ok)
	assert.Equal(t, models.ChoiceOptionB, choice)
	assert.True(t, c.HasVoted(ctx, pollID))

	res, err = c.Vote(ctx, pollID, models.ChoiceOptionA)
	require.NoError(t, err)
	assert.Equal(t, acceptance.AlreadyVoted, res.Reason)
	assert.Equal(t, 1, srv.VoteCount(t, pollID))
	assert.Zero(t, c.GetSyncStatus(ctx).PendingVotes)
}

func TestVoteRejections(t *testing.T) {
	srv := testserver.New(t)
	c := newTestClient(t, testConfig(t, srv), connectivity.NewManual(true))
	ctx := context.Background()

	closedID := srv.CreatePoll(t)
	srv.ClosePoll(t, closedID)
	expiredID := srv.CreatePollExpiring(t, time.Now().Add(-time.Minute))

	tests := []struct {
		name   string
		pollID string
		want   acceptance.Reason
	}{
		{"closed", closedID, acceptance.PollClosed},
		{"expired", expiredID, acceptance.PollClosed},
		{"missing", "no-such-poll", acceptance.PollNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.Vote(ctx, tt.pollID, models.ChoiceOptionA)
			require.NoError(t, err)
			assert.False(t, res.Accepted)
			assert.Equal(t, tt.want, res.Reason)
			assert.False(t, c.HasVoted(ctx, tt.pollID))
		})
	}

	_, err := c.Vote(ctx, closedID, models.Choice("option_c"))
	assert.ErrorIs(t, err, acceptance.ErrInvalidChoice)
}

func TestVoteOnlineTransportError(t *testing.T) {
	srv := testserver.New(t)
	c := newTestClient(t, testConfig(t, srv), connectivity.NewManual(true))
	ctx := context.Background()
	pollID := srv.CreatePoll(t)

	srv.SetDown(true)
	_, err := c.Vote(ctx, pollID, models.ChoiceOptionA)
	var te *acceptance.TransportError
	require.ErrorAs(t, err, &te)
	assert.Zero(t, c.GetSyncStatus(ctx).PendingVotes, "a direct vote is not queued")

	srv.SetDown(false)
	res, err := c.Vote(ctx, pollID, models.ChoiceOptionA)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}

func TestOfflineVoteThenSync(t *testing.T) {
	srv := testserver.New(t)
	net := connectivity.NewManual(true)
	c := newTestClient(t, testConfig(t, srv), net)
	ctx := context.Background()
	pollID := srv.CreatePoll(t)

	require.True(t, c.DownloadPollData(ctx, pollID))
	net.Set(false)

	res, err := c.Vote(ctx, pollID, models.ChoiceOptionA)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.True(t, res.Queued)

	status := c.GetSyncStatus(ctx)
	assert.False(t, status.IsOnline)
	assert.Equal(t, 1, status.PendingVotes)
	assert.Zero(t, srv.VoteCount(t, pollID))

	cached, ok := c.CachedPoll(ctx, pollID)
	require.True(t, ok)
	assert.Equal(t, 1, cached.OptionAVotes)
	assert.Equal(t, 1, cached.VotesCount)

	again, err := c.Vote(ctx, pollID, models.ChoiceOptionB)
	require.NoError(t, err)
	assert.Equal(t, acceptance.AlreadyVoted, again.Reason)

	choice, ok := c.GetUserVote(ctx, pollID)
	require.True(t, ok)
	assert.Equal(t, models.ChoiceOptionA, choice)

	net.Set(true)
	report := c.ForceSync(ctx)
	assert.Equal(t, 1, report.VotesSynced)
	assert.Zero(t, c.GetSyncStatus(ctx).PendingVotes)
	assert.Equal(t, 1, srv.VoteCount(t, pollID))
}

func TestUserIdentity(t *testing.T) {
	srv := testserver.New(t)
	pollID := srv.CreatePoll(t)
	ctx := context.Background()

	cfg := testConfig(t, srv)
	cfg.User.Token = testutil.UserToken(t, "user-9")
	phone := newTestClient(t, cfg, connectivity.NewManual(true))

	res, err := phone.Vote(ctx, pollID, models.ChoiceOptionB)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	assert.Empty(t, phone.Identities(ctx), "signed-in votes do not issue anonymous tokens")

	// A second device for the same user learns the vote from the server.
	cfg.Store.Path = filepath.Join(t.TempDir(), "laptop.db")
	laptop := newTestClient(t, cfg, connectivity.NewManual(true))
	choice, ok := laptop.GetUserVote(ctx, pollID)
	require.True(t, ok)
	assert.Equal(t, models.ChoiceOptionB, choice)

	res, err = laptop.Vote(ctx, pollID, models.ChoiceOptionA)
	require.NoError(t, err)
	assert.Equal(t, acceptance.AlreadyVoted, res.Reason)
}

func TestDrafts(t *testing.T) {
	srv := testserver.New(t)
	net := connectivity.NewManual(false)
	c := newTestClient(t, testConfig(t, srv), net)
	ctx := context.Background()

	keep, err := c.SaveDraft(ctx, models.OfflineDraft{Title: "Beach or mountains", OptionA: "Beach", OptionB: "Mountains"})
	require.NoError(t, err)
	drop, err := c.SaveDraft(ctx, models.OfflineDraft{Title: "Scratch", OptionA: "x", OptionB: "y"})
	require.NoError(t, err)

	require.NoError(t, c.DeleteDraft(ctx, drop.ID))
	drafts, err := c.ListDrafts(ctx)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, keep.ID, drafts[0].ID)
	assert.Equal(t, 1, c.GetSyncStatus(ctx).PendingDrafts)

	net.Set(true)
	report := c.ForceSync(ctx)
	assert.Equal(t, 1, report.DraftsSynced)
	assert.Equal(t, 1, srv.PollCount(t))

	drafts, err = c.ListDrafts(ctx)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.True(t, drafts[0].Synced)
	assert.NotEmpty(t, drafts[0].ServerPollID)
}

func TestClearAllData(t *testing.T) {
	srv := testserver.New(t)
	net := connectivity.NewManual(false)
	c := newTestClient(t, testConfig(t, srv), net)
	ctx := context.Background()
	pollID := srv.CreatePoll(t)

	_, err := c.Vote(ctx, pollID, models.ChoiceOptionA)
	require.NoError(t, err)
	require.Len(t, c.Identities(ctx), 1)

	require.NoError(t, c.ClearAllData(ctx))
	assert.Empty(t, c.Identities(ctx))
	assert.Zero(t, c.GetSyncStatus(ctx).PendingVotes)
	assert.False(t, c.HasVoted(ctx, pollID))
}

func TestClearAllDataForgetsLastSync(t *testing.T) {
	srv := testserver.New(t)
	c := newTestClient(t, testConfig(t, srv), connectivity.NewManual(true))
	ctx := context.Background()

	c.ForceSync(ctx)
	require.False(t, c.GetSyncStatus(ctx).LastSync.IsZero())

	require.NoError(t, c.ClearAllData(ctx))
	assert.True(t, c.GetSyncStatus(ctx).LastSync.IsZero())
}

func TestStorageAndCleanup(t *testing.T) {
	srv := testserver.New(t)
	c := newTestClient(t, testConfig(t, srv), connectivity.NewManual(true))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		srv.CreatePoll(t)
	}
	require.True(t, c.DownloadRecentPolls(ctx))
	assert.Len(t, c.CachedPolls(ctx), 3)

	usage, err := c.GetStorageUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(50*1024*1024), usage.Quota)
	assert.False(t, usage.NeedsCleanup(80))

	report, err := c.CleanupOldData(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, report.Total(), "fresh cache is kept")
}

func TestBackgroundProberAndSync(t *testing.T) {
	srv := testserver.New(t)
	pollID := srv.CreatePoll(t)
	ctx := context.Background()

	cfg := testConfig(t, srv)
	cfg.Connectivity.ProbeInterval = 10 * time.Millisecond
	cfg.Sync.Interval = 10 * time.Millisecond

	srv.SetDown(true)
	c, err := New(ctx, cfg)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, syncer.Offline, c.State())
	res, err := c.Vote(ctx, pollID, models.ChoiceOptionA)
	require.NoError(t, err)
	require.True(t, res.Queued)

	srv.SetDown(false)
	require.Eventually(t, func() bool {
		return c.GetSyncStatus(ctx).PendingVotes == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, srv.VoteCount(t, pollID))
}
