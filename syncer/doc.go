// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package syncer drains the device's queued votes and drafts to the poll
service.

# Flush

A flush takes a snapshot of pending votes and submits each through the
acceptance service. Accepted and AlreadyVoted both mark the vote synced, so
running a flush twice never creates a second server-side vote. Any other
outcome, or a transport failure, leaves the vote pending for the next pass
and moves on to the next item. Drafts are then published by client draft id
and marked synced with the server's poll id.

Only one flush runs at a time. ForceSync called during a flush returns a
Report with Skipped set; it does not queue another pass. Each flush runs
under a timeout (DefaultFlushTimeout) and whatever was not reached stays
pending.

After a flush, if storage usage is at or above the cleanup threshold, old
cached polls and synced records are removed.

# Background loop

	e := syncer.New(st, votes, rc, monitor)
	e.Start(ctx)
	defer e.Stop()

Start flushes on every offline to online transition of the monitor, and on
a fixed interval while online.
*/
package syncer
