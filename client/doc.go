// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package client is the device-side API the UI talks to.

A Client wires the local store, the anonymous identity manager, the HTTP
client for the poll service, the sync engine and a connectivity monitor
together from a clientconfig.Config:

	cfg, err := clientconfig.Load("pollsync.yaml")
	c, err := client.New(ctx, cfg)
	defer c.Close()

	res, err := c.Vote(ctx, pollID, models.ChoiceOptionA)

# Voting

Signed-in users vote as themselves; everyone else votes with a per-poll
anonymous token. Online, Vote submits directly and reports the server's
decision; a failure to reach the server is returned as a
*acceptance.TransportError so the UI can offer a retry. Offline, the vote
is queued, counted optimistically in the cached poll, and reported with
Queued set. A second vote for a poll this device already voted on is
answered locally with AlreadyVoted.

# Background work

Unless WithoutBackgroundSync is given, New starts the sync engine, which
flushes the queue whenever connectivity returns. Without WithMonitor the
client probes the server's /health endpoint to decide whether it is
online. If realtime.nats_url is set, poll update events refresh the cache.
*/
package client
