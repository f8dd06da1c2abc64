// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package realtime carries poll change notifications over NATS.

The server publishes an Event on polls.<id>.updated after it accepts a vote
or closes a poll. Devices that are online subscribe to polls.*.updated and
re-download the poll so cached counts stay close to the server's.

Notifications are hints, not a replication channel: a lost message only
means the cache is refreshed later by the sync engine.
*/
package realtime
