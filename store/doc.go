// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package store is the device-side durable store, backed by SQLite
(modernc.org/sqlite, no cgo).

# Opening

	st, err := store.Open(ctx, filepath.Join(dir, "offline.db"),
		store.WithSoftCap(50<<20),
	)

Open applies the schema on every call; it is safe to reopen an existing file.

# Tables

  - kv: small settings, including anonymous tokens under "anon_id:"
  - cached_poll: JSON poll snapshots with cached_at
  - offline_vote: queued and synced votes, ordered by an autoincrement seq
  - offline_draft: poll drafts, ordered by seq

A partial unique index on offline_vote(poll_id, identity) WHERE synced = 0
keeps at most one queued vote per poll and identity. Once a vote is marked
synced the remote store's own constraint takes over.

# Failure Handling

Every database failure is returned wrapped in ErrStorageUnavailable. Vote
and draft writes that fail are held in a bounded in-memory queue and read
calls return held records alongside the error, so the user's last action is
not lost while the database is unavailable. RecoverShadow writes held
records back; it also runs before every vote or draft write.

# Retention

CleanupOldData deletes cached polls and synced votes and drafts older than
the given age. Pending records are never deleted. ClearAllData wipes
everything, including anonymous tokens.

# Quota

GetStorageUsage uses the QuotaProvider when one is configured and the
database size (page_count * page_size) against the soft cap otherwise.
*/
package store
