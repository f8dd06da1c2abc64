// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package identity issues anonymous voter tokens, one per poll.

# Token Format

	anon_<unix milliseconds>_<base36 random>

The random part comes from crypto/rand and is always 13 characters. A token
that does not match the format is invalid, and an invalid token is always
treated as expired.

# Lifetime

Tokens expire DefaultTTL (30 days) after issue. GetOrCreate replaces an
expired token with a fresh one; the old token is dropped and any vote cast
under it stays attached to it, so the device may vote again under the new
identity.

# Storage

Manager persists tokens under the "anon_id:" key namespace of a Storage
(the offline store implements it). Storage errors are logged and never
returned: tokens that could not be written are held in memory until the
next successful write.

	m := identity.NewManager(st)
	token := m.GetOrCreate(ctx, pollID)
*/
package identity
