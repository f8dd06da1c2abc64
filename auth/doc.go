// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth provides authentication and token utilities for the server.

# Admin Keys

Admin keys use HMAC-SHA256 to create deterministic, verifiable keys:

	adminKey := auth.GenerateAdminKey(pollID, salt)
	err := auth.ValidateAdminKey(pollID, adminKey, salt)

The key is URL-safe base64 encoded without padding. Since it's deterministic,
the same poll ID and salt always produce the same key. This allows validation
without storing the key in the database.

# User Tokens

Signed-in users authenticate with an HS256 JWT whose subject is the user id:

	token, err := auth.IssueUserToken(userID, secret, 24*time.Hour)
	userID, err := auth.ParseUserToken(token, secret)

Devices holding a token read its subject with TokenSubject, which does not
check the signature.

Tokens must carry an expiry and the "pollsync" issuer. Any failure wraps
ErrInvalidToken. Anonymous voters do not use this package; their tokens are
issued on the device by package identity.

# ID Generation

Random hex IDs for database records:

	id, err := auth.GenerateID(16)  // 32 hex characters

# IP Hashing

For privacy-preserving abuse detection on stored votes:

	hash := auth.HashIP(ipAddress, salt)

Returns first 8 bytes (16 hex chars) of HMAC-SHA256.
*/
package auth
