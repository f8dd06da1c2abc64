// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package remote is the device's HTTP client for the poll service.

Client implements acceptance.Backend, so the same acceptance.Service that
guards the server's SQL store also drives votes from the device:

	rc := remote.New("https://polls.example.com",
		remote.WithTokenFunc(remote.StaticToken(userID, bearer)),
	)
	svc := acceptance.NewService(rc)

# Status Mapping

	404 poll_not_found → acceptance.ErrPollNotFound
	409 already_voted  → acceptance.ErrAlreadyVoted
	410 poll_closed    → acceptance.ErrPollClosed

Rejections are recognized by their code, not just the status; any other
response wraps ErrUnexpectedStatus and network failures are returned as-is.
The default http.Client times out after DefaultTimeout.

Anonymous identities travel in the X-Anonymous-ID header; user identities
need a TokenFunc that supplies a bearer token.
*/
package remote
