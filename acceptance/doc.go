// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package acceptance decides whether a vote is accepted.

# Rules

Submit checks, in order:

 1. the poll exists (otherwise PollNotFound)
 2. the poll is active: status is not closed and expires_at is in the future
    (otherwise PollClosed)
 3. the identity has not voted on the poll (otherwise AlreadyVoted)

and then inserts the vote. Step 3 is only a fast path; two concurrent
submissions can both pass it, so the Backend's InsertVote must be atomic per
(poll, identity) and report the loser with ErrAlreadyVoted.

# Errors

Rejections come back as an Outcome with a Reason, never as an error.
Submit returns an error only for invalid arguments or a *TransportError
when the Backend fails:

	out, err := svc.Submit(ctx, pollID, models.ChoiceOptionA, id)
	var te *acceptance.TransportError
	if errors.As(err, &te) {
		// retry later
	}

The same Service runs on the device, over the remote client, and on the
server, over the SQL repository.
*/
package acceptance
