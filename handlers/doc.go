// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package handlers contains HTTP request handlers for the pollsync reference
service.

# Handler Types

Each handler is a struct with repository, config and publisher dependencies:

  - PollHandler: Poll lifecycle (create, read, list, close) and draft publish
  - VotingHandler: Vote submission and lookup

Handlers are created via constructor functions:

	repo := db.NewRepository(conn, pollCache)
	pollHandler := handlers.NewPollHandler(repo, cfg, publisher)

# Poll Lifecycle

Polls are active until closed by their admin or until expires_at passes.

	POST /polls              → CreatePoll (returns admin_key)
	GET  /polls              → ListPolls (public only, ?limit=N)
	GET  /polls/{id}         → GetPoll (with counts)
	POST /polls/{id}/close   → ClosePoll
	POST /drafts/publish     → PublishDraft (201 first time, 200 on replay)

Close requires the X-Admin-Key header.

# Voting

	POST /polls/{id}/votes    → CastVote
	GET  /polls/{id}/votes/me → GetMyVote

The voter is named by a bearer JWT or by the X-Anonymous-ID header.
CastVote runs acceptance.Service over the SQL repository and maps its
outcomes to status codes the sync client understands:

	201 accepted
	404 poll_not_found
	409 already_voted
	410 poll_closed

Accepted votes and closes are announced through realtime.Publisher.
*/
package handlers
