// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines the request, response, and domain types shared by the
server, the remote client, and the offline store.

# Request Types

Types for parsing incoming JSON:

  - CreatePollRequest: title, description, option_a, option_b, is_public, duration_hours
  - CastVoteRequest: choice
  - PublishDraftRequest: client_draft_id plus the CreatePollRequest fields

# Response Types

Types for JSON responses:

  - CreatePollResponse: poll_id, admin_key
  - CastVoteResponse: vote_id, choice
  - MyVoteResponse: choice
  - PublishDraftResponse: poll_id, created
  - ClosePollResponse: closed_at
  - ListPollsResponse: polls
  - ErrorResponse: error, message, code

# Domain Types

  - Poll: authoritative poll with vote counts and expiry
  - Vote: one row per (poll, identity) on the server
  - Identity: user id or anonymous token, never both
  - OfflineVote: device-side vote with a synced flag
  - OfflineDraft: device-side poll draft
  - OfflinePoll: cached poll snapshot with cached_at
  - SyncStatus, StorageUsage: derived views, never persisted

# Constants

Status values:

	StatusActive = "active"
	StatusClosed = "closed"

Choices:

	ChoiceOptionA = "option_a"
	ChoiceOptionB = "option_b"

Rejection codes (ErrorResponse.Code):

	CodePollNotFound = "poll_not_found"
	CodePollClosed   = "poll_closed"
	CodeAlreadyVoted = "already_voted"

A poll is closed when its status says so or when the current time has reached
expires_at; use StatusOf rather than reading Status directly.
*/
package models
