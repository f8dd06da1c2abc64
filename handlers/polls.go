// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/danielhkuo/pollsync/acceptance"
	"github.com/danielhkuo/pollsync/auth"
	"github.com/danielhkuo/pollsync/cliparse"
	"github.com/danielhkuo/pollsync/db"
	"github.com/danielhkuo/pollsync/middleware"
	"github.com/danielhkuo/pollsync/models"
	"github.com/danielhkuo/pollsync/realtime"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxDurationHours = 24 * 30
)

type PollHandler struct {
	repo *db.Repository
	cfg  cliparse.Config
	pub  realtime.Publisher
}

func NewPollHandler(repo *db.Repository, cfg cliparse.Config, pub realtime.Publisher) *PollHandler {
	if pub == nil {
		pub = realtime.Noop{}
	}
	return &PollHandler{repo: repo, cfg: cfg, pub: pub}
}

func validatePoll(req models.CreatePollRequest) string {
	switch {
	case req.Title == "":
		return "title is required"
	case req.OptionA == "" || req.OptionB == "":
		return "option_a and option_b are required"
	case req.OptionA == req.OptionB:
		return "options must differ"
	case req.DurationHours < 0 || req.DurationHours > maxDurationHours:
		return "duration_hours must be between 0 and " + strconv.Itoa(maxDurationHours)
	}
	return ""
}

// CreatePoll handles POST /polls
func (h *PollHandler) CreatePoll(w http.ResponseWriter, r *http.Request) {
	var req models.CreatePollRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	// Validate input
	if msg := validatePoll(req); msg != "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, msg)
		return
	}

	poll, err := h.repo.CreatePoll(r.Context(), req, "")
	if err != nil {
		slog.Error("failed to create poll", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create poll")
		return
	}

	slog.Info("poll created", "poll_id", poll.ID, "expires_at", poll.ExpiresAt)

	middleware.JSONResponse(w, http.StatusCreated, models.CreatePollResponse{
		PollID:   poll.ID,
		AdminKey: auth.GenerateAdminKey(poll.ID, h.cfg.AdminKeySalt),
	})
}

// PublishDraft handles POST /drafts/publish
// Replays of the same client_draft_id return the poll created the first time.
func (h *PollHandler) PublishDraft(w http.ResponseWriter, r *http.Request) {
	var req models.PublishDraftRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.ClientDraftID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "client_draft_id is required")
		return
	}
	if msg := validatePoll(req.CreatePollRequest); msg != "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, msg)
		return
	}

	poll, created, err := h.repo.PublishDraft(r.Context(), req)
	if err != nil {
		slog.Error("failed to publish draft", "error", err, "client_draft_id", req.ClientDraftID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to publish draft")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		slog.Info("draft published", "poll_id", poll.ID, "client_draft_id", req.ClientDraftID)
	}

	middleware.JSONResponse(w, status, models.PublishDraftResponse{
		PollID:   poll.ID,
		AdminKey: auth.GenerateAdminKey(poll.ID, h.cfg.AdminKeySalt),
		Created:  created,
	})
}

// GetPoll handles GET /polls/{id}
func (h *PollHandler) GetPoll(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("id")
	if pollID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "poll_id is required")
		return
	}

	poll, err := h.repo.GetPoll(r.Context(), pollID)
	if errors.Is(err, acceptance.ErrPollNotFound) {
		middleware.ErrorResponseCode(w, http.StatusNotFound, models.CodePollNotFound, "Poll not found")
		return
	}
	if err != nil {
		slog.Error("failed to query poll", "error", err, "poll_id", pollID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, poll)
}

// ListPolls handles GET /polls?limit=N
// Only public polls are listed, newest first.
func (h *PollHandler) ListPolls(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			middleware.ErrorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	polls, err := h.repo.ListPolls(r.Context(), limit, true)
	if err != nil {
		slog.Error("failed to list polls", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.ListPollsResponse{Polls: polls})
}

// ClosePoll handles POST /polls/{id}/close
func (h *PollHandler) ClosePoll(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("id")
	if pollID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "poll_id is required")
		return
	}

	// Validate admin key
	adminKey := r.Header.Get(middleware.HeaderAdminKey)
	if err := auth.ValidateAdminKey(pollID, adminKey, h.cfg.AdminKeySalt); err != nil {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid admin key")
		return
	}

	closedAt, err := h.repo.ClosePoll(r.Context(), pollID)
	switch {
	case errors.Is(err, acceptance.ErrPollNotFound):
		middleware.ErrorResponseCode(w, http.StatusNotFound, models.CodePollNotFound, "Poll not found")
		return
	case errors.Is(err, acceptance.ErrPollClosed):
		middleware.ErrorResponseCode(w, http.StatusConflict, models.CodePollClosed, "Poll is already closed")
		return
	case err != nil:
		slog.Error("failed to close poll", "error", err, "poll_id", pollID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to close poll")
		return
	}

	slog.Info("poll closed", "poll_id", pollID)
	h.pub.PollUpdated(r.Context(), pollID, realtime.KindClosed)

	middleware.JSONResponse(w, http.StatusOK, models.ClosePollResponse{ClosedAt: closedAt})
}
