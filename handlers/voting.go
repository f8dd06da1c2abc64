// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielhkuo/pollsync/acceptance"
	"github.com/danielhkuo/pollsync/auth"
	"github.com/danielhkuo/pollsync/cliparse"
	"github.com/danielhkuo/pollsync/db"
	"github.com/danielhkuo/pollsync/metrics"
	"github.com/danielhkuo/pollsync/middleware"
	"github.com/danielhkuo/pollsync/models"
	"github.com/danielhkuo/pollsync/realtime"
)

type VotingHandler struct {
	repo    *db.Repository
	cfg     cliparse.Config
	pub     realtime.Publisher
	metrics *metrics.Metrics
}

func NewVotingHandler(repo *db.Repository, cfg cliparse.Config, pub realtime.Publisher, m *metrics.Metrics) *VotingHandler {
	if pub == nil {
		pub = realtime.Noop{}
	}
	return &VotingHandler{repo: repo, cfg: cfg, pub: pub, metrics: m}
}

// identity resolves the caller or writes a 401 and returns false.
func (h *VotingHandler) identity(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	id, err := middleware.RequestIdentity(r, h.cfg.JWTSecret)
	if errors.Is(err, middleware.ErrNoIdentity) {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Authorization or X-Anonymous-ID header required")
		return models.Identity{}, false
	}
	if err != nil {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid identity")
		return models.Identity{}, false
	}
	return id, true
}

// CastVote handles POST /polls/{id}/votes
func (h *VotingHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("id")
	if pollID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "poll_id is required")
		return
	}

	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	// Parse request
	var req models.CastVoteRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if !req.Choice.Valid() {
		middleware.ErrorResponse(w, http.StatusBadRequest, "choice must be option_a or option_b")
		return
	}

	// Reuse admin salt for IP hashing
	meta := db.VoteMeta{
		IPHash:    auth.HashIP(middleware.GetClientIP(r), h.cfg.AdminKeySalt),
		UserAgent: r.UserAgent(),
	}
	svc := acceptance.NewService(h.repo.WithMeta(meta), acceptance.WithMetrics(h.metrics))

	out, err := svc.Submit(r.Context(), pollID, req.Choice, identity)
	if err != nil {
		slog.Error("failed to submit vote", "error", err, "poll_id", pollID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to submit vote")
		return
	}

	switch out.Reason {
	case acceptance.PollNotFound:
		middleware.ErrorResponseCode(w, http.StatusNotFound, models.CodePollNotFound, "Poll not found")
		return
	case acceptance.PollClosed:
		middleware.ErrorResponseCode(w, http.StatusGone, models.CodePollClosed, "Poll is closed")
		return
	case acceptance.AlreadyVoted:
		middleware.ErrorResponseCode(w, http.StatusConflict, models.CodeAlreadyVoted, "Already voted on this poll")
		return
	}

	slog.Info("vote accepted", "poll_id", pollID, "vote_id", out.VoteID, "anonymous", identity.IsAnonymous())
	h.pub.PollUpdated(r.Context(), pollID, realtime.KindVote)

	middleware.JSONResponse(w, http.StatusCreated, models.CastVoteResponse{
		VoteID: out.VoteID,
		Choice: req.Choice,
	})
}

// GetMyVote handles GET /polls/{id}/votes/me
func (h *VotingHandler) GetMyVote(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("id")
	if pollID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "poll_id is required")
		return
	}

	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	choice, found, err := h.repo.GetVote(r.Context(), pollID, identity)
	if err != nil {
		slog.Error("failed to query vote", "error", err, "poll_id", pollID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if !found {
		middleware.ErrorResponse(w, http.StatusNotFound, "No vote found")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.MyVoteResponse{Choice: choice})
}
