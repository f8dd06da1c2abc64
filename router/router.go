// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"database/sql"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielhkuo/pollsync/cache"
	"github.com/danielhkuo/pollsync/cliparse"
	"github.com/danielhkuo/pollsync/db"
	"github.com/danielhkuo/pollsync/handlers"
	"github.com/danielhkuo/pollsync/metrics"
	"github.com/danielhkuo/pollsync/middleware"
	"github.com/danielhkuo/pollsync/realtime"
)

// Deps are the optional collaborators of the router. Zero values disable
// caching and realtime events and use a private metrics registry.
type Deps struct {
	Cache     cache.PollCache
	Publisher realtime.Publisher
	Registry  *prometheus.Registry
}

func NewRouter(conn *sql.DB, cfg cliparse.Config, deps Deps) *http.ServeMux {
	mux := http.NewServeMux()

	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	m := metrics.New(deps.Registry)

	// Initialize handlers
	repo := db.NewRepository(conn, deps.Cache)
	pollHandler := handlers.NewPollHandler(repo, cfg, deps.Publisher)
	votingHandler := handlers.NewVotingHandler(repo, cfg, deps.Publisher, m)

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))

	// Polls
	mux.HandleFunc("POST /polls", middleware.WithLogging(pollHandler.CreatePoll))
	mux.HandleFunc("GET /polls", middleware.WithLogging(pollHandler.ListPolls))
	mux.HandleFunc("GET /polls/{id}", middleware.WithLogging(pollHandler.GetPoll))
	mux.HandleFunc("POST /polls/{id}/close", middleware.WithLogging(pollHandler.ClosePoll))
	mux.HandleFunc("POST /drafts/publish", middleware.WithLogging(pollHandler.PublishDraft))

	// Votes
	mux.HandleFunc("POST /polls/{id}/votes", middleware.WithLogging(votingHandler.CastVote))
	mux.HandleFunc("GET /polls/{id}/votes/me", middleware.WithLogging(votingHandler.GetMyVote))

	// Root endpoint
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pollsync API v1"))
	})

	return mux
}
