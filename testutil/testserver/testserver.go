// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package testserver runs the reference HTTP service in-process for client
// side tests.
package testserver

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danielhkuo/pollsync/cliparse"
	"github.com/danielhkuo/pollsync/models"
	"github.com/danielhkuo/pollsync/router"
	"github.com/danielhkuo/pollsync/testutil"
)

// Server is an httptest server backed by a fresh test database. While down
// every request fails with 503, which clients treat as a transport failure.
type Server struct {
	*httptest.Server
	DB     *sql.DB
	Config cliparse.Config

	down     atomic.Bool
	requests atomic.Int64
}

func New(t *testing.T) *Server {
	t.Helper()

	s := &Server{
		DB:     testutil.SetupTestDB(t),
		Config: testutil.GetTestConfig(),
	}
	mux := router.NewRouter(s.DB, s.Config, router.Deps{})
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		if s.down.Load() {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

// SetDown toggles the simulated outage.
func (s *Server) SetDown(down bool) {
	s.down.Store(down)
}

// Requests is the number of requests received, including failed ones.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// CreatePoll inserts an active poll that expires in a day.
func (s *Server) CreatePoll(t *testing.T) string {
	t.Helper()
	id, _ := testutil.CreateTestPoll(t, s.DB, s.Config, models.StatusActive)
	return id
}

// CreatePollExpiring inserts an active poll with the given expiry.
func (s *Server) CreatePollExpiring(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	id, _ := testutil.CreateTestPollExpiring(t, s.DB, s.Config, models.StatusActive, expiresAt)
	return id
}

// ClosePoll marks a poll closed directly in the database.
func (s *Server) ClosePoll(t *testing.T, pollID string) {
	t.Helper()
	_, err := s.DB.Exec(`UPDATE poll SET status = $1, closed_at = $2 WHERE id = $3`,
		models.StatusClosed, time.Now().UnixMilli(), pollID)
	if err != nil {
		t.Fatalf("Failed to close poll: %v", err)
	}
}

// VoteCount is the number of stored votes for pollID.
func (s *Server) VoteCount(t *testing.T, pollID string) int {
	t.Helper()
	var n int
	if err := s.DB.QueryRow(`SELECT COUNT(*) FROM vote WHERE poll_id = $1`, pollID).Scan(&n); err != nil {
		t.Fatalf("Failed to count votes: %v", err)
	}
	return n
}

// PollCount is the number of stored polls.
func (s *Server) PollCount(t *testing.T) int {
	t.Helper()
	var n int
	if err := s.DB.QueryRow(`SELECT COUNT(*) FROM poll`).Scan(&n); err != nil {
		t.Fatalf("Failed to count polls: %v", err)
	}
	return n
}
