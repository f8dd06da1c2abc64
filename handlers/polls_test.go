// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/danielhkuo/pollsync/auth"
	"github.com/danielhkuo/pollsync/cliparse"
	"github.com/danielhkuo/pollsync/db"
	"github.com/danielhkuo/pollsync/models"
	"github.com/danielhkuo/pollsync/testutil"
)

type publishedEvent struct {
	pollID string
	kind   string
}

// recordingPublisher captures realtime events instead of sending them.
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) PollUpdated(_ context.Context, pollID, kind string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{pollID, kind})
}

func (p *recordingPublisher) Events() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}

func setupPollHandler(t *testing.T) (*sql.DB, cliparse.Config, *PollHandler, *recordingPublisher) {
	t.Helper()
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	pub := &recordingPublisher{}
	return conn, cfg, NewPollHandler(db.NewRepository(conn, nil), cfg, pub), pub
}

func TestCreatePoll(t *testing.T) {
	conn, cfg, handler, _ := setupPollHandler(t)

	tests := []struct {
		name           string
		requestBody    interface{}
		expectedStatus int
		checkResponse  func(t *testing.T, resp *models.CreatePollResponse)
	}{
		{
			name: "valid poll creation",
			requestBody: models.CreatePollRequest{
				Title:         "Test Poll",
				Description:   "Test description",
				OptionA:       "Cats",
				OptionB:       "Dogs",
				DurationHours: 48,
			},
			expectedStatus: http.StatusCreated,
			checkResponse: func(t *testing.T, resp *models.CreatePollResponse) {
				if resp.PollID == "" {
					t.Error("Expected non-empty poll_id")
				}

				// Verify admin key is valid
				expectedKey := auth.GenerateAdminKey(resp.PollID, cfg.AdminKeySalt)
				if resp.AdminKey != expectedKey {
					t.Error("Admin key does not match expected value")
				}

				// Verify poll was created in database
				var status string
				var expiresAt, createdAt int64
				err := conn.QueryRow("SELECT status, expires_at, created_at FROM poll WHERE id = $1", resp.PollID).
					Scan(&status, &expiresAt, &createdAt)
				if err != nil {
					t.Fatalf("Failed to query poll: %v", err)
				}
				if status != models.StatusActive {
					t.Errorf("Expected status 'active', got '%s'", status)
				}
				if got := time.Duration(expiresAt-createdAt) * time.Millisecond; got != 48*time.Hour {
					t.Errorf("Expected 48h lifetime, got %v", got)
				}
			},
		},
		{
			name: "missing title",
			requestBody: models.CreatePollRequest{
				OptionA: "Cats",
				OptionB: "Dogs",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "missing option",
			requestBody: models.CreatePollRequest{
				Title:   "Test Poll",
				OptionA: "Cats",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "identical options",
			requestBody: models.CreatePollRequest{
				Title:   "Test Poll",
				OptionA: "Cats",
				OptionB: "Cats",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "negative duration",
			requestBody: models.CreatePollRequest{
				Title:         "Test Poll",
				OptionA:       "Cats",
				OptionB:       "Dogs",
				DurationHours: -1,
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			requestBody:    "invalid json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body []byte
			var err error

			if str, ok := tt.requestBody.(string); ok {
				body = []byte(str)
			} else {
				body, err = json.Marshal(tt.requestBody)
				if err != nil {
					t.Fatalf("Failed to marshal request body: %v", err)
				}
			}

			req := httptest.NewRequest("POST", "/polls", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			handler.CreatePoll(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d. Body: %s", tt.expectedStatus, w.Code, w.Body.String())
			}

			if tt.expectedStatus == http.StatusCreated && tt.checkResponse != nil {
				var resp models.CreatePollResponse
				if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
					t.Fatalf("Failed to decode response: %v", err)
				}
				tt.checkResponse(t, &resp)
			}
		})
	}
}

func TestGetPoll(t *testing.T) {
	conn, cfg, handler, _ := setupPollHandler(t)

	pollID, _ := testutil.CreateTestPoll(t, conn, cfg, models.StatusActive)
	testutil.CreateTestVote(t, conn, pollID, models.ChoiceOptionB, models.Identity{UserID: "u1"})

	t.Run("existing poll", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/polls/"+pollID, nil)
		req.SetPathValue("id", pollID)
		w := httptest.NewRecorder()

		handler.GetPoll(w, req)

		testutil.AssertStatus(t, w, http.StatusOK)
		var poll models.Poll
		testutil.AssertJSON(t, w, &poll)
		if poll.ID != pollID {
			t.Errorf("Expected poll %s, got %s", pollID, poll.ID)
		}
		if poll.OptionBVotes != 1 || poll.VotesCount != 1 {
			t.Errorf("Expected one vote for option_b, got a=%d b=%d total=%d",
				poll.OptionAVotes, poll.OptionBVotes, poll.VotesCount)
		}
	})

	t.Run("missing poll", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/polls/nope", nil)
		req.SetPathValue("id", "nope")
		w := httptest.NewRecorder()

		handler.GetPoll(w, req)

		testutil.AssertStatus(t, w, http.StatusNotFound)
		var resp models.ErrorResponse
		testutil.AssertJSON(t, w, &resp)
		if resp.Code != models.CodePollNotFound {
			t.Errorf("Expected code %q, got %q", models.CodePollNotFound, resp.Code)
		}
	})
}

func TestListPolls(t *testing.T) {
	conn, cfg, handler, _ := setupPollHandler(t)

	for i := 0; i < 3; i++ {
		testutil.CreateTestPoll(t, conn, cfg, models.StatusActive)
	}
	// Private polls are not listed
	if _, err := conn.Exec(`
		INSERT INTO poll (id, title, option_a, option_b, status, is_public, expires_at, created_at)
		VALUES ('private', 'Secret', 'a', 'b', 'active', FALSE, $1, $2)
	`, time.Now().Add(time.Hour).UnixMilli(), time.Now().UnixMilli()); err != nil {
		t.Fatalf("Failed to create private poll: %v", err)
	}

	tests := []struct {
		name           string
		query          string
		expectedStatus int
		expectedCount  int
	}{
		{"default limit", "", http.StatusOK, 3},
		{"explicit limit", "?limit=2", http.StatusOK, 2},
		{"limit above max is capped", "?limit=1000", http.StatusOK, 3},
		{"zero limit", "?limit=0", http.StatusBadRequest, 0},
		{"bad limit", "?limit=abc", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/polls"+tt.query, nil)
			w := httptest.NewRecorder()

			handler.ListPolls(w, req)

			testutil.AssertStatus(t, w, tt.expectedStatus)
			if tt.expectedStatus != http.StatusOK {
				return
			}
			var resp models.ListPollsResponse
			testutil.AssertJSON(t, w, &resp)
			if len(resp.Polls) != tt.expectedCount {
				t.Errorf("Expected %d polls, got %d", tt.expectedCount, len(resp.Polls))
			}
			for _, p := range resp.Polls {
				if p.ID == "private" {
					t.Error("Private poll should not be listed")
				}
			}
		})
	}
}

func TestClosePoll(t *testing.T) {
	conn, cfg, handler, pub := setupPollHandler(t)

	pollID, adminKey := testutil.CreateTestPoll(t, conn, cfg, models.StatusActive)

	tests := []struct {
		name           string
		pollID         string
		adminKey       string
		expectedStatus int
	}{
		{"wrong admin key", pollID, "wrong", http.StatusUnauthorized},
		{"missing admin key", pollID, "", http.StatusUnauthorized},
		{"valid close", pollID, adminKey, http.StatusOK},
		{"already closed", pollID, adminKey, http.StatusConflict},
		{"unknown poll", "missing", auth.GenerateAdminKey("missing", cfg.AdminKeySalt), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/polls/"+tt.pollID+"/close", nil)
			req.SetPathValue("id", tt.pollID)
			if tt.adminKey != "" {
				req.Header.Set("X-Admin-Key", tt.adminKey)
			}
			w := httptest.NewRecorder()

			handler.ClosePoll(w, req)

			testutil.AssertStatus(t, w, tt.expectedStatus)
		})
	}

	var status string
	if err := conn.QueryRow("SELECT status FROM poll WHERE id = $1", pollID).Scan(&status); err != nil {
		t.Fatalf("Failed to query poll: %v", err)
	}
	if status != models.StatusClosed {
		t.Errorf("Expected status 'closed', got '%s'", status)
	}

	events := pub.Events()
	if len(events) != 1 || events[0].kind != "closed" || events[0].pollID != pollID {
		t.Errorf("Expected one closed event for %s, got %+v", pollID, events)
	}
}

func TestPublishDraft(t *testing.T) {
	_, cfg, handler, _ := setupPollHandler(t)

	draft := models.PublishDraftRequest{
		ClientDraftID: "draft-abc",
		CreatePollRequest: models.CreatePollRequest{
			Title:   "Offline draft",
			OptionA: "Yes",
			OptionB: "No",
		},
	}

	publish := func(body interface{}) *httptest.ResponseRecorder {
		req := testutil.MakeRequest("POST", "/drafts/publish", body, nil)
		w := httptest.NewRecorder()
		handler.PublishDraft(w, req)
		return w
	}

	w := publish(draft)
	testutil.AssertStatus(t, w, http.StatusCreated)
	var first models.PublishDraftResponse
	testutil.AssertJSON(t, w, &first)
	if !first.Created || first.PollID == "" {
		t.Fatalf("Expected a created poll, got %+v", first)
	}
	if first.AdminKey != auth.GenerateAdminKey(first.PollID, cfg.AdminKeySalt) {
		t.Error("Admin key does not match expected value")
	}

	// Replaying the same draft returns the same poll
	w = publish(draft)
	testutil.AssertStatus(t, w, http.StatusOK)
	var replay models.PublishDraftResponse
	testutil.AssertJSON(t, w, &replay)
	if replay.Created {
		t.Error("Replay should not create a new poll")
	}
	if replay.PollID != first.PollID {
		t.Errorf("Expected poll %s on replay, got %s", first.PollID, replay.PollID)
	}
	if replay.AdminKey != first.AdminKey {
		t.Error("Replay should return the same admin key")
	}

	t.Run("missing client draft id", func(t *testing.T) {
		bad := draft
		bad.ClientDraftID = ""
		testutil.AssertStatus(t, publish(bad), http.StatusBadRequest)
	})

	t.Run("invalid draft", func(t *testing.T) {
		bad := draft
		bad.ClientDraftID = "draft-other"
		bad.OptionB = ""
		testutil.AssertStatus(t, publish(bad), http.StatusBadRequest)
	})
}
