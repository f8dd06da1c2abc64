// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package testutil

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielhkuo/pollsync/auth"
	"github.com/danielhkuo/pollsync/cliparse"
	"github.com/danielhkuo/pollsync/db"
	"github.com/danielhkuo/pollsync/models"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// TestJWTSecret signs bearer tokens in tests.
const TestJWTSecret = "test-jwt-secret"

// SetupTestDB creates a fresh test database with the full schema.
// It uses a throwaway SQLite file unless TEST_DATABASE_URL points at PostgreSQL.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		conn, err := sql.Open("postgres", url)
		if err != nil {
			t.Fatalf("Failed to open test database: %v", err)
		}
		// Clean up tables before each test
		if err := db.DropSchema(conn); err != nil {
			t.Fatalf("Failed to clean database: %v", err)
		}
		if err := db.CreateSchema(conn); err != nil {
			t.Fatalf("Failed to create schema: %v", err)
		}
		t.Cleanup(func() { conn.Close() })
		return conn
	}

	path := filepath.Join(t.TempDir(), "pollsync.db")
	conn, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	conn.SetMaxOpenConns(1)

	if err := db.CreateSchema(conn); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// GetTestConfig returns a standard test configuration
func GetTestConfig() cliparse.Config {
	return cliparse.Config{
		Port:         3318,
		DatabaseURL:  "file:test.db",
		DatabaseType: "sqlite",
		AdminKeySalt: "test-admin-salt",
		JWTSecret:    TestJWTSecret,
		CacheTTL:     30 * time.Second,
	}
}

// CreateTestPoll creates a poll that expires in a day and returns its ID and admin key.
// status should be "active" or "closed"
func CreateTestPoll(t *testing.T, conn *sql.DB, cfg cliparse.Config, status string) (pollID, adminKey string) {
	t.Helper()
	return CreateTestPollExpiring(t, conn, cfg, status, time.Now().Add(24*time.Hour))
}

// CreateTestPollExpiring is CreateTestPoll with an explicit expiry.
func CreateTestPollExpiring(t *testing.T, conn *sql.DB, cfg cliparse.Config, status string, expiresAt time.Time) (pollID, adminKey string) {
	t.Helper()

	pollID, _ = auth.GenerateID(16)
	adminKey = auth.GenerateAdminKey(pollID, cfg.AdminKeySalt)

	var closedAt sql.NullInt64
	if status == models.StatusClosed {
		closedAt = sql.NullInt64{Int64: time.Now().UnixMilli(), Valid: true}
	}

	_, err := conn.Exec(`
		INSERT INTO poll (id, title, description, option_a, option_b, status, is_public, expires_at, closed_at, created_at)
		VALUES ($1, 'Test Poll', 'A test poll', 'Cats', 'Dogs', $2, TRUE, $3, $4, $5)
	`, pollID, status, expiresAt.UnixMilli(), closedAt, time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("Failed to create test poll: %v", err)
	}

	return pollID, adminKey
}

// CreateTestVote records a vote for identity directly, bypassing acceptance.
func CreateTestVote(t *testing.T, conn *sql.DB, pollID string, choice models.Choice, identity models.Identity) string {
	t.Helper()

	voteID, _ := auth.GenerateID(16)
	_, err := conn.Exec(`
		INSERT INTO vote (id, poll_id, choice, identity, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, voteID, pollID, string(choice), identity.Key(), time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("Failed to create test vote: %v", err)
	}

	return voteID
}

// UserToken issues a bearer token for userID signed with TestJWTSecret.
func UserToken(t *testing.T, userID string) string {
	t.Helper()

	token, err := auth.IssueUserToken(userID, TestJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue user token: %v", err)
	}
	return token
}

// MakeRequest creates an HTTP test request
func MakeRequest(method, path string, body interface{}, headers map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// AssertStatus checks that the response has the expected status code
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertJSON decodes the response body into the provided struct
func AssertJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
}
