// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package identity

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long an anonymous token stays usable.
	DefaultTTL = 30 * 24 * time.Hour

	tokenPrefix = "anon_"
	keyPrefix   = "anon_id:"
	randomLen   = 13
)

var tokenPattern = regexp.MustCompile(`^anon_(\d+)_([0-9A-Za-z]+)$`)

// Storage is the key/value namespace tokens are persisted in.
// Get reports found=false for a missing key without an error.
type Storage interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Generate creates a token of the form anon_<unix ms>_<base36 random>.
func Generate(now time.Time) string {
	var b [8]byte
	_, _ = rand.Read(b[:]) // never returns an error
	random := strconv.FormatUint(binary.BigEndian.Uint64(b[:]), 36)
	if len(random) < randomLen {
		random = strings.Repeat("0", randomLen-len(random)) + random
	}
	return tokenPrefix + strconv.FormatInt(now.UnixMilli(), 10) + "_" + random
}

// IsValid checks the token shape only; it says nothing about expiry.
func IsValid(token string) bool {
	_, ok := TimestampOf(token)
	return ok
}

// TimestampOf returns the issue time in unix milliseconds.
func TimestampOf(token string) (int64, bool) {
	m := tokenPattern.FindStringSubmatch(token)
	if m == nil {
		return 0, false
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}

// IsExpired fails closed: a token that does not parse is expired.
func IsExpired(token string, now time.Time, ttl time.Duration) bool {
	ms, ok := TimestampOf(token)
	if !ok {
		return true
	}
	return now.UnixMilli()-ms > ttl.Milliseconds()
}

// Manager issues and persists one anonymous token per poll.
type Manager struct {
	storage Storage
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu sync.Mutex
	// mirror keeps tokens that could not be written to storage, so a
	// storage outage does not hand out a new identity on every call.
	mirror map[string]string
}

type Option func(*Manager)

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func NewManager(storage Storage, opts ...Option) *Manager {
	m := &Manager{
		storage: storage,
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  slog.Default(),
		mirror:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Generate creates a token stamped with the manager's clock.
func (m *Manager) Generate() string {
	return Generate(m.now())
}

// IsExpired uses the manager's clock and TTL.
func (m *Manager) IsExpired(token string) bool {
	return IsExpired(token, m.now(), m.ttl)
}

// GetOrCreate returns the stored token for pollID, replacing it when it is
// missing, malformed, or expired. Votes cast under a replaced token are not
// migrated.
func (m *Manager) GetOrCreate(ctx context.Context, pollID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token, ok := m.load(ctx, pollID); ok && !m.IsExpired(token) {
		return token
	}

	token := m.Generate()
	m.store(ctx, pollID, token)
	return token
}

// Lookup returns the current token for pollID without creating one.
// Expired tokens are reported as absent.
func (m *Manager) Lookup(ctx context.Context, pollID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.load(ctx, pollID)
	if !ok || m.IsExpired(token) {
		return "", false
	}
	return token, true
}

func (m *Manager) Clear(ctx context.Context, pollID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.mirror, pollID)
	if err := m.storage.Delete(ctx, keyPrefix+pollID); err != nil {
		m.logger.Warn("failed to delete anonymous id", "error", err, "poll_id", pollID)
	}
}

// ListAll maps poll id to token for every stored token, expired or not.
func (m *Manager) ListAll(ctx context.Context) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string, len(m.mirror))
	for pollID, token := range m.mirror {
		out[pollID] = token
	}

	keys, err := m.storage.Keys(ctx, keyPrefix)
	if err != nil {
		m.logger.Warn("failed to list anonymous ids", "error", err)
		return out
	}
	for _, key := range keys {
		pollID := strings.TrimPrefix(key, keyPrefix)
		if token, ok := m.load(ctx, pollID); ok {
			out[pollID] = token
		}
	}
	return out
}

func (m *Manager) ClearAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.mirror)
	keys, err := m.storage.Keys(ctx, keyPrefix)
	if err != nil {
		m.logger.Warn("failed to list anonymous ids", "error", err)
		return
	}
	for _, key := range keys {
		if err := m.storage.Delete(ctx, key); err != nil {
			m.logger.Warn("failed to delete anonymous id", "error", err, "key", key)
		}
	}
}

// load must be called with mu held.
func (m *Manager) load(ctx context.Context, pollID string) (string, bool) {
	token, found, err := m.storage.Get(ctx, keyPrefix+pollID)
	if err != nil {
		m.logger.Warn("failed to read anonymous id", "error", err, "poll_id", pollID)
		token, found = m.mirror[pollID]
		return token, found
	}
	if !found {
		token, found = m.mirror[pollID]
		if found {
			m.store(ctx, pollID, token)
		}
		return token, found
	}
	return token, true
}

// store must be called with mu held.
func (m *Manager) store(ctx context.Context, pollID, token string) {
	if err := m.storage.Set(ctx, keyPrefix+pollID, token); err != nil {
		m.logger.Warn("failed to persist anonymous id", "error", err, "poll_id", pollID)
		m.mirror[pollID] = token
		return
	}
	delete(m.mirror, pollID)
}
