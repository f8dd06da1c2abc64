// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/danielhkuo/pollsync/models"
)

// PollCache holds poll snapshots in front of the database. Failures are
// logged and treated as misses; the database stays authoritative.
type PollCache interface {
	Get(ctx context.Context, pollID string) (*models.Poll, bool)
	Set(ctx context.Context, poll models.Poll)
	Invalidate(ctx context.Context, pollID string)
}

// Noop is used when no cache is configured.
type Noop struct{}

func (Noop) Get(context.Context, string) (*models.Poll, bool) { return nil, false }
func (Noop) Set(context.Context, models.Poll)                  {}
func (Noop) Invalidate(context.Context, string)                {}

const keyPrefix = "poll:"

type Redis struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedis(rdb redis.Cmdable, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl, logger: slog.Default()}
}

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

func (c *Redis) Get(ctx context.Context, pollID string) (*models.Poll, bool) {
	data, err := c.rdb.Get(ctx, keyPrefix+pollID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("failed to read poll cache", "error", err, "poll_id", pollID)
		return nil, false
	}
	var p models.Poll
	if err := json.Unmarshal(data, &p); err != nil {
		c.logger.Warn("failed to decode cached poll", "error", err, "poll_id", pollID)
		return nil, false
	}
	return &p, true
}

func (c *Redis) Set(ctx context.Context, poll models.Poll) {
	data, err := json.Marshal(poll)
	if err != nil {
		c.logger.Warn("failed to encode poll for cache", "error", err, "poll_id", poll.ID)
		return
	}
	if err := c.rdb.Set(ctx, keyPrefix+poll.ID, data, c.ttl).Err(); err != nil {
		c.logger.Warn("failed to write poll cache", "error", err, "poll_id", poll.ID)
	}
}

func (c *Redis) Invalidate(ctx context.Context, pollID string) {
	if err := c.rdb.Del(ctx, keyPrefix+pollID).Err(); err != nil {
		c.logger.Warn("failed to invalidate poll cache", "error", err, "poll_id", pollID)
	}
}
