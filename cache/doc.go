// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cache is a cache-aside layer for poll snapshots on the server.

Entries live under "poll:<id>" as JSON with a short TTL and are dropped
whenever a vote is accepted or the poll is closed. Redis errors never reach
callers; a failed read is a miss and a failed write is logged.

	rdb, err := cache.Connect(ctx, cfg.RedisURL)
	pc := cache.NewRedis(rdb, cfg.CacheTTL)

Noop is used when REDIS_URL is not configured.
*/
package cache
