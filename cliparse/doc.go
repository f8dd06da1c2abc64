// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse handles server command-line parsing and configuration.

# Configuration

ParseFlags returns a Config struct with all settings:

	cfg, err := cliparse.ParseFlags(os.Args[1:])

LoadEnvFile reads a .env file first, without overriding variables that are
already set, so the same code path serves local development and deployment.

# Config Fields

  - Port: Server listen port (default: 3318)
  - DatabaseURL: SQLite path or PostgreSQL connection string (required)
  - DatabaseType: sqlite (default) or postgres
  - AdminKeySalt: Secret for admin key HMAC and IP hashing (required)
  - JWTSecret: HS256 secret for user bearer tokens (required)
  - RedisURL: poll cache; caching is off when empty
  - NATSURL: poll update events; publishing is off when empty
  - CacheTTL: poll cache entry lifetime (default: 30s)

# CLI Flags

	-p            Server port
	-d            Database URL
	-t            Database type
	--redis       Redis URL
	--nats        NATS URL
	--cache-ttl   Poll cache TTL
	--admin-salt  Admin key salt
	--jwt-secret  JWT signing secret

# Environment Variables

Flags fall back to environment variables:

	PORT           → -p
	DATABASE_URL   → -d
	DATABASE_TYPE  → -t
	REDIS_URL      → --redis
	NATS_URL       → --nats
	CACHE_TTL      → --cache-ttl
	ADMIN_KEY_SALT → --admin-salt
	JWT_SECRET     → --jwt-secret

CLI flags take precedence over environment variables.
*/
package cliparse
