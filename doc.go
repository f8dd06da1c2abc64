// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the pollsync reference server.

pollsync keeps two-option polls consistent between devices that vote while
offline and the service that owns the polls. This binary is that service;
the client side lives in the client, syncer, store and identity packages
and the pollctl command.

# Starting the Server

The server requires environment variables or CLI flags for configuration:

	DATABASE_URL=pollsync.db ADMIN_KEY_SALT=... JWT_SECRET=... go run .

Or with flags:

	go run . -p 3318 -t postgres -d "postgres://..."

A .env file in the working directory is loaded first if present.

# Configuration

Required settings:

  - DATABASE_URL (-d): SQLite path or PostgreSQL connection string
  - ADMIN_KEY_SALT (--admin-salt): Secret for admin key HMAC and IP hashing
  - JWT_SECRET (--jwt-secret): HS256 secret for user bearer tokens

Optional settings:

  - PORT (-p): Server port (default: 3318)
  - DATABASE_TYPE (-t): sqlite (default) or postgres
  - REDIS_URL (--redis): Poll snapshot cache
  - NATS_URL (--nats): Poll update events
  - CACHE_TTL (--cache-ttl): Poll cache entry lifetime (default: 30s)

# Architecture

  - handlers: HTTP request handlers (polls, votes, draft publish)
  - router: Route definitions using Go 1.22+ routing
  - middleware: CORS, logging, identity, JSON helpers
  - acceptance: One vote per identity per poll
  - db: Schema and SQL repository
  - cache: Redis poll cache
  - realtime: NATS poll update events
  - metrics: Prometheus collectors served at /metrics
  - models: Request/response and domain types
  - auth: IDs, admin keys, IP hashing and user JWTs
  - cliparse: Configuration parsing

See package documentation for each component.
*/
package main
