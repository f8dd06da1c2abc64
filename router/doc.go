// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router defines HTTP routes for the pollsync reference service.

# Route Registration

NewRouter creates a configured http.ServeMux with all endpoints:

	mux := router.NewRouter(conn, cfg, router.Deps{
		Cache:     cache.NewRedis(rdb, cfg.CacheTTL),
		Publisher: realtime.NewNATSPublisher(nc),
		Registry:  reg,
	})

Every Deps field is optional.

# Endpoints

Health and metrics:

	GET /health
	GET /metrics

Polls:

	POST /polls              - Create poll
	GET  /polls              - List public polls (?limit=N)
	GET  /polls/{id}         - Poll with counts
	POST /polls/{id}/close   - Close poll (requires X-Admin-Key)
	POST /drafts/publish     - Publish an offline draft, idempotent on client_draft_id

Votes (bearer token or X-Anonymous-ID):

	POST /polls/{id}/votes    - Cast vote
	GET  /polls/{id}/votes/me - The caller's vote
*/
package router
