// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package middleware provides HTTP middleware and helper functions.

# Request Logging

Wrap handlers with request logging:

	mux.HandleFunc("GET /health", middleware.WithLogging(handler))

Logs request start (method, path, remote) and completion (duration_ms).

# CORS Middleware

Enable cross-origin requests for frontend access:

	server := http.Server{
		Handler: middleware.CORS(mux),
	}

Allows methods GET, POST, PUT, DELETE, OPTIONS with headers
Content-Type, Authorization, X-Anonymous-ID, X-Admin-Key.

# JSON Helpers

Write JSON responses:

	middleware.JSONResponse(w, http.StatusOK, data)
	middleware.ErrorResponse(w, http.StatusBadRequest, "message")
	middleware.ErrorResponseCode(w, http.StatusGone, models.CodePollClosed, "poll is closed")

Parse JSON request bodies:

	var req models.CreatePollRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

# Voter Identity

RequestIdentity resolves who is voting. A bearer JWT wins; otherwise the
X-Anonymous-ID header must carry a well-formed anonymous token:

	id, err := middleware.RequestIdentity(r, cfg.JWTSecret)
	if errors.Is(err, middleware.ErrNoIdentity) {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "identity required")
		return
	}

# Client IP Extraction

Get the original client IP (handles X-Forwarded-For, X-Real-IP):

	ip := middleware.GetClientIP(r)

Stored hashed next to each vote for abuse review.
*/
package middleware
