// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package testutil provides shared test fixtures.

SetupTestDB opens a throwaway SQLite database with the server schema, or
PostgreSQL when TEST_DATABASE_URL is set:

	conn := testutil.SetupTestDB(t)
	pollID, adminKey := testutil.CreateTestPoll(t, conn, cfg, models.StatusActive)

Request helpers (MakeRequest, AssertStatus, AssertJSON) keep handler tests
short. The testserver subpackage wraps the full router in an httptest.Server
for client-side tests.
*/
package testutil
