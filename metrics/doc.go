// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package metrics holds the Prometheus collectors for vote submission and sync.

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

Collectors (all prefixed pollsync_):

  - votes_submitted_total{outcome}: accepted, poll_not_found, poll_closed,
    already_voted, transport_error
  - flush_runs_total{result}: ok, skipped, offline, timeout
  - flush_items_total{kind,result}: kind is vote or draft
  - pending_items{kind}
  - flush_duration_seconds

Every method is safe to call on a nil *Metrics.
*/
package metrics
