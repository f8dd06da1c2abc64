// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package connectivity tells the sync engine when the poll service is
reachable.

Manual is driven by the host, for example from an OS network callback.
Prober pings the service on an interval (remote.Client.Ping hits
GET /health) and flips its state on the result:

	prober := connectivity.NewProber(rc, connectivity.WithInterval(10*time.Second))
	go prober.Run(ctx)

	ch, stop := prober.Subscribe()
	defer stop()
	for online := range ch { ... }

Subscribers receive only transitions and, if they fall behind, only the
latest state.
*/
package connectivity
