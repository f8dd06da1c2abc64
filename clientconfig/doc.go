// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package clientconfig loads device-side settings for the offline client.

Settings come from defaults, then an optional YAML file, then POLLSYNC_*
environment variables, with later sources winning. Nested keys map to
variables by replacing dots with underscores:

	server.url        POLLSYNC_SERVER_URL
	store.soft_cap    POLLSYNC_STORE_SOFT_CAP
	user.token        POLLSYNC_USER_TOKEN

Byte sizes accept any go-humanize form ("50MiB", "10MB"). Durations use
time.ParseDuration syntax.
*/
package clientconfig
