/*
Package server hosts slice view scheduling for remote clients.  A single Worker
goroutine owns every slice view and render layer; HTTP (goji) and RPC (gorpc)
front ends translate requests into messages for that worker.

Each worker tick blocks for one message, drains any others already queued, applies
them, and then runs at most one chunk manager priority update covering every slice
view.  Many view changes arriving together therefore cause a single recomputation.

Configuration is read from a TOML file:

	[server]
	httpAddress = "localhost:8000"
	rpcAddress = "localhost:8002"
	corsDomains = ["*"]
	debounce_ms = 5

	[logging]
	logfile = "/var/log/sliceview.log"
	max_log_size = 500 # MB
	max_log_age = 30   # days

	[prefetch]
	enabled = true
	width_multiplier = 1.5
	height_multiplier = 1.5
	depth_steps = 1

	[chunkmanager]
	download_concurrency = 8
	downloads_per_second = 0
	cache_mb = 256
	max_recent = 2048

	[volume.grayscale]
	ref = "gs://my-bucket/em/jpeg"
*/
package server
