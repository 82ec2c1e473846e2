// Package metrics exposes expvar-published counters and gauges for the
// checkpoint lifecycle (creates, restores, backups, sweeps) and the event
// sink. It is consumed by the optional threadpoint-server for /debug/vars
// and /metrics endpoints.
package metrics
