/*
Package metrics exposes Prometheus instrumentation for the tally
daemon: sync cycle counts and durations, tickets allocated and
invalidated, current valid-ticket gauges, per-source upstream entry
gauges and fetch failures, and API request metrics.

Collectors are package-level and registered in init(); Handler serves
them for the /metrics endpoint. Timer is a small helper for recording
durations:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SyncDuration)
*/
package metrics
