// Package monitoring exposes kernel metrics through Prometheus.
//
// Collected:
//   - syscalls by call and result word
//   - physical frames live per size class and bytes used
//   - map batch durations
//   - scheduler context switches, preemptions, and donations
//   - live processes and event-stream connections
//   - HTTP request metrics for the introspection surface
//
// Exposition is the standard promhttp handler mounted at /metrics.
package monitoring
