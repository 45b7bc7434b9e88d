/*
Package metrics exposes Prometheus instrumentation for a raftkv server:
term, role, log/commit/applied indexes, per-follower replication lag,
append and apply latency, open session count, and snapshot age.

Metrics are registered once at package init via prometheus.MustRegister
and exposed through Handler(), the promhttp handler meant to be mounted
at /metrics. Collector polls a Source (normally the running raft.Server)
on a fixed interval and updates the gauges; counters and histograms
(ElectionsTotal, AppendLatency, ApplyDuration, RequestsTotal, ...) are
updated directly by the packages that observe those events, since a
poll loop cannot see point-in-time occurrences.

# Usage

	import "github.com/cuemby/raftkv/pkg/metrics"

	collector := metrics.NewCollector(server)
	collector.Start()
	defer collector.Stop()

	http.Handle("/metrics", metrics.Handler())

Timer is a small helper for histogram observations:

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.ApplyDuration)

health.go in this package additionally exposes /health, /ready, and
/live handlers backed by a component registry independent of the
Prometheus metrics above.
*/
package metrics
