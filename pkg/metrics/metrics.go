package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Raft state metrics
	CurrentTerm = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftkv_current_term",
			Help: "The server's current Raft term",
		},
	)

	Role = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "raftkv_role",
			Help: "Whether this server is currently in the named role (1) or not (0)",
		},
		[]string{"role"},
	)

	ClusterMembers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftkv_cluster_members",
			Help: "Total number of active members in the current cluster configuration",
		},
	)

	// Log metrics
	LastLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftkv_last_log_index",
			Help: "Index of the last entry in the local log",
		},
	)

	CommitIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftkv_commit_index",
			Help: "Highest log index known to be committed",
		},
	)

	AppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftkv_applied_index",
			Help: "Highest log index applied to the state machine",
		},
	)

	QuorumLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "raftkv_follower_quorum_lag",
			Help: "Leader's log index minus a follower's matchIndex",
		},
		[]string{"follower"},
	)

	// Replication metrics
	AppendLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raftkv_append_round_trip_seconds",
			Help:    "Round-trip latency of AppendEntries RPCs issued by the leader",
			Buckets: prometheus.DefBuckets,
		},
	)

	ApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raftkv_apply_duration_seconds",
			Help:    "Time taken to apply one committed log entry to the state machine",
			Buckets: prometheus.DefBuckets,
		},
	)

	ElectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raftkv_elections_total",
			Help: "Total number of elections this server has started as a candidate",
		},
	)

	FollowerAvailability = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "raftkv_follower_available",
			Help: "Whether the leader currently considers a follower available (1) or not (0)",
		},
		[]string{"follower"},
	)

	// Session and snapshot metrics
	OpenSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftkv_open_sessions",
			Help: "Number of client sessions currently open",
		},
	)

	SnapshotAge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftkv_snapshot_age_seconds",
			Help: "Seconds elapsed since the most recent snapshot completed",
		},
	)

	SnapshotsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raftkv_snapshots_total",
			Help: "Total number of snapshots taken",
		},
	)

	// Client API metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raftkv_requests_total",
			Help: "Total client requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raftkv_request_duration_seconds",
			Help:    "Client request duration in seconds by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(
		CurrentTerm,
		Role,
		ClusterMembers,
		LastLogIndex,
		CommitIndex,
		AppliedIndex,
		QuorumLag,
		AppendLatency,
		ApplyDuration,
		ElectionsTotal,
		FollowerAvailability,
		OpenSessions,
		SnapshotAge,
		SnapshotsTotal,
		RequestsTotal,
		RequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
