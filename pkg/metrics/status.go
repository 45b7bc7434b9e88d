package metrics

import (
	"encoding/json"
	"net/http"
	"time"
)

// StatusReport is a point-in-time snapshot of one server's consensus
// state, serialized for the /status endpoint. It mirrors exactly what
// Collector samples on each tick, so a CLI reading /status sees the
// same numbers a scrape of the Prometheus gauges would.
type StatusReport struct {
	NodeID       string            `json:"nodeId"`
	Role         string            `json:"role"`
	Term         uint64            `json:"term"`
	Leader       string            `json:"leader,omitempty"`
	LastLogIndex uint64            `json:"lastLogIndex"`
	CommitIndex  uint64            `json:"commitIndex"`
	AppliedIndex uint64            `json:"appliedIndex"`
	Members      []string          `json:"members"`
	OpenSessions int               `json:"openSessions"`
	ReplicationLag map[string]uint64 `json:"replicationLag,omitempty"`
	SnapshotAge  string            `json:"snapshotAge,omitempty"`
}

// StatusHandler returns an HTTP handler serving a StatusReport built
// from source. Client RPCs deliberately stop at cluster membership
// (Connect) and application data (Command/Query); this endpoint is how
// an operator or the raftd CLI reads the internal consensus state
// (term, commit index, per-follower lag) that the RPC plane never
// exposes to remote clients.
func StatusHandler(nodeID string, source Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg := source.Configuration()
		members := make([]string, 0, len(cfg.Members))
		for _, m := range cfg.Members {
			members = append(members, m.ID)
		}

		lag := make(map[string]uint64)
		lastIndex := source.LastLogIndex()
		for follower, matchIndex := range source.FollowerMatchIndexes() {
			if lastIndex > matchIndex {
				lag[follower] = uint64(lastIndex - matchIndex)
			} else {
				lag[follower] = 0
			}
		}

		report := StatusReport{
			NodeID:         nodeID,
			Role:           source.CurrentRole(),
			Term:           uint64(source.CurrentTerm()),
			LastLogIndex:   uint64(lastIndex),
			CommitIndex:    uint64(source.CommitIndex()),
			AppliedIndex:   uint64(source.AppliedIndex()),
			Members:        members,
			OpenSessions:   source.OpenSessionCount(),
			ReplicationLag: lag,
		}
		if at, ok := source.LastSnapshotTime(); ok {
			report.SnapshotAge = time.Since(at).String()
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(report)
	}
}
