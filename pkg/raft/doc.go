// Package raft wires pkg/raftlog, pkg/appender, pkg/cluster, pkg/session,
// pkg/statemachine and pkg/storage into one server: the role state
// machine (Inactive/Reserve/Passive/Follower/Candidate/Leader), election,
// per-entry Append/Install handling, client session and command/query
// dispatch, and forwarding of client RPCs to whichever member currently
// holds leadership.
//
// Server serializes every mutation of role, currentTerm, votedFor and
// leaderID behind a single mutex, standing in for the single-threaded
// primary context a hand-rolled election loop would otherwise need;
// replication itself runs on pkg/appender's own independent lock so a
// slow follower never blocks the primary context from handling RPCs.
package raft
