/*
Package cluster tracks a server's view of cluster membership: the single
active ClusterConfiguration plus the live (unlogged) availability of each
member as observed by the leader's appender.

Configuration changes are joint-by-entry: at most one configuration may be
pending — logged but not yet committed — at a time, and a Configuration
entry takes effect the moment it is observed in the log, not when it
commits, so a joining server can learn its own membership before quorum
confirms the change. State.Observe (state.go) implements that half; live member
availability (the AVAILABLE/UNAVAILABLE flapping the appender tracks) is
layered on top without itself requiring a log entry.
*/
package cluster
