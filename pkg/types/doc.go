/*
Package types defines the data model shared by every layer of the raft
library: log entries and their tagged variants, cluster membership, session
state, and the typed error taxonomy surfaced to clients.

These types carry no behavior of their own — they are the vocabulary the
raftlog, cluster, session, statemachine, appender and raft packages all
import to avoid redefining the same shapes. Keeping them here also breaks
what would otherwise be an import cycle between the log (which stores
entries), the cluster state (which interprets Configuration entries) and
the executor (which interprets every other entry).
*/
package types
