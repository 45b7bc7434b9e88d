/*
Package appender implements the leader's replication pipeline: per-follower
nextIndex/matchIndex tracking, quorum commit-index computation, and
install-snapshot fallback for a follower that has fallen behind the
leader's retained log.

It is grounded on the atomix/atomix-raft-storage appender (member-appender
goroutine-per-follower design), adapted into a single append cycle driven
by the primary context's heartbeat timer instead of one goroutine per
member, since this library's primary context is itself already
single-threaded and dispatches all outbound sends through one Transport.
*/
package appender
