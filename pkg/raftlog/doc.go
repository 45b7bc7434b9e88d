/*
Package raftlog implements the replicated log: an append-only sequence of
LogEntry values partitioned into bounded segments, each segment backed by a
data file and a memory-mapped offset index.

# Layout

A log lives in a directory and owns a strictly ordered sequence of segments,
one active (writable) segment at a time:

	{name}-{segmentId}-{segmentVersion}.log    entries: length, term, type, payload
	{name}-{segmentId}-{segmentVersion}.index  offset index: 16-byte header + 8B/entry

The segment id space is dense; a new segment is cut when the active one
exceeds MaxEntries or MaxBytes. Compaction removes whole segments from the
front of the log; suffix truncation removes entries from the tail of the
active segment (or rolls back to a prior segment).

# Concurrency

A Log has exactly one writer (the raft server's primary context) and
supports many concurrent LogReader cursors, each of which sees a consistent
prefix of the log regardless of concurrent appends past its position.
Truncation below a reader's position is the caller's responsibility to avoid
(the role state machine never truncates below commitIndex).
*/
package raftlog
