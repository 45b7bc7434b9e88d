/*
Package session implements the per-client session state that gives
mutating commands linearizable, exactly-once-per-sequence semantics: a
session tracks its own command sequence, a bounded cache of prior results
keyed by sequence, and an ordered, acknowledgable queue of events to
deliver to its bound connection.

A Session's id equals the log index of the OpenSession entry that
created it. All mutation of a session's apply-side fields (pending
results, pending events, command sequence, lifecycle state) happens on
the state-machine executor's single-threaded context; the one exception
is the leader-side admission check on requestSequence, which races with
the executor from the primary context and is therefore gated with an
atomic compare-and-set rather than the session's own mutex.

Session expiration is computed at apply time from the timestamp carried
by the entry being applied, never from a wall clock read, so every
replica reaches the same expiration decision independent of real time.
*/
package session
