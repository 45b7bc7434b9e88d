/*
Package statemachine applies committed log entries to a user-supplied
StateMachine in strict index order on a single goroutine, the same way
the primary Raft context applies log writes: no entry is ever applied
concurrently with another, and no apply is ever retried once it has run.

The executor owns three pieces of apply-time state: a deterministic
clock that only ever advances to the maximum timestamp it has observed
in an entry, a scheduled-task list ordered by that clock, and the
session manager (package session). Wall-clock time never enters an
apply decision — session expiry and scheduled-task firing are both
functions of entry timestamps, so every replica reaches byte-identical
decisions from the same log.
*/
package statemachine
