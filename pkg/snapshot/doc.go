/*
Package snapshot stores named, indexed snapshots of state-machine state
used to seed new replicas and bound log growth.

A snapshot moves through three states: temporary (being written by the
executor), persisted (flushed to a durable file but not yet safe to serve),
and complete (every session has acknowledged events through the snapshot's
log index, so installing it on a fresh replica cannot silently drop an
event a client still expects). Only complete snapshots are ever installed.

File layout mirrors the replicated log's segment naming:

	{name}-{stateMachineId}-{index}.snapshot   header {id, index} + opaque bytes
*/
package snapshot
