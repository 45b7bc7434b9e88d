/*
Package storage provides BoltDB-backed persistence for the server's
durable, non-log state: the current term, the candidate voted for in
that term, the last observed cluster configuration, and the directory of
retained snapshots by state-machine id.

This is the state a server must recover on restart before it may
participate in an election or accept an Append — everything else
(the log itself, in-flight session state) is reconstructed from the
segmented log and snapshot store instead.
*/
package storage
