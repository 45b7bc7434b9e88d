/*
Package client is a thin SDK over pkg/transport for talking to a raftd
cluster: it opens a session, keeps it alive in the background, and
submits Commands and Queries against whichever member turns out to hold
leadership, following NO_LEADER redirects. A stale-sequence rejection
(COMMAND_ERROR) is returned to the caller; the command is not resent.

It does not know anything about gRPC specifically; any pkg/transport.Transport
(a *transport.GRPCClient for a real deployment, a *transport.Registry for
tests) is accepted at construction, so unit tests can exercise the SDK
against an in-process cluster with no sockets involved.
*/
package client
