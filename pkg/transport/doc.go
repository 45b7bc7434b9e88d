/*
Package transport is the RPC boundary between raft servers, and between a
server and a client: Transport is the outbound surface a server or client
uses to reach a peer by address; Handler is the inbound surface every
server implements to answer those calls.

Two implementations are provided. Registry is a plain in-memory address
to Handler map for tests and in-process clusters: sending is a direct Go
call, no encoding involved. GRPCClient/Serve are the production
transport: every RPC, regardless of which Transport method raised it,
rides a single grpc method ("Call") carrying an envelope of a method
name plus a gob-encoded payload. Per-message wire schemas are explicitly
out of scope here, so there is no generated client/server stub pair to
keep in sync — adding a method to Transport and Handler, plus a case in
dispatch, is the entire surface area.
*/
package transport
