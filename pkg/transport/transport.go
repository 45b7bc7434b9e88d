package transport

import (
	"context"

	"github.com/cuemby/raftkv/pkg/appender"
)

// Transport is the outbound RPC surface a server uses to reach a peer by
// address: the replication RPCs appender.Sender already specifies, the
// election RPCs, membership changes, and the client-facing request plane
// forwarded on to a known leader.
type Transport interface {
	appender.Sender

	SendVote(ctx context.Context, target string, req VoteRequest) (VoteResponse, error)
	SendPoll(ctx context.Context, target string, req PollRequest) (PollResponse, error)
	SendConfigure(ctx context.Context, target string, req ConfigureRequest) (ConfigureResponse, error)

	Connect(ctx context.Context, target string, req ConnectRequest) (ConnectResponse, error)
	Register(ctx context.Context, target string, req RegisterRequest) (RegisterResponse, error)
	KeepAlive(ctx context.Context, target string, req KeepAliveRequest) (KeepAliveResponse, error)
	CloseSession(ctx context.Context, target string, req CloseSessionRequest) (CloseSessionResponse, error)
	Command(ctx context.Context, target string, req CommandRequest) (CommandResponse, error)
	Query(ctx context.Context, target string, req QueryRequest) (QueryResponse, error)
	Metadata(ctx context.Context, target string, req MetadataRequest) (MetadataResponse, error)
}

// Handler is the inbound side: whatever owns a server address implements
// this to answer every RPC Transport can send it. pkg/raft.Server is the
// production implementation; tests substitute smaller fakes.
type Handler interface {
	HandleAppend(ctx context.Context, req appender.AppendRequest) (appender.AppendResponse, error)
	HandleInstall(ctx context.Context, req appender.InstallRequest) (appender.InstallResponse, error)
	HandleVote(ctx context.Context, req VoteRequest) (VoteResponse, error)
	HandlePoll(ctx context.Context, req PollRequest) (PollResponse, error)
	HandleConfigure(ctx context.Context, req ConfigureRequest) (ConfigureResponse, error)

	HandleConnect(ctx context.Context, req ConnectRequest) (ConnectResponse, error)
	HandleRegister(ctx context.Context, req RegisterRequest) (RegisterResponse, error)
	HandleKeepAlive(ctx context.Context, req KeepAliveRequest) (KeepAliveResponse, error)
	HandleCloseSession(ctx context.Context, req CloseSessionRequest) (CloseSessionResponse, error)
	HandleCommand(ctx context.Context, req CommandRequest) (CommandResponse, error)
	HandleQuery(ctx context.Context, req QueryRequest) (QueryResponse, error)
	HandleMetadata(ctx context.Context, req MetadataRequest) (MetadataResponse, error)
}
