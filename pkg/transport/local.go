package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/raftkv/pkg/appender"
)

// Registry is an in-process Transport: every server registers its Handler
// under its own address, and a Registry value sending to that address
// calls straight into the handler, no network or codec involved. Used by
// test/raftcluster to run a full multi-node cluster in one process.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Bind makes addr reachable, dispatching to h. Named Bind rather than
// Register since Registry also implements the Transport.Register RPC.
func (r *Registry) Bind(addr string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[addr] = h
}

// Evict simulates a server leaving or being partitioned away.
func (r *Registry) Evict(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, addr)
}

func (r *Registry) handler(addr string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[addr]
	if !ok {
		return nil, fmt.Errorf("transport: no route to %s", addr)
	}
	return h, nil
}

func (r *Registry) SendAppend(ctx context.Context, target string, req appender.AppendRequest) (appender.AppendResponse, error) {
	h, err := r.handler(target)
	if err != nil {
		return appender.AppendResponse{}, err
	}
	return h.HandleAppend(ctx, req)
}

func (r *Registry) SendInstall(ctx context.Context, target string, req appender.InstallRequest) (appender.InstallResponse, error) {
	h, err := r.handler(target)
	if err != nil {
		return appender.InstallResponse{}, err
	}
	return h.HandleInstall(ctx, req)
}

func (r *Registry) SendVote(ctx context.Context, target string, req VoteRequest) (VoteResponse, error) {
	h, err := r.handler(target)
	if err != nil {
		return VoteResponse{}, err
	}
	return h.HandleVote(ctx, req)
}

func (r *Registry) SendPoll(ctx context.Context, target string, req PollRequest) (PollResponse, error) {
	h, err := r.handler(target)
	if err != nil {
		return PollResponse{}, err
	}
	return h.HandlePoll(ctx, req)
}

func (r *Registry) SendConfigure(ctx context.Context, target string, req ConfigureRequest) (ConfigureResponse, error) {
	h, err := r.handler(target)
	if err != nil {
		return ConfigureResponse{}, err
	}
	return h.HandleConfigure(ctx, req)
}

func (r *Registry) Connect(ctx context.Context, target string, req ConnectRequest) (ConnectResponse, error) {
	h, err := r.handler(target)
	if err != nil {
		return ConnectResponse{}, err
	}
	return h.HandleConnect(ctx, req)
}

func (r *Registry) Register(ctx context.Context, target string, req RegisterRequest) (RegisterResponse, error) {
	h, err := r.handler(target)
	if err != nil {
		return RegisterResponse{}, err
	}
	return h.HandleRegister(ctx, req)
}

func (r *Registry) KeepAlive(ctx context.Context, target string, req KeepAliveRequest) (KeepAliveResponse, error) {
	h, err := r.handler(target)
	if err != nil {
		return KeepAliveResponse{}, err
	}
	return h.HandleKeepAlive(ctx, req)
}

func (r *Registry) CloseSession(ctx context.Context, target string, req CloseSessionRequest) (CloseSessionResponse, error) {
	h, err := r.handler(target)
	if err != nil {
		return CloseSessionResponse{}, err
	}
	return h.HandleCloseSession(ctx, req)
}

func (r *Registry) Command(ctx context.Context, target string, req CommandRequest) (CommandResponse, error) {
	h, err := r.handler(target)
	if err != nil {
		return CommandResponse{}, err
	}
	return h.HandleCommand(ctx, req)
}

func (r *Registry) Query(ctx context.Context, target string, req QueryRequest) (QueryResponse, error) {
	h, err := r.handler(target)
	if err != nil {
		return QueryResponse{}, err
	}
	return h.HandleQuery(ctx, req)
}

func (r *Registry) Metadata(ctx context.Context, target string, req MetadataRequest) (MetadataResponse, error) {
	h, err := r.handler(target)
	if err != nil {
		return MetadataResponse{}, err
	}
	return h.HandleMetadata(ctx, req)
}

var _ Transport = (*Registry)(nil)
