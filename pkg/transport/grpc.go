package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/raftkv/pkg/appender"
	"github.com/cuemby/raftkv/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// serviceDesc is hand-written rather than protoc-generated: one RPC,
// "Call", taking and returning an *envelope. Dispatch to the right
// Handle* method happens by switching on envelope.Method, so adding an
// RPC to the Transport/Handler interfaces never touches this descriptor.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "raftkv.Transport",
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Call",
			Handler:    callHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/transport/grpc.go",
}

func callHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	h := srv.(Handler)
	req := new(envelope)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return dispatch(ctx, h, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raftkv.Transport/Call"}
	handler := func(ctx context.Context, req any) (any, error) {
		return dispatch(ctx, h, req.(*envelope))
	}
	return interceptor(ctx, req, info, handler)
}

// dispatch routes one decoded envelope to the matching Handler method and
// re-wraps its response as an outbound envelope.
func dispatch(ctx context.Context, h Handler, req *envelope) (*envelope, error) {
	switch req.Method {
	case methodAppend:
		var in appender.AppendRequest
		if err := gobUnmarshal(req.Payload, &in); err != nil {
			return nil, err
		}
		out, err := h.HandleAppend(ctx, in)
		return encodeResponse(req.Method, out, err)
	case methodInstall:
		var in appender.InstallRequest
		if err := gobUnmarshal(req.Payload, &in); err != nil {
			return nil, err
		}
		out, err := h.HandleInstall(ctx, in)
		return encodeResponse(req.Method, out, err)
	case methodVote:
		var in VoteRequest
		if err := gobUnmarshal(req.Payload, &in); err != nil {
			return nil, err
		}
		out, err := h.HandleVote(ctx, in)
		return encodeResponse(req.Method, out, err)
	case methodPoll:
		var in PollRequest
		if err := gobUnmarshal(req.Payload, &in); err != nil {
			return nil, err
		}
		out, err := h.HandlePoll(ctx, in)
		return encodeResponse(req.Method, out, err)
	case methodConfigure:
		var in ConfigureRequest
		if err := gobUnmarshal(req.Payload, &in); err != nil {
			return nil, err
		}
		out, err := h.HandleConfigure(ctx, in)
		return encodeResponse(req.Method, out, err)
	case methodConnect:
		var in ConnectRequest
		if err := gobUnmarshal(req.Payload, &in); err != nil {
			return nil, err
		}
		out, err := h.HandleConnect(ctx, in)
		return encodeResponse(req.Method, out, err)
	case methodRegister:
		var in RegisterRequest
		if err := gobUnmarshal(req.Payload, &in); err != nil {
			return nil, err
		}
		out, err := h.HandleRegister(ctx, in)
		return encodeResponse(req.Method, out, err)
	case methodKeepAlive:
		var in KeepAliveRequest
		if err := gobUnmarshal(req.Payload, &in); err != nil {
			return nil, err
		}
		out, err := h.HandleKeepAlive(ctx, in)
		return encodeResponse(req.Method, out, err)
	case methodCloseSession:
		var in CloseSessionRequest
		if err := gobUnmarshal(req.Payload, &in); err != nil {
			return nil, err
		}
		out, err := h.HandleCloseSession(ctx, in)
		return encodeResponse(req.Method, out, err)
	case methodCommand:
		var in CommandRequest
		if err := gobUnmarshal(req.Payload, &in); err != nil {
			return nil, err
		}
		out, err := h.HandleCommand(ctx, in)
		return encodeResponse(req.Method, out, err)
	case methodQuery:
		var in QueryRequest
		if err := gobUnmarshal(req.Payload, &in); err != nil {
			return nil, err
		}
		out, err := h.HandleQuery(ctx, in)
		return encodeResponse(req.Method, out, err)
	case methodMetadata:
		var in MetadataRequest
		if err := gobUnmarshal(req.Payload, &in); err != nil {
			return nil, err
		}
		out, err := h.HandleMetadata(ctx, in)
		return encodeResponse(req.Method, out, err)
	default:
		return nil, fmt.Errorf("transport: unknown method %q", req.Method)
	}
}

func encodeResponse(method string, resp any, err error) (*envelope, error) {
	if err != nil {
		if pe, ok := err.(*types.ProtocolError); ok {
			errBytes, encErr := encodeProtocolError(pe)
			if encErr != nil {
				return nil, encErr
			}
			return &envelope{Method: method, Err: errBytes}, nil
		}
		return nil, err
	}
	payload, encErr := gobMarshal(resp)
	if encErr != nil {
		return nil, encErr
	}
	return &envelope{Method: method, Payload: payload}, nil
}

// Serve registers h against s under the hand-written service descriptor.
// Call after grpc.NewServer and before Serve.
func Serve(s *grpc.Server, h Handler) {
	s.RegisterService(&serviceDesc, h)
}

// GRPCClient is a Transport that dials peers lazily over grpc, reusing
// one connection per address.
type GRPCClient struct {
	mu      sync.RWMutex
	conns   map[string]*grpc.ClientConn
	timeout time.Duration
}

func NewGRPCClient(timeout time.Duration) *GRPCClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &GRPCClient{conns: make(map[string]*grpc.ClientConn), timeout: timeout}
}

func (c *GRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *GRPCClient) conn(target string) (*grpc.ClientConn, error) {
	c.mu.RLock()
	conn, ok := c.conns[target]
	c.mu.RUnlock()
	if ok {
		return conn, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[target]; ok {
		return conn, nil
	}

	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", target, err)
	}
	c.conns[target] = conn
	return conn, nil
}

func (c *GRPCClient) call(ctx context.Context, target, method string, req, resp any) error {
	conn, err := c.conn(target)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := gobMarshal(req)
	if err != nil {
		return err
	}
	in := &envelope{Method: method, Payload: payload}
	out := new(envelope)
	if err := conn.Invoke(ctx, "/raftkv.Transport/Call", in, out, grpc.CallContentSubtype(codecName)); err != nil {
		return err
	}
	if len(out.Err) > 0 {
		pe, err := decodeProtocolError(out.Err)
		if err != nil {
			return err
		}
		return pe
	}
	return gobUnmarshal(out.Payload, resp)
}

func (c *GRPCClient) SendAppend(ctx context.Context, target string, req appender.AppendRequest) (appender.AppendResponse, error) {
	var resp appender.AppendResponse
	err := c.call(ctx, target, methodAppend, req, &resp)
	return resp, err
}

func (c *GRPCClient) SendInstall(ctx context.Context, target string, req appender.InstallRequest) (appender.InstallResponse, error) {
	var resp appender.InstallResponse
	err := c.call(ctx, target, methodInstall, req, &resp)
	return resp, err
}

func (c *GRPCClient) SendVote(ctx context.Context, target string, req VoteRequest) (VoteResponse, error) {
	var resp VoteResponse
	err := c.call(ctx, target, methodVote, req, &resp)
	return resp, err
}

func (c *GRPCClient) SendPoll(ctx context.Context, target string, req PollRequest) (PollResponse, error) {
	var resp PollResponse
	err := c.call(ctx, target, methodPoll, req, &resp)
	return resp, err
}

func (c *GRPCClient) SendConfigure(ctx context.Context, target string, req ConfigureRequest) (ConfigureResponse, error) {
	var resp ConfigureResponse
	err := c.call(ctx, target, methodConfigure, req, &resp)
	return resp, err
}

func (c *GRPCClient) Connect(ctx context.Context, target string, req ConnectRequest) (ConnectResponse, error) {
	var resp ConnectResponse
	err := c.call(ctx, target, methodConnect, req, &resp)
	return resp, err
}

func (c *GRPCClient) Register(ctx context.Context, target string, req RegisterRequest) (RegisterResponse, error) {
	var resp RegisterResponse
	err := c.call(ctx, target, methodRegister, req, &resp)
	return resp, err
}

func (c *GRPCClient) KeepAlive(ctx context.Context, target string, req KeepAliveRequest) (KeepAliveResponse, error) {
	var resp KeepAliveResponse
	err := c.call(ctx, target, methodKeepAlive, req, &resp)
	return resp, err
}

func (c *GRPCClient) CloseSession(ctx context.Context, target string, req CloseSessionRequest) (CloseSessionResponse, error) {
	var resp CloseSessionResponse
	err := c.call(ctx, target, methodCloseSession, req, &resp)
	return resp, err
}

func (c *GRPCClient) Command(ctx context.Context, target string, req CommandRequest) (CommandResponse, error) {
	var resp CommandResponse
	err := c.call(ctx, target, methodCommand, req, &resp)
	return resp, err
}

func (c *GRPCClient) Query(ctx context.Context, target string, req QueryRequest) (QueryResponse, error) {
	var resp QueryResponse
	err := c.call(ctx, target, methodQuery, req, &resp)
	return resp, err
}

func (c *GRPCClient) Metadata(ctx context.Context, target string, req MetadataRequest) (MetadataResponse, error) {
	var resp MetadataResponse
	err := c.call(ctx, target, methodMetadata, req, &resp)
	return resp, err
}

var _ Transport = (*GRPCClient)(nil)
