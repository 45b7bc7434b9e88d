package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/raftkv/pkg/transport"
	"github.com/cuemby/raftkv/pkg/types"
	"github.com/google/uuid"
)

// Client is a session-bound handle to a raftd cluster. One Client serves
// one logical application connection: a single session, a single
// monotonic command sequence, and a background keep-alive loop.
type Client struct {
	transport transport.Transport

	mu           sync.Mutex
	addrs        []string
	leader       string
	session      types.SessionID
	connectionID string
	seq          uint64
	lastIndex    types.Index
	timeout      time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Options configures session registration.
type Options struct {
	// Name identifies this client to server-side session metadata.
	Name string
	// Type is an opaque session-type tag, echoed back in MetadataResponse.
	Type string
	// Timeout requests a session timeout; zero defers to the server's
	// configured default.
	Timeout time.Duration
}

// New registers a new session against whichever of addrs answers first,
// following any NO_LEADER redirect, and starts the keep-alive loop.
func New(ctx context.Context, t transport.Transport, addrs []string, opts Options) (*Client, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("client: no addresses given")
	}
	c := &Client{
		transport:    t,
		addrs:        addrs,
		connectionID: uuid.NewString(),
		seq:          1,
		stopCh:       make(chan struct{}),
	}

	reg, target, err := c.registerAt(ctx, addrs, opts)
	if err != nil {
		return nil, err
	}
	c.session = reg.Session
	c.leader = target
	c.timeout = reg.Timeout
	if c.timeout <= 0 {
		c.timeout = 5 * time.Second
	}

	if _, err := c.transport.Connect(ctx, target, transport.ConnectRequest{
		Session: c.session, ConnectionID: c.connectionID,
	}); err != nil {
		return nil, fmt.Errorf("client: bind connection: %w", err)
	}

	c.wg.Add(1)
	go c.keepAliveLoop()
	return c, nil
}

func (c *Client) registerAt(ctx context.Context, addrs []string, opts Options) (transport.RegisterResponse, string, error) {
	var lastErr error
	for _, addr := range addrs {
		resp, err := c.transport.Register(ctx, addr, transport.RegisterRequest{
			Name: opts.Name, Type: opts.Type, Timeout: opts.Timeout,
		})
		if err == nil {
			return resp, addr, nil
		}
		lastErr = err
		if pe, ok := err.(*types.ProtocolError); ok && pe.Code == types.ErrNoLeader && pe.Leader != "" {
			resp, err := c.transport.Register(ctx, pe.Leader, transport.RegisterRequest{
				Name: opts.Name, Type: opts.Type, Timeout: opts.Timeout,
			})
			if err == nil {
				return resp, pe.Leader, nil
			}
			lastErr = err
		}
	}
	return transport.RegisterResponse{}, "", fmt.Errorf("client: register failed against every address: %w", lastErr)
}

// Session returns the session id this client registered.
func (c *Client) Session() types.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) keepAliveLoop() {
	defer c.wg.Done()
	interval := c.timeout / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			session := c.session
			lastSeq := c.seq - 1
			target := c.leader
			c.mu.Unlock()
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			resp, err := c.transport.KeepAlive(ctx, target, transport.KeepAliveRequest{
				SessionIDs:       []types.SessionID{session},
				CommandSequences: []uint64{lastSeq},
				Connections:      []string{c.connectionID},
			})
			cancel()
			if err == nil {
				c.mu.Lock()
				c.leader = resp.Leader
				c.mu.Unlock()
			}
		}
	}
}

// Close terminates the session and stops the keep-alive loop.
func (c *Client) Close(ctx context.Context) error {
	close(c.stopCh)
	c.wg.Wait()
	c.mu.Lock()
	session := c.session
	target := c.leader
	c.mu.Unlock()
	_, err := c.transport.CloseSession(ctx, target, transport.CloseSessionRequest{Session: session})
	return err
}

// Command submits a mutating operation, retrying against a redirected
// leader and reusing the same sequence number across a network-error
// retry so the server's session CAS gate treats it as the same request.
func (c *Client) Command(ctx context.Context, payload []byte) ([]byte, error) {
	c.mu.Lock()
	session := c.session
	seq := c.seq
	target := c.leader
	addrs := c.addrs
	c.mu.Unlock()

	req := transport.CommandRequest{Session: session, Sequence: seq, Payload: payload}
	resp, target, err := c.sendCommand(ctx, target, addrs, req)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.leader = target
	c.seq = seq + 1
	if resp.Index > c.lastIndex {
		c.lastIndex = resp.Index
	}
	c.mu.Unlock()

	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.Result, nil
}

func (c *Client) sendCommand(ctx context.Context, target string, addrs []string, req transport.CommandRequest) (transport.CommandResponse, string, error) {
	resp, err := c.transport.Command(ctx, target, req)
	if err == nil {
		return resp, target, nil
	}
	if pe, ok := err.(*types.ProtocolError); ok && pe.Code == types.ErrNoLeader && pe.Leader != "" {
		resp, err := c.transport.Command(ctx, pe.Leader, req)
		if err == nil {
			return resp, pe.Leader, nil
		}
	}
	for _, addr := range addrs {
		if addr == target {
			continue
		}
		resp, err := c.transport.Command(ctx, addr, req)
		if err == nil {
			return resp, addr, nil
		}
	}
	return transport.CommandResponse{}, target, fmt.Errorf("client: command failed against every known address: %w", err)
}

// Query executes a read-only operation at the given consistency level.
func (c *Client) Query(ctx context.Context, payload []byte, consistency types.Consistency) ([]byte, error) {
	c.mu.Lock()
	session := c.session
	target := c.leader
	// Sequence one past the last issued command, and the highest index a
	// command response has confirmed, so the executor's ordering gate
	// waits for this client's own writes before answering its own reads.
	seq := c.seq
	index := c.lastIndex
	c.mu.Unlock()

	req := transport.QueryRequest{Session: session, Sequence: seq, Index: index, Consistency: consistency, Payload: payload}
	resp, err := c.transport.Query(ctx, target, req)
	if err != nil {
		if pe, ok := err.(*types.ProtocolError); ok && pe.Code == types.ErrNoLeader && pe.Leader != "" {
			resp, err = c.transport.Query(ctx, pe.Leader, req)
			if err == nil {
				c.mu.Lock()
				c.leader = pe.Leader
				c.mu.Unlock()
			}
		}
		if err != nil {
			return nil, err
		}
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.Result, nil
}
