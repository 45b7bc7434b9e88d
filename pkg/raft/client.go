package raft

import (
	"context"
	"time"

	"github.com/cuemby/raftkv/pkg/statemachine"
	"github.com/cuemby/raftkv/pkg/transport"
	"github.com/cuemby/raftkv/pkg/types"
)

// waitCommitted blocks until idx has committed and applied, or the
// deadline passes. It drives the leader's own appender forward rather
// than waiting passively, since nothing else ticks it between requests
// in a quiet cluster.
func (s *Server) waitCommitted(ctx context.Context, idx types.Index) error {
	deadline := time.Now().Add(5 * s.cfg.ElectionTimeout)
	for {
		s.mu.Lock()
		if s.role != RoleLeader {
			s.mu.Unlock()
			return types.NewError(types.ErrNoLeader, "stepped down while awaiting commit of index %d", idx)
		}
		app := s.app
		s.mu.Unlock()

		if app != nil {
			app.Tick(ctx, time.Now())
		}

		s.mu.Lock()
		applied := s.executor.AppliedIndex()
		if s.raftlog.CommitIndex() >= idx && applied < idx {
			s.applyCommitted()
			applied = s.executor.AppliedIndex()
		}
		s.mu.Unlock()
		if applied >= idx {
			return nil
		}
		if time.Now().After(deadline) {
			return types.NewError(types.ErrInternalError, "timed out awaiting commit of index %d", idx)
		}
		time.Sleep(time.Millisecond)
	}
}

// HandleConnect (re)binds a session to a connection, or simply reports
// cluster membership if no session is named yet.
func (s *Server) HandleConnect(ctx context.Context, req transport.ConnectRequest) (transport.ConnectResponse, error) {
	if req.Session != 0 {
		if sess, ok := s.sessions.Get(req.Session); ok {
			sess.Bind(req.ConnectionID)
		}
	}
	cfg := s.Configuration()
	return transport.ConnectResponse{Leader: s.leaderIDSnapshot(), Members: cfg.Members}, nil
}

func (s *Server) leaderIDSnapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderID
}

// HandleRegister opens a new session via the leader, forwarding if this
// server is not it.
func (s *Server) HandleRegister(ctx context.Context, req transport.RegisterRequest) (transport.RegisterResponse, error) {
	s.mu.Lock()
	if s.role != RoleLeader {
		leader := s.leaderID
		s.mu.Unlock()
		if leader == "" {
			return transport.RegisterResponse{}, types.NewError(types.ErrNoLeader, "no known leader")
		}
		return s.transport.Register(ctx, leader, req)
	}
	term := s.currentTerm
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.cfg.SessionTimeout
	}
	s.mu.Unlock()

	now := time.Now()
	idx, err := s.raftlog.Append(term, types.LogEntry{
		Type: types.EntryOpenSession,
		OpenSession: &types.OpenSessionEntry{
			Name: req.Name, Type: req.Type, Timeout: timeout, Timestamp: now,
		},
	})
	if err != nil {
		return transport.RegisterResponse{}, types.WrapError(types.ErrInternalError, err, "append open-session entry")
	}
	if err := s.waitCommitted(ctx, idx); err != nil {
		return transport.RegisterResponse{}, err
	}
	cfg := s.Configuration()
	return transport.RegisterResponse{
		Session: types.SessionID(idx), Leader: s.leaderIDSnapshot(), Members: cfg.Members, Timeout: timeout,
	}, nil
}

// HandleKeepAlive logs a batched liveness update.
func (s *Server) HandleKeepAlive(ctx context.Context, req transport.KeepAliveRequest) (transport.KeepAliveResponse, error) {
	s.mu.Lock()
	if s.role != RoleLeader {
		leader := s.leaderID
		s.mu.Unlock()
		if leader == "" {
			return transport.KeepAliveResponse{}, types.NewError(types.ErrNoLeader, "no known leader")
		}
		return s.transport.KeepAlive(ctx, leader, req)
	}
	term := s.currentTerm
	s.mu.Unlock()

	idx, err := s.raftlog.Append(term, types.LogEntry{
		Type: types.EntryKeepAlive,
		KeepAlive: &types.KeepAliveEntry{
			SessionIDs: req.SessionIDs, CommandSequences: req.CommandSequences,
			EventIndexes: req.EventIndexes, Connections: req.Connections, Timestamp: time.Now(),
		},
	})
	if err != nil {
		return transport.KeepAliveResponse{}, types.WrapError(types.ErrInternalError, err, "append keep-alive entry")
	}
	if err := s.waitCommitted(ctx, idx); err != nil {
		return transport.KeepAliveResponse{}, err
	}
	cfg := s.Configuration()
	return transport.KeepAliveResponse{Leader: s.leaderIDSnapshot(), Members: cfg.Members}, nil
}

// HandleCloseSession explicitly terminates a session.
func (s *Server) HandleCloseSession(ctx context.Context, req transport.CloseSessionRequest) (transport.CloseSessionResponse, error) {
	s.mu.Lock()
	if s.role != RoleLeader {
		leader := s.leaderID
		s.mu.Unlock()
		if leader == "" {
			return transport.CloseSessionResponse{}, types.NewError(types.ErrNoLeader, "no known leader")
		}
		return s.transport.CloseSession(ctx, leader, req)
	}
	term := s.currentTerm
	s.mu.Unlock()

	idx, err := s.raftlog.Append(term, types.LogEntry{
		Type: types.EntryCloseSession,
		CloseSession: &types.CloseSessionEntry{
			Session: req.Session, Timestamp: time.Now(),
		},
	})
	if err != nil {
		return transport.CloseSessionResponse{}, types.WrapError(types.ErrInternalError, err, "append close-session entry")
	}
	return transport.CloseSessionResponse{}, s.waitCommitted(ctx, idx)
}

// HandleCommand admits a mutating operation through the leader-side
// requestSequence gate, logs it, and waits for it to apply.
func (s *Server) HandleCommand(ctx context.Context, req transport.CommandRequest) (transport.CommandResponse, error) {
	s.mu.Lock()
	if s.role != RoleLeader {
		leader := s.leaderID
		s.mu.Unlock()
		if leader == "" {
			return transport.CommandResponse{}, types.NewError(types.ErrNoLeader, "no known leader")
		}
		return s.transport.Command(ctx, leader, req)
	}
	term := s.currentTerm
	s.mu.Unlock()

	sess, ok := s.sessions.Get(req.Session)
	if !ok || sess.State() != types.SessionOpen {
		return transport.CommandResponse{}, &types.ProtocolError{Code: types.ErrUnknownSession, Message: "session is not open"}
	}
	if !sess.SetRequestSequence(req.Sequence) {
		return transport.CommandResponse{}, &types.ProtocolError{Code: types.ErrCommandError, LastSequence: sess.RequestSequence(), Message: "sequence already seen"}
	}

	idx, err := s.raftlog.Append(term, types.LogEntry{
		Type: types.EntryCommand,
		Command: &types.CommandEntry{
			Session: req.Session, Sequence: req.Sequence, Timestamp: time.Now(), Bytes: req.Payload,
		},
	})
	if err != nil {
		return transport.CommandResponse{}, types.WrapError(types.ErrInternalError, err, "append command entry")
	}
	if err := s.waitCommitted(ctx, idx); err != nil {
		return transport.CommandResponse{}, err
	}

	resp := transport.CommandResponse{Index: idx, EventIndex: idx, LastSequence: req.Sequence}
	s.mu.Lock()
	result, ok := s.results[idx]
	delete(s.results, idx)
	s.mu.Unlock()
	if ok && result.Command != nil {
		resp.Result = result.Command.Payload
		if result.Command.Err != nil {
			resp.Err = &types.ProtocolError{Code: types.ErrApplicationError, Message: result.Command.Err.Error()}
		}
	}
	return resp, nil
}

// HandleQuery executes a read-only operation at the requested
// consistency level: Sequential and LinearizableLease are answered
// directly from applied state once ordering preconditions hold;
// Linearizable additionally appends a Query entry so it is ordered
// through the log like a command.
func (s *Server) HandleQuery(ctx context.Context, req transport.QueryRequest) (transport.QueryResponse, error) {
	s.mu.Lock()
	role := s.role
	term := s.currentTerm
	leader := s.leaderID
	s.mu.Unlock()

	if role != RoleLeader {
		if leader == "" {
			return transport.QueryResponse{}, types.NewError(types.ErrNoLeader, "no known leader")
		}
		return s.transport.Query(ctx, leader, req)
	}

	if req.Consistency != types.Linearizable {
		entry := &types.QueryEntry{Session: req.Session, Sequence: req.Sequence, Consistency: req.Consistency, Bytes: req.Payload}
		for i := 0; i < 5000; i++ {
			if qr, done := s.executor.ExecuteQuery(entry, req.Index); done {
				resp := transport.QueryResponse{Index: req.Index, Result: qr.Payload}
				if qr.Err != nil {
					resp.Err = &types.ProtocolError{Code: types.ErrQueryError, Message: qr.Err.Error()}
				}
				return resp, nil
			}
			time.Sleep(time.Millisecond)
		}
		return transport.QueryResponse{}, types.NewError(types.ErrQueryError, "query ordering preconditions never satisfied")
	}

	idx, err := s.raftlog.Append(term, types.LogEntry{
		Type: types.EntryQuery,
		Query: &types.QueryEntry{
			Session: req.Session, Sequence: req.Sequence,
			Consistency: req.Consistency, Bytes: req.Payload, Timestamp: time.Now(),
		},
	})
	if err != nil {
		return transport.QueryResponse{}, types.WrapError(types.ErrInternalError, err, "append query entry")
	}
	if err := s.waitCommitted(ctx, idx); err != nil {
		return transport.QueryResponse{}, err
	}
	// A linearizable query re-verifies leadership with one heartbeat round
	// after its own apply, so a concurrently-elected leader is detected.
	s.mu.Lock()
	app := s.app
	s.mu.Unlock()
	if app != nil {
		app.Tick(ctx, time.Now())
	}
	s.mu.Lock()
	stillLeader := s.role == RoleLeader
	result, ok := s.results[idx]
	delete(s.results, idx)
	s.mu.Unlock()
	if !stillLeader {
		return transport.QueryResponse{}, types.NewError(types.ErrNoLeader, "leadership lost while confirming linearizable query")
	}
	resp := transport.QueryResponse{Index: idx, EventIndex: idx}
	if ok && result.Query != nil {
		resp.Result = result.Query.Payload
		if result.Query.Err != nil {
			resp.Err = &types.ProtocolError{Code: types.ErrApplicationError, Message: result.Query.Err.Error()}
		}
	}
	return resp, nil
}

// HandleMetadata logs a Metadata entry so its snapshot of the session
// table reflects a consistent apply position.
func (s *Server) HandleMetadata(ctx context.Context, req transport.MetadataRequest) (transport.MetadataResponse, error) {
	s.mu.Lock()
	if s.role != RoleLeader {
		leader := s.leaderID
		s.mu.Unlock()
		if leader == "" {
			return transport.MetadataResponse{}, types.NewError(types.ErrNoLeader, "no known leader")
		}
		return s.transport.Metadata(ctx, leader, req)
	}
	term := s.currentTerm
	s.mu.Unlock()

	idx, err := s.raftlog.Append(term, types.LogEntry{
		Type:     types.EntryMetadata,
		Metadata: &types.MetadataEntry{Session: req.Session, Timestamp: time.Now()},
	})
	if err != nil {
		return transport.MetadataResponse{}, types.WrapError(types.ErrInternalError, err, "append metadata entry")
	}
	if err := s.waitCommitted(ctx, idx); err != nil {
		return transport.MetadataResponse{}, err
	}

	s.mu.Lock()
	result, ok := s.results[idx]
	delete(s.results, idx)
	s.mu.Unlock()

	var infos []statemachine.SessionInfo
	if ok {
		infos = result.Metadata
	}
	out := make([]transport.SessionInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, transport.SessionInfo{ID: info.ID, Name: info.Name, Type: info.Type, State: info.State})
	}
	return transport.MetadataResponse{Sessions: out}, nil
}
