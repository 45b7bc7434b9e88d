package raft

import (
	"context"
	"time"

	"github.com/cuemby/raftkv/pkg/transport"
	"github.com/cuemby/raftkv/pkg/types"
)

// HandleConfigure implements the leader side of Join/Leave/Reconfigure:
// req.Members carries the full desired member set. A non-leader forwards;
// the leader rejects while a configuration change is already pending or
// its own term has not finished initializing.
func (s *Server) HandleConfigure(ctx context.Context, req transport.ConfigureRequest) (transport.ConfigureResponse, error) {
	s.mu.Lock()
	if s.role != RoleLeader {
		leader := s.leaderID
		s.mu.Unlock()
		return s.forwardConfigure(ctx, leader, req)
	}
	if err := s.cluster.ValidateChange(); err != nil {
		term := s.currentTerm
		s.mu.Unlock()
		return transport.ConfigureResponse{}, types.WrapError(types.ErrConfigurationError, err, "configuration change rejected at term %d", term)
	}
	term := s.currentTerm
	s.mu.Unlock()

	now := time.Now()
	idx, err := s.raftlog.Append(term, types.LogEntry{
		Type: types.EntryConfiguration,
		Configuration: &types.ConfigurationEntry{
			Members: req.Members, Timestamp: now,
		},
	})
	if err != nil {
		return transport.ConfigureResponse{}, types.WrapError(types.ErrInternalError, err, "append configuration entry")
	}

	s.mu.Lock()
	s.cluster.Observe(idx, term, types.ConfigurationEntry{Members: req.Members, Timestamp: now})
	if s.app != nil {
		for _, m := range req.Members {
			if m.ID == s.id || m.Type != types.Active {
				continue
			}
			if _, ok := s.app.MatchIndex(m.ID); !ok {
				s.app.AddFollower(m.ID, idx)
			}
		}
	}
	s.mu.Unlock()

	return transport.ConfigureResponse{Index: idx, Term: term, Members: req.Members}, nil
}

func (s *Server) forwardConfigure(ctx context.Context, leader string, req transport.ConfigureRequest) (transport.ConfigureResponse, error) {
	if leader == "" {
		return transport.ConfigureResponse{}, types.NewError(types.ErrNoLeader, "no known leader")
	}
	return s.transport.SendConfigure(ctx, leader, req)
}
