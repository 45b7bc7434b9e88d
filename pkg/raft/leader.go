package raft

import (
	"time"

	"github.com/cuemby/raftkv/pkg/appender"
	"github.com/cuemby/raftkv/pkg/types"
)

// becomeLeader installs a fresh appender for the term just won, targeting
// every active peer, then opens the term with an Initialize entry and a
// refreshed Configuration entry. Configuration changes are rejected
// (cluster.Initializing) until both commit; client operations are not
// gated on it.
func (s *Server) becomeLeader(term types.Term) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentTerm != term {
		return
	}
	s.setRole(RoleLeader)
	s.leaderID = s.id
	s.cluster.SetInitializing(true)

	app := appender.New(term, s.id, s.raftlog, s.snapshots, s.transport, appender.Config{
		HeartbeatInterval:    s.cfg.HeartbeatInterval,
		ElectionTimeout:      s.cfg.ElectionTimeout,
		FailuresUntilUnavail: 3,
	}, s.logger)

	app.OnCommitAdvance = func(idx types.Index) {
		s.mu.Lock()
		s.raftlog.Commit(idx)
		s.cluster.Commit(idx)
		s.applyCommitted()
		s.cluster.SetInitializing(false)
		s.mu.Unlock()
	}
	app.OnStepDown = func(higherTerm types.Term) {
		s.mu.Lock()
		_ = s.persistTermLocked(higherTerm)
		s.setRole(RoleFollower)
		s.resetElectionDeadline()
		s.mu.Unlock()
	}
	app.OnStatusChange = func(id string, status types.MemberStatus) {
		s.cluster.SetMemberStatus(id, status)
	}

	for _, m := range s.cluster.ActiveMembers() {
		if m.ID == s.id {
			continue
		}
		app.AddFollower(m.ID, s.raftlog.LastIndex()+1)
	}
	s.app = app

	now := time.Now()
	if _, err := s.raftlog.Append(term, types.LogEntry{Type: types.EntryInitialize}); err != nil {
		s.logger.Error().Err(err).Msg("leader: append initialize entry failed")
		return
	}
	cfg := s.cluster.Configuration()
	cfg.Members = append([]types.Member(nil), cfg.Members...)
	if _, ok := cfg.Member(s.id); !ok {
		cfg.Members = append(cfg.Members, types.Member{ID: s.id, Type: types.Active, ServerAddress: s.cfg.ServerAddress, ClientAddress: s.cfg.ClientAddress})
	}
	idx, err := s.raftlog.Append(term, types.LogEntry{
		Type: types.EntryConfiguration,
		Configuration: &types.ConfigurationEntry{
			Members: cfg.Members, Timestamp: now,
		},
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("leader: append configuration entry failed")
		return
	}
	s.cluster.Observe(idx, term, types.ConfigurationEntry{Members: cfg.Members, Timestamp: now})
}
