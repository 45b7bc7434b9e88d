package raft

import (
	"github.com/cuemby/raftkv/pkg/types"
)

// Bootstrap seeds a brand-new cluster containing only this server and
// wins the first term unopposed (S1: single-node bootstrap reaches
// Leader within one election timeout with no peers to contact).
func (s *Server) Bootstrap() {
	s.mu.Lock()
	s.cluster.Observe(0, 0, types.ConfigurationEntry{
		Members: []types.Member{{ID: s.id, Type: types.Active, ServerAddress: s.cfg.ServerAddress, ClientAddress: s.cfg.ClientAddress}},
	})
	term := s.currentTerm + 1
	if err := s.persistTermLocked(term); err != nil {
		s.logger.Error().Err(err).Msg("bootstrap: persist term failed")
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.becomeLeader(term)
}

// Join starts this server as a stateless Reserve member pointed at an
// existing cluster's seed address; it learns the real configuration
// (and its own promotion through the Reserve -> Passive -> Follower
// path) from that leader's Append stream.
func (s *Server) Join(seedAddress string) {
	s.mu.Lock()
	s.setRole(RoleReserve)
	s.leaderID = seedAddress
	s.resetElectionDeadline()
	s.mu.Unlock()
}
