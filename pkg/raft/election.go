package raft

import (
	"context"

	"github.com/cuemby/raftkv/pkg/metrics"
	"github.com/cuemby/raftkv/pkg/transport"
	"github.com/cuemby/raftkv/pkg/types"
)

// upToDate is the vote/poll log-currency rule: a candidate's log is at
// least as up-to-date as ours iff its last term is newer, or equal and
// its last index is at least ours.
func upToDate(candidateTerm types.Term, candidateIndex types.Index, ourTerm types.Term, ourIndex types.Index) bool {
	if candidateTerm != ourTerm {
		return candidateTerm > ourTerm
	}
	return candidateIndex >= ourIndex
}

// HandlePoll is the advisory pre-vote: granting one never records a vote
// or changes term, so a partitioned server rejoining the cluster cannot
// disturb a stable leader merely by asking around.
func (s *Server) HandlePoll(ctx context.Context, req transport.PollRequest) (transport.PollResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Term < s.currentTerm {
		return transport.PollResponse{Term: s.currentTerm, Accepted: false}, nil
	}
	ourIndex := s.raftlog.LastIndex()
	ourTerm := s.raftlog.LastTerm()
	accepted := upToDate(req.LogTerm, req.LogIndex, ourTerm, ourIndex)
	return transport.PollResponse{Term: s.currentTerm, Accepted: accepted}, nil
}

// HandleVote is the binding vote: granted iff the term is current or
// newer, no vote has been cast this term for a different candidate, and
// the candidate's log is at least as up-to-date as ours.
func (s *Server) HandleVote(ctx context.Context, req transport.VoteRequest) (transport.VoteResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Term < s.currentTerm {
		return transport.VoteResponse{Term: s.currentTerm, Voted: false}, nil
	}
	if req.Term > s.currentTerm {
		if err := s.persistTermLocked(req.Term); err != nil {
			return transport.VoteResponse{}, err
		}
		if s.role == RoleCandidate || s.role == RoleLeader {
			s.setRole(RoleFollower)
		}
	}

	if s.votedFor != "" && s.votedFor != req.Candidate {
		return transport.VoteResponse{Term: s.currentTerm, Voted: false}, nil
	}

	ourIndex := s.raftlog.LastIndex()
	ourTerm := s.raftlog.LastTerm()
	if !upToDate(req.LogTerm, req.LogIndex, ourTerm, ourIndex) {
		return transport.VoteResponse{Term: s.currentTerm, Voted: false}, nil
	}

	s.votedFor = req.Candidate
	if err := s.store.SaveVote(req.Candidate); err != nil {
		return transport.VoteResponse{}, err
	}
	s.resetElectionDeadline()
	return transport.VoteResponse{Term: s.currentTerm, Voted: true}, nil
}

// startElection runs the Candidate role end to end: pre-vote poll to
// avoid disrupting a live cluster, then a binding vote round at an
// incremented term. It returns once the round resolves one way or
// another; the run loop calls it again on the next election timeout.
func (s *Server) startElection(ctx context.Context) {
	s.mu.Lock()
	if s.role == RoleLeader {
		s.mu.Unlock()
		return
	}
	peers := s.cluster.ActiveMembers()
	ourIndex := s.raftlog.LastIndex()
	ourTerm := s.raftlog.LastTerm()
	candidateTerm := s.currentTerm + 1
	s.resetElectionDeadline()
	s.mu.Unlock()

	if !s.pollMajority(ctx, peers, candidateTerm, ourIndex, ourTerm) {
		return
	}

	s.mu.Lock()
	if s.role == RoleLeader {
		s.mu.Unlock()
		return
	}
	s.setRole(RoleCandidate)
	if err := s.persistTermLocked(candidateTerm); err != nil {
		s.mu.Unlock()
		return
	}
	s.currentTerm = candidateTerm
	s.votedFor = s.id
	_ = s.store.SaveTerm(candidateTerm)
	_ = s.store.SaveVote(s.id)
	s.resetElectionDeadline()
	s.mu.Unlock()

	metrics.ElectionsTotal.Inc()

	if s.voteMajority(ctx, peers, candidateTerm, ourIndex, ourTerm) {
		s.becomeLeader(candidateTerm)
	}
}

func (s *Server) pollMajority(ctx context.Context, peers []types.Member, term types.Term, ourIndex types.Index, ourTerm types.Term) bool {
	quorum := len(peers)/2 + 1
	granted := 1 // a node always implicitly counts its own poll
	for _, m := range peers {
		if m.ID == s.id {
			continue
		}
		resp, err := s.transport.SendPoll(ctx, m.ServerAddress, transport.PollRequest{
			Term: term, Candidate: s.id, LogIndex: ourIndex, LogTerm: ourTerm,
		})
		if err != nil {
			continue
		}
		if resp.Accepted {
			granted++
		}
	}
	return granted >= quorum
}

func (s *Server) voteMajority(ctx context.Context, peers []types.Member, term types.Term, ourIndex types.Index, ourTerm types.Term) bool {
	quorum := len(peers)/2 + 1
	granted := 1
	for _, m := range peers {
		if m.ID == s.id {
			continue
		}
		resp, err := s.transport.SendVote(ctx, m.ServerAddress, transport.VoteRequest{
			Term: term, Candidate: s.id, LogIndex: ourIndex, LogTerm: ourTerm,
		})
		if err != nil {
			continue
		}
		if resp.Term > term {
			s.mu.Lock()
			_ = s.persistTermLocked(resp.Term)
			s.setRole(RoleFollower)
			s.mu.Unlock()
			return false
		}
		if resp.Voted {
			granted++
		}
	}
	return granted >= quorum
}
