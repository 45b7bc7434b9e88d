package raft

import (
	"context"

	"github.com/cuemby/raftkv/pkg/appender"
	"github.com/cuemby/raftkv/pkg/types"
)

// HandleAppend implements the six-step Append algorithm common to every
// active role (Reserve, Passive, Follower).
func (s *Server) HandleAppend(ctx context.Context, req appender.AppendRequest) (appender.AppendResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Step 1: stale leader.
	if req.Term < s.currentTerm {
		return appender.AppendResponse{Term: s.currentTerm, Succeeded: false, LastLogIndex: s.raftlog.LastIndex()}, nil
	}

	// Step 2: adopt term/leader.
	if req.Term > s.currentTerm {
		if err := s.persistTermLocked(req.Term); err != nil {
			return appender.AppendResponse{}, err
		}
	}
	if req.Term >= s.currentTerm {
		s.leaderID = req.Leader
	}
	s.resetElectionDeadline()
	if s.role == RoleCandidate {
		s.setRole(RoleFollower)
	}

	// Step 3: previous-entry check.
	lastIndex := s.raftlog.LastIndex()
	if req.PrevLogIndex > lastIndex {
		return appender.AppendResponse{Term: s.currentTerm, Succeeded: false, LastLogIndex: lastIndex}, nil
	}
	// A PrevLogIndex exactly at the installed-snapshot boundary is trusted
	// unconditionally: Install already brought this follower's state fully
	// up to that index, and no index record backs it any more for Get to
	// check against.
	if req.PrevLogIndex > 0 && req.PrevLogIndex != s.raftlog.SnapshotIndex() {
		prev, ok, err := s.raftlog.Get(req.PrevLogIndex)
		if err != nil {
			return appender.AppendResponse{}, err
		}
		if !ok || prev.Term != req.PrevLogTerm {
			hint := req.PrevLogIndex - 1
			return appender.AppendResponse{Term: s.currentTerm, Succeeded: false, LastLogIndex: hint}, nil
		}
	}

	// Step 4: append/truncate-on-mismatch, entry by entry.
	nextIndex := req.PrevLogIndex + 1
	for _, entry := range req.Entries {
		existing, ok, err := s.raftlog.Get(nextIndex)
		if err != nil {
			return appender.AppendResponse{}, err
		}
		switch {
		case !ok:
			if _, err := s.raftlog.Append(entry.Term, entry); err != nil {
				return appender.AppendResponse{}, err
			}
		case existing.Term == entry.Term:
			// already present, nothing to do
		default:
			if err := s.raftlog.Truncate(nextIndex - 1); err != nil {
				return appender.AppendResponse{}, err
			}
			if _, err := s.raftlog.Append(entry.Term, entry); err != nil {
				return appender.AppendResponse{}, err
			}
		}
		if entry.Type == types.EntryConfiguration {
			s.cluster.Observe(nextIndex, entry.Term, *entry.Configuration)
			s.observeOwnPromotion(*entry.Configuration)
		}
		nextIndex++
	}

	lastAppended := s.raftlog.LastIndex()

	// Step 5: advance commit index.
	newCommit := req.CommitIndex
	if lastAppended < newCommit {
		newCommit = lastAppended
	}
	if newCommit > s.raftlog.CommitIndex() {
		s.raftlog.Commit(newCommit)
		s.cluster.Commit(newCommit)
	}

	// Step 6: schedule apply of everything newly committed.
	s.applyCommitted()

	return appender.AppendResponse{Term: s.currentTerm, Succeeded: true, LastLogIndex: lastAppended}, nil
}

// observeOwnPromotion is the single chosen promotion path: a Reserve node
// observing itself placed into the new configuration moves to Passive
// first, and only to Follower once its own membership type is Active.
// Must be called with mu held.
func (s *Server) observeOwnPromotion(cfg types.ConfigurationEntry) {
	member, ok := memberByID(cfg.Members, s.id)
	if !ok {
		return
	}
	switch {
	case member.Type == types.Active && s.role != RoleLeader && s.role != RoleFollower && s.role != RoleCandidate:
		if s.role == RoleReserve {
			s.setRole(RolePassive)
		}
		s.setRole(RoleFollower)
	case member.Type == types.Passive && s.role == RoleReserve:
		s.setRole(RolePassive)
	}
}

func memberByID(members []types.Member, id string) (types.Member, bool) {
	for _, m := range members {
		if m.ID == id {
			return m, true
		}
	}
	return types.Member{}, false
}

// applyCommitted drives the executor forward to the log's commit index.
// Called with mu held; the executor itself enforces single-goroutine
// apply, so this is safe even though mu only serializes the primary
// context, not the executor context.
func (s *Server) applyCommitted() {
	commit := s.raftlog.CommitIndex()
	for idx := s.executor.AppliedIndex() + 1; idx <= commit; idx++ {
		entry, ok, err := s.raftlog.Get(idx)
		if err != nil || !ok {
			break
		}
		result := s.executor.Apply(entry)
		if s.role == RoleLeader {
			switch entry.Type {
			case types.EntryCommand, types.EntryQuery, types.EntryMetadata, types.EntryOpenSession:
				s.results[idx] = result
			}
		}
	}
	s.pruneResultsLocked()
}

// pruneResultsLocked bounds the results cache so an entry nobody ever
// collects (a lost race with a client timeout) does not leak forever.
func (s *Server) pruneResultsLocked() {
	const keep = 4096
	applied := s.executor.AppliedIndex()
	if applied <= keep {
		return
	}
	floor := applied - keep
	for idx := range s.results {
		if idx <= floor {
			delete(s.results, idx)
		}
	}
}

// HandleInstall receives a (possibly chunked) snapshot from the leader
// and installs it once complete, short-circuiting the local log forward
// to the snapshot's index.
func (s *Server) HandleInstall(ctx context.Context, req appender.InstallRequest) (appender.InstallResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Term < s.currentTerm {
		return appender.InstallResponse{Term: s.currentTerm, Succeeded: false}, nil
	}
	if req.Term > s.currentTerm {
		if err := s.persistTermLocked(req.Term); err != nil {
			return appender.InstallResponse{}, err
		}
	}
	s.resetElectionDeadline()

	snap, err := s.snapshots.CreateSnapshot(stateMachineID, req.Index, req.Data)
	if err != nil {
		return appender.InstallResponse{}, err
	}
	if err := s.executor.Install(snap); err != nil {
		return appender.InstallResponse{}, err
	}

	if req.Index > s.raftlog.LastIndex() {
		if err := s.raftlog.ResetToSnapshot(req.Index); err != nil {
			return appender.InstallResponse{}, err
		}
	} else {
		s.raftlog.Commit(req.Index)
	}
	return appender.InstallResponse{Term: s.currentTerm, Succeeded: true}, nil
}
