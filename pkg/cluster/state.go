package cluster

import (
	"fmt"
	"sync"

	"github.com/cuemby/raftkv/pkg/types"
)

// State is the membership view held by every server: active, passive and
// reserve members, the index/term of the configuration currently in
// effect, and whether a newer configuration is in flight.
type State struct {
	mu            sync.RWMutex
	config        types.ClusterConfiguration
	pendingIndex  types.Index // index of a logged-but-uncommitted config; 0 if none
	liveStatus    map[string]types.MemberStatus
	initializing  bool // leader's noop+config for this term has not yet committed
}

// New builds a cluster State bootstrapped with a single configuration.
func New(initial types.ClusterConfiguration) *State {
	return &State{
		config:     initial,
		liveStatus: make(map[string]types.MemberStatus),
	}
}

// Observe applies a Configuration entry the moment its append is seen,
// before it commits. Superseded configurations are themselves log entries,
// so a leader-loss rollback naturally reverts this via log truncation.
func (s *State) Observe(index types.Index, term types.Term, entry types.ConfigurationEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = types.ClusterConfiguration{
		Index: index, Term: term, Timestamp: entry.Timestamp, Members: entry.Members,
	}
	s.pendingIndex = index
}

// Commit clears the pending marker once commitIndex reaches the observed
// configuration's index.
func (s *State) Commit(commitIndex types.Index) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingIndex != 0 && s.pendingIndex <= commitIndex {
		s.pendingIndex = 0
	}
}

// IsConfiguring reports whether a configuration change is logged but not
// yet committed; the leader rejects new Join/Leave/Reconfigure requests
// while this holds.
func (s *State) IsConfiguring() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingIndex != 0
}

// SetInitializing marks whether the leader's own Initialize/Configuration
// entries for this term have committed yet. ValidateChange rejects
// configuration changes while this holds; client operations are not
// checked against it and are appended to the log behind those entries.
func (s *State) SetInitializing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initializing = v
}

func (s *State) Initializing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initializing
}

// Configuration returns a copy of the currently active configuration, with
// live availability status merged in.
func (s *State) Configuration() types.ClusterConfiguration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.config
	cfg.Members = make([]types.Member, len(s.config.Members))
	copy(cfg.Members, s.config.Members)
	for i, m := range cfg.Members {
		if st, ok := s.liveStatus[m.ID]; ok {
			cfg.Members[i].Status = st
		}
	}
	return cfg
}

// Member looks up a member's static configuration entry (type, addresses),
// independent of live status.
func (s *State) Member(id string) (types.Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Member(id)
}

// SetMemberStatus records a member's live availability, as tracked by the
// leader appender's failure counter. This is deliberately not itself a
// logged configuration change.
func (s *State) SetMemberStatus(id string, status types.MemberStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveStatus[id] = status
}

// Quorum returns the number of active members required for a majority
// under the currently active configuration.
func (s *State) Quorum() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Quorum()
}

// ActiveMembers returns the voting members of the active configuration.
func (s *State) ActiveMembers() []types.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.ActiveMembers()
}

// ValidateChange rejects a proposed membership change while a
// configuration is pending or the leader has not finished initializing.
func (s *State) ValidateChange() error {
	if s.Initializing() {
		return fmt.Errorf("cluster: leader is still initializing this term")
	}
	if s.IsConfiguring() {
		return fmt.Errorf("cluster: a configuration change is already pending")
	}
	return nil
}
