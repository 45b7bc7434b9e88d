package session

import (
	"sync"
	"time"

	"github.com/cuemby/raftkv/pkg/types"
)

// Manager owns the slab of sessions for one server. It is the executor's
// single source of truth for session lookup; all mutation of an
// individual Session still happens through that Session's own methods.
type Manager struct {
	mu       sync.RWMutex
	sessions map[types.SessionID]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[types.SessionID]*Session)}
}

// Register creates a session whose id equals the log index of the
// OpenSession entry, giving globally unique, monotonically increasing ids.
func (m *Manager) Register(index types.Index, entry types.OpenSessionEntry) *Session {
	s := newSession(types.SessionID(index), entry)
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	return s
}

// Get looks up a session regardless of its lifecycle state; callers
// inspect State() to decide whether to treat it as usable.
func (m *Manager) Get(id types.SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// KeepAlive applies one batched KeepAlive entry, touching every session it
// names. Unknown session ids are skipped; the executor's caller is
// expected to have already resolved which ids are unknown for the
// response it sends back.
func (m *Manager) KeepAlive(entry types.KeepAliveEntry) (touched []types.SessionID) {
	for i, id := range entry.SessionIDs {
		s, ok := m.Get(id)
		if !ok {
			continue
		}
		var seq uint64
		var evIdx types.Index
		var conn string
		if i < len(entry.CommandSequences) {
			seq = entry.CommandSequences[i]
		}
		if i < len(entry.EventIndexes) {
			evIdx = entry.EventIndexes[i]
		}
		if i < len(entry.Connections) {
			conn = entry.Connections[i]
		}
		s.Touch(entry.Timestamp, seq, evIdx, conn)
		touched = append(touched, id)
	}
	return touched
}

// CloseSession terminates a session explicitly, returning false if the id
// is unknown.
func (m *Manager) CloseSession(id types.SessionID, at time.Time) bool {
	s, ok := m.Get(id)
	if !ok {
		return false
	}
	s.Close(at)
	return true
}

// ExpireDeadlines marks every open session whose idle interval has
// elapsed as of the given apply-time timestamp and returns their ids.
// Deterministic: driven entirely by entry timestamps, never a wall clock.
func (m *Manager) ExpireDeadlines(applied time.Time) []types.SessionID {
	m.mu.RLock()
	candidates := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.RUnlock()

	var expired []types.SessionID
	for _, s := range candidates {
		if s.ExpiredAt(applied) {
			s.Expire(applied)
			expired = append(expired, s.id)
		}
	}
	return expired
}

// List returns every session known to the manager, for Metadata requests.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// MinLastCompleted returns the lowest lastCompleted across all open
// sessions, the bound a snapshot index must not exceed to be marked
// complete. Returns ok=false when there are no open sessions to bound it.
func (m *Manager) MinLastCompleted() (idx types.Index, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	first := true
	for _, s := range m.sessions {
		if s.State() != types.SessionOpen {
			continue
		}
		lc := s.LastCompleted()
		if first || lc < idx {
			idx = lc
			first = false
		}
	}
	return idx, !first
}
