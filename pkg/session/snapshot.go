package session

import (
	"time"

	"github.com/cuemby/raftkv/pkg/types"
)

// resultRecord is the gob-safe form of OperationResult: errors are not
// directly gob-encodable interfaces, so a cached application error is
// flattened to its message and replayed to callers as a plain error on
// restore (sufficient for deterministic redelivery; the original typed
// ProtocolError is not reconstructed).
type resultRecord struct {
	Sequence uint64
	Payload  []byte
	ErrMsg   string
	Deferred bool
}

// Record is the serializable form of a Session, used by snapshot capture
// and install to carry the session table alongside user state machine
// data.
type Record struct {
	ID              types.SessionID
	Name            string
	Type            string
	Timeout         time.Duration
	Timestamp       time.Time
	State           types.SessionState
	RequestSequence uint64
	CommandSequence uint64
	EventIndex      types.Index
	LastApplied     types.Index
	LastCompleted   types.Index
	BoundConnection string
	PendingResults  []resultRecord
	PendingEvents   []Event
}

func (s *Session) exportRecord() Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]resultRecord, 0, len(s.pendingResults))
	for _, r := range s.pendingResults {
		rr := resultRecord{Sequence: r.Sequence, Payload: r.Payload, Deferred: r.Deferred}
		if r.Err != nil {
			rr.ErrMsg = r.Err.Error()
		}
		results = append(results, rr)
	}
	events := make([]Event, len(s.pendingEvents))
	copy(events, s.pendingEvents)

	return Record{
		ID:              s.id,
		Name:            s.name,
		Type:            s.kind,
		Timeout:         s.timeout,
		Timestamp:       s.timestamp,
		State:           s.state,
		RequestSequence: s.requestSequence.Load(),
		CommandSequence: s.commandSequence,
		EventIndex:      s.eventIndex,
		LastApplied:     s.lastApplied,
		LastCompleted:   s.lastCompleted,
		BoundConnection: s.boundConnection,
		PendingResults:  results,
		PendingEvents:   events,
	}
}

func restoreSession(rec Record) *Session {
	s := &Session{
		id:              rec.ID,
		name:            rec.Name,
		kind:            rec.Type,
		timeout:         rec.Timeout,
		timestamp:       rec.Timestamp,
		state:           rec.State,
		commandSequence: rec.CommandSequence,
		eventIndex:      rec.EventIndex,
		lastApplied:     rec.LastApplied,
		lastCompleted:   rec.LastCompleted,
		boundConnection: rec.BoundConnection,
		pendingResults:  make(map[uint64]OperationResult, len(rec.PendingResults)),
		queuedCommands:  make(map[uint64]*types.CommandEntry),
		pendingEvents:   append([]Event{}, rec.PendingEvents...),
	}
	s.requestSequence.Store(rec.RequestSequence)
	for _, rr := range rec.PendingResults {
		result := OperationResult{Sequence: rr.Sequence, Payload: rr.Payload, Deferred: rr.Deferred}
		if rr.ErrMsg != "" {
			result.Err = errString(rr.ErrMsg)
		}
		s.pendingResults[rr.Sequence] = result
	}
	return s
}

type errString string

func (e errString) Error() string { return string(e) }

// Export returns a serializable record of every session known to the
// manager, for inclusion in a state-machine snapshot.
func (m *Manager) Export() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.exportRecord())
	}
	return out
}

// Import replaces the manager's session table with the given records, as
// performed when installing a snapshot.
func (m *Manager) Import(records []Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[types.SessionID]*Session, len(records))
	for _, rec := range records {
		m.sessions[rec.ID] = restoreSession(rec)
	}
}
