package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/raftkv/pkg/types"
)

// Event is a state-machine notification queued for delivery to a session,
// ordered by the log index at which it was published.
type Event struct {
	Index   types.Index
	Payload []byte
}

// OperationResult is the cached outcome of one applied command, keyed by
// the session's sequence number so a retransmitted request can be
// answered identically without re-invoking the user state machine.
type OperationResult struct {
	Sequence uint64
	Payload  []byte
	Err      error
	// Deferred is set when the command was enqueued behind a gap in the
	// sequence and has not actually been applied yet.
	Deferred bool
}

// Applier invokes the user state machine for a queued command entry and
// returns its result payload.
type Applier func(entry *types.CommandEntry) ([]byte, error)

// Session is one logical client connection: a stable id, a sequence space
// for deduplicating commands, and an ordered, acknowledgable event queue.
type Session struct {
	mu sync.Mutex

	id        types.SessionID
	name      string
	kind      string
	timeout   time.Duration
	timestamp time.Time
	state     types.SessionState

	requestSequence atomic.Uint64 // leader-side admission high-water mark

	commandSequence uint64 // highest sequence actually applied
	eventIndex      types.Index
	lastApplied     types.Index
	lastCompleted   types.Index

	boundConnection string

	pendingResults  map[uint64]OperationResult
	queuedCommands  map[uint64]*types.CommandEntry
	pendingEvents   []Event
}

func newSession(id types.SessionID, entry types.OpenSessionEntry) *Session {
	return &Session{
		id:             id,
		name:           entry.Name,
		kind:           entry.Type,
		timeout:        entry.Timeout,
		timestamp:      entry.Timestamp,
		state:          types.SessionOpen,
		pendingResults: make(map[uint64]OperationResult),
		queuedCommands: make(map[uint64]*types.CommandEntry),
	}
}

func (s *Session) ID() types.SessionID { return s.id }
func (s *Session) Name() string        { return s.name }
func (s *Session) Type() string        { return s.kind }

func (s *Session) State() types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Timestamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timestamp
}

func (s *Session) CommandSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commandSequence
}

func (s *Session) EventIndex() types.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventIndex
}

func (s *Session) LastApplied() types.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastApplied
}

func (s *Session) LastCompleted() types.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCompleted
}

func (s *Session) SetLastApplied(idx types.Index) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastApplied = idx
	if idx > s.lastCompleted {
		s.lastCompleted = idx
	}
}

func (s *Session) BoundConnection() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundConnection
}

// Bind rebinds the session to a new connection. A later Connect always
// wins over an earlier one (last-writer-wins).
func (s *Session) Bind(connection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boundConnection = connection
}

// SetRequestSequence is the leader-side admission gate: it advances the
// high-water mark and reports success only if n is strictly greater than
// the current value, so a request whose sequence has already been seen
// (a retransmit racing a newer request) is rejected without locking out
// the session entirely.
func (s *Session) SetRequestSequence(n uint64) bool {
	for {
		cur := s.requestSequence.Load()
		if n <= cur {
			return false
		}
		if s.requestSequence.CompareAndSwap(cur, n) {
			return true
		}
	}
}

func (s *Session) RequestSequence() uint64 {
	return s.requestSequence.Load()
}

// ExpiredAt reports whether, given an apply-time timestamp, this session's
// idle interval has exceeded its timeout. Called only with timestamps
// taken from log entries, never a wall clock, so every replica agrees.
func (s *Session) ExpiredAt(applied time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != types.SessionOpen {
		return false
	}
	return applied.Sub(s.timestamp) > s.timeout
}

func (s *Session) Expire(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = types.SessionExpired
	s.timestamp = at
}

func (s *Session) Close(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = types.SessionClosed
	s.timestamp = at
}

// Touch applies one KeepAlive's worth of updates: refresh the liveness
// timestamp, advance commandSequence clearing results at or below it,
// advance eventIndex discarding acknowledged pending events, and rebind
// the connection.
func (s *Session) Touch(at time.Time, commandSequence uint64, eventIndex types.Index, connection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timestamp = at
	if commandSequence > s.commandSequence {
		s.commandSequence = commandSequence
	}
	for seq := range s.pendingResults {
		if seq <= commandSequence {
			delete(s.pendingResults, seq)
		}
	}
	s.ackEventsLocked(eventIndex)
	if connection != "" {
		s.boundConnection = connection
	}
}

// ApplyCommand enforces strictly-increasing per-session sequencing: a
// retransmit at or below the last-applied sequence returns the cached
// result (or a null result on a cache miss); the next expected sequence
// applies immediately and drains any commands queued behind it; anything
// further ahead is queued until its predecessors arrive.
func (s *Session) ApplyCommand(entry *types.CommandEntry, apply Applier) OperationResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case entry.Sequence <= s.commandSequence:
		if r, ok := s.pendingResults[entry.Sequence]; ok {
			return r
		}
		return OperationResult{Sequence: entry.Sequence}
	case entry.Sequence == s.commandSequence+1:
		result := s.invokeLocked(entry, apply)
		s.drainQueuedLocked(apply)
		return result
	default:
		s.queuedCommands[entry.Sequence] = entry
		return OperationResult{Sequence: entry.Sequence, Deferred: true}
	}
}

func (s *Session) invokeLocked(entry *types.CommandEntry, apply Applier) OperationResult {
	payload, err := apply(entry)
	result := OperationResult{Sequence: entry.Sequence, Payload: payload, Err: err}
	s.pendingResults[entry.Sequence] = result
	s.commandSequence = entry.Sequence
	return result
}

func (s *Session) drainQueuedLocked(apply Applier) {
	for {
		next := s.commandSequence + 1
		entry, ok := s.queuedCommands[next]
		if !ok {
			return
		}
		delete(s.queuedCommands, next)
		s.invokeLocked(entry, apply)
	}
}

// PublishEvent enqueues an event for delivery, tagged with the log index
// at which it was published. Callers must publish in non-decreasing
// index order; delivery is therefore gap-free by construction.
func (s *Session) PublishEvent(index types.Index, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingEvents = append(s.pendingEvents, Event{Index: index, Payload: payload})
}

// PendingEvents returns a snapshot of undelivered-or-unacked events in
// ascending index order.
func (s *Session) PendingEvents() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.pendingEvents))
	copy(out, s.pendingEvents)
	return out
}

// AckEvents discards pending events at or below eventIndex, as reported
// by a client's KeepAlive.
func (s *Session) AckEvents(eventIndex types.Index) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ackEventsLocked(eventIndex)
}

func (s *Session) ackEventsLocked(eventIndex types.Index) {
	if eventIndex > s.eventIndex {
		s.eventIndex = eventIndex
	}
	kept := s.pendingEvents[:0]
	for _, e := range s.pendingEvents {
		if e.Index > eventIndex {
			kept = append(kept, e)
		}
	}
	s.pendingEvents = kept
}
