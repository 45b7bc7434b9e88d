package session

import (
	"errors"
	"testing"
	"time"

	"github.com/cuemby/raftkv/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoApplier(calls *int) Applier {
	return func(entry *types.CommandEntry) ([]byte, error) {
		*calls++
		return entry.Bytes, nil
	}
}

func TestApplyCommandDedupReturnsCachedResult(t *testing.T) {
	mgr := NewManager()
	s := mgr.Register(3, types.OpenSessionEntry{Name: "c1", Timeout: time.Second})

	calls := 0
	apply := echoApplier(&calls)

	r1 := s.ApplyCommand(&types.CommandEntry{Sequence: 1, Bytes: []byte("x")}, apply)
	assert.Equal(t, []byte("x"), r1.Payload)
	assert.Equal(t, 1, calls)

	r2 := s.ApplyCommand(&types.CommandEntry{Sequence: 1, Bytes: []byte("x")}, apply)
	assert.Equal(t, r1.Payload, r2.Payload)
	assert.Equal(t, 1, calls, "dedup hit must not re-invoke the state machine")
}

func TestApplyCommandSequenceOneTwoThreeTwo(t *testing.T) {
	mgr := NewManager()
	s := mgr.Register(3, types.OpenSessionEntry{Name: "c1", Timeout: time.Second})

	calls := 0
	apply := echoApplier(&calls)

	r1 := s.ApplyCommand(&types.CommandEntry{Sequence: 1, Bytes: []byte("a")}, apply)
	r2 := s.ApplyCommand(&types.CommandEntry{Sequence: 2, Bytes: []byte("b")}, apply)
	r3 := s.ApplyCommand(&types.CommandEntry{Sequence: 3, Bytes: []byte("c")}, apply)
	r4 := s.ApplyCommand(&types.CommandEntry{Sequence: 2, Bytes: []byte("b")}, apply)

	assert.Equal(t, []byte("a"), r1.Payload)
	assert.Equal(t, []byte("b"), r2.Payload)
	assert.Equal(t, []byte("c"), r3.Payload)
	assert.Equal(t, r2.Payload, r4.Payload, "third response replays the cached second")
	assert.Equal(t, 3, calls)
}

func TestApplyCommandQueuesOutOfOrderAndDrains(t *testing.T) {
	mgr := NewManager()
	s := mgr.Register(3, types.OpenSessionEntry{Name: "c1", Timeout: time.Second})

	calls := 0
	apply := echoApplier(&calls)

	r3 := s.ApplyCommand(&types.CommandEntry{Sequence: 3, Bytes: []byte("c")}, apply)
	assert.True(t, r3.Deferred)
	assert.Equal(t, 0, calls)

	s.ApplyCommand(&types.CommandEntry{Sequence: 1, Bytes: []byte("a")}, apply)
	assert.Equal(t, 1, calls)

	s.ApplyCommand(&types.CommandEntry{Sequence: 2, Bytes: []byte("b")}, apply)
	assert.Equal(t, 3, calls, "arrival of sequence 2 should drain the queued sequence 3")
	assert.EqualValues(t, 3, s.CommandSequence())
}

func TestApplyCommandCacheMissReturnsNullResult(t *testing.T) {
	mgr := NewManager()
	s := mgr.Register(3, types.OpenSessionEntry{Name: "c1", Timeout: time.Second})

	calls := 0
	apply := echoApplier(&calls)
	s.ApplyCommand(&types.CommandEntry{Sequence: 1, Bytes: []byte("a")}, apply)

	// commandSequence is 1; sequence 1 has a cached entry, sequence 0 never did.
	r := s.ApplyCommand(&types.CommandEntry{Sequence: 0, Bytes: []byte("z")}, apply)
	assert.Nil(t, r.Payload)
	assert.Equal(t, 1, calls)
}

func TestSetRequestSequenceOnlyAdvancesForward(t *testing.T) {
	mgr := NewManager()
	s := mgr.Register(3, types.OpenSessionEntry{Name: "c1", Timeout: time.Second})

	assert.True(t, s.SetRequestSequence(1))
	assert.True(t, s.SetRequestSequence(2))
	assert.False(t, s.SetRequestSequence(2))
	assert.False(t, s.SetRequestSequence(1))
	assert.EqualValues(t, 2, s.RequestSequence())
}

func TestTouchAdvancesCommandSequenceAndAcksEvents(t *testing.T) {
	mgr := NewManager()
	s := mgr.Register(3, types.OpenSessionEntry{Name: "c1", Timeout: time.Second})

	calls := 0
	apply := echoApplier(&calls)
	s.ApplyCommand(&types.CommandEntry{Sequence: 1, Bytes: []byte("a")}, apply)
	s.PublishEvent(10, []byte("e1"))
	s.PublishEvent(11, []byte("e2"))

	s.Touch(time.Unix(100, 0), 1, 10, "conn-2")

	assert.Equal(t, "conn-2", s.BoundConnection())
	events := s.PendingEvents()
	require.Len(t, events, 1)
	assert.EqualValues(t, 11, events[0].Index)
}

func TestExpiredAtUsesAppliedTimestampNotWallClock(t *testing.T) {
	mgr := NewManager()
	opened := time.Unix(1000, 0)
	s := mgr.Register(3, types.OpenSessionEntry{Name: "c1", Timeout: time.Second, Timestamp: opened})

	assert.False(t, s.ExpiredAt(opened.Add(500*time.Millisecond)))
	assert.True(t, s.ExpiredAt(opened.Add(2*time.Second)))
}

func TestManagerExpireDeadlinesMarksSessionsExpired(t *testing.T) {
	mgr := NewManager()
	opened := time.Unix(0, 0)
	s := mgr.Register(3, types.OpenSessionEntry{Name: "c1", Timeout: time.Second, Timestamp: opened})

	expired := mgr.ExpireDeadlines(opened.Add(2 * time.Second))
	require.Len(t, expired, 1)
	assert.Equal(t, s.ID(), expired[0])
	assert.Equal(t, types.SessionExpired, s.State())
}

func TestManagerKeepAliveBatchTouchesEachSession(t *testing.T) {
	mgr := NewManager()
	a := mgr.Register(3, types.OpenSessionEntry{Name: "a", Timeout: time.Minute})
	b := mgr.Register(4, types.OpenSessionEntry{Name: "b", Timeout: time.Minute})

	touched := mgr.KeepAlive(types.KeepAliveEntry{
		SessionIDs:       []types.SessionID{a.ID(), b.ID()},
		CommandSequences: []uint64{5, 9},
		EventIndexes:     []types.Index{1, 2},
		Connections:      []string{"ca", "cb"},
		Timestamp:        time.Unix(42, 0),
	})

	assert.ElementsMatch(t, []types.SessionID{a.ID(), b.ID()}, touched)
	assert.EqualValues(t, 5, a.CommandSequence())
	assert.EqualValues(t, 9, b.CommandSequence())
	assert.Equal(t, "ca", a.BoundConnection())
}

func TestApplicationErrorIsCachedLikeASuccessfulResult(t *testing.T) {
	mgr := NewManager()
	s := mgr.Register(3, types.OpenSessionEntry{Name: "c1", Timeout: time.Second})

	boom := errors.New("boom")
	calls := 0
	apply := func(entry *types.CommandEntry) ([]byte, error) {
		calls++
		return nil, boom
	}

	r1 := s.ApplyCommand(&types.CommandEntry{Sequence: 1, Bytes: []byte("a")}, apply)
	require.Error(t, r1.Err)

	r2 := s.ApplyCommand(&types.CommandEntry{Sequence: 1, Bytes: []byte("a")}, apply)
	assert.Equal(t, r1.Err, r2.Err)
	assert.Equal(t, 1, calls, "a cached application error must not re-invoke the state machine")
}
