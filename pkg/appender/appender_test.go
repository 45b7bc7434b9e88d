package appender

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/raftkv/pkg/snapshot"
	"github.com/cuemby/raftkv/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLog struct {
	entries []types.LogEntry // index 1..N stored at entries[0..N-1]
}

func (l *fakeLog) LastIndex() types.Index { return types.Index(len(l.entries)) }

func (l *fakeLog) Get(idx types.Index) (types.LogEntry, bool, error) {
	if idx == 0 || int(idx) > len(l.entries) {
		return types.LogEntry{}, false, nil
	}
	return l.entries[idx-1], true, nil
}

func (l *fakeLog) append(term types.Term) {
	l.entries = append(l.entries, types.LogEntry{Index: types.Index(len(l.entries) + 1), Term: term})
}

type noopSnapshots struct{}

func (noopSnapshots) GetSnapshotByID(uint64) (*snapshot.Snapshot, bool) { return nil, false }

type fakeSender struct {
	responses map[string]AppendResponse
	installed map[string]bool
	calls     int
}

func (s *fakeSender) SendAppend(ctx context.Context, target string, req AppendRequest) (AppendResponse, error) {
	s.calls++
	return s.responses[target], nil
}

func (s *fakeSender) SendInstall(ctx context.Context, target string, req InstallRequest) (InstallResponse, error) {
	if s.installed == nil {
		s.installed = make(map[string]bool)
	}
	s.installed[target] = true
	return InstallResponse{Succeeded: true}, nil
}

func TestTickReplicatesAndAdvancesCommitOnQuorum(t *testing.T) {
	log := &fakeLog{}
	log.append(1)
	log.append(1)
	log.append(1)

	sender := &fakeSender{responses: map[string]AppendResponse{
		"b": {Succeeded: true, LastLogIndex: 3},
		"c": {Succeeded: true, LastLogIndex: 3},
	}}

	var committed types.Index
	a := New(1, "a", log, noopSnapshots{}, sender, Config{}, zerolog.Nop())
	a.OnCommitAdvance = func(idx types.Index) { committed = idx }
	a.AddFollower("b", 1)
	a.AddFollower("c", 1)

	a.Tick(context.Background(), time.Now())

	assert.EqualValues(t, 3, committed)
	assert.EqualValues(t, 3, a.CommitIndex())
	mi, ok := a.MatchIndex("b")
	require.True(t, ok)
	assert.EqualValues(t, 3, mi)
}

func TestHandleFailureRollsBackNextIndexUsingHint(t *testing.T) {
	log := &fakeLog{}
	log.append(1)
	log.append(1)
	log.append(1)

	sender := &fakeSender{responses: map[string]AppendResponse{
		"b": {Succeeded: false, LastLogIndex: 1},
	}}

	a := New(1, "a", log, noopSnapshots{}, sender, Config{}, zerolog.Nop())
	a.AddFollower("b", 3)

	a.Tick(context.Background(), time.Now())

	a.mu.Lock()
	next := a.followers["b"].nextIndex
	a.mu.Unlock()
	assert.EqualValues(t, 2, next)
}

func TestFollowerMarkedUnavailableAfterConsecutiveFailures(t *testing.T) {
	log := &fakeLog{}
	log.append(1)

	sender := &fakeSender{responses: map[string]AppendResponse{
		"b": {Succeeded: false, LastLogIndex: 0},
	}}

	var status types.MemberStatus
	var changed bool
	a := New(1, "a", log, noopSnapshots{}, sender, Config{FailuresUntilUnavail: 2, ElectionTimeout: time.Millisecond, HeartbeatInterval: time.Millisecond}, zerolog.Nop())
	a.OnStatusChange = func(id string, s types.MemberStatus) { changed = true; status = s }
	a.AddFollower("b", 1)

	now := time.Now()
	a.Tick(context.Background(), now)
	now = now.Add(2 * time.Millisecond)
	a.Tick(context.Background(), now)
	now = now.Add(2 * time.Millisecond)
	a.Tick(context.Background(), now)

	require.True(t, changed)
	assert.Equal(t, types.Unavailable, status)
}

func TestRecomputeCommitIndexRequiresTrueMajorityWithEvenMemberCount(t *testing.T) {
	log := &fakeLog{}
	for i := 0; i < 5; i++ {
		log.append(1)
	}

	// 1 leader + 3 followers (4 members, majority 3). Only one follower
	// ("d") is caught up to index 5; "b" and "c" are still at 0. That is
	// 2 of 4 members at index 5 (leader + d), one short of a majority, so
	// the commit index must stay at 0, not jump to 5.
	sender := &fakeSender{responses: map[string]AppendResponse{
		"b": {Succeeded: false, LastLogIndex: 0},
		"c": {Succeeded: false, LastLogIndex: 0},
		"d": {Succeeded: true, LastLogIndex: 5},
	}}

	var committed types.Index
	a := New(1, "a", log, noopSnapshots{}, sender, Config{}, zerolog.Nop())
	a.OnCommitAdvance = func(idx types.Index) { committed = idx }
	a.AddFollower("b", 1)
	a.AddFollower("c", 1)
	a.AddFollower("d", 1)

	a.Tick(context.Background(), time.Now())

	assert.EqualValues(t, 0, committed, "must not commit past a true majority")
	assert.EqualValues(t, 0, a.CommitIndex())
}

func TestStepDownInvokedOnHigherTerm(t *testing.T) {
	log := &fakeLog{}
	log.append(1)

	sender := &fakeSender{responses: map[string]AppendResponse{
		"b": {Succeeded: false, Term: 5},
	}}

	var steppedDown types.Term
	a := New(1, "a", log, noopSnapshots{}, sender, Config{}, zerolog.Nop())
	a.OnStepDown = func(t types.Term) { steppedDown = t }
	a.AddFollower("b", 1)

	a.Tick(context.Background(), time.Now())
	assert.EqualValues(t, 5, steppedDown)
}
