package raft

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/cuemby/raftkv/pkg/appender"
	"github.com/cuemby/raftkv/pkg/raftconfig"
	"github.com/cuemby/raftkv/pkg/statemachine"
	"github.com/cuemby/raftkv/pkg/transport"
	"github.com/stretchr/testify/require"
)

// echoMachine is a minimal StateMachine that mirrors its input back out,
// enough to exercise Command/Query dispatch without a real domain.
type echoMachine struct{}

func (echoMachine) Apply(ctx statemachine.Context, bytes []byte) ([]byte, error) { return bytes, nil }
func (echoMachine) Query(ctx statemachine.Context, bytes []byte) ([]byte, error) { return bytes, nil }
func (echoMachine) Snapshot(w io.Writer) error                                   { return nil }
func (echoMachine) Restore(r io.Reader) error                                    { return nil }

func newTestServer(t *testing.T, id string) *Server {
	t.Helper()
	s, err := New(Config{
		Raft: raftconfig.Config{
			NodeID:            id,
			DataDir:           t.TempDir(),
			ServerAddress:     id,
			ClientAddress:     id,
			ElectionTimeout:   40 * time.Millisecond,
			HeartbeatInterval: 10 * time.Millisecond,
			SessionTimeout:    time.Second,
		}.WithDefaults(),
		Transport: transport.NewRegistry(),
		Machine:   echoMachine{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBootstrapBecomesLeaderUnopposed(t *testing.T) {
	s := newTestServer(t, "n1")
	s.Bootstrap()

	require.Equal(t, RoleLeader, s.role)
	require.Equal(t, s.id, s.leaderID)
	require.Equal(t, "leader", s.CurrentRole())
}

func TestHandleCommandRoundTripsOnSingleNodeCluster(t *testing.T) {
	s := newTestServer(t, "n1")
	s.Bootstrap()

	reg, err := s.HandleRegister(context.Background(), transport.RegisterRequest{Name: "client-1", Type: "default"})
	require.NoError(t, err)
	require.NotZero(t, reg.Session)

	resp, err := s.HandleCommand(context.Background(), transport.CommandRequest{
		Session: reg.Session, Sequence: 1, Payload: []byte("hello"),
	})
	require.NoError(t, err)
	require.Nil(t, resp.Err)
	require.Equal(t, []byte("hello"), resp.Result)
}

func TestHandleCommandRejectsStaleSequence(t *testing.T) {
	s := newTestServer(t, "n1")
	s.Bootstrap()

	reg, err := s.HandleRegister(context.Background(), transport.RegisterRequest{Name: "client-1", Type: "default"})
	require.NoError(t, err)

	_, err = s.HandleCommand(context.Background(), transport.CommandRequest{Session: reg.Session, Sequence: 5, Payload: []byte("a")})
	require.NoError(t, err)

	_, err = s.HandleCommand(context.Background(), transport.CommandRequest{Session: reg.Session, Sequence: 3, Payload: []byte("b")})
	require.Error(t, err)
}

func TestHandleAppendRejectsStaleTerm(t *testing.T) {
	s := newTestServer(t, "n1")
	s.mu.Lock()
	s.currentTerm = 5
	s.mu.Unlock()

	resp, err := s.HandleAppend(context.Background(), appender.AppendRequest{Term: 3, Leader: "stale-leader"})
	require.NoError(t, err)
	require.False(t, resp.Succeeded)
	require.Equal(t, uint64(5), uint64(resp.Term))
}

func TestVoteGrantedOnlyOncePerTerm(t *testing.T) {
	s := newTestServer(t, "n1")

	first, err := s.HandleVote(context.Background(), transport.VoteRequest{Term: 1, Candidate: "a"})
	require.NoError(t, err)
	require.True(t, first.Voted)

	second, err := s.HandleVote(context.Background(), transport.VoteRequest{Term: 1, Candidate: "b"})
	require.NoError(t, err)
	require.False(t, second.Voted)
}

func TestPollNeverRecordsAVote(t *testing.T) {
	s := newTestServer(t, "n1")

	_, err := s.HandlePoll(context.Background(), transport.PollRequest{Term: 1, Candidate: "a"})
	require.NoError(t, err)

	vote, err := s.HandleVote(context.Background(), transport.VoteRequest{Term: 1, Candidate: "b"})
	require.NoError(t, err)
	require.True(t, vote.Voted)
}
