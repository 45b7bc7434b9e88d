package raft

import (
	"bytes"
	"context"
	"encoding/gob"
	"testing"

	"github.com/cuemby/raftkv/pkg/appender"
	"github.com/cuemby/raftkv/pkg/session"
	"github.com/cuemby/raftkv/pkg/types"
	"github.com/stretchr/testify/require"
)

// installEnvelope mirrors statemachine's unexported snapshotEnvelope: gob
// matches by field name/type, not by concrete Go type, so encoding this
// and decoding it through Executor.Install works the same as a real
// captured snapshot would.
type installEnvelope struct {
	Sessions []session.Record
}

func TestHandleInstallAdvancesLogPastTheGap(t *testing.T) {
	s := newTestServer(t, "n2")

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(installEnvelope{}))

	resp, err := s.HandleInstall(context.Background(), appender.InstallRequest{
		Term: 1, Index: 9000, Data: buf.Bytes(),
	})
	require.NoError(t, err)
	require.True(t, resp.Succeeded)

	require.EqualValues(t, 9000, s.raftlog.LastIndex())
	require.EqualValues(t, 9000, s.raftlog.SnapshotIndex())
	require.EqualValues(t, 9000, s.executor.AppliedIndex())
}

func TestHandleAppendSucceedsRightAfterInstall(t *testing.T) {
	s := newTestServer(t, "n2")

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(installEnvelope{}))

	resp, err := s.HandleInstall(context.Background(), appender.InstallRequest{
		Term: 1, Index: 9000, Data: buf.Bytes(),
	})
	require.NoError(t, err)
	require.True(t, resp.Succeeded)

	appendResp, err := s.HandleAppend(context.Background(), appender.AppendRequest{
		Term: 1, Leader: "n1", PrevLogIndex: 9000, PrevLogTerm: 7,
		Entries: []types.LogEntry{{
			Type:    types.EntryCommand,
			Term:    1,
			Command: &types.CommandEntry{Session: 1, Sequence: 1, Bytes: []byte("after-install")},
		}},
		CommitIndex: 9001,
	})
	require.NoError(t, err)
	require.True(t, appendResp.Succeeded, "an append right after install must not be rejected as a log mismatch")
	require.EqualValues(t, 9001, appendResp.LastLogIndex)
	require.EqualValues(t, 9001, s.raftlog.LastIndex())
}
