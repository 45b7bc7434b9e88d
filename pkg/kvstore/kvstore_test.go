package kvstore_test

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/cuemby/raftkv/pkg/kvstore"
	"github.com/cuemby/raftkv/pkg/session"
	"github.com/cuemby/raftkv/pkg/snapshot"
	"github.com/cuemby/raftkv/pkg/statemachine"
	"github.com/cuemby/raftkv/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSession opens a session against exec and returns its id, so tests
// can drive Apply/ExecuteQuery through the same session lifecycle a real
// client goes through.
func newSession(t *testing.T, exec *statemachine.Executor, index types.Index, at time.Time) types.SessionID {
	t.Helper()
	r := exec.Apply(types.LogEntry{
		Index: index, Type: types.EntryOpenSession,
		OpenSession: &types.OpenSessionEntry{Name: "test-client", Timeout: time.Minute, Timestamp: at},
	})
	require.NotZero(t, r.SessionID)
	return r.SessionID
}

func newExecutor(t *testing.T, machine statemachine.StateMachine) *statemachine.Executor {
	t.Helper()
	sessions := session.NewManager()
	store, err := snapshot.NewStore(t.TempDir(), "kvstore-test")
	require.NoError(t, err)
	return statemachine.NewExecutor(machine, sessions, store,
		statemachine.Config{StateMachineID: 1, SnapshotInterval: time.Hour}, zerolog.Nop())
}

func TestStorePutThenGet(t *testing.T) {
	store := kvstore.New()
	exec := newExecutor(t, store)
	opened := time.Unix(0, 0)
	sid := newSession(t, exec, 1, opened)

	put, err := json.Marshal(kvstore.Command{Op: kvstore.OpPut, Key: "a", Value: "1"})
	require.NoError(t, err)
	cr := exec.Apply(types.LogEntry{
		Index: 2, Type: types.EntryCommand,
		Command: &types.CommandEntry{Session: sid, Sequence: 1, Timestamp: opened, Bytes: put},
	})
	require.NoError(t, cr.Command.Err)

	q, err := json.Marshal(kvstore.Query{Key: "a"})
	require.NoError(t, err)
	result, ready := exec.ExecuteQuery(&types.QueryEntry{Session: sid, Sequence: 2, Bytes: q}, exec.AppliedIndex())
	require.True(t, ready)
	require.NoError(t, result.Err)

	var out kvstore.QueryResult
	require.NoError(t, json.Unmarshal(result.Payload, &out))
	assert.True(t, out.Found)
	assert.Equal(t, "1", out.Value)
}

func TestStoreDeleteRemovesKey(t *testing.T) {
	store := kvstore.New()
	exec := newExecutor(t, store)
	opened := time.Unix(0, 0)
	sid := newSession(t, exec, 1, opened)

	put, _ := json.Marshal(kvstore.Command{Op: kvstore.OpPut, Key: "a", Value: "1"})
	exec.Apply(types.LogEntry{
		Index: 2, Type: types.EntryCommand,
		Command: &types.CommandEntry{Session: sid, Sequence: 1, Timestamp: opened, Bytes: put},
	})

	del, _ := json.Marshal(kvstore.Command{Op: kvstore.OpDelete, Key: "a"})
	cr := exec.Apply(types.LogEntry{
		Index: 3, Type: types.EntryCommand,
		Command: &types.CommandEntry{Session: sid, Sequence: 2, Timestamp: opened, Bytes: del},
	})
	require.NoError(t, cr.Command.Err)

	q, _ := json.Marshal(kvstore.Query{Key: "a"})
	result, ready := exec.ExecuteQuery(&types.QueryEntry{Session: sid, Sequence: 3, Bytes: q}, exec.AppliedIndex())
	require.True(t, ready)

	var out kvstore.QueryResult
	require.NoError(t, json.Unmarshal(result.Payload, &out))
	assert.False(t, out.Found)
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := kvstore.New()
	exec := newExecutor(t, store)
	opened := time.Unix(0, 0)
	sid := newSession(t, exec, 1, opened)

	put, _ := json.Marshal(kvstore.Command{Op: kvstore.OpPut, Key: "a", Value: "1"})
	exec.Apply(types.LogEntry{
		Index: 2, Type: types.EntryCommand,
		Command: &types.CommandEntry{Session: sid, Sequence: 1, Timestamp: opened, Bytes: put},
	})

	var buf bytes.Buffer
	require.NoError(t, store.Snapshot(&buf))

	restored := kvstore.New()
	require.NoError(t, restored.Restore(&buf))

	restoredExec := newExecutor(t, restored)
	rsid := newSession(t, restoredExec, 1, opened)
	q, _ := json.Marshal(kvstore.Query{Key: "a"})
	// No command has been applied against restoredExec's own session yet,
	// so the ordering gate expects Sequence 1 (entry.Sequence-1 == 0).
	result, ready := restoredExec.ExecuteQuery(&types.QueryEntry{Session: rsid, Sequence: 1, Bytes: q}, restoredExec.AppliedIndex())
	require.True(t, ready)

	var out kvstore.QueryResult
	require.NoError(t, json.Unmarshal(result.Payload, &out))
	assert.Equal(t, "1", out.Value)
}
