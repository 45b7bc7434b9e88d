package raftlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/raftkv/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempIndexFile(t *testing.T) (*os.File, error) {
	t.Helper()
	return os.OpenFile(filepath.Join(t.TempDir(), "0-0.index"), os.O_RDWR|os.O_CREATE, 0644)
}

func newTestLog(t *testing.T, maxEntries uint64) *Log {
	t.Helper()
	l, err := Open(Config{Dir: t.TempDir(), Name: "test", MaxEntries: maxEntries, MaxSegmentBytes: 1 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func commandEntry(b string) types.LogEntry {
	return types.LogEntry{
		Type:    types.EntryCommand,
		Command: &types.CommandEntry{Session: 1, Sequence: 1, Bytes: []byte(b)},
	}
}

func TestAppendAssignsDenseIndices(t *testing.T) {
	l := newTestLog(t, 100)
	for i := 0; i < 5; i++ {
		idx, err := l.Append(1, commandEntry("x"))
		require.NoError(t, err)
		assert.EqualValues(t, i+1, idx)
	}
	assert.EqualValues(t, 5, l.LastIndex())
	assert.EqualValues(t, 1, l.FirstIndex())
}

func TestGetRoundTrip(t *testing.T) {
	l := newTestLog(t, 100)
	idx, err := l.Append(3, commandEntry("payload"))
	require.NoError(t, err)

	got, ok, err := l.Get(idx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.Term(3), got.Term)
	assert.Equal(t, "payload", string(got.Command.Bytes))
}

func TestGetBeforeFirstOrAfterLastIsAbsent(t *testing.T) {
	l := newTestLog(t, 100)
	_, err := l.Append(1, commandEntry("a"))
	require.NoError(t, err)

	_, ok, err := l.Get(0)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = l.Get(999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSegmentRollsOverWhenFull(t *testing.T) {
	l := newTestLog(t, 2)
	for i := 0; i < 5; i++ {
		_, err := l.Append(1, commandEntry("x"))
		require.NoError(t, err)
	}
	assert.Greater(t, len(l.segments), 1)
	// every index is still reachable across the segment boundary.
	for i := types.Index(1); i <= 5; i++ {
		_, ok, err := l.Get(i)
		require.NoError(t, err)
		assert.True(t, ok, "index %d should be present", i)
	}
}

func TestTruncateSuffixRemovesUncommittedTail(t *testing.T) {
	l := newTestLog(t, 100)
	for i := 0; i < 5; i++ {
		_, err := l.Append(1, commandEntry("x"))
		require.NoError(t, err)
	}
	require.NoError(t, l.Truncate(3))
	assert.EqualValues(t, 3, l.LastIndex())

	_, ok, err := l.Get(4)
	require.NoError(t, err)
	assert.False(t, ok)

	idx, err := l.Append(2, commandEntry("y"))
	require.NoError(t, err)
	assert.EqualValues(t, 4, idx)
}

func TestTruncateBelowCommitIndexFails(t *testing.T) {
	l := newTestLog(t, 100)
	for i := 0; i < 3; i++ {
		_, err := l.Append(1, commandEntry("x"))
		require.NoError(t, err)
	}
	l.Commit(2)
	err := l.Truncate(1)
	assert.Error(t, err)
}

func TestCompactAdvancesFirstIndex(t *testing.T) {
	l := newTestLog(t, 2)
	for i := 0; i < 6; i++ {
		_, err := l.Append(1, commandEntry("x"))
		require.NoError(t, err)
	}
	l.Commit(6)
	require.NoError(t, l.Compact(4))
	assert.EqualValues(t, 4, l.FirstIndex())

	_, ok, err := l.Get(2)
	require.NoError(t, err)
	assert.False(t, ok, "compacted entries must not be readable")

	_, ok, err = l.Get(5)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLogReaderSeesConsistentPrefix(t *testing.T) {
	l := newTestLog(t, 100)
	for i := 0; i < 3; i++ {
		_, err := l.Append(1, commandEntry("x"))
		require.NoError(t, err)
	}
	r := l.OpenReader(1)
	for i := 0; i < 3; i++ {
		_, ok, err := r.Next()
		require.NoError(t, err)
		require.True(t, ok)
	}
	_, ok, err := r.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOffsetIndexRoundTripAndTruncate(t *testing.T) {
	f, err := tempIndexFile(t)
	require.NoError(t, err)
	idx, err := newOffsetIndex(f, 16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	for i := uint32(0); i < 5; i++ {
		require.NoError(t, idx.Write(i, uint64(i)*10))
	}
	for i := int64(0); i < 5; i++ {
		pos, err := idx.position(i, true)
		require.NoError(t, err)
		assert.EqualValues(t, i*10, pos)
	}

	require.NoError(t, idx.Truncate(2))
	last, ok := idx.LastOffset()
	require.True(t, ok)
	assert.EqualValues(t, 2, last)

	_, err = idx.position(3, true)
	assert.Error(t, err, "truncated offsets must be invalidated")
}

func TestResetToSnapshotAdvancesPastTheGap(t *testing.T) {
	l := newTestLog(t, 100)

	require.NoError(t, l.ResetToSnapshot(9000))
	assert.EqualValues(t, 9000, l.LastIndex())
	assert.EqualValues(t, 9000, l.CommitIndex())
	assert.EqualValues(t, 9000, l.SnapshotIndex())

	_, ok, err := l.Get(9000)
	require.NoError(t, err)
	assert.False(t, ok, "a skipped index has no backing entry")

	idx, err := l.Append(3, commandEntry("after-snapshot"))
	require.NoError(t, err)
	assert.EqualValues(t, 9001, idx)

	entry, ok, err := l.Get(9001)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "after-snapshot", string(entry.Command.Bytes))
}

func TestResetToSnapshotDiscardsExistingEntries(t *testing.T) {
	l := newTestLog(t, 100)
	for i := 0; i < 3; i++ {
		_, err := l.Append(1, commandEntry("stale"))
		require.NoError(t, err)
	}

	require.NoError(t, l.ResetToSnapshot(50))
	_, ok, err := l.Get(2)
	require.NoError(t, err)
	assert.False(t, ok, "entries superseded by the snapshot must not remain reachable")
}
