package storage

import (
	"testing"
	"time"

	"github.com/cuemby/raftkv/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMetaReturnsZeroValueBeforeAnythingSaved(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	meta, err := store.LoadMeta()
	require.NoError(t, err)
	assert.Zero(t, meta.CurrentTerm)
	assert.Empty(t, meta.VotedFor)
	assert.Nil(t, meta.LastConfiguration)
}

func TestSaveTermAndVotePersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.SaveTerm(7))
	require.NoError(t, store.SaveVote("node-2"))
	require.NoError(t, store.Close())

	reopened, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	meta, err := reopened.LoadMeta()
	require.NoError(t, err)
	assert.EqualValues(t, 7, meta.CurrentTerm)
	assert.Equal(t, "node-2", meta.VotedFor)
}

func TestSaveConfigurationRoundTrips(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	cfg := types.ClusterConfiguration{
		Index:     5,
		Term:      2,
		Timestamp: time.Unix(100, 0),
		Members: []types.Member{
			{ID: "node-1", Type: types.Active, Status: types.Available, ServerAddress: "10.0.0.1:8100"},
		},
	}
	require.NoError(t, store.SaveConfiguration(cfg))

	meta, err := store.LoadMeta()
	require.NoError(t, err)
	require.NotNil(t, meta.LastConfiguration)
	assert.EqualValues(t, 5, meta.LastConfiguration.Index)
	assert.Len(t, meta.LastConfiguration.Members, 1)
	assert.Equal(t, "node-1", meta.LastConfiguration.Members[0].ID)
}

func TestSnapshotRefsAreKeyedByStateMachineID(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveSnapshotRef(SnapshotRef{StateMachineID: 1, Index: 10, Path: "/data/a.snapshot"}))
	require.NoError(t, store.SaveSnapshotRef(SnapshotRef{StateMachineID: 2, Index: 20, Path: "/data/b.snapshot"}))
	// Overwrite state machine 1's reference with a newer snapshot.
	require.NoError(t, store.SaveSnapshotRef(SnapshotRef{StateMachineID: 1, Index: 15, Path: "/data/a2.snapshot"}))

	refs, err := store.LoadSnapshotRefs()
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.EqualValues(t, 15, refs[1].Index)
	assert.EqualValues(t, 20, refs[2].Index)
}

func TestSaveVoteOverwritesPreviousVoteInSameTerm(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveVote("node-1"))
	require.NoError(t, store.SaveVote("node-2"))

	meta, err := store.LoadMeta()
	require.NoError(t, err)
	assert.Equal(t, "node-2", meta.VotedFor)
}
