package metrics

import (
	"testing"
	"time"

	"github.com/cuemby/raftkv/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeSource struct {
	term          types.Term
	role          string
	cfg           types.ClusterConfiguration
	lastLogIndex  types.Index
	commitIndex   types.Index
	appliedIndex  types.Index
	sessionCount  int
	snapshotAt    time.Time
	hasSnapshot   bool
	matchIndexes  map[string]types.Index
}

func (f *fakeSource) CurrentTerm() types.Term                     { return f.term }
func (f *fakeSource) CurrentRole() string                          { return f.role }
func (f *fakeSource) Configuration() types.ClusterConfiguration    { return f.cfg }
func (f *fakeSource) LastLogIndex() types.Index                    { return f.lastLogIndex }
func (f *fakeSource) CommitIndex() types.Index                     { return f.commitIndex }
func (f *fakeSource) AppliedIndex() types.Index                    { return f.appliedIndex }
func (f *fakeSource) OpenSessionCount() int                        { return f.sessionCount }
func (f *fakeSource) LastSnapshotTime() (time.Time, bool)          { return f.snapshotAt, f.hasSnapshot }
func (f *fakeSource) FollowerMatchIndexes() map[string]types.Index { return f.matchIndexes }

func TestCollectorUpdatesRoleGaugeForCurrentRoleOnly(t *testing.T) {
	src := &fakeSource{
		term: 4,
		role: "leader",
		cfg: types.ClusterConfiguration{Members: []types.Member{
			{ID: "a", Type: types.Active}, {ID: "b", Type: types.Active},
		}},
		lastLogIndex: 10,
		commitIndex:  9,
		appliedIndex: 8,
		matchIndexes: map[string]types.Index{"b": 7},
	}
	c := NewCollector(src)
	c.collect()

	assert.Equal(t, float64(4), testutil.ToFloat64(CurrentTerm))
	assert.Equal(t, float64(1), testutil.ToFloat64(Role.WithLabelValues("leader")))
	assert.Equal(t, float64(0), testutil.ToFloat64(Role.WithLabelValues("follower")))
	assert.Equal(t, float64(2), testutil.ToFloat64(ClusterMembers))
	assert.Equal(t, float64(3), testutil.ToFloat64(QuorumLag.WithLabelValues("b")))
}

func TestCollectorSkipsSnapshotAgeWhenNoneTaken(t *testing.T) {
	src := &fakeSource{hasSnapshot: false}
	c := NewCollector(src)
	// Must not panic even though LastSnapshotTime reports no snapshot.
	c.collect()
}

func TestCollectorStartStopDoesNotPanic(t *testing.T) {
	src := &fakeSource{matchIndexes: map[string]types.Index{}}
	c := NewCollector(src)
	c.Start()
	time.Sleep(10 * time.Millisecond)
	c.Stop()
}
