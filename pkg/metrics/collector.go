package metrics

import (
	"time"

	"github.com/cuemby/raftkv/pkg/types"
)

// Source is the subset of server state the collector reads on each tick.
// Implemented by pkg/raft.Server; kept as a narrow interface so this
// package never imports the raft package directly.
type Source interface {
	CurrentTerm() types.Term
	CurrentRole() string
	Configuration() types.ClusterConfiguration
	LastLogIndex() types.Index
	CommitIndex() types.Index
	AppliedIndex() types.Index
	OpenSessionCount() int
	LastSnapshotTime() (time.Time, bool)
	FollowerMatchIndexes() map[string]types.Index
}

var roles = []string{"inactive", "reserve", "passive", "follower", "candidate", "leader"}

// Collector periodically samples a Source and updates the package's
// Prometheus gauges.
type Collector struct {
	source Source
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 5 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectRaftState()
	c.collectReplication()
	c.collectSessions()
	c.collectSnapshot()
}

func (c *Collector) collectRaftState() {
	CurrentTerm.Set(float64(c.source.CurrentTerm()))

	current := c.source.CurrentRole()
	for _, role := range roles {
		value := 0.0
		if role == current {
			value = 1.0
		}
		Role.WithLabelValues(role).Set(value)
	}

	cfg := c.source.Configuration()
	ClusterMembers.Set(float64(len(cfg.ActiveMembers())))

	LastLogIndex.Set(float64(c.source.LastLogIndex()))
	CommitIndex.Set(float64(c.source.CommitIndex()))
	AppliedIndex.Set(float64(c.source.AppliedIndex()))
}

func (c *Collector) collectReplication() {
	lastIndex := c.source.LastLogIndex()
	for follower, matchIndex := range c.source.FollowerMatchIndexes() {
		lag := float64(0)
		if lastIndex > matchIndex {
			lag = float64(lastIndex - matchIndex)
		}
		QuorumLag.WithLabelValues(follower).Set(lag)
	}
}

func (c *Collector) collectSessions() {
	OpenSessions.Set(float64(c.source.OpenSessionCount()))
}

func (c *Collector) collectSnapshot() {
	at, ok := c.source.LastSnapshotTime()
	if !ok {
		return
	}
	SnapshotAge.Set(time.Since(at).Seconds())
}
