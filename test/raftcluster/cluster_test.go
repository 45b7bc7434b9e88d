// Package raftcluster_test runs several pkg/raft.Server instances wired
// together through pkg/transport.Registry in a single process, the way
// pkg/transport's doc comment on Registry describes. It exercises cluster
// formation, client round trips, and leader failover end to end, whereas
// pkg/raft's own tests stop at a single node.
package raftcluster_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cuemby/raftkv/pkg/client"
	"github.com/cuemby/raftkv/pkg/kvstore"
	"github.com/cuemby/raftkv/pkg/raft"
	"github.com/cuemby/raftkv/pkg/raftconfig"
	"github.com/cuemby/raftkv/pkg/transport"
	"github.com/cuemby/raftkv/pkg/types"
	"github.com/stretchr/testify/require"
)

const (
	electionTimeout   = 40 * time.Millisecond
	heartbeatInterval = 10 * time.Millisecond
	pollInterval      = 5 * time.Millisecond
	waitTimeout       = 3 * time.Second
)

// cluster is a set of raft.Server nodes sharing one in-process Registry.
type cluster struct {
	t        *testing.T
	registry *transport.Registry
	nodes    map[string]*raft.Server
	cancel   context.CancelFunc
}

func newNode(t *testing.T, registry *transport.Registry, id string) *raft.Server {
	t.Helper()
	s, err := raft.New(raft.Config{
		Raft: raftconfig.Config{
			NodeID:            id,
			DataDir:           t.TempDir(),
			ServerAddress:     id,
			ClientAddress:     id,
			ElectionTimeout:   electionTimeout,
			HeartbeatInterval: heartbeatInterval,
			SessionTimeout:    5 * time.Second,
		}.WithDefaults(),
		Transport: registry,
		Machine:   kvstore.New(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	registry.Bind(id, s)
	return s
}

// newCluster bootstraps a single-node cluster on n1, then joins and
// configures the remaining ids as Active members. It returns once every
// node reports itself caught up to the leader's applied index.
func newCluster(t *testing.T, ids ...string) *cluster {
	t.Helper()
	require.NotEmpty(t, ids)

	registry := transport.NewRegistry()
	nodes := make(map[string]*raft.Server, len(ids))
	for _, id := range ids {
		nodes[id] = newNode(t, registry, id)
	}

	leaderID := ids[0]
	leader := nodes[leaderID]
	leader.Bootstrap()

	// A single-node cluster's own Initialize+Configuration entries only
	// commit once something drives the appender to tick; HandleRegister's
	// waitCommitted does that (see pkg/raft/server_test.go), which clears
	// cluster.Initializing() so the Configure call below is accepted.
	_, err := leader.HandleRegister(context.Background(), transport.RegisterRequest{Name: "bootstrap-sync"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	for _, n := range nodes {
		go n.Run(ctx)
	}

	if len(ids) > 1 {
		members := make([]types.Member, len(ids))
		for i, id := range ids {
			members[i] = types.Member{ID: id, Type: types.Active, ServerAddress: id, ClientAddress: id}
		}
		for _, id := range ids[1:] {
			nodes[id].Join(leaderID)
		}
		_, err := leader.HandleConfigure(context.Background(), transport.ConfigureRequest{Members: members})
		require.NoError(t, err)
	}

	c := &cluster{t: t, registry: registry, nodes: nodes, cancel: cancel}
	c.waitForRole(leaderID, "leader")
	for _, id := range ids[1:] {
		c.waitForRole(id, "follower")
	}
	c.waitForCaughtUp(ids...)
	return c
}

func (c *cluster) waitForRole(id, role string) {
	c.t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if c.nodes[id].CurrentRole() == role {
			return
		}
		time.Sleep(pollInterval)
	}
	c.t.Fatalf("node %s never reached role %s, last seen %s", id, role, c.nodes[id].CurrentRole())
}

// waitForCaughtUp waits until every named node's applied index matches the
// highest applied index seen across the set, i.e. replication has settled.
func (c *cluster) waitForCaughtUp(ids ...string) {
	c.t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		var max types.Index
		for _, id := range ids {
			if idx := c.nodes[id].AppliedIndex(); idx > max {
				max = idx
			}
		}
		allCaughtUp := true
		for _, id := range ids {
			if c.nodes[id].AppliedIndex() < max {
				allCaughtUp = false
				break
			}
		}
		if allCaughtUp && max > 0 {
			return
		}
		time.Sleep(pollInterval)
	}
	c.t.Fatalf("nodes never converged on the same applied index")
}

func (c *cluster) currentLeader() (id string, addr string) {
	c.t.Helper()
	for candidateID, n := range c.nodes {
		if n.CurrentRole() == "leader" {
			return candidateID, candidateID
		}
	}
	c.t.Fatal("no node currently reports role leader")
	return "", ""
}

func (c *cluster) addrs() []string {
	addrs := make([]string, 0, len(c.nodes))
	for id := range c.nodes {
		addrs = append(addrs, id)
	}
	return addrs
}

func (c *cluster) close() {
	c.cancel()
}

func TestClusterFormationReplicatesToAllFollowers(t *testing.T) {
	c := newCluster(t, "n1", "n2", "n3")
	defer c.close()

	leaderID, _ := c.currentLeader()
	require.Equal(t, "n1", leaderID)

	cfg := c.nodes["n1"].Configuration()
	require.Len(t, cfg.Members, 3)
	require.Equal(t, "follower", c.nodes["n2"].CurrentRole())
	require.Equal(t, "follower", c.nodes["n3"].CurrentRole())
}

func TestClientCommandAndQueryAgainstThreeNodeCluster(t *testing.T) {
	c := newCluster(t, "n1", "n2", "n3")
	defer c.close()

	cl, err := client.New(context.Background(), c.registry, c.addrs(), client.Options{Name: "itest-client"})
	require.NoError(t, err)
	defer cl.Close(context.Background())

	put, err := json.Marshal(kvstore.Command{Op: kvstore.OpPut, Key: "foo", Value: "bar"})
	require.NoError(t, err)
	_, err = cl.Command(context.Background(), put)
	require.NoError(t, err)

	c.waitForCaughtUp(c.addrs()...)

	q, err := json.Marshal(kvstore.Query{Key: "foo"})
	require.NoError(t, err)
	resp, err := cl.Query(context.Background(), q, types.Linearizable)
	require.NoError(t, err)

	var out kvstore.QueryResult
	require.NoError(t, json.Unmarshal(resp, &out))
	require.True(t, out.Found)
	require.Equal(t, "bar", out.Value)
}

func TestLeaderFailoverElectsNewLeaderAndKeepsServing(t *testing.T) {
	c := newCluster(t, "n1", "n2", "n3")
	defer c.close()

	leaderID, leaderAddr := c.currentLeader()
	oldTerm := c.nodes[leaderID].CurrentTerm()

	c.registry.Evict(leaderAddr)

	remaining := make([]string, 0, 2)
	for _, id := range c.addrs() {
		if id != leaderID {
			remaining = append(remaining, id)
		}
	}

	deadline := time.Now().Add(waitTimeout)
	var newLeaderID string
	for time.Now().Before(deadline) {
		for _, id := range remaining {
			if c.nodes[id].CurrentRole() == "leader" && c.nodes[id].CurrentTerm() > oldTerm {
				newLeaderID = id
			}
		}
		if newLeaderID != "" {
			break
		}
		time.Sleep(pollInterval)
	}
	require.NotEmpty(t, newLeaderID, "no remaining node became leader after partitioning %s", leaderID)

	cl, err := client.New(context.Background(), c.registry, remaining, client.Options{Name: "itest-client-2"})
	require.NoError(t, err)
	defer cl.Close(context.Background())

	put, err := json.Marshal(kvstore.Command{Op: kvstore.OpPut, Key: "after-failover", Value: "ok"})
	require.NoError(t, err)
	_, err = cl.Command(context.Background(), put)
	require.NoError(t, err)
}
