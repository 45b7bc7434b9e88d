package raftconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDefaultsFillsKnobTableValues(t *testing.T) {
	c := Config{}.WithDefaults()
	assert.Equal(t, 750*time.Millisecond, c.ElectionTimeout)
	assert.Equal(t, 250*time.Millisecond, c.HeartbeatInterval)
	assert.Equal(t, 5000*time.Millisecond, c.SessionTimeout)
	assert.Equal(t, time.Hour, c.GlobalSuspendTimeout)
	assert.Equal(t, Disk, c.StorageLevel)
}

func TestValidateRejectsHeartbeatNotBelowElection(t *testing.T) {
	c := Config{NodeID: "a", ElectionTimeout: 100 * time.Millisecond, HeartbeatInterval: 100 * time.Millisecond, SessionTimeout: time.Second}
	assert.Error(t, c.Validate())
}

func TestValidateRejectsSessionTimeoutNotAboveElection(t *testing.T) {
	c := Config{NodeID: "a", ElectionTimeout: time.Second, HeartbeatInterval: 100 * time.Millisecond, SessionTimeout: time.Second}
	assert.Error(t, c.Validate())
}

func TestValidateRequiresNodeID(t *testing.T) {
	c := Config{ElectionTimeout: time.Second, HeartbeatInterval: 100 * time.Millisecond, SessionTimeout: 2 * time.Second}
	assert.Error(t, c.Validate())
}

func TestLoadReadsYAMLAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raftd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nodeId: node-1\nserverAddress: 127.0.0.1:5000\n"), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "node-1", c.NodeID)
	assert.Equal(t, "127.0.0.1:5000", c.ServerAddress)
	assert.Equal(t, 750*time.Millisecond, c.ElectionTimeout)
}
