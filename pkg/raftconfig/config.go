/*
Package raftconfig loads and defaults the knobs that govern timing, segment
sizing and storage placement for a raft server: a single YAML-backed Config
struct with a WithDefaults-style normalization pass (pkg/raftlog and
pkg/appender in this repository both follow the same pattern at smaller
scope).
*/
package raftconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageLevel selects where segment and snapshot data is durable.
type StorageLevel string

const (
	Memory StorageLevel = "MEMORY"
	Mapped StorageLevel = "MAPPED"
	Disk   StorageLevel = "DISK"
)

// Config is the full set of tunables for one server, loadable from a
// raftd.yaml file or built programmatically for tests.
type Config struct {
	NodeID        string `yaml:"nodeId"`
	DataDir       string `yaml:"dataDir"`
	ServerAddress string `yaml:"serverAddress"`
	ClientAddress string `yaml:"clientAddress"`
	// LocalAddress, if set, serves Connect/Query/Metadata over a second
	// listener with no peer authentication, via
	// transport.ReadOnlyInterceptor — for local inspection tools that
	// should not need client credentials. Left empty, no such listener
	// is started.
	LocalAddress string `yaml:"localAddress"`

	ElectionTimeout      time.Duration `yaml:"electionTimeout"`
	HeartbeatInterval    time.Duration `yaml:"heartbeatInterval"`
	SessionTimeout       time.Duration `yaml:"sessionTimeout"`
	GlobalSuspendTimeout time.Duration `yaml:"globalSuspendTimeout"`

	MaxEntriesPerSegment uint64       `yaml:"maxEntriesPerSegment"`
	MaxSegmentSize       uint64       `yaml:"maxSegmentSize"`
	StorageLevel         StorageLevel `yaml:"storageLevel"`

	SnapshotInterval time.Duration `yaml:"snapshotInterval"`

	LogLevel string `yaml:"logLevel"`
	LogJSON  bool   `yaml:"logJson"`

	// MetricsAddress serves /metrics, /health, /ready, /live and /status.
	MetricsAddress string `yaml:"metricsAddress"`
	// PprofEnabled mounts net/http/pprof's handlers alongside the metrics
	// listener for live profiling.
	PprofEnabled bool `yaml:"pprofEnabled"`
}

// WithDefaults fills every zero-valued field with its production default.
func (c Config) WithDefaults() Config {
	if c.ElectionTimeout <= 0 {
		c.ElectionTimeout = 750 * time.Millisecond
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 250 * time.Millisecond
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 5000 * time.Millisecond
	}
	if c.GlobalSuspendTimeout <= 0 {
		c.GlobalSuspendTimeout = time.Hour
	}
	if c.MaxEntriesPerSegment <= 0 {
		c.MaxEntriesPerSegment = 1 << 20
	}
	if c.MaxSegmentSize <= 0 {
		c.MaxSegmentSize = 64 << 20
	}
	if c.StorageLevel == "" {
		c.StorageLevel = Disk
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = 10 * time.Minute
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MetricsAddress == "" {
		c.MetricsAddress = "127.0.0.1:9090"
	}
	return c
}

// Validate enforces the knob table's cross-field constraints.
func (c Config) Validate() error {
	if c.HeartbeatInterval >= c.ElectionTimeout {
		return fmt.Errorf("raftconfig: heartbeatInterval (%s) must be less than electionTimeout (%s)", c.HeartbeatInterval, c.ElectionTimeout)
	}
	if c.SessionTimeout <= c.ElectionTimeout {
		return fmt.Errorf("raftconfig: sessionTimeout (%s) must be greater than electionTimeout (%s)", c.SessionTimeout, c.ElectionTimeout)
	}
	if c.NodeID == "" {
		return fmt.Errorf("raftconfig: nodeId is required")
	}
	return nil
}

// Load reads a YAML config file from path and applies defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("raftconfig: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("raftconfig: parse %s: %w", path, err)
	}
	c = c.WithDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
