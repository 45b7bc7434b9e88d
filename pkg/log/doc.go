/*
Package log provides structured logging for raftd using zerolog.

The log package wraps zerolog to give every component of a raft server
JSON- or console-formatted logging with a shared level filter, a global
package-level Logger, and helpers for deriving child loggers scoped to a
node or a term. pkg/raft, pkg/appender and pkg/statemachine each accept
their own zerolog.Logger at construction instead of reaching for the
package global directly, so tests can inject a silent or buffered logger
without touching process-wide state; raftd's own components (and the
log package's free functions below) use the global Logger set by Init.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - zerolog.Logger instance                  │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout or a custom writer        │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Scoped Child Loggers                │          │
	│  │  - WithComponent("appender")                │          │
	│  │  - WithNodeID("n3")                         │          │
	│  │  - WithTerm(42)                             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "election",                 │          │
	│  │    "node_id": "n3",                         │          │
	│  │    "term": 42,                              │          │
	│  │    "time": "2026-07-31T10:30:00Z",          │          │
	│  │    "message": "became leader"               │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF became leader component=election node_id=n3 term=42 │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init() from raftconfig.Config's LogLevel/LogJSON
  - Thread-safe concurrent writes

Config:
  - Level: DebugLevel/InfoLevel/WarnLevel/ErrorLevel
  - JSONOutput: true for JSON lines (production), false for a
    human-readable console writer (local development)
  - Output: defaults to os.Stdout, overridable for tests

# Usage

Initializing at process startup, from raftd's parsed configuration:

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})

Logging at the package level:

	log.Info("server started")
	log.Error("append rejected")

Scoping a logger to one server instance, passed down into pkg/raft,
pkg/appender and pkg/statemachine at construction so every line they
emit already carries which node produced it:

	nodeLog := log.WithNodeID(cfg.NodeID)
	srv, err := raft.New(raft.Config{Raft: cfg, Logger: nodeLog, ...})

Scoping further by component or term, for a log line that only makes
sense attached to the election subsystem:

	electionLog := log.WithComponent("election").With().
		Str("node_id", cfg.NodeID).Logger()
	electionLog.Info().Uint64("term", uint64(term)).Msg("campaign started")

	termLog := log.WithTerm(uint64(term))
	termLog.Warn().Str("candidate", candidateID).Msg("vote denied: stale log")

# Level Guidance

  - Debug: per-tick replication attempts, heartbeat round-trips
  - Info: role transitions, leader elections, configuration changes,
    snapshot installs
  - Warn: follower marked unavailable, stale-term rejections
  - Error: storage failures, unrecoverable append/install errors

# Troubleshooting

  - No output at all: check log.Init() was called before the first log
    line (raftd's root command does this in cobra.OnInitialize)
  - Missing node_id/component fields on some lines: a package is using
    the bare log.Logger global instead of a scoped child logger derived
    from WithNodeID/WithComponent
*/
package log
