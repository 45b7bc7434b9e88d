// Package raft implements the role state machine and server context that
// is the core of this library: election, log replication dispatch, client
// session handling and forwarding, wired on top of pkg/raftlog,
// pkg/appender, pkg/statemachine, pkg/session, pkg/cluster and
// pkg/storage.
package raft

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cuemby/raftkv/pkg/appender"
	"github.com/cuemby/raftkv/pkg/cluster"
	"github.com/cuemby/raftkv/pkg/metrics"
	"github.com/cuemby/raftkv/pkg/raftconfig"
	"github.com/cuemby/raftkv/pkg/raftlog"
	"github.com/cuemby/raftkv/pkg/session"
	"github.com/cuemby/raftkv/pkg/snapshot"
	"github.com/cuemby/raftkv/pkg/statemachine"
	"github.com/cuemby/raftkv/pkg/storage"
	"github.com/cuemby/raftkv/pkg/transport"
	"github.com/cuemby/raftkv/pkg/types"
	"github.com/rs/zerolog"
)

const stateMachineID = 1

// Server is one Raft participant: the role state machine, the shared
// context every role handler reads and mutates, and the client- and
// peer-facing RPC handlers. All mutation of role, currentTerm, votedFor
// and leaderID goes through the mutex below, standing in for a
// single-threaded primary context (the same pattern pkg/appender already
// uses for its own exclusive state).
type Server struct {
	mu sync.Mutex

	id     string
	cfg    raftconfig.Config
	logger zerolog.Logger

	raftlog   *raftlog.Log
	store     storage.Store
	cluster   *cluster.State
	sessions  *session.Manager
	snapshots *snapshot.Store
	executor  *statemachine.Executor
	transport transport.Transport

	role        Role
	currentTerm types.Term
	votedFor    string
	leaderID    string

	electionDeadline time.Time
	rng              *rand.Rand

	app *appender.Appender // non-nil only while role == RoleLeader

	lastSnapshotIndex types.Index
	lastSnapshotSeen  time.Time

	// results caches the outcome of applying each Command/Query/Metadata
	// entry this server led, so the client handler that appended it can
	// retrieve it once waitCommitted observes it applied. Bounded by
	// pruning entries far behind the apply point.
	results map[types.Index]statemachine.Result

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Config gathers everything needed to construct a Server beyond the
// tuning knobs already carried by raftconfig.Config.
type Config struct {
	Raft      raftconfig.Config
	Transport transport.Transport
	Machine   statemachine.StateMachine
	Logger    zerolog.Logger
}

// New opens durable state under cfg.Raft.DataDir and constructs a Server
// in RoleInactive. Call Bootstrap to seed a brand-new single-node
// cluster, or wait for an incoming Append/Configure to promote it.
func New(cfg Config) (*Server, error) {
	store, err := storage.NewBoltStore(cfg.Raft.DataDir)
	if err != nil {
		return nil, fmt.Errorf("raft: open meta store: %w", err)
	}
	meta, err := store.LoadMeta()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("raft: load meta: %w", err)
	}

	rlog, err := raftlog.Open(raftlog.Config{
		Dir:             cfg.Raft.DataDir,
		Name:            "raft",
		MaxEntries:      cfg.Raft.MaxEntriesPerSegment,
		MaxSegmentBytes: cfg.Raft.MaxSegmentSize,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("raft: open log: %w", err)
	}

	snaps, err := snapshot.NewStore(cfg.Raft.DataDir, "raft")
	if err != nil {
		store.Close()
		rlog.Close()
		return nil, fmt.Errorf("raft: open snapshot store: %w", err)
	}

	initialConfig := types.ClusterConfiguration{}
	if meta.LastConfiguration != nil {
		initialConfig = *meta.LastConfiguration
	}

	sessions := session.NewManager()
	executor := statemachine.NewExecutor(cfg.Machine, sessions, snaps,
		statemachine.Config{StateMachineID: stateMachineID, SnapshotInterval: cfg.Raft.SnapshotInterval}, cfg.Logger)

	s := &Server{
		id:          cfg.Raft.NodeID,
		cfg:         cfg.Raft,
		logger:      cfg.Logger,
		raftlog:     rlog,
		store:       store,
		cluster:     cluster.New(initialConfig),
		sessions:    sessions,
		snapshots:   snaps,
		executor:    executor,
		transport:   cfg.Transport,
		role:        RoleInactive,
		currentTerm: meta.CurrentTerm,
		votedFor:    meta.VotedFor,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		results:     make(map[types.Index]statemachine.Result),
		stopCh:      make(chan struct{}),
	}
	return s, nil
}

// Run starts the server's background election/heartbeat loop. It returns
// once Close is called.
func (s *Server) Run(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Server) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	role := s.role
	app := s.app
	deadline := s.electionDeadline
	s.mu.Unlock()

	if app != nil {
		app.Tick(ctx, now)
	}

	switch role {
	case RoleFollower, RoleCandidate, RoleReserve:
		if !deadline.IsZero() && now.After(deadline) {
			s.startElection(ctx)
		}
	}
}

func (s *Server) Close() error {
	close(s.stopCh)
	s.wg.Wait()
	if err := s.raftlog.Close(); err != nil {
		return err
	}
	return s.store.Close()
}

// electionTimeout picks a randomized duration in [timeout, 2*timeout), the
// standard Raft split-vote mitigation.
func (s *Server) electionTimeout() time.Duration {
	base := s.cfg.ElectionTimeout
	jitter := time.Duration(s.rng.Int63n(int64(base)))
	return base + jitter
}

func (s *Server) resetElectionDeadline() {
	s.electionDeadline = time.Now().Add(s.electionTimeout())
}

func (s *Server) setRole(r Role) {
	if s.role == r {
		return
	}
	s.logger.Info().Str("from", s.role.String()).Str("to", r.String()).Msg("role transition")
	s.role = r
	if r != RoleLeader {
		s.app = nil
	}
}

// persistTerm updates currentTerm, clears votedFor if the term changed,
// and durably saves both. Must be called with mu held.
func (s *Server) persistTermLocked(term types.Term) error {
	if term <= s.currentTerm {
		return nil
	}
	s.currentTerm = term
	s.votedFor = ""
	if err := s.store.SaveTerm(term); err != nil {
		return err
	}
	return s.store.SaveVote("")
}

func (s *Server) address() string {
	return s.cfg.ServerAddress
}

// --- metrics.Source ---

func (s *Server) CurrentTerm() types.Term {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTerm
}

func (s *Server) CurrentRole() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role.String()
}

func (s *Server) Configuration() types.ClusterConfiguration {
	return s.cluster.Configuration()
}

func (s *Server) LastLogIndex() types.Index {
	return s.raftlog.LastIndex()
}

func (s *Server) CommitIndex() types.Index {
	return s.raftlog.CommitIndex()
}

func (s *Server) AppliedIndex() types.Index {
	return s.executor.AppliedIndex()
}

func (s *Server) OpenSessionCount() int {
	count := 0
	for _, sess := range s.sessions.List() {
		if sess.State() == types.SessionOpen {
			count++
		}
	}
	return count
}

// LastSnapshotTime reports when this server last observed a newer
// complete snapshot than the one before it. Snapshot itself only records
// the log index it reflects, not a wall-clock time, so this is the
// timestamp of observation rather than of completion — close enough for
// an age gauge, and never backdated across a restart.
func (s *Server) LastSnapshotTime() (time.Time, bool) {
	snap, ok := s.snapshots.GetSnapshotByID(stateMachineID)
	if !ok {
		return time.Time{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Index != s.lastSnapshotIndex {
		s.lastSnapshotIndex = snap.Index
		s.lastSnapshotSeen = time.Now()
	}
	if s.lastSnapshotSeen.IsZero() {
		return time.Time{}, false
	}
	return s.lastSnapshotSeen, true
}

func (s *Server) FollowerMatchIndexes() map[string]types.Index {
	out := make(map[string]types.Index)
	s.mu.Lock()
	app := s.app
	members := s.cluster.ActiveMembers()
	s.mu.Unlock()
	if app == nil {
		return out
	}
	for _, m := range members {
		if m.ID == s.id {
			continue
		}
		if idx, ok := app.MatchIndex(m.ID); ok {
			out[m.ID] = idx
		}
	}
	return out
}

var _ metrics.Source = (*Server)(nil)
