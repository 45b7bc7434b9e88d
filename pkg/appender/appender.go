package appender

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/raftkv/pkg/snapshot"
	"github.com/cuemby/raftkv/pkg/types"
	"github.com/rs/zerolog"
)

const maxEntriesPerAppend = 256

// AppendRequest carries one batch of entries (or none, as a heartbeat) to
// a single follower.
type AppendRequest struct {
	Term         types.Term
	Leader       string
	PrevLogIndex types.Index
	PrevLogTerm  types.Term
	Entries      []types.LogEntry
	CommitIndex  types.Index
}

type AppendResponse struct {
	Term         types.Term
	Succeeded    bool
	LastLogIndex types.Index
}

type InstallRequest struct {
	Term  types.Term
	Index types.Index
	Data  []byte
}

type InstallResponse struct {
	Term      types.Term
	Succeeded bool
}

// Sender dispatches append/install RPCs to a named follower. Implemented
// by package transport.
type Sender interface {
	SendAppend(ctx context.Context, target string, req AppendRequest) (AppendResponse, error)
	SendInstall(ctx context.Context, target string, req InstallRequest) (InstallResponse, error)
}

// LogSource is the subset of raftlog.Log the appender reads from.
type LogSource interface {
	LastIndex() types.Index
	Get(idx types.Index) (types.LogEntry, bool, error)
}

// SnapshotSource is the subset of snapshot.Store the appender reads from.
type SnapshotSource interface {
	GetSnapshotByID(id uint64) (*snapshot.Snapshot, bool)
}

// follower is the leader's exclusive view of one replication target. It
// is discarded wholesale on role transition.
type follower struct {
	id              string
	nextIndex       types.Index
	matchIndex      types.Index
	lastAttemptTime time.Time
	failureCount    int
	lastCommitTime  time.Time
	snapshotIndex   types.Index
	available       bool
}

// Config tunes the appender's retry/availability thresholds.
type Config struct {
	HeartbeatInterval    time.Duration
	ElectionTimeout      time.Duration
	FailuresUntilUnavail int
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 250 * time.Millisecond
	}
	if c.ElectionTimeout <= 0 {
		c.ElectionTimeout = 750 * time.Millisecond
	}
	if c.FailuresUntilUnavail <= 0 {
		c.FailuresUntilUnavail = 3
	}
	return c
}

// Appender replicates the leader's log to every active follower and
// advances the leader's commit index once a quorum acknowledges an
// index from the current term.
type Appender struct {
	mu     sync.Mutex
	cfg    Config
	log    zerolog.Logger
	source LogSource
	snaps  SnapshotSource
	sender Sender

	stateMachineID uint64
	term           types.Term
	leaderID       string
	commitIndex    types.Index

	followers map[string]*follower

	// OnCommitAdvance is invoked (outside the appender's lock) whenever the
	// quorum commit index advances, so the primary context can schedule
	// state-machine apply.
	OnCommitAdvance func(types.Index)
	// OnStepDown is invoked when a follower reports a higher term.
	OnStepDown func(types.Term)
	// OnStatusChange reports a follower's AVAILABLE/UNAVAILABLE transitions.
	OnStatusChange func(id string, status types.MemberStatus)
}

func New(term types.Term, leaderID string, source LogSource, snaps SnapshotSource, sender Sender, cfg Config, logger zerolog.Logger) *Appender {
	return &Appender{
		cfg:            cfg.withDefaults(),
		log:            logger,
		source:         source,
		snaps:          snaps,
		sender:         sender,
		stateMachineID: 1,
		term:           term,
		leaderID:       leaderID,
		followers:      make(map[string]*follower),
	}
}

// AddFollower begins tracking a new replication target, seeded to
// attempt replication from the leader's next index (optimistic; rolled
// back on rejection).
func (a *Appender) AddFollower(id string, nextIndex types.Index) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.followers[id] = &follower{id: id, nextIndex: nextIndex, available: true}
}

func (a *Appender) RemoveFollower(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.followers, id)
}

func (a *Appender) MatchIndex(id string) (types.Index, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.followers[id]
	if !ok {
		return 0, false
	}
	return f.matchIndex, true
}

// Tick runs one append cycle: every follower whose heartbeat interval has
// elapsed gets a fresh AppendRequest (or InstallRequest if its nextIndex
// has fallen behind the oldest retained log entry — detected as a Get
// miss, since the log compacts entries before firstIndex).
func (a *Appender) Tick(ctx context.Context, now time.Time) {
	a.mu.Lock()
	due := make([]*follower, 0, len(a.followers))
	for _, f := range a.followers {
		if now.Sub(f.lastAttemptTime) >= a.cfg.HeartbeatInterval {
			due = append(due, f)
		}
	}
	a.mu.Unlock()

	for _, f := range due {
		a.replicateOne(ctx, f, now)
	}

	// A leader with no active followers (a solo cluster, or one whose
	// peers have all been removed) still needs its own log entries to
	// commit; recomputeCommitIndex uses the leader's own last index when it
	// has no followers, so running it unconditionally here covers that case instead of relying
	// solely on a handleSuccess callback that a followerless leader would
	// never receive.
	a.recomputeCommitIndex()
}

func (a *Appender) replicateOne(ctx context.Context, f *follower, now time.Time) {
	a.mu.Lock()
	f.lastAttemptTime = now
	term := a.term
	leader := a.leaderID
	commitIndex := a.commitIndex
	nextIndex := f.nextIndex
	a.mu.Unlock()

	prevIndex := nextIndex - 1
	prevEntry, ok, err := a.source.Get(prevIndex)
	if prevIndex > 0 && (err != nil || !ok) {
		a.sendInstall(ctx, f, term)
		return
	}
	var prevTerm types.Term
	if prevIndex > 0 {
		prevTerm = prevEntry.Term
	}

	entries := make([]types.LogEntry, 0, maxEntriesPerAppend)
	for idx := nextIndex; idx <= a.source.LastIndex() && len(entries) < maxEntriesPerAppend; idx++ {
		e, ok, err := a.source.Get(idx)
		if err != nil || !ok {
			break
		}
		entries = append(entries, e)
	}

	req := AppendRequest{
		Term:         term,
		Leader:       leader,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		CommitIndex:  commitIndex,
	}

	resp, err := a.sender.SendAppend(ctx, f.id, req)
	if err != nil {
		a.handleFailure(f, now, 0)
		return
	}
	if resp.Term > term {
		a.stepDown(resp.Term)
		return
	}
	if !resp.Succeeded {
		a.handleFailure(f, now, resp.LastLogIndex)
		return
	}
	a.handleSuccess(f, now, resp.LastLogIndex)
}

func (a *Appender) sendInstall(ctx context.Context, f *follower, term types.Term) {
	snap, ok := a.snaps.GetSnapshotByID(a.stateMachineID)
	if !ok {
		return
	}
	r, err := snap.Reader()
	if err != nil {
		return
	}
	defer r.Close()

	buf := make([]byte, 1<<20)
	n, err := r.Read(buf)
	if err != nil && n == 0 {
		return
	}
	resp, err := a.sender.SendInstall(ctx, f.id, InstallRequest{Term: term, Index: snap.Index, Data: buf[:n]})
	if err != nil {
		a.handleFailure(f, time.Now(), 0)
		return
	}
	if resp.Term > term {
		a.stepDown(resp.Term)
		return
	}
	if resp.Succeeded {
		a.mu.Lock()
		f.snapshotIndex = snap.Index
		f.nextIndex = snap.Index + 1
		f.failureCount = 0
		a.mu.Unlock()
	}
}

func (a *Appender) handleSuccess(f *follower, now time.Time, lastLogIndex types.Index) {
	a.mu.Lock()
	wasUnavailable := !f.available
	f.failureCount = 0
	f.available = true
	if lastLogIndex > f.matchIndex {
		f.matchIndex = lastLogIndex
	}
	f.nextIndex = f.matchIndex + 1
	f.lastCommitTime = now
	a.mu.Unlock()

	if wasUnavailable && a.OnStatusChange != nil {
		a.OnStatusChange(f.id, types.Available)
	}
	a.recomputeCommitIndex()
}

func (a *Appender) handleFailure(f *follower, now time.Time, hint types.Index) {
	a.mu.Lock()
	if hint > 0 && hint < f.matchIndex {
		f.matchIndex = hint
	}
	if hint > 0 {
		f.nextIndex = hint + 1
	} else if f.nextIndex > 1 {
		f.nextIndex--
	}
	f.failureCount++
	becomeUnavailable := f.available && f.failureCount >= a.cfg.FailuresUntilUnavail &&
		now.Sub(f.lastCommitTime) > a.cfg.ElectionTimeout
	if becomeUnavailable {
		f.available = false
	}
	a.mu.Unlock()

	if becomeUnavailable {
		a.log.Warn().Str("follower", f.id).Int("failures", f.failureCount).Msg("marking follower unavailable")
		if a.OnStatusChange != nil {
			a.OnStatusChange(f.id, types.Unavailable)
		}
	}
}

// recomputeCommitIndex advances the leader's commit index to the highest
// index acknowledged by a majority of the cluster (the leader's own log is
// always caught up, so it only takes a majority-minus-one of followers to
// reach quorum), restricted to entries appended during the leader's
// current term (Raft §5.4.2: a leader must never commit an entry from a
// prior term by counting replicas alone).
//
// The leader's own index is deliberately excluded from indexes: it is
// always the maximum of the set, so including it and then taking the
// midpoint skews the result toward the maximum follower matchIndex for an
// even total member count instead of the true majority value.
func (a *Appender) recomputeCommitIndex() {
	a.mu.Lock()
	indexes := make([]int, 0, len(a.followers))
	for _, f := range a.followers {
		indexes = append(indexes, int(f.matchIndex))
	}
	var median types.Index
	if len(indexes) == 0 {
		// A leader with no followers is itself a majority of one.
		median = a.source.LastIndex()
	} else {
		sort.Ints(indexes)
		median = types.Index(indexes[len(indexes)/2])
	}
	term := a.term
	current := a.commitIndex
	a.mu.Unlock()

	if median <= current {
		return
	}
	entry, ok, err := a.source.Get(median)
	if err != nil || !ok || entry.Term != term {
		return
	}

	a.mu.Lock()
	a.commitIndex = median
	a.mu.Unlock()

	if a.OnCommitAdvance != nil {
		a.OnCommitAdvance(median)
	}
}

func (a *Appender) stepDown(term types.Term) {
	if a.OnStepDown != nil {
		a.OnStepDown(term)
	}
}

func (a *Appender) CommitIndex() types.Index {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.commitIndex
}
