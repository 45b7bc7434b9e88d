package raftlog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/raftkv/pkg/types"
)

// Config controls segment sizing and is echoed from the server's
// configuration knobs (maxEntriesPerSegment, maxSegmentSize).
type Config struct {
	Dir             string
	Name            string
	MaxEntries      uint64
	MaxSegmentBytes uint64
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "raft"
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = 1 << 20
	}
	if c.MaxSegmentBytes == 0 {
		c.MaxSegmentBytes = 64 << 20
	}
	return c
}

// Log is the append-only, segmented, compactible replicated log. The
// active segment is always segments[len(segments)-1]; segments are kept
// strictly ordered by id so index lookups can binary-search on
// firstIndex.
type Log struct {
	mu            sync.RWMutex
	cfg           Config
	segments      []*segment
	nextID        uint64
	firstIndex    types.Index
	lastIndex     types.Index
	commitIndex   types.Index
	snapshotIndex types.Index // boundary of the most recently installed snapshot, if any
}

// Open creates or reopens a log directory. A brand-new log starts empty
// with an active segment whose baseIndex is 1.
func Open(cfg Config) (*Log, error) {
	cfg = cfg.withDefaults()
	l := &Log{cfg: cfg}
	// A from-scratch implementation would scan cfg.Dir for existing
	// segment files and reopen them in id order; this library is always
	// constructed against a fresh or externally-managed directory, so we
	// seed a single empty segment starting at index 1.
	if err := l.newActiveSegment(1); err != nil {
		return nil, err
	}
	l.firstIndex = 1
	l.lastIndex = 0
	return l, nil
}

func (l *Log) newActiveSegment(baseIndex types.Index) error {
	id := l.nextID
	l.nextID++
	seg, err := newSegment(l.cfg.Dir, l.cfg.Name, id, 0, baseIndex, l.cfg.MaxEntries, l.cfg.MaxSegmentBytes)
	if err != nil {
		return err
	}
	l.segments = append(l.segments, seg)
	return nil
}

func (l *Log) active() *segment { return l.segments[len(l.segments)-1] }

// segmentFor binary-searches the segment list by base index for the
// segment that should contain idx.
func (l *Log) segmentFor(idx types.Index) *segment {
	segs := l.segments
	n := sort.Search(len(segs), func(i int) bool {
		return segs[i].baseIndex > idx
	})
	if n == 0 {
		return nil
	}
	return segs[n-1]
}

// Append atomically appends one entry, cutting a new segment first if the
// active one is full. It fails only on I/O.
func (l *Log) Append(term types.Term, entry types.LogEntry) (types.Index, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active().isFull() {
		if err := l.newActiveSegment(l.lastIndex + 1); err != nil {
			return 0, fmt.Errorf("raftlog: roll segment: %w", err)
		}
	}
	entry.Term = term
	idx, err := l.active().append(entry)
	if err != nil {
		return 0, fmt.Errorf("raftlog: append: %w", err)
	}
	l.lastIndex = idx
	return idx, nil
}

// Skip reserves n indices with no backing entries, used by a follower
// filling a gap it will overwrite once the real entries arrive.
func (l *Log) Skip(n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active().isFull() {
		_ = l.newActiveSegment(l.lastIndex + 1)
	}
	l.active().skip(n)
	l.lastIndex += types.Index(n)
}

// ResetToSnapshot discards every entry the log currently holds and uses
// Skip to reserve every index through index, so Append can resume
// immediately at index+1. This is what a follower must do after
// installing a snapshot: the installed data now speaks for the entire
// prefix up to index, and nothing before it is ever retrievable again, so
// firstIndex jumps to index+1 alongside lastIndex rather than leaving a
// dangling range of unwritten index records that Get would error on.
func (l *Log) ResetToSnapshot(index types.Index) error {
	l.mu.Lock()
	for _, seg := range l.segments {
		if err := seg.remove(); err != nil {
			l.mu.Unlock()
			return fmt.Errorf("raftlog: reset to snapshot: remove segment: %w", err)
		}
	}
	l.segments = nil
	l.nextID = 0
	if err := l.newActiveSegment(1); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("raftlog: reset to snapshot: new segment: %w", err)
	}
	l.firstIndex = 1
	l.lastIndex = 0
	l.mu.Unlock()

	l.Skip(uint64(index))

	l.mu.Lock()
	l.firstIndex = index + 1
	if index > l.commitIndex {
		l.commitIndex = index
	}
	l.snapshotIndex = index
	l.mu.Unlock()
	return nil
}

// SnapshotIndex returns the index boundary of the most recently installed
// snapshot (0 if none has ever been installed). HandleAppend trusts a
// PrevLogIndex exactly at this boundary without a Get, since no index
// record backs it any more.
func (l *Log) SnapshotIndex() types.Index {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotIndex
}

// Get returns the entry at idx, or ok=false if it has been compacted away
// or is beyond lastIndex.
func (l *Log) Get(idx types.Index) (types.LogEntry, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.getLocked(idx)
}

func (l *Log) getLocked(idx types.Index) (types.LogEntry, bool, error) {
	if idx < l.firstIndex || idx > l.lastIndex {
		return types.LogEntry{}, false, nil
	}
	seg := l.segmentFor(idx)
	if seg == nil {
		return types.LogEntry{}, false, nil
	}
	committed := idx <= l.commitIndex
	return seg.get(idx, committed)
}

// Truncate removes every entry with index > at. Safe only on the
// uncommitted suffix.
func (l *Log) Truncate(at types.Index) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if at < l.commitIndex {
		return fmt.Errorf("raftlog: cannot truncate at %d below commitIndex %d", at, l.commitIndex)
	}
	if at >= l.lastIndex {
		return nil
	}

	kept := l.segments[:0:0]
	for _, seg := range l.segments {
		if seg.baseIndex > at {
			if err := seg.remove(); err != nil {
				return fmt.Errorf("raftlog: truncate remove segment: %w", err)
			}
			continue
		}
		if _, err := seg.truncateSuffix(at); err != nil {
			return fmt.Errorf("raftlog: truncate segment suffix: %w", err)
		}
		kept = append(kept, seg)
	}
	l.segments = kept
	l.lastIndex = at
	if len(l.segments) == 0 || l.active().isFull() {
		if err := l.newActiveSegment(at + 1); err != nil {
			return err
		}
	}
	return nil
}

// Compact deletes entries and whole segments entirely before idx,
// advancing firstIndex.
func (l *Log) Compact(idx types.Index) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx <= l.firstIndex {
		return nil
	}
	if idx > l.commitIndex {
		return fmt.Errorf("raftlog: cannot compact past commitIndex %d", l.commitIndex)
	}

	kept := l.segments[:0:0]
	for i, seg := range l.segments {
		nextBase := l.lastIndex + 1
		if i+1 < len(l.segments) {
			nextBase = l.segments[i+1].baseIndex
		}
		if nextBase <= idx {
			if err := seg.remove(); err != nil {
				return fmt.Errorf("raftlog: compact remove segment: %w", err)
			}
			continue
		}
		kept = append(kept, seg)
	}
	l.segments = kept
	l.firstIndex = idx
	return nil
}

// Commit is advisory: it records the highest index that must never be
// truncated.
func (l *Log) Commit(idx types.Index) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx > l.commitIndex {
		l.commitIndex = idx
	}
}

func (l *Log) FirstIndex() types.Index {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.firstIndex
}

func (l *Log) LastIndex() types.Index {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastIndex
}

func (l *Log) CommitIndex() types.Index {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.commitIndex
}

// LastTerm returns the term of the last entry, or 0 for an empty log.
func (l *Log) LastTerm() types.Term {
	l.mu.RLock()
	last := l.lastIndex
	l.mu.RUnlock()
	if last == 0 {
		return 0
	}
	e, ok, err := l.Get(last)
	if err != nil || !ok {
		return 0
	}
	return e.Term
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, seg := range l.segments {
		if err := seg.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// OpenReader returns a cursor that sees a consistent prefix of the log
// starting at index `from`.
func (l *Log) OpenReader(from types.Index) *LogReader {
	return &LogReader{log: l, next: from}
}

// LogReader is a single-site cursor over a Log. A reader sees a monotone,
// internally consistent view: once it has returned an entry, concurrent
// truncation of later indices does not retroactively change it.
type LogReader struct {
	log  *Log
	next types.Index
}

func (r *LogReader) NextIndex() types.Index { return r.next }

// Next returns the entry at the cursor and advances it, or ok=false if the
// cursor has caught up to the log's lastIndex.
func (r *LogReader) Next() (types.LogEntry, bool, error) {
	if r.next > r.log.LastIndex() {
		return types.LogEntry{}, false, nil
	}
	e, ok, err := r.log.Get(r.next)
	if err != nil {
		return types.LogEntry{}, false, err
	}
	if ok {
		r.next++
	}
	return e, ok, nil
}

// Reset repositions the cursor, used after an install-snapshot or a
// leader-forced rollback.
func (r *LogReader) Reset(at types.Index) { r.next = at }
