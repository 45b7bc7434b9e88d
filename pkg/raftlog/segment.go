package raftlog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/raftkv/pkg/types"
)

// segment owns one {name}-{id}-{version}.log / .index file pair and the
// contiguous range of indices it holds. The log calls newSegment whenever
// the active segment is full or a new log is opened.
type segment struct {
	dir        string
	name       string
	id         uint64
	version    uint64
	baseIndex  types.Index // index of the first entry this segment holds
	nextIndex  types.Index // index the next Append will assign
	store      *store
	index      *offsetIndex
	maxEntries uint64
	maxBytes   uint64
}

func segmentPaths(dir, name string, id, version uint64) (logPath, idxPath string) {
	base := fmt.Sprintf("%s-%d-%d", name, id, version)
	return filepath.Join(dir, base+".log"), filepath.Join(dir, base+".index")
}

func newSegment(dir, name string, id, version uint64, baseIndex types.Index, maxEntries, maxBytes uint64) (*segment, error) {
	logPath, idxPath := segmentPaths(dir, name, id, version)

	logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("raftlog: open segment store: %w", err)
	}
	st, err := newStore(logFile)
	if err != nil {
		return nil, fmt.Errorf("raftlog: init segment store: %w", err)
	}

	idxFile, err := os.OpenFile(idxPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("raftlog: open segment index: %w", err)
	}
	idx, err := newOffsetIndex(idxFile, maxEntries)
	if err != nil {
		return nil, fmt.Errorf("raftlog: init segment index: %w", err)
	}

	s := &segment{
		dir: dir, name: name, id: id, version: version,
		baseIndex: baseIndex, store: st, index: idx,
		maxEntries: maxEntries, maxBytes: maxBytes,
	}

	if rel, ok := idx.LastOffset(); ok {
		s.nextIndex = baseIndex + types.Index(rel) + 1
	} else {
		s.nextIndex = baseIndex
	}
	return s, nil
}

// append writes one entry and returns its assigned index. Appends within a
// segment are always to the hot tail, so the index write uses the direct
// (uncommitted) path implicitly — there is nothing to search yet.
func (s *segment) append(entry types.LogEntry) (types.Index, error) {
	index := s.nextIndex
	entry.Index = index

	pos, _, err := s.store.appendRecord(entry.Term, entry.Type, encodeEntry(entry))
	if err != nil {
		return 0, err
	}
	rel := uint32(index - s.baseIndex)
	if err := s.index.Write(rel, pos); err != nil {
		return 0, err
	}
	s.nextIndex++
	return index, nil
}

// skip reserves n indices without writing any entries or index records,
// used when a follower must fast-forward past a gap a leader's Append told
// it to fill with placeholders it will never see individually.
func (s *segment) skip(n uint64) {
	s.nextIndex += types.Index(n)
}

func (s *segment) get(index types.Index, committed bool) (types.LogEntry, bool, error) {
	if index < s.baseIndex || index >= s.nextIndex {
		return types.LogEntry{}, false, nil
	}
	rel := int64(index - s.baseIndex)
	pos, err := s.index.position(rel, committed)
	if err != nil {
		return types.LogEntry{}, false, err
	}
	term, typ, payload, err := s.store.readRecord(pos)
	if err != nil {
		return types.LogEntry{}, false, err
	}
	entry, err := decodeEntry(index, term, typ, payload)
	if err != nil {
		return types.LogEntry{}, false, err
	}
	return entry, true, nil
}

// truncateSuffix removes every entry with index > at, returning true if the
// segment became empty and should be discarded entirely.
func (s *segment) truncateSuffix(at types.Index) (empty bool, err error) {
	if at < s.baseIndex {
		return true, nil
	}
	if at >= s.nextIndex-1 {
		return false, nil
	}
	rel := uint32(at - s.baseIndex)
	storePos, err := s.index.position(int64(rel), false)
	if err != nil {
		return false, err
	}
	// Re-read the truncation point's record to find where its bytes end.
	term, typ, payload, err := s.store.readRecord(storePos)
	if err != nil {
		return false, err
	}
	_ = term
	_ = typ
	endPos := storePos + recordHeaderLen + uint64(len(payload))

	if err := s.store.Truncate(endPos); err != nil {
		return false, err
	}
	if err := s.index.Truncate(rel); err != nil {
		return false, err
	}
	s.nextIndex = at + 1
	return false, nil
}

func (s *segment) isFull() bool {
	count := uint64(s.nextIndex - s.baseIndex)
	return count >= s.maxEntries || s.store.Size() >= s.maxBytes
}

func (s *segment) close() error {
	if err := s.store.Close(); err != nil {
		return err
	}
	return s.index.Close()
}

func (s *segment) remove() error {
	if err := s.close(); err != nil {
		return err
	}
	if err := os.Remove(s.store.Name()); err != nil {
		return err
	}
	return os.Remove(s.index.Name())
}
