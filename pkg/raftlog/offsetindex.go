package raftlog

import (
	"encoding/binary"
	"errors"
	"os"
	"sync"

	"github.com/tysonmote/gommap"
)

// offsetEntryWidth is {statusFlag:u8, relOffset:u24, position:u32}.
const offsetEntryWidth = 8

// offsetIndexHeaderLen reserves a fixed-size header ahead of the entry
// array. Nothing is written into it; entries start right after it.
const offsetIndexHeaderLen = 16

// maxOffset is the largest relative offset the 24-bit field can address.
const maxOffset = 1<<24 - 1

// maxPosition is the largest byte position the 32-bit field can address.
const maxPosition = 1<<32 - 1

const cleanedFlag = 1

var errIndexFull = errors.New("raftlog: offset index is full")

// offsetIndex is the memory-mapped, fixed-width array mapping an entry's
// offset within a segment to its byte position in the segment's store
// file. Concurrent readers may read the mapped region freely; truncation
// and append are serialized by the owning segment.
type offsetIndex struct {
	mu         sync.RWMutex
	file       *os.File
	mmap       gommap.MMap
	size       uint64 // bytes currently holding valid entries, header excluded
	maxEntries uint64
}

func newOffsetIndex(f *os.File, maxEntries uint64) (*offsetIndex, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := uint64(info.Size())
	capacity := int64(offsetIndexHeaderLen + maxEntries*offsetEntryWidth)
	if size == 0 {
		if err := f.Truncate(capacity); err != nil {
			return nil, err
		}
		size = 0
	} else {
		size -= offsetIndexHeaderLen
	}

	m, err := gommap.Map(f.Fd(), gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		return nil, err
	}

	idx := &offsetIndex{file: f, mmap: m, size: size, maxEntries: maxEntries}
	idx.rebuildLastOffset()
	return idx, nil
}

// rebuildLastOffset settles `size` for an index reopened after a restart:
// size comes from the file length measured at open time (entries are
// dense, so the highest written slot is size/offsetEntryWidth), rounded
// down to a whole entry. It does not read the entries themselves.
func (idx *offsetIndex) rebuildLastOffset() {
	// size was already derived from file length at open time; nothing further
	// to do unless the file was truncated to a non-multiple of the entry
	// width by an external tool, in which case we round down defensively.
	idx.size -= idx.size % offsetEntryWidth
}

// Write appends one (relOffset, position) pair.
func (idx *offsetIndex) Write(relOffset uint32, position uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if relOffset > maxOffset || position > maxPosition {
		return errors.New("raftlog: offset or position exceeds addressable range")
	}
	n := idx.size / offsetEntryWidth
	if n >= idx.maxEntries {
		return errIndexFull
	}

	buf := idx.entrySlice(n)
	buf[0] = 0
	putUint24(buf[1:4], relOffset)
	binary.BigEndian.PutUint32(buf[4:8], uint32(position))
	idx.size += offsetEntryWidth
	return nil
}

// Read returns the (relOffset, position) pair at the given entry number.
// entryNum == -1 reads the last written entry.
func (idx *offsetIndex) Read(entryNum int64) (relOffset uint32, position uint64, err error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	count := int64(idx.size / offsetEntryWidth)
	if count == 0 {
		return 0, 0, errors.New("raftlog: offset index is empty")
	}
	if entryNum == -1 {
		entryNum = count - 1
	}
	if entryNum < 0 || entryNum >= count {
		return 0, 0, errors.New("raftlog: offset index entry out of range")
	}

	buf := idx.entrySlice(uint64(entryNum))
	relOffset = getUint24(buf[1:4])
	position = uint64(binary.BigEndian.Uint32(buf[4:8]))
	return relOffset, position, nil
}

// position resolves an entry number to a byte position. When committed is
// true it binary-searches the (monotone) relOffset column, matching entries
// that may have been logically cleaned by compaction without being
// physically removed from the index. When committed is false — the hot
// append path — entries are known dense and in order, so the slot is
// addressed directly without a search.
func (idx *offsetIndex) position(entryNum int64, committed bool) (uint64, error) {
	if !committed {
		_, pos, err := idx.Read(entryNum)
		return pos, err
	}

	idx.mu.RLock()
	count := int64(idx.size / offsetEntryWidth)
	idx.mu.RUnlock()

	lo, hi := int64(0), count-1
	for lo <= hi {
		mid := lo + (hi-lo)/2
		off, pos, err := idx.Read(mid)
		if err != nil {
			return 0, err
		}
		switch {
		case int64(off) == entryNum:
			return pos, nil
		case int64(off) < entryNum:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return 0, errors.New("raftlog: offset not found in index")
}

// MarkCleaned flips the status flag for entryNum, logically deleting it
// without shrinking the file (used by prefix compaction ahead of a full
// segment rewrite).
func (idx *offsetIndex) MarkCleaned(entryNum int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	count := int64(idx.size / offsetEntryWidth)
	if entryNum < 0 || entryNum >= count {
		return errors.New("raftlog: offset index entry out of range")
	}
	idx.entrySlice(uint64(entryNum))[0] = cleanedFlag
	return nil
}

// Truncate zero-fills every entry past relOffset o and resets the write
// cursor so the next Write lands immediately after it.
func (idx *offsetIndex) Truncate(o uint32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	count := idx.size / offsetEntryWidth
	var kept uint64
	for i := uint64(0); i < count; i++ {
		buf := idx.entrySlice(i)
		rel := getUint24(buf[1:4])
		if rel > o {
			break
		}
		kept = i + 1
	}
	for i := kept; i < count; i++ {
		clear(idx.entrySlice(i))
	}
	idx.size = kept * offsetEntryWidth
	return nil
}

func (idx *offsetIndex) LastOffset() (int64, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	count := idx.size / offsetEntryWidth
	if count == 0 {
		return 0, false
	}
	buf := idx.entrySlice(count - 1)
	return int64(getUint24(buf[1:4])), true
}

func (idx *offsetIndex) entrySlice(n uint64) []byte {
	start := offsetIndexHeaderLen + n*offsetEntryWidth
	return idx.mmap[start : start+offsetEntryWidth]
}

func (idx *offsetIndex) Sync() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.mmap.Sync(gommap.MS_SYNC); err != nil {
		return err
	}
	return idx.file.Sync()
}

// Close truncates the backing file down to the bytes actually used before
// closing it, so a restart doesn't have to scan a sparse max-size file.
func (idx *offsetIndex) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.mmap.Sync(gommap.MS_SYNC); err != nil {
		return err
	}
	if err := idx.file.Sync(); err != nil {
		return err
	}
	if err := idx.file.Truncate(int64(offsetIndexHeaderLen + idx.size)); err != nil {
		return err
	}
	return idx.file.Close()
}

func (idx *offsetIndex) Name() string { return idx.file.Name() }

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func getUint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func clear(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
