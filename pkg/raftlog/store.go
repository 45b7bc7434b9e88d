package raftlog

import (
	"bufio"
	"encoding/binary"
	"os"
	"sync"

	"github.com/cuemby/raftkv/pkg/types"
)

// recordHeaderLen is {length:u32, term:u64, type:u8}; payload follows.
const recordHeaderLen = 4 + 8 + 1

// store is the append-only data file backing one segment. Writes are
// buffered and flushed before every read to keep the two in sync, mirroring
// proglog's store type.
type store struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	size uint64
}

func newStore(f *os.File) (*store, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return &store{
		file: f,
		buf:  bufio.NewWriter(f),
		size: uint64(info.Size()),
	}, nil
}

// appendRecord writes one entry and returns its byte offset and on-disk
// width, so the caller can record both in the offset index.
func (s *store) appendRecord(term types.Term, typ types.EntryType, payload []byte) (pos uint64, width uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos = s.size
	total := uint64(recordHeaderLen + len(payload))

	header := make([]byte, recordHeaderLen)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint64(header[4:12], uint64(term))
	header[12] = byte(typ)

	if _, err = s.buf.Write(header); err != nil {
		return 0, 0, err
	}
	if _, err = s.buf.Write(payload); err != nil {
		return 0, 0, err
	}
	s.size += total
	return pos, total, nil
}

// readRecord returns the term, type and payload of the record starting at
// byte offset pos. The write buffer is flushed first so the read always
// sees the latest data, including entries appended earlier this call.
func (s *store) readRecord(pos uint64) (types.Term, types.EntryType, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.buf.Flush(); err != nil {
		return 0, 0, nil, err
	}

	header := make([]byte, recordHeaderLen)
	if _, err := s.file.ReadAt(header, int64(pos)); err != nil {
		return 0, 0, nil, err
	}
	length := binary.BigEndian.Uint32(header[0:4])
	term := types.Term(binary.BigEndian.Uint64(header[4:12]))
	typ := types.EntryType(header[12])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := s.file.ReadAt(payload, int64(pos)+recordHeaderLen); err != nil {
			return 0, 0, nil, err
		}
	}
	return term, typ, payload, nil
}

func (s *store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buf.Flush(); err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *store) Size() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Truncate drops the tail of the store past byte offset pos, used when a
// segment's suffix is truncated.
func (s *store) Truncate(pos uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buf.Flush(); err != nil {
		return err
	}
	if err := s.file.Truncate(int64(pos)); err != nil {
		return err
	}
	s.size = pos
	s.buf = bufio.NewWriter(s.file)
	if _, err := s.file.Seek(int64(pos), 0); err != nil {
		return err
	}
	return nil
}

func (s *store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buf.Flush(); err != nil {
		return err
	}
	return s.file.Close()
}

func (s *store) Name() string { return s.file.Name() }
