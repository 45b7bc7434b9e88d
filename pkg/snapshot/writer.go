package snapshot

import (
	"fmt"
	"os"
)

// Writer accumulates snapshot bytes behind a temporary file. The caller
// (the state-machine executor) is responsible for only calling Complete
// once every session's lastCompleted has reached the snapshot index —
// Persist alone only guarantees the bytes are durable, not that the
// snapshot is safe to hand to a new replica.
type Writer struct {
	store *Store
	snap  *Snapshot
	file  interface {
		Write([]byte) (int, error)
		Sync() error
		Close() error
	}
}

func (w *Writer) Write(p []byte) (int, error) { return w.file.Write(p) }

// Persist flushes the temporary file durably to disk.
func (w *Writer) Persist() error {
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("snapshot: persist: %w", err)
	}
	w.snap.Lifecycle = Persisted
	return nil
}

// Complete atomically promotes the persisted file to its canonical name
// and removes any prior snapshot for the same state-machine id.
func (w *Writer) Complete() (*Snapshot, error) {
	if err := w.file.Close(); err != nil {
		return nil, fmt.Errorf("snapshot: close before promote: %w", err)
	}
	if err := w.store.promote(w.snap); err != nil {
		return nil, err
	}
	return w.snap, nil
}

// Discard abandons a temporary snapshot, used when a write failure forces
// a retry at the next snapshot interval.
func (w *Writer) Discard() error {
	err := w.file.Close()
	_ = os.Remove(w.snap.path)
	return err
}
