package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/raftkv/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMeta      = []byte("meta")
	bucketSnapshots = []byte("snapshots")

	keyTerm          = []byte("term")
	keyVotedFor      = []byte("voted_for")
	keyConfiguration = []byte("configuration")
)

// SnapshotRef is what the meta store remembers about the most recently
// retained snapshot for one state machine, so a restarting server knows
// which file to hand to its snapshot.Store without rescanning the
// snapshot directory.
type SnapshotRef struct {
	StateMachineID uint64
	Index          types.Index
	Path           string
}

// BoltStore persists a server's durable, non-log state in a single BoltDB
// file: the current term, the candidate voted for in that term, the last
// observed cluster configuration, and a directory of retained snapshots
// by state-machine id.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the meta database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "raft-meta.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketMeta, bucketSnapshots} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// SaveTerm persists the current term. Called every time a server observes
// or advances to a new term, before it reacts to the RPC that revealed it.
func (s *BoltStore) SaveTerm(term types.Term) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(term))
		return b.Put(keyTerm, buf)
	})
}

// SaveVote persists the candidate id voted for in the current term.
func (s *BoltStore) SaveVote(candidate string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		return b.Put(keyVotedFor, []byte(candidate))
	})
}

// SaveConfiguration persists the last cluster configuration observed from
// the log, so a restarting server knows its peers before it has replayed
// any log entries.
func (s *BoltStore) SaveConfiguration(cfg types.ClusterConfiguration) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		return b.Put(keyConfiguration, data)
	})
}

// LoadMeta reads back whatever persistent state exists. Missing keys are
// reported as their zero value; this is expected on a server's first ever
// start.
func (s *BoltStore) LoadMeta() (types.PersistentMeta, error) {
	var meta types.PersistentMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)

		if v := b.Get(keyTerm); v != nil {
			meta.CurrentTerm = types.Term(binary.BigEndian.Uint64(v))
		}
		if v := b.Get(keyVotedFor); v != nil {
			meta.VotedFor = string(v)
		}
		if v := b.Get(keyConfiguration); v != nil {
			var cfg types.ClusterConfiguration
			if err := json.Unmarshal(v, &cfg); err != nil {
				return fmt.Errorf("failed to decode configuration: %w", err)
			}
			meta.LastConfiguration = &cfg
		}
		return nil
	})
	return meta, err
}

// SaveSnapshotRef records the latest retained snapshot for a state
// machine, overwriting whatever reference was there before. The actual
// snapshot bytes live in the snapshot store's directory; this is just the
// pointer a restarting server follows to find them.
func (s *BoltStore) SaveSnapshotRef(ref SnapshotRef) error {
	data, err := json.Marshal(ref)
	if err != nil {
		return err
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, ref.StateMachineID)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		return b.Put(key, data)
	})
}

// LoadSnapshotRefs returns every retained snapshot pointer, keyed by
// state-machine id.
func (s *BoltStore) LoadSnapshotRefs() (map[uint64]SnapshotRef, error) {
	refs := make(map[uint64]SnapshotRef)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		return b.ForEach(func(k, v []byte) error {
			var ref SnapshotRef
			if err := json.Unmarshal(v, &ref); err != nil {
				return err
			}
			refs[ref.StateMachineID] = ref
			return nil
		})
	})
	return refs, err
}
