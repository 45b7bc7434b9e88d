package storage

import (
	"github.com/cuemby/raftkv/pkg/types"
)

// Store is the durable, non-log state a server must read on restart
// before it may participate in an election or accept an Append.
type Store interface {
	SaveTerm(term types.Term) error
	SaveVote(candidate string) error
	SaveConfiguration(cfg types.ClusterConfiguration) error
	LoadMeta() (types.PersistentMeta, error)

	SaveSnapshotRef(ref SnapshotRef) error
	LoadSnapshotRefs() (map[uint64]SnapshotRef, error)

	Close() error
}
