// Package types defines the core data structures shared across the
// replication, session and state-machine layers: log entries, cluster
// membership, sessions and the typed error taxonomy clients observe.
package types

import "time"

// Index is the position of an entry in a replicated log. Indices are dense
// and strictly increasing within a single log.
type Index uint64

// Term is a Raft election term. At most one leader exists per term.
type Term uint64

// SessionID is the id of a client session. It equals the log index of the
// OpenSession entry that created it, so ids are globally unique and
// monotonically increasing.
type SessionID uint64

// EntryType tags the variant carried by a LogEntry.
type EntryType uint8

const (
	EntryInitialize EntryType = iota
	EntryConfiguration
	EntryOpenSession
	EntryKeepAlive
	EntryCloseSession
	EntryCommand
	EntryQuery
	EntryMetadata
)

func (t EntryType) String() string {
	switch t {
	case EntryInitialize:
		return "Initialize"
	case EntryConfiguration:
		return "Configuration"
	case EntryOpenSession:
		return "OpenSession"
	case EntryKeepAlive:
		return "KeepAlive"
	case EntryCloseSession:
		return "CloseSession"
	case EntryCommand:
		return "Command"
	case EntryQuery:
		return "Query"
	case EntryMetadata:
		return "Metadata"
	default:
		return "Unknown"
	}
}

// LogEntry is the fundamental unit stored in the replicated log. Exactly one
// of the Entry* fields is populated, selected by Type.
type LogEntry struct {
	Index Index
	Term  Term
	Type  EntryType

	Configuration *ConfigurationEntry
	OpenSession   *OpenSessionEntry
	KeepAlive     *KeepAliveEntry
	CloseSession  *CloseSessionEntry
	Command       *CommandEntry
	Query         *QueryEntry
	Metadata      *MetadataEntry
}

// ConfigurationEntry records a membership change. It takes effect on
// observation of its append, not on commit.
type ConfigurationEntry struct {
	Members   []Member
	Timestamp time.Time
}

// OpenSessionEntry registers a new client session.
type OpenSessionEntry struct {
	Name      string
	Type      string
	Timeout   time.Duration
	Timestamp time.Time
}

// KeepAliveEntry batches liveness and acknowledgement updates for one or
// more sessions in a single log entry.
type KeepAliveEntry struct {
	SessionIDs       []SessionID
	CommandSequences []uint64
	EventIndexes     []Index
	Connections      []string
	Timestamp        time.Time
}

// CloseSessionEntry explicitly terminates a session.
type CloseSessionEntry struct {
	Session   SessionID
	Timestamp time.Time
}

// CommandEntry is a mutating client operation.
type CommandEntry struct {
	Session   SessionID
	Sequence  uint64
	Timestamp time.Time
	Bytes     []byte
}

// Consistency selects the linearization guarantee a Query requires.
type Consistency uint8

const (
	// Sequential queries may observe a stale but monotonic view.
	Sequential Consistency = iota
	// LinearizableLease trusts the leader's election-timeout lease instead
	// of confirming quorum on every query.
	LinearizableLease
	// Linearizable forces a heartbeat round after execution to confirm the
	// server was still leader when it answered.
	Linearizable
)

func (c Consistency) String() string {
	switch c {
	case Sequential:
		return "SEQUENTIAL"
	case LinearizableLease:
		return "LINEARIZABLE_LEASE"
	case Linearizable:
		return "LINEARIZABLE"
	default:
		return "UNKNOWN"
	}
}

// QueryEntry is a read-only operation. It is only appended to the log when
// Consistency requires it; otherwise it is applied directly from memory.
type QueryEntry struct {
	Session     SessionID
	Sequence    uint64
	Timestamp   time.Time
	Bytes       []byte
	Consistency Consistency
}

// MetadataEntry is a non-replicating introspection request attached to the
// log only so it observes a consistent apply position.
type MetadataEntry struct {
	Session   SessionID
	Timestamp time.Time
}

// MemberType classifies how a cluster member participates in replication.
type MemberType uint8

const (
	// Active members vote in elections and hold the committed log.
	Active MemberType = iota
	// Passive members replicate asynchronously and never vote.
	Passive
	// Reserve members are stateless standbys that do not replicate.
	Reserve
)

func (t MemberType) String() string {
	switch t {
	case Active:
		return "ACTIVE"
	case Passive:
		return "PASSIVE"
	case Reserve:
		return "RESERVE"
	default:
		return "UNKNOWN"
	}
}

// MemberStatus tracks whether a member is currently reachable.
type MemberStatus uint8

const (
	Available MemberStatus = iota
	Unavailable
)

func (s MemberStatus) String() string {
	if s == Available {
		return "AVAILABLE"
	}
	return "UNAVAILABLE"
}

// Member is one entry of a ClusterConfiguration.
type Member struct {
	ID            string
	Type          MemberType
	Status        MemberStatus
	ServerAddress string
	ClientAddress string
}

// ClusterConfiguration is the set of members active as of a given log index.
// Exactly one configuration is active on a server at a time.
type ClusterConfiguration struct {
	Index     Index
	Term      Term
	Timestamp time.Time
	Members   []Member
}

// Member looks up a member by id, returning false if absent.
func (c *ClusterConfiguration) Member(id string) (Member, bool) {
	for _, m := range c.Members {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}

// ActiveMembers returns the voting subset of the configuration.
func (c *ClusterConfiguration) ActiveMembers() []Member {
	members := make([]Member, 0, len(c.Members))
	for _, m := range c.Members {
		if m.Type == Active {
			members = append(members, m)
		}
	}
	return members
}

// Quorum returns the number of active members required for a majority.
func (c *ClusterConfiguration) Quorum() int {
	return len(c.ActiveMembers())/2 + 1
}

// SessionState is the lifecycle state of a Session.
type SessionState uint8

const (
	SessionOpen SessionState = iota
	SessionExpired
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionOpen:
		return "OPEN"
	case SessionExpired:
		return "EXPIRED"
	case SessionClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// PersistentMeta is the per-server state that must survive restarts.
type PersistentMeta struct {
	CurrentTerm       Term
	VotedFor          string
	LastConfiguration *ClusterConfiguration
}
