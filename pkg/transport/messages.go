package transport

import (
	"time"

	"github.com/cuemby/raftkv/pkg/types"
)

// VoteRequest/VoteResponse and PollRequest/PollResponse are the election
// RPCs. Poll is advisory pre-vote: granting a Poll never records a vote,
// so a partitioned candidate rejoining the cluster cannot bump the term
// of a stable leader merely by asking.
type VoteRequest struct {
	Term      types.Term
	Candidate string
	LogIndex  types.Index
	LogTerm   types.Term
}

type VoteResponse struct {
	Term   types.Term
	Voted  bool
}

type PollRequest struct {
	Term      types.Term
	Candidate string
	LogIndex  types.Index
	LogTerm   types.Term
}

type PollResponse struct {
	Term     types.Term
	Accepted bool
}

// ConfigureRequest carries a Join, Leave or Reconfigure request uniformly:
// the full desired member set for Reconfigure, or the single member being
// added/removed for Join/Leave.
type ConfigureRequest struct {
	Members []types.Member
}

type ConfigureResponse struct {
	Index   types.Index
	Term    types.Term
	Members []types.Member
}

// ConnectRequest (re)binds a session to a connection, or establishes an
// unauthenticated connection before a session exists.
type ConnectRequest struct {
	Session      types.SessionID
	ConnectionID string
}

type ConnectResponse struct {
	Leader  string
	Members []types.Member
}

type RegisterRequest struct {
	Name    string
	Type    string
	Timeout time.Duration
}

type RegisterResponse struct {
	Session types.SessionID
	Leader  string
	Members []types.Member
	Timeout time.Duration
}

type KeepAliveRequest struct {
	SessionIDs       []types.SessionID
	CommandSequences []uint64
	EventIndexes     []types.Index
	Connections      []string
}

type KeepAliveResponse struct {
	Leader  string
	Members []types.Member
}

type CloseSessionRequest struct {
	Session types.SessionID
}

type CloseSessionResponse struct{}

type CommandRequest struct {
	Session  types.SessionID
	Sequence uint64
	Payload  []byte
}

type CommandResponse struct {
	Index        types.Index
	EventIndex   types.Index
	Result       []byte
	Err          *types.ProtocolError
	LastSequence uint64
}

type QueryRequest struct {
	Session     types.SessionID
	Sequence    uint64
	Index       types.Index
	Consistency types.Consistency
	Payload     []byte
}

type QueryResponse struct {
	Index      types.Index
	EventIndex types.Index
	Result     []byte
	Err        *types.ProtocolError
}

type MetadataRequest struct {
	Session types.SessionID
}

type SessionInfo struct {
	ID    types.SessionID
	Name  string
	Type  string
	State types.SessionState
}

type MetadataResponse struct {
	Sessions []SessionInfo
}
