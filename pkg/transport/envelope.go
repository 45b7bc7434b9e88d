package transport

import (
	"bytes"
	"encoding/gob"

	"github.com/cuemby/raftkv/pkg/types"
)

// method names the envelope's Payload decodes as. Exported as constants so
// the client and server sides of the grpc transport agree on spelling
// without a shared .proto.
const (
	methodAppend       = "Append"
	methodInstall      = "Install"
	methodVote         = "Vote"
	methodPoll         = "Poll"
	methodConfigure    = "Configure"
	methodConnect      = "Connect"
	methodRegister     = "Register"
	methodKeepAlive    = "KeepAlive"
	methodCloseSession = "CloseSession"
	methodCommand      = "Command"
	methodQuery        = "Query"
	methodMetadata     = "Metadata"
)

// envelope is the single message shape the grpc service ever sees: a
// method name plus a gob-encoded request or response. Per-RPC wire
// encoding is explicitly out of scope, so rather than a dozen .proto
// messages and generated stubs, every RPC rides this one envelope and
// is dispatched by method name on both ends.
//
// Err carries a gob-encoded wireError when the handler returned a
// *types.ProtocolError, instead of letting grpc propagate it as an
// opaque status — a bare Go error crossing grpc.Invoke loses its
// concrete type, which would strip the Code/LastSequence/Leader fields
// callers retry on.
type envelope struct {
	Method  string
	Payload []byte
	Err     []byte
}

// wireError is the gob-friendly projection of *types.ProtocolError: Cause
// is dropped since it is an interface whose concrete type the remote end
// has no way to decode, and is only ever useful in the originating
// server's own logs.
type wireError struct {
	Code         types.ErrorCode
	Message      string
	LastSequence uint64
	Leader       string
}

func encodeProtocolError(pe *types.ProtocolError) ([]byte, error) {
	return gobMarshal(wireError{Code: pe.Code, Message: pe.Message, LastSequence: pe.LastSequence, Leader: pe.Leader})
}

func decodeProtocolError(data []byte) (*types.ProtocolError, error) {
	var w wireError
	if err := gobUnmarshal(data, &w); err != nil {
		return nil, err
	}
	return &types.ProtocolError{Code: w.Code, Message: w.Message, LastSequence: w.LastSequence, Leader: w.Leader}, nil
}

// gobMarshal/gobUnmarshal encode a single request or response value into
// an envelope's Payload. Kept separate from the grpc codec (which only
// (de)serializes the envelope itself) so the payload format stays a
// private implementation detail of this package.
func gobMarshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobUnmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
