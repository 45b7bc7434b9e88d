package transport

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is registered as a grpc.CallContentSubtype / server codec so
// envelope values cross the wire as gob rather than protobuf. grpc only
// ever marshals *envelope; the method-specific request/response inside
// Payload is gob-encoded independently by gobMarshal/gobUnmarshal.
const codecName = "raftgob"

type gobCodec struct{}

func (gobCodec) Marshal(v any) ([]byte, error) {
	env, ok := v.(*envelope)
	if !ok {
		return nil, fmt.Errorf("transport: gobCodec cannot marshal %T", v)
	}
	return gobMarshal(env)
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	env, ok := v.(*envelope)
	if !ok {
		return fmt.Errorf("transport: gobCodec cannot unmarshal into %T", v)
	}
	return gobUnmarshal(data, env)
}

func (gobCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(gobCodec{})
}
