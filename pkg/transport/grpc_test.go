package transport

import (
	"context"
	"testing"

	"github.com/cuemby/raftkv/pkg/appender"
	"github.com/cuemby/raftkv/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchRoutesByMethodName(t *testing.T) {
	h := &fakeHandler{addr: "node-1"}

	payload, err := gobMarshal(appender.AppendRequest{Term: 7, PrevLogIndex: 2})
	require.NoError(t, err)

	out, err := dispatch(context.Background(), h, &envelope{Method: methodAppend, Payload: payload})
	require.NoError(t, err)

	var resp appender.AppendResponse
	require.NoError(t, gobUnmarshal(out.Payload, &resp))
	assert.True(t, resp.Succeeded)
	assert.EqualValues(t, 7, resp.Term)
}

func TestDispatchUnknownMethodErrors(t *testing.T) {
	h := &fakeHandler{addr: "node-1"}
	_, err := dispatch(context.Background(), h, &envelope{Method: "Bogus"})
	assert.Error(t, err)
}

func TestEncodeResponseCarriesProtocolErrorInEnvelope(t *testing.T) {
	pe := &types.ProtocolError{Code: types.ErrCommandError, Message: "sequence already seen", LastSequence: 9}

	env, err := encodeResponse(methodCommand, CommandResponse{}, pe)
	require.NoError(t, err)
	require.NotEmpty(t, env.Err)
	require.Empty(t, env.Payload)

	got, err := decodeProtocolError(env.Err)
	require.NoError(t, err)
	assert.Equal(t, types.ErrCommandError, got.Code)
	assert.EqualValues(t, 9, got.LastSequence)
}

func TestEncodeResponsePassesThroughNonProtocolErrors(t *testing.T) {
	_, err := encodeResponse(methodCommand, CommandResponse{}, assert.AnError)
	assert.Equal(t, assert.AnError, err)
}

func TestGobCodecRoundTripsEnvelope(t *testing.T) {
	c := gobCodec{}
	in := &envelope{Method: methodVote, Payload: []byte{1, 2, 3}}

	data, err := c.Marshal(in)
	require.NoError(t, err)

	out := new(envelope)
	require.NoError(t, c.Unmarshal(data, out))
	assert.Equal(t, in.Method, out.Method)
	assert.Equal(t, in.Payload, out.Payload)
}
