package client_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/cuemby/raftkv/pkg/client"
	"github.com/cuemby/raftkv/pkg/raft"
	"github.com/cuemby/raftkv/pkg/raftconfig"
	"github.com/cuemby/raftkv/pkg/statemachine"
	"github.com/cuemby/raftkv/pkg/transport"
	"github.com/cuemby/raftkv/pkg/types"
	"github.com/stretchr/testify/require"
)

type echoMachine struct{}

func (echoMachine) Apply(ctx statemachine.Context, bytes []byte) ([]byte, error) { return bytes, nil }
func (echoMachine) Query(ctx statemachine.Context, bytes []byte) ([]byte, error) { return bytes, nil }
func (echoMachine) Snapshot(w io.Writer) error                                   { return nil }
func (echoMachine) Restore(r io.Reader) error                                    { return nil }

func newBootstrappedServer(t *testing.T, registry *transport.Registry) *raft.Server {
	t.Helper()
	s, err := raft.New(raft.Config{
		Raft: raftconfig.Config{
			NodeID:            "n1",
			DataDir:           t.TempDir(),
			ServerAddress:     "n1",
			ClientAddress:     "n1",
			ElectionTimeout:   40 * time.Millisecond,
			HeartbeatInterval: 10 * time.Millisecond,
			SessionTimeout:    time.Second,
		}.WithDefaults(),
		Transport: registry,
		Machine:   echoMachine{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	registry.Bind("n1", s)
	s.Bootstrap()
	return s
}

func TestClientCommandRoundTrip(t *testing.T) {
	registry := transport.NewRegistry()
	newBootstrappedServer(t, registry)

	c, err := client.New(context.Background(), registry, []string{"n1"}, client.Options{Name: "test-client"})
	require.NoError(t, err)
	defer c.Close(context.Background())

	result, err := c.Command(context.Background(), []byte("ping"))
	require.NoError(t, err)
	require.Equal(t, []byte("ping"), result)
}

func TestClientQuerySequential(t *testing.T) {
	registry := transport.NewRegistry()
	newBootstrappedServer(t, registry)

	c, err := client.New(context.Background(), registry, []string{"n1"}, client.Options{Name: "test-client"})
	require.NoError(t, err)
	defer c.Close(context.Background())

	_, err = c.Command(context.Background(), []byte("seed"))
	require.NoError(t, err)

	result, err := c.Query(context.Background(), []byte("read"), types.Sequential)
	require.NoError(t, err)
	require.Equal(t, []byte("read"), result)
}
