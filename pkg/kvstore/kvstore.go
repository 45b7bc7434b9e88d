// Package kvstore is a small replicated key-value store built on
// pkg/statemachine: the reference application raftd runs, and a
// concrete example of how to wire statemachine.Dispatcher against a
// JSON-encoded command/query envelope, adapted to this library's
// Apply/Query/Snapshot/Restore contract.
package kvstore

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/raftkv/pkg/statemachine"
)

// Op names the operation a Command or Query envelope carries.
const (
	OpPut    = "put"
	OpDelete = "delete"
	OpGet    = "get"
)

// Command is the wire shape of a mutating operation.
type Command struct {
	Op    string `json:"op"`
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// Query is the wire shape of a read.
type Query struct {
	Key string `json:"key"`
}

// QueryResult is what Get returns: Found is false when the key is absent,
// distinguishing "no value" from "empty string value".
type QueryResult struct {
	Value string `json:"value"`
	Found bool   `json:"found"`
}

// Store is a deterministic in-memory map replicated via raft. All
// mutation happens inside Apply, called only from the executor's single
// goroutine, so the mutex here guards only concurrent Query/Snapshot
// reads racing a later Apply after a role change.
type Store struct {
	mu         sync.RWMutex
	data       map[string]string
	dispatcher *statemachine.Dispatcher
}

func New() *Store {
	s := &Store{data: make(map[string]string)}
	s.dispatcher = statemachine.NewDispatcher()
	s.dispatcher.RegisterCommand(OpPut, s.applyPut)
	s.dispatcher.RegisterCommand(OpDelete, s.applyDelete)
	s.dispatcher.RegisterQuery(OpGet, s.query)
	return s
}

func (s *Store) Apply(ctx statemachine.Context, payload []byte) ([]byte, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return nil, fmt.Errorf("kvstore: decode command: %w", err)
	}
	return s.dispatcher.DispatchCommand(ctx, cmd.Op, payload)
}

func (s *Store) Query(ctx statemachine.Context, payload []byte) ([]byte, error) {
	var q Query
	if err := json.Unmarshal(payload, &q); err != nil {
		return nil, fmt.Errorf("kvstore: decode query: %w", err)
	}
	return s.dispatcher.DispatchQuery(ctx, OpGet, payload)
}

func (s *Store) applyPut(ctx statemachine.Context, payload []byte) ([]byte, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.data[cmd.Key] = cmd.Value
	s.mu.Unlock()
	return nil, nil
}

func (s *Store) applyDelete(ctx statemachine.Context, payload []byte) ([]byte, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return nil, err
	}
	s.mu.Lock()
	delete(s.data, cmd.Key)
	s.mu.Unlock()
	return nil, nil
}

func (s *Store) query(ctx statemachine.Context, payload []byte) ([]byte, error) {
	var q Query
	if err := json.Unmarshal(payload, &q); err != nil {
		return nil, err
	}
	s.mu.RLock()
	value, ok := s.data[q.Key]
	s.mu.RUnlock()
	return json.Marshal(QueryResult{Value: value, Found: ok})
}

func (s *Store) Snapshot(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.NewEncoder(w).Encode(s.data)
}

func (s *Store) Restore(r io.Reader) error {
	data := make(map[string]string)
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return fmt.Errorf("kvstore: restore: %w", err)
	}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}

var _ statemachine.StateMachine = (*Store)(nil)
