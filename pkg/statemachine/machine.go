package statemachine

import (
	"io"
	"time"

	"github.com/cuemby/raftkv/pkg/types"
)

// StateMachine is the user-supplied deterministic application logic this
// library replicates. Apply and Query are invoked only from the
// executor's single goroutine, in strict index order, so an
// implementation needs no internal locking of its own state.
type StateMachine interface {
	Apply(ctx Context, bytes []byte) ([]byte, error)
	Query(ctx Context, bytes []byte) ([]byte, error)
	Snapshot(w io.Writer) error
	Restore(r io.Reader) error
}

// Context is handed to every Apply/Query invocation. It exposes the
// entry's replicated identity (so the state machine never needs to read
// a wall clock itself) and lets Apply publish events to the session that
// submitted the command and schedule deterministic follow-up callbacks.
type Context interface {
	Index() types.Index
	Timestamp() time.Time
	Session() types.SessionID
	Publish(payload []byte)
	Schedule(delay time.Duration, fn func(now time.Time)) uint64
	Cancel(id uint64)
}

// Handler processes one named operation's payload.
type Handler func(ctx Context, payload []byte) ([]byte, error)

// Dispatcher is an optional helper a StateMachine implementation can
// embed to route by an operation-type tag instead of hand-rolling a
// switch; raftkv itself is agnostic to how command bytes are structured,
// per the library's choice to leave per-field wire encoding unspecified.
type Dispatcher struct {
	commands map[string]Handler
	queries  map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{commands: make(map[string]Handler), queries: make(map[string]Handler)}
}

func (d *Dispatcher) RegisterCommand(opType string, h Handler) { d.commands[opType] = h }
func (d *Dispatcher) RegisterQuery(opType string, h Handler)   { d.queries[opType] = h }

func (d *Dispatcher) DispatchCommand(ctx Context, opType string, payload []byte) ([]byte, error) {
	h, ok := d.commands[opType]
	if !ok {
		return nil, types.NewError(types.ErrApplicationError, "no command handler registered for %q", opType)
	}
	return h(ctx, payload)
}

func (d *Dispatcher) DispatchQuery(ctx Context, opType string, payload []byte) ([]byte, error) {
	h, ok := d.queries[opType]
	if !ok {
		return nil, types.NewError(types.ErrApplicationError, "no query handler registered for %q", opType)
	}
	return h(ctx, payload)
}
