package toolwire

import (
	"context"
	"encoding/json"
	"iter"
)

// Connection provides the communication layer a Client drives. Implementations
// carry many concurrent in-flight requests, each distinguished by the ID field
// its message carries, and resolve each SendRequest call with the response
// bearing the matching ID. The wire encoding is the implementation's concern.
type Connection interface {
	// SendRequest transmits msg and blocks until the response carrying the same
	// ID arrives, the context is cancelled, or the transport fails. The msg must
	// carry a non-empty ID.
	SendRequest(ctx context.Context, msg Message) (Message, error)

	// Notify transmits msg without expecting a response.
	Notify(ctx context.Context, msg Message) error

	// Connected reports whether the connection is currently able to exchange
	// messages.
	Connected() bool

	// Identity returns an opaque identifier for the remote endpoint, stable for
	// the lifetime of the connection.
	Identity() string

	// StateChanges returns an iterator that yields connection state transitions.
	// The iterator exits once the connection is closed. It is intended for a
	// single consumer; the Client consumes it when one is supplied at
	// construction.
	StateChanges() iter.Seq[ConnState]

	// Close releases the connection's resources. Pending requests fail with a
	// transport error.
	Close() error
}

// ConnState represents the health of a connection as reported through its
// state-change stream.
type ConnState int

// Connection states, in the order a connection typically moves through them.
const (
	ConnStateConnected ConnState = iota
	ConnStateDisconnected
	ConnStateClosed
)

// String returns a human-readable state name.
func (s ConnState) String() string {
	switch s {
	case ConnStateConnected:
		return "connected"
	case ConnStateDisconnected:
		return "disconnected"
	case ConnStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnStateWatcher receives connection state transitions. The Client forwards
// its connection's transitions verbatim to the watcher supplied at
// construction; it does not interpret or filter them.
type ConnStateWatcher interface {
	// OnConnStateChanged is called for every state transition the connection
	// reports.
	OnConnStateChanged(state ConnState)
}

// ToolProvider supplies the tool catalog and executes tools on behalf of a
// Server.
type ToolProvider interface {
	// ListTools returns the catalog of tools this provider exposes, in the order
	// clients should see them.
	// Returns error if the catalog cannot be produced or the context is cancelled.
	ListTools(ctx context.Context) ([]Tool, error)

	// CallTool executes the named tool with the given opaque arguments and
	// returns its opaque result payload. A returned error is reported to the
	// client as a protocol-level error object, not a transport failure.
	CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
}
