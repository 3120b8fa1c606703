package toolwire

import (
	"errors"
	"fmt"
)

// ErrClientClosed is returned by client operations after Close; a closed client
// is not reusable and a new client must be constructed.
var ErrClientClosed = errors.New("toolwire: client is closed")

// NotInitializedError reports a session operation attempted before Initialize
// succeeded. This is a caller programming error: the operation is not retryable
// without first initializing the session.
type NotInitializedError struct {
	// Op is the name of the rejected operation.
	Op string
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("toolwire: %s requires an initialized session", e.Op)
}

// InitializationError reports that the endpoint's handshake response carried a
// protocol-level error or could not be interpreted. It is fatal to the client
// instance: callers should construct a new client and connection rather than
// retry the same instance indefinitely.
type InitializationError struct {
	// Detail describes what the handshake rejected.
	Detail string
	// Err is the underlying cause, when one exists.
	Err error
}

func (e *InitializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("toolwire: initialization failed: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("toolwire: initialization failed: %s", e.Detail)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// TransportError reports that the connection failed to deliver or correlate a
// response: a timeout, disconnect, or write failure. It is distinct from a
// protocol-level error carried inside a well-formed response, retryable, and
// the natural candidate for circuit-breaker wrapping.
type TransportError struct {
	// Op is the protocol operation that was in flight.
	Op string
	// Err is the underlying transport failure.
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("toolwire: %s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
