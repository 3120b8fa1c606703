package toolwire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

type clientState int

const (
	clientUninitialized clientState = iota
	clientInitialized
	clientClosed
)

// Client drives the tool-invocation session lifecycle against a remote
// endpoint: initialize, list tools, call tools, close. It constructs protocol
// messages, sends them through its Connection, and interprets the correlated
// responses, distinguishing protocol-level error objects from success payloads
// and both from transport failures.
//
// A Client moves strictly forward through uninitialized, initialized, and
// closed states. Initialize must succeed before any other operation is
// accepted; Close is terminal and the instance is not reusable afterwards.
// Once constructed, the Client exclusively owns the Connection it was given
// and releases it on Close.
//
// The Client never retries internally. Retry and circuit-breaking are composed
// externally around Initialize and CallTool; see the breaker package.
type Client struct {
	info Info
	conn Connection

	logger       *slog.Logger
	writeTimeout time.Duration

	connStateWatcher ConnStateWatcher

	mu                 sync.Mutex
	state              clientState
	serverInfo         Info
	serverCapabilities ServerCapabilities
}

var defaultClientWriteTimeout = 30 * time.Second

// WithClientLogger sets the logger the client uses for diagnostic traces of its
// own failures.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClientWriteTimeout bounds the time the client spends sending fire-and-forget
// notifications.
func WithClientWriteTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.writeTimeout = timeout
	}
}

// WithConnStateWatcher sets the watcher that receives the connection's state
// transitions, forwarded verbatim.
func WithConnStateWatcher(watcher ConnStateWatcher) ClientOption {
	return func(c *Client) {
		c.connStateWatcher = watcher
	}
}

// NewClient creates a client for the given connection. The info parameter
// identifies this client to the endpoint during the initialize handshake.
//
// The client subscribes to the connection's state-change stream at construction
// and forwards every transition to the watcher configured with
// WithConnStateWatcher. The session is not established until Initialize is
// called.
func NewClient(info Info, conn Connection, options ...ClientOption) *Client {
	c := &Client{
		info:   info,
		conn:   conn,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}

	if c.writeTimeout == 0 {
		c.writeTimeout = defaultClientWriteTimeout
	}

	go c.forwardConnStates()

	return c
}

// Initialize performs the capability-negotiation handshake with the endpoint.
// On success the client records the endpoint's identity and capabilities and
// accepts session operations. A protocol-level error in the handshake response,
// a protocol version mismatch, or an uninterpretable response yields an
// InitializationError and the client remains uninitialized.
//
// Initialize is idempotent: calling it on an already initialized client is a
// no-op success. Calling it on a closed client fails with ErrClientClosed.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case clientInitialized:
		c.mu.Unlock()
		return nil
	case clientClosed:
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.mu.Unlock()

	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    ClientCapabilities{},
		ClientInfo:      c.info,
	}
	paramsBs, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal initialize params: %w", err)
	}

	res, err := c.send(ctx, Message{
		JSONRPC: JSONRPCVersion,
		ID:      MustString(uuid.New().String()),
		Method:  methodInitialize,
		Params:  paramsBs,
	})
	if err != nil {
		return err
	}

	if res.Error != nil {
		nErr := &InitializationError{Detail: "endpoint rejected handshake", Err: res.Error}
		c.logger.Error("initialize failed", "server", c.conn.Identity(), "err", nErr)
		return nErr
	}

	var result initializeResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		nErr := &InitializationError{Detail: "malformed handshake response", Err: err}
		c.logger.Error("initialize failed", "server", c.conn.Identity(), "err", nErr)
		return nErr
	}

	if result.ProtocolVersion != protocolVersion {
		nErr := &InitializationError{
			Detail: fmt.Sprintf("protocol version mismatch: %s != %s", result.ProtocolVersion, protocolVersion),
		}
		c.logger.Error("initialize failed", "server", c.conn.Identity(), "err", nErr)
		return nErr
	}

	c.mu.Lock()
	if c.state == clientClosed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.serverInfo = result.ServerInfo
	c.serverCapabilities = result.Capabilities
	c.state = clientInitialized
	c.mu.Unlock()

	// The initialized notification is a courtesy to the endpoint; the handshake
	// already succeeded, so a send failure does not undo it.
	if err := c.notify(methodNotificationsInitialized, nil); err != nil {
		c.logger.Warn("failed to send initialized notification", "server", c.conn.Identity(), "err", err)
	}

	return nil
}

// ListTools retrieves the endpoint's tool catalog, preserving the order the
// endpoint defines. Entries may omit description and input schema; an entry
// missing its name is a hard parse failure. A protocol-level error in the
// response is returned as a *WireError.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	if err := c.requireInitialized("ListTools"); err != nil {
		return nil, err
	}

	res, err := c.send(ctx, Message{
		JSONRPC: JSONRPCVersion,
		ID:      MustString(uuid.New().String()),
		Method:  MethodToolsList,
	})
	if err != nil {
		return nil, err
	}

	if res.Error != nil {
		c.logger.Error("list tools failed", "server", c.conn.Identity(), "err", res.Error)
		return nil, res.Error
	}

	var result listToolsResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		nErr := fmt.Errorf("failed to unmarshal tool catalog: %w", err)
		c.logger.Error("list tools failed", "server", c.conn.Identity(), "err", nErr)
		return nil, nErr
	}

	identity := c.conn.Identity()
	descriptors := make([]ToolDescriptor, 0, len(result.Tools))
	for i, tool := range result.Tools {
		if tool.Name == "" {
			nErr := fmt.Errorf("tool catalog entry %d is missing a name", i)
			c.logger.Error("list tools failed", "server", identity, "err", nErr)
			return nil, nErr
		}
		descriptors = append(descriptors, ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
			Server:      identity,
		})
	}

	return descriptors, nil
}

// CallTool executes a tool on the endpoint and interprets the correlated
// response. A protocol-level error object in the response yields a ToolOutcome
// with Success false carrying that error; a result payload yields a ToolOutcome
// with Success true. Transport failures are returned as a *TransportError and
// never coerced into a ToolOutcome.
//
// When the invocation carries no correlation ID the client generates one.
// Cancelling ctx while suspended propagates the cancellation untouched and
// sends a best-effort cancelled notification carrying the correlation ID.
func (c *Client) CallTool(ctx context.Context, invocation ToolInvocation) (ToolOutcome, error) {
	if err := c.requireInitialized("CallTool"); err != nil {
		return ToolOutcome{}, err
	}
	if invocation.Name == "" {
		return ToolOutcome{}, errors.New("toolwire: tool invocation requires a name")
	}

	correlationID := invocation.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	params := callToolParams{
		Name:      invocation.Name,
		Arguments: invocation.Arguments,
	}
	paramsBs, err := json.Marshal(params)
	if err != nil {
		return ToolOutcome{}, fmt.Errorf("failed to marshal tool call params: %w", err)
	}

	res, err := c.send(ctx, Message{
		JSONRPC: JSONRPCVersion,
		ID:      MustString(correlationID),
		Method:  MethodToolsCall,
		Params:  paramsBs,
	})
	if err != nil {
		return ToolOutcome{}, err
	}

	// A response carrying both a result and an error violates the wire contract;
	// the error interpretation wins.
	if res.Error != nil {
		return ToolOutcome{
			CorrelationID: correlationID,
			Success:       false,
			Err:           res.Error,
		}, nil
	}

	return ToolOutcome{
		CorrelationID: correlationID,
		Success:       true,
		Result:        res.Result,
	}, nil
}

// Close ends the session. If the session is initialized and the connection
// reports itself connected, Close sends a fire-and-forget close notification;
// a send failure is logged, never raised. The client then transitions to
// closed and releases the connection it owns. Calling Close again is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	prev := c.state
	if prev == clientClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = clientClosed
	c.mu.Unlock()

	if prev == clientInitialized && c.conn.Connected() {
		if err := c.notify(methodNotificationsClosed, nil); err != nil {
			c.logger.Warn("failed to send close notification", "server", c.conn.Identity(), "err", err)
		}
	}

	return c.conn.Close()
}

// ServerInfo returns the endpoint identity recorded during the initialize
// handshake. It is the zero value until Initialize succeeds.
func (c *Client) ServerInfo() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// ServerCapabilities returns the capabilities the endpoint advertised during
// the initialize handshake.
func (c *Client) ServerCapabilities() ServerCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverCapabilities
}

func (c *Client) requireInitialized(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case clientClosed:
		return ErrClientClosed
	case clientUninitialized:
		return &NotInitializedError{Op: op}
	}
	return nil
}

// send transmits a request through the connection and classifies failures:
// caller cancellation propagates untouched (with a best-effort cancelled
// notification to the endpoint), everything else surfaces as a transport
// failure.
func (c *Client) send(ctx context.Context, msg Message) (Message, error) {
	res, err := c.conn.SendRequest(ctx, msg)
	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.Canceled) {
			if nErr := c.notify(methodNotificationsCancelled, cancelledParams{
				RequestID: string(msg.ID),
				Reason:    userCancelledReason,
			}); nErr != nil {
				c.logger.Warn("failed to send cancelled notification",
					"method", msg.Method, "server", c.conn.Identity(), "err", nErr)
			}
		}
		return Message{}, ctxErr
	}

	var tErr *TransportError
	if !errors.As(err, &tErr) {
		err = &TransportError{Op: msg.Method, Err: err}
	}
	c.logger.Error("request failed", "method", msg.Method, "server", c.conn.Identity(), "err", err)
	return Message{}, err
}

func (c *Client) notify(method string, params any) error {
	var paramsBs json.RawMessage
	if params != nil {
		bs, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsBs = bs
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()

	return c.conn.Notify(ctx, Message{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  paramsBs,
	})
}

func (c *Client) forwardConnStates() {
	for state := range c.conn.StateChanges() {
		if c.connStateWatcher != nil {
			c.connStateWatcher.OnConnStateChanged(state)
		}
	}
}
