package toolwire

import (
	"encoding/json"
	"fmt"
)

// MustString is a type that enforces string representation for fields that can be either
// string or integer on the wire, such as request IDs. It handles automatic conversion
// during JSON marshaling/unmarshaling.
type MustString string

// Message represents a JSON-RPC 2.0 message exchanged with a tool endpoint.
// It can represent either a request, response, or notification depending on which
// fields are populated:
//   - Request: JSONRPC, ID, Method, and Params are set
//   - Response: JSONRPC, ID, and either Result or Error are set
//   - Notification: JSONRPC and Method are set (no ID)
type Message struct {
	// JSONRPC must always be "2.0" per the JSON-RPC specification
	JSONRPC string `json:"jsonrpc"`
	// ID uniquely identifies request-response pairs and must be a string or number
	ID MustString `json:"id,omitempty"`
	// Method contains the RPC method name for requests and notifications
	Method string `json:"method,omitempty"`
	// Params contains the parameters for the method call as a raw JSON document
	Params json.RawMessage `json:"params,omitempty"`
	// Result contains the successful response payload as a raw JSON document
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains error details if the request failed
	Error *WireError `json:"error,omitempty"`
}

// WireError represents a protocol-level error reported inside a well-formed
// response: the exchange succeeded at the transport level, but the remote
// operation failed. It follows the standard error object format defined in the
// JSON-RPC 2.0 specification.
type WireError struct {
	// Code indicates the error type that occurred.
	// Must use standard JSON-RPC error codes or custom codes outside the reserved range.
	Code int `json:"code"`

	// Message provides a short description of the error.
	Message string `json:"message"`

	// Data contains additional information about the error.
	// The value is unstructured and may be omitted.
	Data map[string]any `json:"data,omitempty"`
}

// Info contains metadata about a server or client instance including its name and version.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities represents the capabilities a server advertises during the
// initialize handshake.
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ClientCapabilities represents the capabilities a client advertises during the
// initialize handshake.
type ClientCapabilities struct {
	Experimental map[string]json.RawMessage `json:"experimental,omitempty"`
}

// ToolsCapability represents tool-specific capabilities.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// Tool defines a callable tool as it appears in an endpoint's catalog.
// InputSchema is an opaque schema document describing the expected arguments;
// it is passed through uninterpreted.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolDescriptor is a catalog entry returned by Client.ListTools, annotated with
// the identity of the endpoint that owns it. Description and InputSchema are
// optional; endpoints that omit them yield descriptors with those fields absent.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Server      string
}

// ToolInvocation describes a single tool execution request. Arguments is an
// opaque document passed through to the endpoint uninterpreted. When
// CorrelationID is empty the client generates one; it is used to match the
// asynchronous response to this invocation.
type ToolInvocation struct {
	Name          string
	Arguments     json.RawMessage
	CorrelationID string
}

// ToolOutcome is the result of a tool execution. Exactly one of Result or Err is
// populated: Result carries the opaque success payload, Err carries the
// protocol-level error the remote tool reported. A ToolOutcome with Success
// false means the call itself succeeded but the tool failed; transport failures
// are surfaced as errors from Client.CallTool instead, never as a ToolOutcome.
type ToolOutcome struct {
	CorrelationID string
	Success       bool
	Result        json.RawMessage
	Err           *WireError
}

type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Info               `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Info               `json:"serverInfo"`
}

type listToolsResult struct {
	Tools []Tool `json:"tools"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type cancelledParams struct {
	RequestID string `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

const (
	// JSONRPCVersion specifies the JSON-RPC protocol version used for communication.
	JSONRPCVersion = "2.0"

	// MethodToolsList is the method name for retrieving an endpoint's tool catalog.
	MethodToolsList = "tools/list"
	// MethodToolsCall is the method name for invoking a specific tool.
	MethodToolsCall = "tools/call"

	protocolVersion = "2024-11-05"

	methodInitialize = "initialize"

	methodNotificationsInitialized = "notifications/initialized"
	methodNotificationsCancelled   = "notifications/cancelled"
	methodNotificationsClosed      = "notifications/closed"

	errMsgUnsupportedProtocolVersion = "Unsupported protocol version"
	errMsgParseError                 = "Parse error"
	errMsgNotInitialized             = "Session not initialized"
	errMsgInvalidParams              = "Invalid params"
	errMsgMethodNotFound             = "Method not found"
	errMsgInternalError              = "Internal error"

	userCancelledReason = "Caller requested cancellation"

	jsonRPCParseErrorCode     = -32700
	jsonRPCInvalidRequestCode = -32600
	jsonRPCMethodNotFoundCode = -32601
	jsonRPCInvalidParamsCode  = -32602
	jsonRPCInternalErrorCode  = -32603
)

// UnmarshalJSON implements json.Unmarshaler to convert JSON data into MustString,
// handling both string and numeric input formats.
func (m *MustString) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch v := v.(type) {
	case string:
		*m = MustString(v)
	case float64:
		*m = MustString(fmt.Sprintf("%d", int(v)))
	case int:
		*m = MustString(fmt.Sprintf("%d", v))
	default:
		return fmt.Errorf("invalid type: %T", v)
	}

	return nil
}

// MarshalJSON implements json.Marshaler to convert MustString into its JSON
// representation, always encoding as a string value.
func (m MustString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(m))
}

func (e *WireError) Error() string {
	return fmt.Sprintf("request error, code: %d, message: %s", e.Code, e.Message)
}
