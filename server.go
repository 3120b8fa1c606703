package toolwire

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// ServerOption is a function that configures a server.
type ServerOption func(*Server)

// WithServerLogger sets the logger the server uses for diagnostic traces.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// Server is the endpoint counterpart of Client. It answers the initialize
// handshake, serves the tool catalog, and dispatches tool calls to its
// ToolProvider. A Server is transport-agnostic; ServeStdIO and SSEServer bind
// it to concrete transports.
type Server struct {
	info     Info
	provider ToolProvider
	logger   *slog.Logger
}

// NewServer creates a server that exposes the provider's tools under the given
// identity.
func NewServer(info Info, provider ToolProvider, options ...ServerOption) *Server {
	s := &Server{
		info:     info,
		provider: provider,
		logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// serverSession tracks per-connection handshake state. Requests arriving
// before a successful initialize are rejected.
type serverSession struct {
	mu          sync.Mutex
	initialized bool
}

func (sess *serverSession) isInitialized() bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.initialized
}

func (sess *serverSession) markInitialized() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.initialized = true
}

// handle dispatches one incoming message and returns the response to send
// back, or nil when the message is a notification and no response is due.
func (s *Server) handle(ctx context.Context, sess *serverSession, msg Message) *Message {
	switch msg.Method {
	case methodInitialize:
		return s.handleInitialize(sess, msg)
	case MethodToolsList:
		if !sess.isInitialized() {
			return errorResponse(msg.ID, jsonRPCInvalidRequestCode, errMsgNotInitialized)
		}
		return s.handleToolsList(ctx, msg)
	case MethodToolsCall:
		if !sess.isInitialized() {
			return errorResponse(msg.ID, jsonRPCInvalidRequestCode, errMsgNotInitialized)
		}
		return s.handleToolsCall(ctx, msg)
	case methodNotificationsInitialized, methodNotificationsCancelled, methodNotificationsClosed:
		return nil
	default:
		if msg.ID == "" {
			s.logger.Warn("ignoring unknown notification", "method", msg.Method)
			return nil
		}
		return errorResponse(msg.ID, jsonRPCMethodNotFoundCode, errMsgMethodNotFound)
	}
}

func (s *Server) handleInitialize(sess *serverSession, msg Message) *Message {
	var params initializeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return errorResponse(msg.ID, jsonRPCInvalidParamsCode, errMsgInvalidParams)
	}

	if params.ProtocolVersion != protocolVersion {
		return errorResponse(msg.ID, jsonRPCInvalidParamsCode,
			fmt.Sprintf("%s: %s", errMsgUnsupportedProtocolVersion, params.ProtocolVersion))
	}

	sess.markInitialized()

	return resultResponse(msg.ID, initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: ServerCapabilities{
			Tools: &ToolsCapability{},
		},
		ServerInfo: s.info,
	})
}

func (s *Server) handleToolsList(ctx context.Context, msg Message) *Message {
	tools, err := s.provider.ListTools(ctx)
	if err != nil {
		s.logger.Error("list tools failed", "err", err)
		return errorResponse(msg.ID, jsonRPCInternalErrorCode, err.Error())
	}
	return resultResponse(msg.ID, listToolsResult{Tools: tools})
}

func (s *Server) handleToolsCall(ctx context.Context, msg Message) *Message {
	var params callToolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return errorResponse(msg.ID, jsonRPCInvalidParamsCode, errMsgInvalidParams)
	}
	if params.Name == "" {
		return errorResponse(msg.ID, jsonRPCInvalidParamsCode, errMsgInvalidParams)
	}

	result, err := s.provider.CallTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.logger.Error("tool call failed", "tool", params.Name, "err", err)
		return errorResponse(msg.ID, jsonRPCInternalErrorCode, err.Error())
	}
	return resultResponse(msg.ID, json.RawMessage(result))
}

func resultResponse(id MustString, result any) *Message {
	bs, err := json.Marshal(result)
	if err != nil {
		return errorResponse(id, jsonRPCInternalErrorCode, errMsgInternalError)
	}
	return &Message{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  bs,
	}
}

func errorResponse(id MustString, code int, message string) *Message {
	return &Message{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error: &WireError{
			Code:    code,
			Message: message,
		},
	}
}
