package toolwire_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hollowbeak/toolwire"
)

func setupSSE(t *testing.T) *toolwire.SSEConn {
	t.Helper()

	provider := &testProvider{}
	srv := toolwire.NewServer(toolwire.Info{Name: "sse-server", Version: "1.0"}, provider)

	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	sseSrv := toolwire.NewSSEServer(srv, ts.URL+"/message")
	mux.Handle("/sse", sseSrv.HandleSSE())
	mux.Handle("/message", sseSrv.HandleMessage())

	conn := toolwire.NewSSEConn(ts.URL+"/sse", ts.Client())
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func TestSSESessionLifecycle(t *testing.T) {
	conn := setupSSE(t)

	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("failed to start connection: %v", err)
	}
	if !conn.Connected() {
		t.Fatal("connection does not report connected after start")
	}

	cli := toolwire.NewClient(toolwire.Info{Name: "sse-client", Version: "1.0"}, conn)
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := cli.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	if got := cli.ServerInfo().Name; got != "sse-server" {
		t.Errorf("server name, got %q, want %q", got, "sse-server")
	}

	tools, err := cli.ListTools(ctx)
	if err != nil {
		t.Fatalf("failed to list tools: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("number of tools, got %d, want 2", len(tools))
	}

	outcome, err := cli.CallTool(ctx, toolwire.ToolInvocation{
		Name:      "echo",
		Arguments: json.RawMessage(`{"payload":"over sse"}`),
	})
	if err != nil {
		t.Fatalf("failed to call tool: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("echo outcome, got failure %v, want success", outcome.Err)
	}

	var echoed map[string]string
	if err := json.Unmarshal(outcome.Result, &echoed); err != nil {
		t.Fatalf("failed to unmarshal echo result: %v", err)
	}
	if echoed["payload"] != "over sse" {
		t.Errorf("echoed payload, got %q, want %q", echoed["payload"], "over sse")
	}
}

func TestSSEDispatchOutlivesSession(t *testing.T) {
	conn := setupSSE(t)

	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("failed to start connection: %v", err)
	}

	cli := toolwire.NewClient(toolwire.Info{Name: "sse-client", Version: "1.0"}, conn)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := cli.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}

	// Post a slow tool call without waiting for its response, then tear the
	// event stream down while the endpoint is still dispatching. The late
	// response must be refused, never written to the finalized stream.
	err := conn.Notify(ctx, toolwire.Message{
		JSONRPC: toolwire.JSONRPCVersion,
		ID:      toolwire.MustString("late-dispatch"),
		Method:  toolwire.MethodToolsCall,
		Params:  json.RawMessage(`{"name":"slow"}`),
	})
	if err != nil {
		t.Fatalf("failed to post tool call: %v", err)
	}

	if err := cli.Close(); err != nil {
		t.Fatalf("failed to close client: %v", err)
	}
	if conn.Connected() {
		t.Error("connection reports connected after close")
	}

	// Let the detached dispatch finish and attempt its refused send.
	time.Sleep(300 * time.Millisecond)
}

func TestSSEStreamBreakFailsInflight(t *testing.T) {
	provider := &testProvider{}
	srv := toolwire.NewServer(toolwire.Info{Name: "sse-server", Version: "1.0"}, provider)

	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	defer ts.Close()

	sseSrv := toolwire.NewSSEServer(srv, ts.URL+"/message")
	mux.Handle("/sse", sseSrv.HandleSSE())
	mux.Handle("/message", sseSrv.HandleMessage())

	conn := toolwire.NewSSEConn(ts.URL+"/sse", ts.Client())
	defer conn.Close()

	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("failed to start connection: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := conn.SendRequest(ctx, toolwire.Message{
		JSONRPC: toolwire.JSONRPCVersion,
		ID:      toolwire.MustString("init"),
		Method:  "initialize",
		Params:  json.RawMessage(`{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"raw","version":"1.0"}}`),
	})
	if err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	if res.Error != nil {
		t.Fatalf("initialize rejected: %v", res.Error)
	}

	// Sever every connection while a slow call is suspended; the broken
	// event stream must fail the in-flight request.
	go func() {
		time.Sleep(20 * time.Millisecond)
		ts.CloseClientConnections()
	}()

	_, err = conn.SendRequest(ctx, toolwire.Message{
		JSONRPC: toolwire.JSONRPCVersion,
		ID:      toolwire.MustString("doomed"),
		Method:  toolwire.MethodToolsCall,
		Params:  json.RawMessage(`{"name":"slow"}`),
	})
	var tErr *toolwire.TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("error type, got %T (%v), want *toolwire.TransportError", err, err)
	}

	deadline := time.After(time.Second)
	for conn.Connected() {
		select {
		case <-deadline:
			t.Fatal("connection still reports connected after the stream broke")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSSEStartAgainstBrokenEndpoint(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	}))
	defer ts.Close()

	conn := toolwire.NewSSEConn(ts.URL+"/sse", ts.Client())
	defer conn.Close()

	err := conn.Start(context.Background())
	var tErr *toolwire.TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("error type, got %T (%v), want *toolwire.TransportError", err, err)
	}
	if conn.Connected() {
		t.Error("connection reports connected after a failed start")
	}
}

func TestSSESendBeforeStart(t *testing.T) {
	conn := toolwire.NewSSEConn("http://localhost:0/sse", nil)
	defer conn.Close()

	_, err := conn.SendRequest(context.Background(), toolwire.Message{
		JSONRPC: toolwire.JSONRPCVersion,
		ID:      toolwire.MustString("early"),
		Method:  "probe",
	})
	var tErr *toolwire.TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("error type, got %T, want *toolwire.TransportError", err)
	}
}

func TestSSEUnknownSessionRejected(t *testing.T) {
	provider := &testProvider{}
	srv := toolwire.NewServer(toolwire.Info{Name: "sse-server", Version: "1.0"}, provider)

	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	defer ts.Close()

	sseSrv := toolwire.NewSSEServer(srv, ts.URL+"/message")
	mux.Handle("/message", sseSrv.HandleMessage())

	resp, err := http.Post(ts.URL+"/message?sessionID=ghost", "application/json",
		nil)
	if err != nil {
		t.Fatalf("failed to post message: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status code, got %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}
