package toolwire_test

import (
	"encoding/json"
	"testing"

	"github.com/hollowbeak/toolwire"
)

func TestMustStringUnmarshal(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"string", `"abc-123"`, "abc-123"},
		{"integer", `42`, "42"},
		{"float", `42.0`, "42"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var ms toolwire.MustString
			if err := json.Unmarshal([]byte(c.input), &ms); err != nil {
				t.Fatalf("failed to unmarshal %s: %v", c.input, err)
			}
			if string(ms) != c.want {
				t.Errorf("value, got %q, want %q", string(ms), c.want)
			}
		})
	}

	var ms toolwire.MustString
	if err := json.Unmarshal([]byte(`{"not":"scalar"}`), &ms); err == nil {
		t.Error("expected an error for a non-scalar ID, got nil")
	}
}

func TestMustStringMarshal(t *testing.T) {
	bs, err := json.Marshal(toolwire.MustString("req-1"))
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	if string(bs) != `"req-1"` {
		t.Errorf("marshalled value, got %s, want %q", bs, `"req-1"`)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	in := toolwire.Message{
		JSONRPC: toolwire.JSONRPCVersion,
		ID:      toolwire.MustString("id-1"),
		Method:  "tools/call",
		Params:  json.RawMessage(`{"name":"alpha"}`),
	}

	bs, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("failed to marshal message: %v", err)
	}

	var out toolwire.Message
	if err := json.Unmarshal(bs, &out); err != nil {
		t.Fatalf("failed to unmarshal message: %v", err)
	}

	if out.ID != in.ID || out.Method != in.Method {
		t.Errorf("round trip mismatch, got (%s, %s), want (%s, %s)",
			out.ID, out.Method, in.ID, in.Method)
	}
}

func TestWireErrorMessage(t *testing.T) {
	err := &toolwire.WireError{Code: -32601, Message: "method not found"}
	want := "request error, code: -32601, message: method not found"
	if err.Error() != want {
		t.Errorf("error string, got %q, want %q", err.Error(), want)
	}
}
