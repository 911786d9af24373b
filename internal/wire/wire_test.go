package wire

import (
	"encoding/json"
	"testing"
)

func TestNewRequest_MarshalsParams(t *testing.T) {
	req, err := NewRequest(7, "tools/call", map[string]string{"name": "echo"})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if req.JSONRPC != "2.0" {
		t.Errorf("JSONRPC = %q, want 2.0", req.JSONRPC)
	}
	if req.ID != 7 {
		t.Errorf("ID = %d, want 7", req.ID)
	}
	if req.Method != "tools/call" {
		t.Errorf("Method = %q, want tools/call", req.Method)
	}

	var got map[string]string
	if err := json.Unmarshal(req.Params, &got); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	if got["name"] != "echo" {
		t.Errorf("params[name] = %q, want echo", got["name"])
	}
}

func TestNewRequest_NilParamsOmitted(t *testing.T) {
	req, err := NewRequest(1, "tools/list", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if req.Params != nil {
		t.Errorf("Params = %v, want nil", req.Params)
	}

	b, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := raw["params"]; ok {
		t.Errorf("encoded request retained empty params field: %s", b)
	}
}

func TestResponse_RoundTripsErrorAndResult(t *testing.T) {
	resp := Response{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`5`),
		Error:   &Error{Code: -32601, Message: "method not found"},
	}
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Response
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Error == nil || decoded.Error.Code != -32601 {
		t.Errorf("decoded error = %+v, want code -32601", decoded.Error)
	}
	if decoded.Result != nil {
		t.Errorf("Result = %s, want nil alongside an error response", decoded.Result)
	}
}
