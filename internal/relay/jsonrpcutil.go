package relay

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC error codes, carried over from the proxy's existing
// upstream_router constants plus a "denied" code. RBAC rejections are
// reported with errCodeInvalidRequest and a "not allowed" message;
// errCodeDenied is not used by any response.
const (
	errCodeInvalidRequest int64 = -32600
	errCodeMethodNotFound int64 = -32601
	errCodeInvalidParams  int64 = -32602
	errCodeInternal       int64 = -32603
	errCodeNoUpstreams    int64 = -32000
	errCodeDenied         int64 = -32001
)

// Outbound response envelopes are built by hand rather than through the
// SDK's jsonrpc.Response type: that type's ID field does not round-trip
// correctly through interface{}, so — exactly as the proxy's
// buildErrorResponse/buildResultResponse already do — the relay preserves
// a client request's raw "id" bytes directly.
type jsonRPCError struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Error   jsonRPCErrDetail `json:"error"`
}

type jsonRPCErrDetail struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

type jsonRPCResult struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result"`
}

func buildErrorResponse(rawID json.RawMessage, code int64, message string) []byte {
	resp := jsonRPCError{JSONRPC: "2.0", ID: rawID, Error: jsonRPCErrDetail{Code: code, Message: message}}
	raw, err := json.Marshal(resp)
	if err != nil {
		// Marshaling a struct of plain strings/ints cannot fail in practice;
		// fall back to a minimal hand-built payload if it somehow does.
		return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","error":{"code":%d,"message":"internal error"}}`, errCodeInternal))
	}
	return raw
}

func buildResultResponse(rawID json.RawMessage, result any) ([]byte, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	resp := jsonRPCResult{JSONRPC: "2.0", ID: rawID, Result: resultJSON}
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshaling response: %w", err)
	}
	return raw, nil
}

// splitName splits the "target:inner" routing convention on the first
// colon. ok is false when name has no colon, the spec's malformed-name
// edge case.
func splitName(name string) (target, inner string, ok bool) {
	for i := 0; i < len(name); i++ {
		if name[i] == ':' {
			return name[:i], name[i+1:], true
		}
	}
	return "", "", false
}
