// Package wire defines the small hand-rolled JSON-RPC envelope types used
// for every message the gateway itself constructs — both requests sent
// to upstream MCP targets and responses returned to callers. The
// official SDK types (github.com/modelcontextprotocol/go-sdk/jsonrpc)
// are used only for decoding and classifying inbound client bytes
// (internal/mcpwire); constructing JSON-RPC by hand for everything the
// gateway originates avoids a request ID silently failing to round-trip
// through an interface{}, the same reason the proxy's own
// upstream_router.go hand-rolls its outbound envelopes instead of
// reusing the SDK's response type.
package wire

import "encoding/json"

// Request is a JSON-RPC request the gateway sends to an upstream target.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewRequest builds a Request with params marshaled from v.
func NewRequest(id int64, method string, v any) (*Request, error) {
	var params json.RawMessage
	if v != nil {
		p, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		params = p
	}
	return &Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}, nil
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

// Response is a JSON-RPC response from an upstream target. ID is kept as
// raw bytes since the gateway never needs to interpret it beyond
// matching it back to the request that produced it, which the pool's
// serialized per-connection access already guarantees without needing a
// correlation map.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}
