// Package upstream implements the live, connected form of each
// target.Spec variant: the things a ConnectionPool actually caches and a
// Relay actually talks to.
package upstream

import (
	"context"

	"github.com/relaygate/relaygate/internal/domain/tooldesc"
	"github.com/relaygate/relaygate/internal/wire"
)

// Connection is the minimal shape every live upstream target satisfies.
type Connection interface {
	// Name is the target name this connection was created for.
	Name() string
	// Close tears down the connection's transport (process, socket, ...).
	Close() error
}

// MCPForwarder is implemented by targets that speak MCP's own JSON-RPC
// framing end to end (stdio, mcp_sse): the relay forwards a decoded
// request whose method/params already have the "target:" prefix
// stripped, and gets back a raw response to merge or relay unmodified.
type MCPForwarder interface {
	Connection
	Forward(ctx context.Context, req *wire.Request) (*wire.Response, error)
}

// ToolCaller is implemented by targets whose tool set the gateway itself
// computed (openapi) rather than one the upstream reports over JSON-RPC.
type ToolCaller interface {
	Connection
	ListTools(ctx context.Context) ([]tooldesc.Descriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// A2AConnection is implemented by a2a_sse targets, consumed only by the
// A2ARelay rather than the MCP Relay.
type A2AConnection interface {
	Connection
	FetchAgentCard(ctx context.Context) (map[string]any, error)
	ProxyRequest(ctx context.Context, body []byte) (*A2AResponse, error)
}

// A2AResponse is either a single JSON-RPC message or a channel of
// server-sent-event payloads, matching the two shapes an A2A backend's
// Content-Type can signal.
type A2AResponse struct {
	// Single is set when the backend responded application/json.
	Single []byte
	// Stream is set when the backend responded text/event-stream; each
	// element is one decoded "message" event's data payload. The
	// channel is closed when the backend closes its stream.
	Stream <-chan []byte
}
