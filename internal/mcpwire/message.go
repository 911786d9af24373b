// Package mcpwire wraps the modelcontextprotocol/go-sdk JSON-RPC message
// types with the small amount of extra bookkeeping the relay needs:
// direction, raw bytes for passthrough, and a raw-ID accessor that
// survives round-tripping through interface{}.
package mcpwire

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Direction indicates which way a Message is flowing through the relay.
type Direction int

const (
	ClientToServer Direction = iota
	ServerToClient
)

func (d Direction) String() string {
	if d == ServerToClient {
		return "server->client"
	}
	return "client->server"
}

// Message wraps a decoded JSON-RPC message together with its original
// bytes, so a handler that doesn't need to modify a message can forward
// Raw unchanged instead of re-marshaling Decoded.
type Message struct {
	Raw     []byte
	Direction Direction
	Decoded jsonrpc.Message

	parsedParams map[string]any
	paramsParsed bool
}

// Decode parses raw JSON-RPC bytes into a Message.
func Decode(raw []byte, dir Direction) (*Message, error) {
	msg, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return nil, err
	}
	return &Message{Raw: raw, Direction: dir, Decoded: msg}, nil
}

func (m *Message) IsRequest() bool {
	if m.Decoded == nil {
		return false
	}
	_, ok := m.Decoded.(*jsonrpc.Request)
	return ok
}

func (m *Message) IsResponse() bool {
	if m.Decoded == nil {
		return false
	}
	_, ok := m.Decoded.(*jsonrpc.Response)
	return ok
}

// Method returns the method name for a request message, or "" otherwise.
func (m *Message) Method() string {
	req := m.Request()
	if req == nil {
		return ""
	}
	return req.Method
}

func (m *Message) Request() *jsonrpc.Request {
	if m.Decoded == nil {
		return nil
	}
	req, _ := m.Decoded.(*jsonrpc.Request)
	return req
}

func (m *Message) Response() *jsonrpc.Response {
	if m.Decoded == nil {
		return nil
	}
	resp, _ := m.Decoded.(*jsonrpc.Response)
	return resp
}

// Params parses and caches the request's params as a generic map. Safe
// to call repeatedly.
func (m *Message) Params() map[string]any {
	if m.paramsParsed {
		return m.parsedParams
	}
	m.paramsParsed = true
	req := m.Request()
	if req == nil || req.Params == nil {
		return nil
	}
	var params map[string]any
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil
	}
	m.parsedParams = params
	return params
}

// RawID extracts the request "id" field directly from Raw, preserving its
// original JSON representation (number, string, or null) rather than
// round-tripping it through a Go interface{}.
func (m *Message) RawID() json.RawMessage {
	if m.Raw == nil {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(m.Raw, &raw); err != nil {
		return nil
	}
	return raw["id"]
}
