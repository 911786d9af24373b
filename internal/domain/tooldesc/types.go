// Package tooldesc holds the types produced by the OpenAPI synthesizer:
// an MCP-shaped tool description paired with the HTTP call it performs
// when invoked.
package tooldesc

// ParamLocation groups where an OpenAPI parameter travels on the wire.
type ParamLocation string

const (
	LocationBody   ParamLocation = "body"
	LocationHeader ParamLocation = "header"
	LocationQuery  ParamLocation = "query"
	LocationPath   ParamLocation = "path"
)

// Descriptor is the MCP-facing shape of a synthesized tool: a name,
// description, and a JSON Schema input shape grouped by destination
// ({body, header, query, path} top-level properties), matching the
// grouping the OpenAPI synthesizer builds.
type Descriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// UpstreamHTTPCall is the concrete HTTP request a Descriptor's tool
// invocation performs against the target's base URL.
type UpstreamHTTPCall struct {
	Method string
	// Path is the OpenAPI path template, e.g. "/pets/{petId}", with
	// path parameters substituted from the call's "path" argument group
	// at invocation time.
	Path string
}
