// Package relay implements the gateway's MCP server role: it decodes
// inbound JSON-RPC requests, fans "list_*" out across every pooled
// target a listener can reach, routes "call_*" / "get_*" / "read_*" by
// splitting the "target:inner" composed name, and runs RBAC ahead of
// every non-list dispatch. Grounded on the proxy's existing
// UpstreamRouter (internal/domain/proxy/upstream_router.go), generalized
// from a single flat tool namespace routed to one owning upstream into
// a target-scoped namespace fanned out or routed across N pooled
// targets.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/relaygate/relaygate/internal/configstore"
	"github.com/relaygate/relaygate/internal/domain/identity"
	"github.com/relaygate/relaygate/internal/domain/rbac"
	"github.com/relaygate/relaygate/internal/domain/target"
	"github.com/relaygate/relaygate/internal/domain/tooldesc"
	gerr "github.com/relaygate/relaygate/internal/gatewayerr"
	"github.com/relaygate/relaygate/internal/mcpwire"
	"github.com/relaygate/relaygate/internal/pool"
	"github.com/relaygate/relaygate/internal/upstream"
	"github.com/relaygate/relaygate/internal/wire"
)

const protocolVersion = "2025-06-18"

// Relay is the concrete MCP handler. Construct with New.
type Relay struct {
	store *configstore.Store
	pool  *pool.Pool
}

// New returns a Relay reading targets/policy from store and connections
// from p.
func New(store *configstore.Store, p *pool.Pool) *Relay {
	return &Relay{store: store, pool: p}
}

// Handle decodes raw as a single inbound JSON-RPC request and dispatches
// it, returning the response bytes to write back to the caller.
// listenerName selects which listener's effective RBAC policy applies.
// A nil, nil return means raw was a notification and no response should
// be written.
func (r *Relay) Handle(ctx context.Context, id identity.Identity, listenerName string, raw []byte) ([]byte, error) {
	msg, err := mcpwire.Decode(raw, mcpwire.ClientToServer)
	if err != nil {
		return buildErrorResponse(nil, errCodeInvalidRequest, fmt.Sprintf("malformed request: %v", err)), nil
	}
	if !msg.IsRequest() {
		return buildErrorResponse(nil, errCodeInvalidRequest, "expected a JSON-RPC request"), nil
	}
	rawID := msg.RawID()

	switch msg.Method() {
	case "initialize":
		return buildResultResponse(rawID, r.getInfo())
	case "notifications/initialized":
		return nil, nil
	case "tools/list":
		return r.handleList(ctx, id, listenerName, rawID, toolsListSpec, []target.Kind{target.KindStdio, target.KindMCPSSE, target.KindOpenAPI})
	case "resources/list":
		return r.handleList(ctx, id, listenerName, rawID, resourcesListSpec, []target.Kind{target.KindStdio, target.KindMCPSSE})
	case "resources/templates/list":
		return r.handleList(ctx, id, listenerName, rawID, resourceTemplatesListSpec, []target.Kind{target.KindStdio, target.KindMCPSSE})
	case "prompts/list":
		return r.handleList(ctx, id, listenerName, rawID, promptsListSpec, []target.Kind{target.KindStdio, target.KindMCPSSE})
	case "tools/call":
		return r.handleToolsCall(ctx, id, listenerName, rawID, msg.Params())
	case "resources/read":
		return r.handleResourcesRead(ctx, id, listenerName, rawID, msg.Params())
	case "prompts/get":
		return r.handlePromptsGet(ctx, id, listenerName, rawID, msg.Params())
	default:
		return buildErrorResponse(rawID, errCodeMethodNotFound, fmt.Sprintf("method not found: %s", msg.Method())), nil
	}
}

func (r *Relay) getInfo() map[string]any {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"prompts":   map[string]any{},
			"resources": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "relaygate",
			"version": "1.0.0",
		},
	}
}

// listSpec describes one list_* method's fan-out shape: the JSON-RPC
// method forwarded to an MCPForwarder target, the top-level result key
// holding the item array, and the field within each item that carries
// the inner name the gateway must prefix with "target:".
type listSpec struct {
	method    string
	resultKey string
	idKey     string
}

var (
	toolsListSpec             = listSpec{method: "tools/list", resultKey: "tools", idKey: "name"}
	resourcesListSpec         = listSpec{method: "resources/list", resultKey: "resources", idKey: "uri"}
	resourceTemplatesListSpec = listSpec{method: "resources/templates/list", resultKey: "resourceTemplates", idKey: "uriTemplate"}
	promptsListSpec           = listSpec{method: "prompts/list", resultKey: "prompts", idKey: "name"}
)

// handleList fans out in parallel to every configured target of kinds,
// rewrites each item's idKey field to "target:inner", and concatenates
// the results in target-name order. A target that fails to connect or
// answer is logged-and-dropped rather than failing the whole call,
// matching spec.md §4.4's list_* semantics.
func (r *Relay) handleList(ctx context.Context, id identity.Identity, listenerName string, rawID json.RawMessage, spec listSpec, kinds []target.Kind) ([]byte, error) {
	snap, err := r.store.Snapshot()
	if err != nil {
		return buildErrorResponse(rawID, errCodeInternal, "configuration unavailable"), nil
	}
	want := make(map[target.Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}

	var names []string
	for name, t := range snap.Targets {
		if want[t.Spec.Kind()] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	results := make([][]map[string]any, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			conn, err := r.pool.GetOrCreate(ctx, id, name)
			if err != nil {
				slog.Default().Warn("list fan-out: dropping target", "method", spec.method, "target", name, "error", err)
				return
			}
			items, err := r.fetchListItems(ctx, conn, spec)
			if err != nil {
				slog.Default().Warn("list fan-out: dropping target", "method", spec.method, "target", name, "error", err)
				return
			}
			for _, item := range items {
				if v, ok := item[spec.idKey].(string); ok {
					item[spec.idKey] = name + ":" + v
				}
			}
			results[i] = items
		}(i, name)
	}
	wg.Wait()

	var merged []map[string]any
	for _, items := range results {
		merged = append(merged, items...)
	}
	if merged == nil {
		merged = []map[string]any{}
	}
	return buildResultResponse(rawID, map[string]any{spec.resultKey: merged})
}

func (r *Relay) fetchListItems(ctx context.Context, conn upstream.Connection, spec listSpec) ([]map[string]any, error) {
	if tc, ok := conn.(upstream.ToolCaller); ok && spec.resultKey == toolsListSpec.resultKey {
		descs, err := tc.ListTools(ctx)
		if err != nil {
			return nil, err
		}
		items := make([]map[string]any, 0, len(descs))
		for _, d := range descs {
			items = append(items, descriptorToMap(d))
		}
		return items, nil
	}

	fwd, ok := conn.(upstream.MCPForwarder)
	if !ok {
		return nil, nil
	}
	req, err := wire.NewRequest(0, spec.method, map[string]any{})
	if err != nil {
		return nil, err
	}
	resp, err := fwd.Forward(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, gerr.New(gerr.KindUpstream, "relay.fetchListItems", fmt.Errorf("%s: %s", conn.Name(), resp.Error.Message))
	}
	var result map[string]json.RawMessage
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, err
	}
	raw, ok := result[spec.resultKey]
	if !ok {
		return nil, nil
	}
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func descriptorToMap(d tooldesc.Descriptor) map[string]any {
	return map[string]any{
		"name":        d.Name,
		"description": d.Description,
		"inputSchema": d.InputSchema,
	}
}

func (r *Relay) handleToolsCall(ctx context.Context, id identity.Identity, listenerName string, rawID json.RawMessage, params map[string]any) ([]byte, error) {
	composed, _ := params["name"].(string)
	args, _ := params["arguments"].(map[string]any)

	targetName, inner, ok := splitName(composed)
	if !ok {
		return buildErrorResponse(rawID, errCodeInvalidRequest, fmt.Sprintf("malformed tool name: %q", composed)), nil
	}

	decision, err := r.authorize(ctx, id, listenerName, rbac.ResourceTool, targetName, inner, "call_tool", args)
	if err != nil {
		return buildErrorResponse(rawID, errCodeInternal, "policy evaluation failed"), nil
	}
	if !decision.Allowed {
		return buildErrorResponse(rawID, errCodeInvalidRequest, fmt.Sprintf("not allowed: %s", decision.Reason)), nil
	}

	conn, err := r.pool.GetOrCreate(ctx, id, targetName)
	if err != nil {
		return buildErrorResponse(rawID, errCodeInternal, fmt.Sprintf("upstream unavailable: %s", targetName)), nil
	}

	if tc, ok := conn.(upstream.ToolCaller); ok {
		text, err := tc.CallTool(ctx, inner, args)
		if err != nil {
			return buildErrorResponse(rawID, errCodeInternal, err.Error()), nil
		}
		return buildResultResponse(rawID, map[string]any{
			"content": []map[string]any{{"type": "text", "text": text}},
			"isError": false,
		})
	}

	fwd, ok := conn.(upstream.MCPForwarder)
	if !ok {
		return buildErrorResponse(rawID, errCodeInternal, fmt.Sprintf("target %q does not support tool calls", targetName)), nil
	}
	req, err := wire.NewRequest(0, "tools/call", map[string]any{"name": inner, "arguments": args})
	if err != nil {
		return buildErrorResponse(rawID, errCodeInternal, err.Error()), nil
	}
	resp, err := fwd.Forward(ctx, req)
	if err != nil {
		return buildErrorResponse(rawID, errCodeInternal, err.Error()), nil
	}
	return responseFromUpstream(rawID, resp)
}

func (r *Relay) handleResourcesRead(ctx context.Context, id identity.Identity, listenerName string, rawID json.RawMessage, params map[string]any) ([]byte, error) {
	composed, _ := params["uri"].(string)
	targetName, inner, ok := splitName(composed)
	if !ok {
		return buildErrorResponse(rawID, errCodeInvalidRequest, fmt.Sprintf("malformed resource uri: %q", composed)), nil
	}

	decision, err := r.authorize(ctx, id, listenerName, rbac.ResourceResource, targetName, inner, "read_resource", nil)
	if err != nil {
		return buildErrorResponse(rawID, errCodeInternal, "policy evaluation failed"), nil
	}
	if !decision.Allowed {
		return buildErrorResponse(rawID, errCodeInvalidRequest, fmt.Sprintf("not allowed: %s", decision.Reason)), nil
	}

	conn, err := r.pool.GetOrCreate(ctx, id, targetName)
	if err != nil {
		return buildErrorResponse(rawID, errCodeInternal, fmt.Sprintf("upstream unavailable: %s", targetName)), nil
	}
	fwd, ok := conn.(upstream.MCPForwarder)
	if !ok {
		return buildErrorResponse(rawID, errCodeInternal, fmt.Sprintf("target %q does not support resources", targetName)), nil
	}
	req, err := wire.NewRequest(0, "resources/read", map[string]any{"uri": inner})
	if err != nil {
		return buildErrorResponse(rawID, errCodeInternal, err.Error()), nil
	}
	resp, err := fwd.Forward(ctx, req)
	if err != nil {
		return buildErrorResponse(rawID, errCodeInternal, err.Error()), nil
	}
	return responseFromUpstream(rawID, resp)
}

func (r *Relay) handlePromptsGet(ctx context.Context, id identity.Identity, listenerName string, rawID json.RawMessage, params map[string]any) ([]byte, error) {
	composed, _ := params["name"].(string)
	args, _ := params["arguments"].(map[string]any)

	targetName, inner, ok := splitName(composed)
	if !ok {
		return buildErrorResponse(rawID, errCodeInvalidRequest, fmt.Sprintf("malformed prompt name: %q", composed)), nil
	}

	decision, err := r.authorize(ctx, id, listenerName, rbac.ResourcePrompt, targetName, inner, "get_prompt", args)
	if err != nil {
		return buildErrorResponse(rawID, errCodeInternal, "policy evaluation failed"), nil
	}
	if !decision.Allowed {
		return buildErrorResponse(rawID, errCodeInvalidRequest, fmt.Sprintf("not allowed: %s", decision.Reason)), nil
	}

	conn, err := r.pool.GetOrCreate(ctx, id, targetName)
	if err != nil {
		return buildErrorResponse(rawID, errCodeInternal, fmt.Sprintf("upstream unavailable: %s", targetName)), nil
	}
	fwd, ok := conn.(upstream.MCPForwarder)
	if !ok {
		return buildErrorResponse(rawID, errCodeInternal, fmt.Sprintf("target %q does not support prompts", targetName)), nil
	}
	req, err := wire.NewRequest(0, "prompts/get", map[string]any{"name": inner, "arguments": args})
	if err != nil {
		return buildErrorResponse(rawID, errCodeInternal, err.Error()), nil
	}
	resp, err := fwd.Forward(ctx, req)
	if err != nil {
		return buildErrorResponse(rawID, errCodeInternal, err.Error()), nil
	}
	return responseFromUpstream(rawID, resp)
}

// authorize evaluates the listener's effective RuleSet (global ∪ local,
// pre-composed by ConfigStore.Snapshot) against the resource being
// accessed.
func (r *Relay) authorize(ctx context.Context, id identity.Identity, listenerName string, rt rbac.ResourceType, targetName, inner, action string, args map[string]any) (rbac.Decision, error) {
	snap, err := r.store.Snapshot()
	if err != nil {
		return rbac.Decision{}, err
	}
	policy, ok := snap.ListenerPolicy[listenerName]
	if !ok {
		return rbac.Deny(fmt.Sprintf("listener %q has no effective policy", listenerName)), nil
	}
	return policy.Evaluate(ctx, rbac.EvaluationContext{
		Identity:     id,
		ResourceType: rt,
		Target:       targetName,
		Inner:        inner,
		Action:       action,
		Arguments:    args,
	})
}

// responseFromUpstream translates an upstream's wire.Response into the
// bytes this relay sends back to its own caller, substituting the
// caller's original request ID for the upstream's.
func responseFromUpstream(rawID json.RawMessage, resp *wire.Response) ([]byte, error) {
	if resp.Error != nil {
		return buildErrorResponse(rawID, resp.Error.Code, resp.Error.Message), nil
	}
	raw, err := json.Marshal(jsonRPCResult{JSONRPC: "2.0", ID: rawID, Result: resp.Result})
	if err != nil {
		return nil, fmt.Errorf("marshaling response: %w", err)
	}
	return raw, nil
}
