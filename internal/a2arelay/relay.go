// Package a2arelay implements the gateway's A2A (Agent2Agent) server
// role: serving a rewritten agent card per target and proxying JSON-RPC
// requests through to the owning a2a_sse target, passing SSE streams
// through rather than buffering them. Grounded on
// original_source/src/a2a/relay.rs's Relay.fetch_agent_card and
// Relay.proxy_request, translated into the gateway's own ConnectionPool
// and RuleSet types instead of that file's ad hoc single-purpose
// connection cache.
package a2arelay

import (
	"context"
	"fmt"

	"github.com/relaygate/relaygate/internal/configstore"
	"github.com/relaygate/relaygate/internal/domain/identity"
	"github.com/relaygate/relaygate/internal/domain/rbac"
	gerr "github.com/relaygate/relaygate/internal/gatewayerr"
	"github.com/relaygate/relaygate/internal/pool"
	"github.com/relaygate/relaygate/internal/upstream"
)

// Relay is the concrete A2A handler. Construct with New.
type Relay struct {
	store *configstore.Store
	pool  *pool.Pool
}

// New returns an A2ARelay reading targets/policy from store and
// connections from p.
func New(store *configstore.Store, p *pool.Pool) *Relay {
	return &Relay{store: store, pool: p}
}

// FetchAgentCard retrieves targetName's agent card, rewrites its "url"
// field to point back at the gateway (publicBaseURL + "/" + targetName,
// matching the inbound route this card must advertise), and drops any
// skill the caller's listener policy would deny as a "call_tool" on
// "targetName:skillName" — mirroring original_source's "for now we treat
// it as a tool" comment, generalized into an actual RBAC check instead of
// a TODO.
func (r *Relay) FetchAgentCard(ctx context.Context, id identity.Identity, listenerName, publicBaseURL, targetName string) (map[string]any, error) {
	conn, err := r.pool.GetOrCreate(ctx, id, targetName)
	if err != nil {
		return nil, gerr.New(gerr.KindConnect, "a2arelay.FetchAgentCard", err)
	}
	a2aConn, ok := conn.(upstream.A2AConnection)
	if !ok {
		return nil, gerr.New(gerr.KindRoute, "a2arelay.FetchAgentCard", fmt.Errorf("target %q is not an a2a_sse target", targetName))
	}

	card, err := a2aConn.FetchAgentCard(ctx)
	if err != nil {
		return nil, gerr.New(gerr.KindUpstream, "a2arelay.FetchAgentCard", err)
	}
	card["url"] = publicBaseURL + "/" + targetName

	snap, err := r.store.Snapshot()
	if err != nil {
		return nil, gerr.New(gerr.KindConfig, "a2arelay.FetchAgentCard", err)
	}
	policy := snap.ListenerPolicy[listenerName]

	skills, _ := card["skills"].([]any)
	allowed := make([]any, 0, len(skills))
	for _, s := range skills {
		skill, ok := s.(map[string]any)
		if !ok {
			continue
		}
		name, _ := skill["name"].(string)
		decision, err := policy.Evaluate(ctx, rbac.EvaluationContext{
			Identity:     id,
			ResourceType: rbac.ResourceTool,
			Target:       targetName,
			Inner:        name,
			Action:       "call_tool",
		})
		if err == nil && decision.Allowed {
			allowed = append(allowed, s)
		}
	}
	card["skills"] = allowed
	return card, nil
}

// ProxyRequest forwards body (a JSON-RPC request) to targetName's
// backend and returns its response, either a single JSON payload or a
// channel of SSE "message" event payloads for the caller's listener to
// bridge back out as its own SSE stream.
func (r *Relay) ProxyRequest(ctx context.Context, id identity.Identity, targetName string, body []byte) (*upstream.A2AResponse, error) {
	conn, err := r.pool.GetOrCreate(ctx, id, targetName)
	if err != nil {
		return nil, gerr.New(gerr.KindConnect, "a2arelay.ProxyRequest", err)
	}
	a2aConn, ok := conn.(upstream.A2AConnection)
	if !ok {
		return nil, gerr.New(gerr.KindRoute, "a2arelay.ProxyRequest", fmt.Errorf("target %q is not an a2a_sse target", targetName))
	}
	resp, err := a2aConn.ProxyRequest(ctx, body)
	if err != nil {
		return nil, gerr.New(gerr.KindUpstream, "a2arelay.ProxyRequest", err)
	}
	return resp, nil
}
