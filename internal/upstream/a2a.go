package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/relaygate/relaygate/internal/domain/target"
)

// A2Aconnection speaks the A2A protocol against an upstream agent:
// GET .well-known/agent.json for the agent card, POST JSON-RPC for
// everything else, classifying the response by Content-Type exactly the
// way the original relay's proxy_request does (application/json is a
// single message, text/event-stream is bridged to a channel of
// "message"-event payloads).
type A2Aconnection struct {
	name       string
	spec       target.A2ASSESpec
	httpClient *http.Client
}

// NewA2AConnection builds a connection for an a2a_sse target.
func NewA2AConnection(name string, spec target.A2ASSESpec) *A2Aconnection {
	return &A2Aconnection{
		name:       name,
		spec:       spec,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *A2Aconnection) Name() string { return c.name }
func (c *A2Aconnection) Close() error { return nil }

func (c *A2Aconnection) applyAuth(req *http.Request) {
	for k, v := range c.spec.Headers {
		req.Header.Set(k, v)
	}
	if header, value := c.spec.Auth.Resolve(); header != "" {
		req.Header.Set(header, value)
	}
}

// FetchAgentCard retrieves the backend's agent card. The A2ARelay
// rewrites the card's "url" field to point at the gateway itself and
// filters its skills by RBAC before returning it to the caller — neither
// of which this connection does, since both depend on listener and
// identity context the connection doesn't have.
func (c *A2Aconnection) FetchAgentCard(ctx context.Context) (map[string]any, error) {
	cardURL := strings.TrimSuffix(c.spec.URL, "/") + "/.well-known/agent.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cardURL, nil)
	if err != nil {
		return nil, fmt.Errorf("a2a connection %q: build request: %w", c.name, err)
	}
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("a2a connection %q: fetch agent card: %w", c.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("a2a connection %q: read agent card: %w", c.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("a2a connection %q: agent card http %d", c.name, resp.StatusCode)
	}

	var card map[string]any
	if err := json.Unmarshal(raw, &card); err != nil {
		return nil, fmt.Errorf("a2a connection %q: decode agent card: %w", c.name, err)
	}
	return card, nil
}

// ProxyRequest posts body (a JSON-RPC request) to the backend and
// classifies the response by Content-Type.
func (c *A2Aconnection) ProxyRequest(ctx context.Context, body []byte) (*A2AResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.spec.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("a2a connection %q: build request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("a2a connection %q: request: %w", c.name, err)
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(strings.TrimSpace(contentType), "application/json"):
		defer resp.Body.Close()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("a2a connection %q: read response: %w", c.name, err)
		}
		return &A2AResponse{Single: raw}, nil

	case isEventStream(contentType):
		out := make(chan []byte, 64) // bounded per spec.md §5 SSE backpressure
		go bridgeSSE(resp.Body, out)
		return &A2AResponse{Stream: out}, nil

	default:
		resp.Body.Close()
		return nil, fmt.Errorf("a2a connection %q: unsupported content type %q", c.name, contentType)
	}
}

// bridgeSSE reads an SSE body incrementally, one event at a time off the
// live body reader, and forwards each "message" event's data onto out as
// soon as it's parsed, closing out (and the body) when the stream ends.
// Sending on out blocks the scan loop when the channel is full, so a
// slow consumer suspends this reader mid-stream, which in turn suspends
// the underlying body read — real backpressure propagated all the way
// to the upstream HTTP connection, not just a bound on buffered memory.
func bridgeSSE(body io.ReadCloser, out chan<- []byte) {
	defer close(out)
	defer body.Close()

	scanSSEEventsIncremental(io.LimitReader(body, maxUpstreamResponseBytes), func(ev sseEvent) {
		if ev.Name != "message" {
			return
		}
		out <- []byte(ev.Data)
	})
}

var _ A2AConnection = (*A2Aconnection)(nil)
