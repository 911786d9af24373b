package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/relaygate/relaygate/internal/domain/target"
	"github.com/relaygate/relaygate/internal/wire"
)

const maxUpstreamResponseBytes = 2 * 1024 * 1024 // 2 MiB, per spec.md §5 response cap

// SSEConnection speaks MCP over a Streamable-HTTP / SSE endpoint: each
// Forward is one HTTP POST carrying a JSON-RPC request, whose response is
// either a single JSON object or a short "text/event-stream" response
// holding the one matching message — the proxy's HTTPClient does the
// same request/response-per-POST pattern over a pipe bridge; this
// connection performs it directly since its own interface is already
// request/response shaped.
type SSEConnection struct {
	name       string
	httpClient *http.Client
	spec       target.MCPSSESpec

	mu        sync.Mutex
	sessionID string
}

// NewSSEConnection builds a connection for an mcp_sse target.
func NewSSEConnection(name string, spec target.MCPSSESpec) *SSEConnection {
	return &SSEConnection{
		name: name,
		spec: spec,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (c *SSEConnection) Name() string { return c.name }

func (c *SSEConnection) Forward(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("sse connection %q: encode request: %w", c.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.spec.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sse connection %q: build request: %w", c.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range c.spec.Headers {
		httpReq.Header.Set(k, v)
	}
	if header, value := c.spec.Auth.Resolve(); header != "" {
		httpReq.Header.Set(header, value)
	}

	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID != "" {
		httpReq.Header.Set("Mcp-Session-Id", sessionID)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sse connection %q: request: %w", c.name, err)
	}
	defer httpResp.Body.Close()

	if sid := httpResp.Header.Get("Mcp-Session-Id"); sid != "" {
		c.mu.Lock()
		c.sessionID = sid
		c.mu.Unlock()
	}

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxUpstreamResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("sse connection %q: read response: %w", c.name, err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("sse connection %q: http status %d: %s", c.name, httpResp.StatusCode, raw)
	}

	payload := raw
	if ct := httpResp.Header.Get("Content-Type"); isEventStream(ct) {
		payload, err = firstMessageEvent(raw)
		if err != nil {
			return nil, fmt.Errorf("sse connection %q: %w", c.name, err)
		}
	}

	var resp wire.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("sse connection %q: decode response: %w", c.name, err)
	}
	return &resp, nil
}

func (c *SSEConnection) Close() error { return nil }

var _ MCPForwarder = (*SSEConnection)(nil)
