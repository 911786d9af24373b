package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/relaygate/relaygate/internal/domain/target"
	"github.com/relaygate/relaygate/internal/domain/tooldesc"
	"github.com/relaygate/relaygate/internal/openapi"
)

// OpenAPIConnection holds a document's synthesized tools and executes
// each tool invocation as a direct HTTP call, grounded on the existing
// OpenAPIClient.executeOperation pattern but consuming the gateway's
// {body, header, query, path} argument grouping instead of a flat
// argument map.
type OpenAPIConnection struct {
	name       string
	baseURL    string
	spec       target.OpenAPISpec
	httpClient *http.Client

	tools map[string]openapi.Result
}

// NewOpenAPIConnection synthesizes tools from the already-loaded document
// and returns a ready-to-use connection.
func NewOpenAPIConnection(ctx context.Context, name string, spec target.OpenAPISpec) (*OpenAPIConnection, error) {
	data := spec.DocumentData
	var err error
	if len(data) == 0 {
		data, err = fetchDocument(ctx, spec.DocumentURL)
		if err != nil {
			return nil, fmt.Errorf("openapi connection %q: %w", name, err)
		}
	}
	synth, err := openapi.LoadAndSynthesize(ctx, data, spec.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("openapi connection %q: %w", name, err)
	}

	tools := make(map[string]openapi.Result, len(synth.Tools))
	for _, r := range synth.Tools {
		tools[r.Descriptor.Name] = r
	}

	return &OpenAPIConnection{
		name:       name,
		baseURL:    synth.ServerPrefix,
		spec:       spec,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tools:      tools,
	}, nil
}

func fetchDocument(ctx context.Context, docURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, maxUpstreamResponseBytes))
}

func (c *OpenAPIConnection) Name() string { return c.name }
func (c *OpenAPIConnection) Close() error { return nil }

func (c *OpenAPIConnection) ListTools(ctx context.Context) ([]tooldesc.Descriptor, error) {
	out := make([]tooldesc.Descriptor, 0, len(c.tools))
	for _, r := range c.tools {
		out = append(out, r.Descriptor)
	}
	return out, nil
}

// CallTool executes the HTTP call backing name, using args' "body",
// "header", "query", and "path" sub-maps (as synthesized by the
// openapi package) to fill the request.
func (c *OpenAPIConnection) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	r, ok := c.tools[name]
	if !ok {
		return "", fmt.Errorf("openapi connection %q: unknown tool %q", c.name, name)
	}

	path := r.Call.Path
	for k, v := range c.asStringMap("path", args["path"]) {
		path = strings.Replace(path, "{"+k+"}", url.PathEscape(v), 1)
	}
	if strings.Contains(path, "{") {
		return "", fmt.Errorf("openapi connection %q: unsubstituted path parameter in %s", c.name, path)
	}

	query := url.Values{}
	for k, v := range c.asStringMap("query", args["query"]) {
		query.Set(k, v)
	}
	fullURL := strings.TrimSuffix(c.baseURL, "/") + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body, ok := args["body"]; ok {
		b, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("openapi connection %q: marshal body: %w", c.name, err)
		}
		bodyReader = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, r.Call.Method, fullURL, bodyReader)
	if err != nil {
		return "", fmt.Errorf("openapi connection %q: build request: %w", c.name, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if bodyReader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.asStringMap("header", args["header"]) {
		httpReq.Header.Set(k, v)
	}
	for k, v := range c.spec.Headers {
		httpReq.Header.Set(k, v)
	}
	if header, value := c.spec.Auth.Resolve(); header != "" {
		httpReq.Header.Set(header, value)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openapi connection %q: request: %w", c.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamResponseBytes))
	if err != nil {
		return "", fmt.Errorf("openapi connection %q: read response: %w", c.name, err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("openapi connection %q: http %d: %s", c.name, resp.StatusCode, respBody)
	}
	return string(respBody), nil
}

// asStringMap converts a path/query/header argument sub-object into a
// map of string values. A value that isn't already a JSON string is
// non-stringable per spec.md §4.2 steps 2/4/5 ("warn and skip
// non-stringable values" / "omit non-string values with a warning" /
// "skipping invalid names/values with a warning") — it's dropped from
// the result and logged rather than silently rendered with fmt's %v.
func (c *OpenAPIConnection) asStringMap(group string, v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		s, ok := val.(string)
		if !ok {
			slog.Default().Warn("openapi call: skipping non-stringable argument",
				"connection", c.name, "group", group, "key", k, "type", fmt.Sprintf("%T", val))
			continue
		}
		out[k] = s
	}
	return out
}

var _ ToolCaller = (*OpenAPIConnection)(nil)
