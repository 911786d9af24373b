// Package openapi implements the gateway's OpenAPI-to-tool synthesizer:
// a pure function from an OpenAPI 3.0 or 3.1 document to a set of
// tooldesc.Descriptor + tooldesc.UpstreamHTTPCall pairs, one per
// operation. It never performs network I/O of its own beyond what the
// document loader needs to resolve same-document references.
package openapi

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"

	"github.com/relaygate/relaygate/internal/domain/tooldesc"
)

// Result is one synthesized tool: its MCP-facing descriptor and the
// upstream HTTP call its invocation performs.
type Result struct {
	Descriptor tooldesc.Descriptor
	Call       tooldesc.UpstreamHTTPCall
}

// Synthesized is the full output of synthesizing one OpenAPI document.
type Synthesized struct {
	ServerPrefix string
	Tools        []Result
}

// LoadAndSynthesize loads an OpenAPI document from raw bytes and
// synthesizes its tools. baseURLOverride, when non-empty, is used as the
// server prefix instead of the document's own servers[] array.
func LoadAndSynthesize(ctx context.Context, data []byte, baseURLOverride string) (*Synthesized, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, newParseError("failed to parse OpenAPI document", err.Error())
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, newParseError("OpenAPI document failed validation", err.Error())
	}
	return Synthesize(doc, data, baseURLOverride)
}

// Synthesize converts an already-loaded, already-resolved OpenAPI
// document into tools. Iteration follows the document's own declaration
// order — paths in the order they appear in the source, then methods
// within each path in the order they appear — per spec.md §4.1's
// determinism rule. kin-openapi's own *openapi3.Paths is a plain Go map
// and loses that order, so it's recovered by walking the raw document
// bytes with gopkg.in/yaml.v3, which preserves mapping key order for
// both YAML and JSON input (a teacher dependency, already used by
// internal/xds/local.go). Any path or method kin-openapi resolved but
// that declarationOrder couldn't place (e.g. reached only through a
// $ref path item) is appended afterward in alphabetical order so the
// result stays fully deterministic even in that edge case.
func Synthesize(doc *openapi3.T, data []byte, baseURLOverride string) (*Synthesized, error) {
	prefix, err := serverPrefix(doc, baseURLOverride)
	if err != nil {
		return nil, err
	}

	var results []Result
	if doc.Paths != nil {
		declaredPaths, declaredMethods := declarationOrder(data)

		present := make([]string, 0, doc.Paths.Len())
		for p := range doc.Paths.Map() {
			present = append(present, p)
		}
		paths := orderedKeys(present, declaredPaths)

		for _, path := range paths {
			item := doc.Paths.Value(path)
			if item == nil {
				continue
			}
			ops := item.Operations()
			presentMethods := make([]string, 0, len(ops))
			for m := range ops {
				presentMethods = append(presentMethods, m)
			}
			methods := orderedKeys(presentMethods, declaredMethods[path])

			for _, method := range methods {
				op := ops[method]
				res, err := synthesizeOperation(method, path, op)
				if err != nil {
					return nil, err
				}
				results = append(results, res)
			}
		}
	}

	return &Synthesized{ServerPrefix: prefix, Tools: results}, nil
}

// orderedKeys returns every name in present, ordered to match declared as
// closely as possible: names found in declared come first in declared's
// order, then any remaining present names (not found in declared) follow
// in alphabetical order.
func orderedKeys(present, declared []string) []string {
	presentSet := make(map[string]bool, len(present))
	for _, p := range present {
		presentSet[p] = true
	}

	seen := make(map[string]bool, len(declared))
	ordered := make([]string, 0, len(present))
	for _, d := range declared {
		if presentSet[d] && !seen[d] {
			ordered = append(ordered, d)
			seen[d] = true
		}
	}

	var leftover []string
	for _, p := range present {
		if !seen[p] {
			leftover = append(leftover, p)
		}
	}
	sort.Strings(leftover)
	return append(ordered, leftover...)
}

// declarationOrder walks the raw document bytes to recover the order
// paths and, within each path, HTTP methods actually appear in the
// source. A parse failure (shouldn't happen since the caller already
// successfully loaded the same bytes via kin-openapi) just yields no
// recovered order, falling back to orderedKeys' alphabetical leftover
// handling.
func declarationOrder(data []byte) (paths []string, methods map[string][]string) {
	methods = map[string][]string{}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil || len(root.Content) == 0 {
		return nil, methods
	}
	pathsNode := mappingValue(root.Content[0], "paths")
	if pathsNode == nil || pathsNode.Kind != yaml.MappingNode {
		return nil, methods
	}

	for i := 0; i+1 < len(pathsNode.Content); i += 2 {
		path := pathsNode.Content[i].Value
		paths = append(paths, path)

		item := pathsNode.Content[i+1]
		if item.Kind != yaml.MappingNode {
			continue
		}
		for j := 0; j+1 < len(item.Content); j += 2 {
			key := strings.ToLower(item.Content[j].Value)
			if isHTTPMethod(key) {
				methods[path] = append(methods[path], key)
			}
		}
	}
	return paths, methods
}

func mappingValue(n *yaml.Node, key string) *yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

func isHTTPMethod(m string) bool {
	switch m {
	case "get", "put", "post", "delete", "options", "head", "patch", "trace":
		return true
	default:
		return false
	}
}

// serverPrefix implements spec.md's 0/1/2+ servers rule: a non-empty
// override (the Target's own BaseURL) always wins; otherwise no server
// entry yields "/"; exactly one server entry means that URL is the prefix;
// more than one is unsupported because the synthesizer has no signal for
// which to pick.
func serverPrefix(doc *openapi3.T, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	switch len(doc.Servers) {
	case 0:
		return "/", nil
	case 1:
		return doc.Servers[0].URL, nil
	default:
		return "", errMultipleServers(len(doc.Servers))
	}
}

const bodyName = "body"

func synthesizeOperation(method, path string, op *openapi3.Operation) (Result, error) {
	if op.OperationID == "" {
		return Result{}, errMissingOperationID(path, method)
	}

	components := map[string]any{}
	var topRequired []string

	// Request body -> "body" component.
	if op.RequestBody != nil {
		body := op.RequestBody.Value
		if body == nil {
			return Result{}, errMissingReference("requestBody")
		}
		media := body.Content.Get("application/json")
		if media != nil && media.Schema != nil {
			if media.Schema.Value == nil {
				return Result{}, errMissingSchema("requestBody.content[application/json].schema")
			}
			components[bodyName] = convertSchema(media.Schema.Value)
			if body.Required {
				topRequired = append(topRequired, bodyName)
			}
		}
	}

	// Parameters -> header/query/path components, grouped.
	grouped := map[tooldesc.ParamLocation]*paramGroup{}
	for _, paramRef := range op.Parameters {
		param := paramRef.Value
		if param == nil {
			return Result{}, errMissingReference("parameter")
		}
		loc, err := paramLocation(param.In)
		if err != nil {
			return Result{}, err
		}
		g := grouped[loc]
		if g == nil {
			g = &paramGroup{properties: map[string]any{}}
			grouped[loc] = g
		}
		var schema map[string]any
		if param.Schema != nil && param.Schema.Value != nil {
			schema = convertSchema(param.Schema.Value)
		} else {
			schema = map[string]any{"type": "string"}
		}
		if param.Description != "" {
			if _, ok := schema["description"]; !ok {
				schema["description"] = param.Description
			}
		}
		g.properties[param.Name] = schema
		if param.Required {
			g.required = append(g.required, param.Name)
		}
	}

	for _, loc := range []tooldesc.ParamLocation{tooldesc.LocationHeader, tooldesc.LocationQuery, tooldesc.LocationPath} {
		g, ok := grouped[loc]
		if !ok {
			continue
		}
		sort.Strings(g.required)
		components[string(loc)] = map[string]any{
			"type":       "object",
			"properties": g.properties,
			"required":   g.required,
		}
		if len(g.required) > 0 {
			topRequired = append(topRequired, string(loc))
		}
	}

	sort.Strings(topRequired)
	inputSchema := map[string]any{
		"type":       "object",
		"properties": components,
	}
	if len(topRequired) > 0 {
		inputSchema["required"] = topRequired
	}

	desc := tooldesc.Descriptor{
		Name:        op.OperationID,
		Description: operationDescription(op),
		InputSchema: inputSchema,
	}
	call := tooldesc.UpstreamHTTPCall{
		Method: strings.ToUpper(method),
		Path:   path,
	}
	return Result{Descriptor: desc, Call: call}, nil
}

type paramGroup struct {
	properties map[string]any
	required   []string
}

func paramLocation(in string) (tooldesc.ParamLocation, error) {
	switch in {
	case "header":
		return tooldesc.LocationHeader, nil
	case "query":
		return tooldesc.LocationQuery, nil
	case "path":
		return tooldesc.LocationPath, nil
	case "cookie":
		return "", errUnsupportedParameterLocation("cookie")
	default:
		return "", errUnsupportedParameterLocation(in)
	}
}

func operationDescription(op *openapi3.Operation) string {
	if op.Description != "" {
		if op.Summary != "" {
			return fmt.Sprintf("%s: %s", op.Summary, op.Description)
		}
		return op.Description
	}
	return op.Summary
}
