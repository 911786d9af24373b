package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/relaygate/relaygate/internal/domain/target"
)

const openAPICallDoc = `
openapi: 3.0.3
info:
  title: Petstore
  version: "1.0"
paths:
  /pets/{petId}:
    get:
      operationId: getPet
      parameters:
        - name: petId
          in: path
          required: true
          schema:
            type: string
        - name: X-Request-Id
          in: header
          schema:
            type: string
      responses:
        "200":
          description: ok
  /pets:
    post:
      operationId: createPet
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              properties:
                name:
                  type: string
      responses:
        "201":
          description: created
`

func TestNewOpenAPIConnection_SynthesizesFromDocumentData(t *testing.T) {
	conn, err := NewOpenAPIConnection(context.Background(), "petstore", target.OpenAPISpec{
		DocumentData: []byte(openAPICallDoc),
		BaseURL:      "https://api.example.com",
	})
	if err != nil {
		t.Fatalf("NewOpenAPIConnection: %v", err)
	}
	tools, err := conn.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}
	if conn.Name() != "petstore" {
		t.Errorf("Name() = %q, want petstore", conn.Name())
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestCallTool_SubstitutesPathAndSetsHeaders(t *testing.T) {
	var gotPath, gotHeader, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Get("X-Request-Id")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"42","name":"fido"}`))
	}))
	defer srv.Close()

	conn, err := NewOpenAPIConnection(context.Background(), "petstore", target.OpenAPISpec{
		DocumentData: []byte(openAPICallDoc),
		BaseURL:      srv.URL,
		Auth:         &target.BackendAuth{Type: target.AuthTypeBearer, Static: "secret-token"},
	})
	if err != nil {
		t.Fatalf("NewOpenAPIConnection: %v", err)
	}

	out, err := conn.CallTool(context.Background(), "getPet", map[string]any{
		"path":   map[string]any{"petId": "42"},
		"header": map[string]any{"X-Request-Id": "abc-123"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if gotPath != "/pets/42" {
		t.Errorf("upstream saw path %q, want /pets/42", gotPath)
	}
	if gotHeader != "abc-123" {
		t.Errorf("upstream saw X-Request-Id %q", gotHeader)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("upstream saw Authorization %q", gotAuth)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("CallTool result is not valid JSON: %v", err)
	}
}

func TestCallTool_UnsubstitutedPathParamErrors(t *testing.T) {
	conn, err := NewOpenAPIConnection(context.Background(), "petstore", target.OpenAPISpec{
		DocumentData: []byte(openAPICallDoc),
		BaseURL:      "https://api.example.com",
	})
	if err != nil {
		t.Fatalf("NewOpenAPIConnection: %v", err)
	}
	_, err = conn.CallTool(context.Background(), "getPet", map[string]any{})
	if err == nil || !strings.Contains(err.Error(), "unsubstituted") {
		t.Fatalf("expected an unsubstituted path parameter error, got %v", err)
	}
}

func TestCallTool_NonStringQueryValueIsSkippedNotStringified(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	conn, err := NewOpenAPIConnection(context.Background(), "petstore", target.OpenAPISpec{
		DocumentData: []byte(openAPICallDoc),
		BaseURL:      srv.URL,
	})
	if err != nil {
		t.Fatalf("NewOpenAPIConnection: %v", err)
	}
	_, err = conn.CallTool(context.Background(), "getPet", map[string]any{
		"path":  map[string]any{"petId": "1"},
		"query": map[string]any{"limit": float64(10), "kind": "dog"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if gotQuery.Has("limit") {
		t.Errorf("non-string query value should have been omitted, got %v", gotQuery)
	}
	if gotQuery.Get("kind") != "dog" {
		t.Errorf("string query value should still be sent, got %v", gotQuery)
	}
}

func TestCallTool_NonStringPathValueIsSkippedNotStringified(t *testing.T) {
	conn, err := NewOpenAPIConnection(context.Background(), "petstore", target.OpenAPISpec{
		DocumentData: []byte(openAPICallDoc),
		BaseURL:      "https://api.example.com",
	})
	if err != nil {
		t.Fatalf("NewOpenAPIConnection: %v", err)
	}
	_, err = conn.CallTool(context.Background(), "getPet", map[string]any{
		"path": map[string]any{"petId": float64(42)},
	})
	if err == nil || !strings.Contains(err.Error(), "unsubstituted") {
		t.Fatalf("non-string path value should be skipped, leaving the placeholder unsubstituted, got %v", err)
	}
}

func TestCallTool_UnknownToolErrors(t *testing.T) {
	conn, err := NewOpenAPIConnection(context.Background(), "petstore", target.OpenAPISpec{
		DocumentData: []byte(openAPICallDoc),
		BaseURL:      "https://api.example.com",
	})
	if err != nil {
		t.Fatalf("NewOpenAPIConnection: %v", err)
	}
	_, err = conn.CallTool(context.Background(), "doesNotExist", map[string]any{})
	if err == nil {
		t.Fatal("expected error calling an unknown tool")
	}
}

func TestCallTool_UpstreamErrorStatusPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	conn, err := NewOpenAPIConnection(context.Background(), "petstore", target.OpenAPISpec{
		DocumentData: []byte(openAPICallDoc),
		BaseURL:      srv.URL,
	})
	if err != nil {
		t.Fatalf("NewOpenAPIConnection: %v", err)
	}
	_, err = conn.CallTool(context.Background(), "getPet", map[string]any{
		"path": map[string]any{"petId": "1"},
	})
	if err == nil || !strings.Contains(err.Error(), "http 404") {
		t.Fatalf("expected an http 404 error, got %v", err)
	}
}

func TestCallTool_BodySentAsJSON(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	conn, err := NewOpenAPIConnection(context.Background(), "petstore", target.OpenAPISpec{
		DocumentData: []byte(openAPICallDoc),
		BaseURL:      srv.URL,
	})
	if err != nil {
		t.Fatalf("NewOpenAPIConnection: %v", err)
	}
	_, err = conn.CallTool(context.Background(), "createPet", map[string]any{
		"body": map[string]any{"name": "fido"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if gotBody["name"] != "fido" {
		t.Errorf("upstream saw body %v, want name=fido", gotBody)
	}
}
