package a2arelay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relaygate/relaygate/internal/configstore"
	"github.com/relaygate/relaygate/internal/domain/identity"
	"github.com/relaygate/relaygate/internal/domain/rbac"
	"github.com/relaygate/relaygate/internal/domain/target"
	"github.com/relaygate/relaygate/internal/pool"
)

func agentCardServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/agent.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name": "weather-agent",
			"url":  "https://upstream.example.com/weather",
			"skills": []any{
				map[string]any{"name": "forecast"},
				map[string]any{"name": "delete_history"},
			},
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`))
	})
	return httptest.NewServer(mux)
}

func newTestRelay(t *testing.T, upstreamURL string) (*Relay, *configstore.Store) {
	t.Helper()
	store := configstore.New()
	store.UpsertTarget(target.Target{Name: "weather", Spec: target.A2ASSESpec{URL: upstreamURL}})

	if err := store.ReplaceGlobalPolicy([]rbac.Rule{
		{ID: "allow-forecast", ResourceType: rbac.ResourceTool, ResourceMatch: "forecast", Action: rbac.ActionAllow},
	}); err != nil {
		t.Fatalf("ReplaceGlobalPolicy: %v", err)
	}
	store.UpsertListener(configstore.ListenerConfig{Name: "public", Kind: configstore.ListenerA2A, Addr: ":0"})

	p := pool.New(store)
	t.Cleanup(func() { _ = p.Close() })
	return New(store, p), store
}

func TestFetchAgentCard_RewritesURLAndFiltersSkillsByRBAC(t *testing.T) {
	srv := agentCardServer(t)
	defer srv.Close()

	relay, _ := newTestRelay(t, srv.URL)

	card, err := relay.FetchAgentCard(t.Context(), identity.Anonymous, "public", "https://gateway.example.com", "weather")
	if err != nil {
		t.Fatalf("FetchAgentCard: %v", err)
	}
	if card["url"] != "https://gateway.example.com/weather" {
		t.Errorf("url = %v, want rewritten gateway URL", card["url"])
	}

	skills, ok := card["skills"].([]any)
	if !ok {
		t.Fatal("skills missing or wrong type")
	}
	if len(skills) != 1 {
		t.Fatalf("got %d skills, want 1 (only forecast should survive RBAC filtering)", len(skills))
	}
	skill := skills[0].(map[string]any)
	if skill["name"] != "forecast" {
		t.Errorf("surviving skill = %v, want forecast", skill["name"])
	}
}

func TestFetchAgentCard_UnknownTargetErrors(t *testing.T) {
	relay, _ := newTestRelay(t, "http://127.0.0.1:1")
	_, err := relay.FetchAgentCard(t.Context(), identity.Anonymous, "public", "https://gateway.example.com", "does-not-exist")
	if err == nil {
		t.Fatal("expected error for an unconfigured target")
	}
}

func TestProxyRequest_ReturnsSingleJSONResponse(t *testing.T) {
	srv := agentCardServer(t)
	defer srv.Close()

	relay, _ := newTestRelay(t, srv.URL)

	resp, err := relay.ProxyRequest(t.Context(), identity.Anonymous, "weather", []byte(`{"jsonrpc":"2.0","id":1,"method":"message/send"}`))
	if err != nil {
		t.Fatalf("ProxyRequest: %v", err)
	}
	if resp.Stream != nil {
		t.Fatal("expected a single JSON response, got a stream")
	}
	var decoded map[string]any
	if err := json.Unmarshal(resp.Single, &decoded); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
}

func TestProxyRequest_NonA2ATargetErrors(t *testing.T) {
	store := configstore.New()
	store.UpsertTarget(target.Target{Name: "fs", Spec: target.MCPSSESpec{URL: "https://mcp.example.com"}})
	p := pool.New(store)
	defer func() { _ = p.Close() }()
	relay := New(store, p)

	_, err := relay.ProxyRequest(t.Context(), identity.Anonymous, "fs", []byte(`{}`))
	if err == nil {
		t.Fatal("expected error proxying an A2A request to a non-A2A target")
	}
}
