package listener

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaygate/relaygate/internal/configstore"
	"github.com/relaygate/relaygate/internal/domain/target"
)

func newHTTPAdminRouter(l *HTTPAdmin) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", l.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(l.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/debug/targets", l.handleDebugTargets).Methods(http.MethodGet)
	return r
}

func TestHTTPAdmin_HandleHealth_Healthy(t *testing.T) {
	store := configstore.New()
	l := &HTTPAdmin{ListenerName: "admin", Store: store, Registry: prometheus.NewRegistry(), Version: "test"}
	router := newHTTPAdminRouter(l)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("status = %q, want healthy", body.Status)
	}
	if body.Version != "test" {
		t.Errorf("version = %q, want test", body.Version)
	}
}

func TestHTTPAdmin_HandleDebugTargets_ListsConfiguredTargets(t *testing.T) {
	store := configstore.New()
	store.UpsertTarget(target.Target{Name: "fs", Spec: target.MCPSSESpec{URL: "https://mcp.example.com"}})
	store.UpsertTarget(target.Target{Name: "weather", Spec: target.A2ASSESpec{URL: "https://weather.example.com"}})

	l := &HTTPAdmin{ListenerName: "admin", Store: store, Registry: prometheus.NewRegistry()}
	router := newHTTPAdminRouter(l)

	req := httptest.NewRequest(http.MethodGet, "/debug/targets", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var targets []debugTarget
	if err := json.Unmarshal(rec.Body.Bytes(), &targets); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("got %d targets, want 2", len(targets))
	}
}

func TestHTTPAdmin_HandleMetrics_ServesPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	l := &HTTPAdmin{ListenerName: "admin", Store: configstore.New(), Registry: reg}
	router := newHTTPAdminRouter(l)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct == "" {
		t.Error("expected a Content-Type header on the metrics response")
	}
}
