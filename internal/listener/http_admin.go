package listener

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaygate/relaygate/internal/configstore"
)

// Metrics holds the gateway's Prometheus instruments, grounded on the
// teacher's internal/adapter/inbound/http/metrics.go, retargeted from
// per-request MCP proxy counters to per-relay-call ones.
type Metrics struct {
	RelayRequestsTotal   *prometheus.CounterVec
	RelayRequestDuration *prometheus.HistogramVec
	PolicyEvaluations    *prometheus.CounterVec
	ActiveListeners      prometheus.Gauge
}

// NewMetrics creates and registers every instrument with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RelayRequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relaygate",
				Name:      "relay_requests_total",
				Help:      "Total number of relayed JSON-RPC/A2A requests",
			},
			[]string{"listener", "method", "status"},
		),
		RelayRequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "relaygate",
				Name:      "relay_request_duration_seconds",
				Help:      "Relay request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"listener", "method"},
		),
		PolicyEvaluations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relaygate",
				Name:      "policy_evaluations_total",
				Help:      "Total RBAC policy evaluations",
			},
			[]string{"result"},
		),
		ActiveListeners: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "relaygate",
				Name:      "active_listeners",
				Help:      "Number of listener tasks currently running",
			},
		),
	}
}

// healthResponse is the JSON response from /healthz, grounded on the
// teacher's HealthResponse shape.
type healthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HTTPAdmin serves a minimal read-only debug surface: /healthz,
// /metrics (promhttp), and /debug/targets (a ConfigStore snapshot). It
// only reads ConfigStore state; it never mutates configuration,
// per spec.md's non-goal that config mutation flows through xDS/local
// file only.
type HTTPAdmin struct {
	ListenerName string
	Addr         string
	Store        *configstore.Store
	Registry     *prometheus.Registry
	Version      string

	srv *http.Server
}

func (l *HTTPAdmin) Run(ctx context.Context, ready chan<- struct{}) error {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", l.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(l.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/debug/targets", l.handleDebugTargets).Methods(http.MethodGet)

	ln, err := net.Listen("tcp", l.Addr)
	if err != nil {
		return err
	}

	l.srv = &http.Server{Handler: r}
	errCh := make(chan error, 1)
	go func() { errCh <- l.srv.Serve(ln) }()

	close(ready)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (l *HTTPAdmin) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"goroutines": strconv.Itoa(runtime.NumGoroutine())}

	status := "healthy"
	if _, err := l.Store.Snapshot(); err != nil {
		checks["config_store"] = "degraded: " + err.Error()
		status = "unhealthy"
	} else {
		checks["config_store"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(healthResponse{Status: status, Checks: checks, Version: l.Version})
}

// debugTarget is the JSON shape of one entry in /debug/targets.
type debugTarget struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

func (l *HTTPAdmin) handleDebugTargets(w http.ResponseWriter, r *http.Request) {
	snap, err := l.Store.Snapshot()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]debugTarget, 0, len(snap.Targets))
	for name, t := range snap.Targets {
		out = append(out, debugTarget{Name: name, Kind: string(t.Spec.Kind())})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
