package listener

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/relaygate/relaygate/internal/a2arelay"
	"github.com/relaygate/relaygate/internal/domain/identity"
)

// HTTPA2A is an A2A listener task serving `GET
// /{target}/.well-known/agent.json` and `POST /{target}` per spec.md §6,
// routed with gorilla/mux's path-parameterized routes.
type HTTPA2A struct {
	ListenerName string
	Addr         string
	Relay        *a2arelay.Relay
	Logger       *slog.Logger

	srv *http.Server
}

func (l *HTTPA2A) Run(ctx context.Context, ready chan<- struct{}) error {
	r := mux.NewRouter()
	r.HandleFunc("/{target}/.well-known/agent.json", l.handleCard).Methods(http.MethodGet)
	r.HandleFunc("/{target}", l.handleProxy).Methods(http.MethodPost)

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

func (l *HTTPA2A) publicBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (l *HTTPA2A) handleCard(w http.ResponseWriter, r *http.Request) {
	targetName := mux.Vars(r)["target"]
	card, err := l.Relay.FetchAgentCard(r.Context(), identity.Anonymous, l.ListenerName, l.publicBaseURL(r), targetName)
	if err != nil {
		l.Logger.Error("fetch agent card failed", "listener", l.ListenerName, "target", targetName, "error", err)
		http.Error(w, "agent card unavailable", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(card)
}

func (l *HTTPA2A) handleProxy(w http.ResponseWriter, r *http.Request) {
	targetName := mux.Vars(r)["target"]
	body, err := io.ReadAll(io.LimitReader(r.Body, 2*1024*1024))
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}

	resp, err := l.Relay.ProxyRequest(r.Context(), identity.Anonymous, targetName, body)
	if err != nil {
		l.Logger.Error("a2a proxy failed", "listener", l.ListenerName, "target", targetName, "error", err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}

	if resp.Single != nil {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(resp.Single)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, canFlush := w.(http.Flusher)
	for payload := range resp.Stream {
		_, _ = w.Write([]byte("event: message\ndata: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		if canFlush {
			flusher.Flush()
		}
	}
}
