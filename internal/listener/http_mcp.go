package listener

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/relaygate/relaygate/internal/domain/identity"
	"github.com/relaygate/relaygate/internal/relay"
)

// HTTPMCP is an MCP listener task serving Streamable-HTTP: a single POST
// endpoint accepting one JSON-RPC request body and returning one
// JSON-RPC response body, the server-side mirror of upstream.SSEConnection's
// client-side request/response-per-POST shape. Routing uses gorilla/mux,
// pulled from the axonflow pack member, the way its run.go builds its own
// HTTP surface.
type HTTPMCP struct {
	ListenerName string
	Addr         string
	Relay        *relay.Relay
	Logger       *slog.Logger

	srv *http.Server
}

func (l *HTTPMCP) Run(ctx context.Context, ready chan<- struct{}) error {
	r := mux.NewRouter()
	r.HandleFunc("/", l.handle).Methods(http.MethodPost)

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

func (l *HTTPMCP) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 2*1024*1024))
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}

	resp, err := l.Relay.Handle(r.Context(), identity.Anonymous, l.ListenerName, body)
	if err != nil {
		l.Logger.Error("relay dispatch failed", "listener", l.ListenerName, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp)
}
