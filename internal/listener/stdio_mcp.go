package listener

import (
	"bufio"
	"context"
	"io"
	"log/slog"

	"github.com/relaygate/relaygate/internal/domain/identity"
	"github.com/relaygate/relaygate/internal/relay"
)

// StdioMCP is an MCP listener task that reads newline-delimited JSON-RPC
// requests from In and writes responses to Out, one line per message,
// grounded on the proxy's stdio.StdioTransport + ProxyService.copyMessages
// sequential read-decode-dispatch-write loop (its router-only mode),
// adapted to call a relay.Relay directly instead of an interceptor chain.
type StdioMCP struct {
	ListenerName string
	Relay        *relay.Relay
	In           io.Reader
	Out          io.Writer
	Logger       *slog.Logger
}

func (l *StdioMCP) Run(ctx context.Context, ready chan<- struct{}) error {
	close(ready) // stdio has nothing to bind; it's ready immediately

	scanner := bufio.NewScanner(l.In)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := append([]byte(nil), scanner.Bytes()...)

		resp, err := l.Relay.Handle(ctx, identity.Anonymous, l.ListenerName, line)
		if err != nil {
			l.Logger.Error("relay dispatch failed", "listener", l.ListenerName, "error", err)
			continue
		}
		if resp == nil {
			continue // notification; no response expected
		}
		if _, err := l.Out.Write(append(resp, '\n')); err != nil {
			return err
		}
	}
	return scanner.Err()
}
