package upstream

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// isEventStream reports whether a Content-Type header names the SSE
// media type, ignoring any charset parameter.
func isEventStream(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "text/event-stream")
}

// sseEvent is one parsed "event:"/"data:" block from an SSE stream. Data
// may span multiple "data:" lines, joined with newlines per the SSE spec.
type sseEvent struct {
	Name string
	Data string
}

// scanSSEEventsIncremental reads SSE wire bytes from r one event at a
// time, calling emit as soon as each event completes on a blank line,
// rather than requiring r to be exhausted first. This is what lets a
// long-lived stream (bridgeSSE) forward frames to its consumer as they
// arrive instead of only after the whole response body has been read.
// Fields other than "event" and "data" (id, retry) are ignored — the
// gateway only needs to classify "message" events and extract their
// payload.
func scanSSEEventsIncremental(r io.Reader, emit func(sseEvent)) {
	cur := sseEvent{Name: "message"}
	var data []string
	flush := func() {
		if len(data) > 0 {
			cur.Data = strings.Join(data, "\n")
			emit(cur)
		}
		cur = sseEvent{Name: "message"}
		data = nil
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event:"):
			cur.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	flush()
}

// scanSSEEvents parses an already-fully-read SSE buffer into events. Used
// where the caller already needs the whole body anyway (a single
// request/response forward, not a long-lived stream) — see sse.go.
func scanSSEEvents(raw []byte) []sseEvent {
	var events []sseEvent
	scanSSEEventsIncremental(bytes.NewReader(raw), func(ev sseEvent) {
		events = append(events, ev)
	})
	return events
}

// firstMessageEvent returns the data payload of the first "message" event
// in an SSE response, which is the convention an MCP/A2A backend uses to
// carry a single JSON-RPC response inside an SSE-framed reply.
func firstMessageEvent(raw []byte) ([]byte, error) {
	for _, ev := range scanSSEEvents(raw) {
		if ev.Name == "message" {
			return []byte(ev.Data), nil
		}
	}
	return nil, fmt.Errorf("no message event in SSE response")
}
