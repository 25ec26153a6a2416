package proxygw

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/fiberplane/mcp-gateway/internal/domain/capture"
	"github.com/fiberplane/mcp-gateway/internal/domain/sse"
)

// teeSSE streams body to w byte-for-byte while feeding the same bytes
// into the SSE parser; recognized JSON-RPC frames and raw events are
// handed to the capture engine. The client-facing write and the parse
// step run on the same goroutine so that a slow client naturally
// backpressures the upstream read -- there is no separate buffering
// goroutine to outrun the client.
func teeSSE(ctx context.Context, w http.ResponseWriter, body io.Reader, rec Recorder, serverName, sessionID string, hc HTTPContext) {
	flusher, _ := w.(http.Flusher)
	parser := sse.NewParser()
	buf := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, err := w.Write(chunk); err != nil {
				return // client gone; stop forwarding and parsing
			}
			if flusher != nil {
				flusher.Flush()
			}

			for _, ev := range parser.Feed(chunk) {
				handleSSEEvent(rec, serverName, sessionID, ev, hc)
			}
		}
		if readErr != nil {
			return
		}
	}
}

func handleSSEEvent(rec Recorder, serverName, sessionID string, ev sse.Event, hc HTTPContext) {
	if ev.Data != "" && sse.LooksLikeJSON(ev.Data) {
		env, err := capture.ParseEnvelope([]byte(ev.Data))
		if err == nil {
			rec.CaptureSSEJSONRPC(serverName, sessionID, env, hc)
			return
		}
	}
	raw, _ := json.Marshal(map[string]string{"id": ev.ID, "event": ev.Event, "data": ev.Data})
	rec.CaptureSSEEvent(serverName, sessionID, ev.ID, ev.Event, raw, hc)
}
