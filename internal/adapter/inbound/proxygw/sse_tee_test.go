package proxygw

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTeeSSEForwardsBytesAndCapturesJSONRPC(t *testing.T) {
	rec := &fakeRecorder{}
	body := strings.NewReader("data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\n\n" +
		"event: ping\ndata: hello\n\n")

	w := httptest.NewRecorder()
	teeSSE(context.Background(), w, body, rec, "demo", "sess-1", HTTPContext{})

	if w.Body.Len() == 0 {
		t.Error("expected the raw SSE bytes to be forwarded to the client")
	}
	if rec.count("sse-jsonrpc") != 1 {
		t.Errorf("expected one sse-jsonrpc capture, got %d", rec.count("sse-jsonrpc"))
	}
	if rec.count("sse-event") != 1 {
		t.Errorf("expected one raw sse-event capture, got %d", rec.count("sse-event"))
	}
}

func TestTeeSSEStopsOnCancelledContext(t *testing.T) {
	rec := &fakeRecorder{}
	body := strings.NewReader("data: hello\n\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := httptest.NewRecorder()
	teeSSE(ctx, w, body, rec, "demo", "sess-1", HTTPContext{})

	if rec.count("sse-event") != 0 || rec.count("sse-jsonrpc") != 0 {
		t.Error("expected no events captured once the context is already cancelled")
	}
}
