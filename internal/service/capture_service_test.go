package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fiberplane/mcp-gateway/internal/domain/capture"
	"github.com/fiberplane/mcp-gateway/internal/domain/session"
	"github.com/fiberplane/mcp-gateway/internal/domain/tracker"
)

type fakeWriter struct {
	mu      sync.Mutex
	records []capture.Record
}

func (w *fakeWriter) Write(ctx context.Context, r capture.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records, r)
	return nil
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.records)
}

type fakeInfoUpdater struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeInfoUpdater) UpdateServerInfoForInitializeRequest(ctx context.Context, serverName, sessionID string, requestID json.RawMessage, serverInfo capture.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func (f *fakeInfoUpdater) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestCaptureService(t *testing.T, opts CaptureOptions) (*CaptureService, *fakeWriter) {
	t.Helper()
	svc, writer, _ := newTestCaptureServiceWithUpdater(t, opts)
	return svc, writer
}

func newTestCaptureServiceWithUpdater(t *testing.T, opts CaptureOptions) (*CaptureService, *fakeWriter, *fakeInfoUpdater) {
	t.Helper()
	writer := &fakeWriter{}
	updater := &fakeInfoUpdater{}
	trk := tracker.New()
	clientInfo := session.NewClientStore(nil)
	serverInfo := session.NewServerStore(nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewCaptureService(writer, updater, trk, clientInfo, serverInfo, logger, opts)
	return svc, writer, updater
}

func TestCaptureServiceFlushesOnStop(t *testing.T) {
	svc, writer := newTestCaptureService(t, CaptureOptions{ChannelSize: 16, BatchSize: 50, FlushInterval: time.Hour, SendTimeout: 10 * time.Millisecond})
	ctx := context.Background()
	svc.Start(ctx)

	svc.CreateRequestRecord("demo", "sess-1", "ping", json.RawMessage("1"), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"ping"}`), HTTPContext{}, "ping")
	svc.Stop()

	if writer.count() != 1 {
		t.Errorf("writer received %d records, want 1 after Stop flushes the pending batch", writer.count())
	}
}

func TestCaptureServiceFlushesOnBatchSize(t *testing.T) {
	svc, writer := newTestCaptureService(t, CaptureOptions{ChannelSize: 16, BatchSize: 2, FlushInterval: time.Hour, SendTimeout: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)

	svc.CreateRequestRecord("demo", "sess-1", "ping", json.RawMessage("1"), json.RawMessage(`{}`), HTTPContext{}, "ping")
	svc.CreateRequestRecord("demo", "sess-1", "ping", json.RawMessage("2"), json.RawMessage(`{}`), HTTPContext{}, "ping")

	deadline := time.Now().Add(time.Second)
	for writer.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if writer.count() != 2 {
		t.Errorf("writer received %d records, want 2 once the batch size is reached", writer.count())
	}
	cancel()
	svc.Stop()
}

func TestCreateResponseRecordComputesDuration(t *testing.T) {
	svc, writer := newTestCaptureService(t, CaptureOptions{ChannelSize: 16, BatchSize: 1, FlushInterval: time.Hour, SendTimeout: 10 * time.Millisecond})
	svc.Start(context.Background())

	svc.CreateRequestRecord("demo", "sess-1", "ping", json.RawMessage("1"), json.RawMessage(`{}`), HTTPContext{}, "ping")
	time.Sleep(5 * time.Millisecond)
	svc.CreateResponseRecord("demo", "sess-1", json.RawMessage("1"), json.RawMessage(`{}`), 200, "", HTTPContext{}, "ping")
	svc.Stop()

	if writer.count() != 2 {
		t.Fatalf("writer received %d records, want 2", writer.count())
	}
	resp := writer.records[1]
	if resp.Metadata.DurationMs <= 0 {
		t.Errorf("DurationMs = %d, want > 0 for a tracked request/response pair", resp.Metadata.DurationMs)
	}
	if resp.Method != "ping" {
		t.Errorf("Method = %q, want recovered from the tracker", resp.Method)
	}
}

func TestCaptureErrorResponseSkipsNotifications(t *testing.T) {
	svc, writer := newTestCaptureService(t, CaptureOptions{ChannelSize: 16, BatchSize: 1, FlushInterval: time.Hour, SendTimeout: 10 * time.Millisecond})
	svc.Start(context.Background())

	svc.CaptureErrorResponse("demo", "sess-1", json.RawMessage("null"), -32000, "upstream error", 502, 0)
	svc.CaptureErrorResponse("demo", "sess-1", nil, -32000, "upstream error", 502, 0)
	svc.Stop()

	if writer.count() != 0 {
		t.Errorf("writer received %d records, want 0 for notification/empty ids", writer.count())
	}
}

func TestCaptureErrorResponseRecordsForRealID(t *testing.T) {
	svc, writer := newTestCaptureService(t, CaptureOptions{ChannelSize: 16, BatchSize: 1, FlushInterval: time.Hour, SendTimeout: 10 * time.Millisecond})
	svc.Start(context.Background())

	svc.CaptureErrorResponse("demo", "sess-1", json.RawMessage("1"), -32000, "upstream error", 502, 0)
	svc.Stop()

	if writer.count() != 1 {
		t.Fatalf("writer received %d records, want 1", writer.count())
	}
}

func TestCaptureServiceDropsWhenChannelFull(t *testing.T) {
	svc, writer := newTestCaptureService(t, CaptureOptions{ChannelSize: 1, BatchSize: 1, FlushInterval: time.Hour, SendTimeout: 5 * time.Millisecond})
	// No Start: nothing drains the channel, so it fills up immediately.
	svc.CreateRequestRecord("demo", "sess-1", "ping", json.RawMessage("1"), json.RawMessage(`{}`), HTTPContext{}, "ping")
	svc.CreateRequestRecord("demo", "sess-1", "ping", json.RawMessage("2"), json.RawMessage(`{}`), HTTPContext{}, "ping")

	if svc.DroppedRecords() != 1 {
		t.Errorf("DroppedRecords() = %d, want 1 for the second record dropped on a full unread channel", svc.DroppedRecords())
	}
	if writer.count() != 0 {
		t.Errorf("writer should not have been invoked without Start")
	}
}

func TestInitializeHandshakeCachesClientAndServerInfoAndBackfills(t *testing.T) {
	svc, writer, updater := newTestCaptureServiceWithUpdater(t, CaptureOptions{ChannelSize: 16, BatchSize: 1, FlushInterval: time.Hour, SendTimeout: 10 * time.Millisecond})
	svc.Start(context.Background())

	reqRaw := json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"acme-client","version":"1.2.3"}}}`)
	svc.CreateRequestRecord("demo", "sess-1", "initialize", json.RawMessage("1"), reqRaw, HTTPContext{}, "initialize")

	respRaw := json.RawMessage(`{"jsonrpc":"2.0","id":1,"result":{"serverInfo":{"name":"acme-server","version":"9.9.9"}}}`)
	svc.CreateResponseRecord("demo", "sess-1", json.RawMessage("1"), respRaw, 200, "initialize", HTTPContext{}, "initialize")
	svc.Stop()

	if writer.count() != 2 {
		t.Fatalf("writer received %d records, want 2", writer.count())
	}
	resp := writer.records[1]
	if resp.Metadata.Server == nil || resp.Metadata.Server.Name != "acme-server" {
		t.Errorf("response Server identity = %+v, want acme-server", resp.Metadata.Server)
	}
	if updater.count() != 1 {
		t.Errorf("infoUpdater called %d times, want 1 for the initialize response", updater.count())
	}

	client, ok := svc.clientInfo.Get(context.Background(), "sess-1")
	if !ok || client.Name != "acme-client" {
		t.Errorf("cached client identity = %+v, want acme-client", client)
	}
}

func TestRecordSessionTransitionCopiesIdentity(t *testing.T) {
	svc, _ := newTestCaptureService(t, CaptureOptions{ChannelSize: 16, BatchSize: 1, FlushInterval: time.Hour, SendTimeout: 10 * time.Millisecond})
	svc.clientInfo.Store("sess-old", &capture.Identity{Name: "acme-client"})
	svc.serverInfo.Store("sess-old", &capture.Identity{Name: "acme-server"})

	svc.RecordSessionTransition("sess-old", "sess-new")

	client, ok := svc.clientInfo.Get(context.Background(), "sess-new")
	if !ok || client.Name != "acme-client" {
		t.Errorf("client after transition = %+v, want acme-client", client)
	}
	server, ok := svc.serverInfo.Get(context.Background(), "sess-new")
	if !ok || server.Name != "acme-server" {
		t.Errorf("server after transition = %+v, want acme-server", server)
	}
}

func TestChannelDepthAndCapacity(t *testing.T) {
	svc, _ := newTestCaptureService(t, CaptureOptions{ChannelSize: 8, BatchSize: 1, FlushInterval: time.Hour, SendTimeout: 5 * time.Millisecond})
	if svc.ChannelCapacity() != 8 {
		t.Errorf("ChannelCapacity() = %d, want 8", svc.ChannelCapacity())
	}
	svc.CreateRequestRecord("demo", "sess-1", "ping", json.RawMessage("1"), json.RawMessage(`{}`), HTTPContext{}, "ping")
	if svc.ChannelDepth() != 1 {
		t.Errorf("ChannelDepth() = %d, want 1 with nothing draining the channel", svc.ChannelDepth())
	}
}
