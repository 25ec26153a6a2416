package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fiberplane/mcp-gateway/internal/domain/capture"
	"github.com/fiberplane/mcp-gateway/internal/domain/health"
	"github.com/fiberplane/mcp-gateway/internal/domain/registry"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestWriteAndQueryLogs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := capture.Record{
		Timestamp: time.Now().UTC(),
		Method:    "ping",
		ID:        json.RawMessage("1"),
		Direction: capture.DirectionRequest,
		Request:   json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"ping"}`),
		Metadata: capture.Metadata{
			ServerName: "demo",
			SessionID:  "sess-1",
			Client:     &capture.Identity{Name: "test-client", Version: "1.0"},
		},
	}
	if err := store.Write(ctx, rec); err != nil {
		t.Fatalf("Write: %v", err)
	}

	result, err := store.QueryLogs(ctx, capture.QueryOptions{ServerName: "demo"})
	if err != nil {
		t.Fatalf("QueryLogs: %v", err)
	}
	if result.Count != 1 {
		t.Fatalf("Count = %d, want 1", result.Count)
	}
	got := result.Data[0]
	if got.Method != "ping" || got.Metadata.SessionID != "sess-1" {
		t.Errorf("got = %+v", got)
	}
	if got.Metadata.Client == nil || got.Metadata.Client.Name != "test-client" {
		t.Errorf("Client = %+v, want test-client", got.Metadata.Client)
	}
}

func TestQueryLogsHasMore(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := capture.Record{
			Timestamp: time.Now().UTC(),
			Direction: capture.DirectionRequest,
			Metadata:  capture.Metadata{ServerName: "demo", SessionID: "sess-1"},
		}
		if err := store.Write(ctx, rec); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	result, err := store.QueryLogs(ctx, capture.QueryOptions{Limit: 2})
	if err != nil {
		t.Fatalf("QueryLogs: %v", err)
	}
	if result.Count != 2 || !result.HasMore {
		t.Errorf("Count=%d HasMore=%v, want 2/true", result.Count, result.HasMore)
	}
}

func TestClearAllRemovesLogsAndSessionsOnly(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := capture.Record{Timestamp: time.Now().UTC(), Direction: capture.DirectionRequest, Metadata: capture.Metadata{ServerName: "demo", SessionID: "sess-1"}}
	_ = store.Write(ctx, rec)
	_ = store.Add(ctx, registry.Server{Name: "demo", URL: "http://example.com/mcp", Type: "http"})

	if err := store.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}

	result, _ := store.QueryLogs(ctx, capture.QueryOptions{})
	if result.Count != 0 {
		t.Errorf("expected logs cleared, got %d", result.Count)
	}
	servers, _ := store.List(ctx)
	if len(servers) != 1 {
		t.Errorf("expected servers table untouched by ClearAll, got %d", len(servers))
	}
}

func TestRegistryAddGetUpdateRemove(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Add(ctx, registry.Server{Name: "demo", URL: "http://example.com/mcp", Type: "http"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.Add(ctx, registry.Server{Name: "demo", URL: "http://example.com/mcp", Type: "http"}); err != registry.ErrAlreadyExists {
		t.Errorf("duplicate Add err = %v, want ErrAlreadyExists", err)
	}

	got, err := store.Get(ctx, "demo")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.URL != "http://example.com/mcp" {
		t.Errorf("URL = %q", got.URL)
	}

	if err := store.Update(ctx, "demo", registry.Server{URL: "http://updated.example.com/mcp", Type: "http"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = store.Get(ctx, "demo")
	if got.URL != "http://updated.example.com/mcp" {
		t.Errorf("URL after update = %q", got.URL)
	}

	if err := store.Remove(ctx, "demo"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := store.Get(ctx, "demo"); err != registry.ErrNotFound {
		t.Errorf("Get after remove err = %v, want ErrNotFound", err)
	}
	if err := store.Remove(ctx, "demo"); err != registry.ErrNotFound {
		t.Errorf("Remove unknown err = %v, want ErrNotFound", err)
	}
}

func TestHealthUpsertAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec, err := store.GetServerHealth(ctx, "demo")
	if err != nil {
		t.Fatalf("GetServerHealth: %v", err)
	}
	if rec.State != health.StateUnknown {
		t.Errorf("State = %q, want unknown for an unrecorded server", rec.State)
	}

	want := health.Record{ServerName: "demo", State: health.StateUp, LastCheckTime: time.Now().UTC(), ResponseTimeMs: 42}
	if err := store.UpsertServerHealth(ctx, want); err != nil {
		t.Fatalf("UpsertServerHealth: %v", err)
	}
	got, err := store.GetServerHealth(ctx, "demo")
	if err != nil {
		t.Fatalf("GetServerHealth: %v", err)
	}
	if got.State != health.StateUp || got.ResponseTimeMs != 42 {
		t.Errorf("got = %+v, want up/42ms", got)
	}
}

func TestGetSessionMetadataFallsBackToStateless(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	statelessRec := capture.Record{
		Timestamp: time.Now().UTC(),
		Direction: capture.DirectionRequest,
		Metadata: capture.Metadata{
			ServerName: "demo",
			SessionID:  capture.StatelessSession,
			Client:     &capture.Identity{Name: "stateless-client"},
		},
	}
	if err := store.Write(ctx, statelessRec); err != nil {
		t.Fatalf("Write: %v", err)
	}

	client, _, err := store.GetSessionMetadata(ctx, "unknown-session")
	if err != nil {
		t.Fatalf("GetSessionMetadata: %v", err)
	}
	if client == nil || client.Name != "stateless-client" {
		t.Errorf("client = %+v, want fallback to stateless identity", client)
	}
}

func TestAggregationsReflectWrittenLogs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		rec := capture.Record{
			Timestamp: time.Now().UTC(),
			Method:    "ping",
			Direction: capture.DirectionRequest,
			Metadata: capture.Metadata{
				ServerName: "demo",
				SessionID:  "sess-1",
				Client:     &capture.Identity{Name: "test-client", Version: "1.0"},
			},
		}
		if err := store.Write(ctx, rec); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	servers, err := store.GetServers(ctx)
	if err != nil {
		t.Fatalf("GetServers: %v", err)
	}
	if len(servers) != 1 || servers[0].ExchangeCount != 2 {
		t.Errorf("servers = %+v, want one demo entry with exchangeCount 2", servers)
	}

	sessions, err := store.GetSessions(ctx, "")
	if err != nil {
		t.Fatalf("GetSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "sess-1" {
		t.Errorf("sessions = %+v", sessions)
	}

	clients, err := store.GetClients(ctx)
	if err != nil {
		t.Fatalf("GetClients: %v", err)
	}
	if len(clients) != 1 || clients[0].SessionCount != 1 {
		t.Errorf("clients = %+v", clients)
	}

	methods, err := store.GetMethods(ctx, "demo")
	if err != nil {
		t.Fatalf("GetMethods: %v", err)
	}
	if len(methods) != 1 || methods[0].Count != 2 {
		t.Errorf("methods = %+v", methods)
	}

	metrics, err := store.GetServerMetrics(ctx, "demo")
	if err != nil {
		t.Fatalf("GetServerMetrics: %v", err)
	}
	if metrics.ExchangeCount != 2 {
		t.Errorf("ExchangeCount = %d, want 2", metrics.ExchangeCount)
	}
}
