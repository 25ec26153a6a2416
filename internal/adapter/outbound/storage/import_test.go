package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fiberplane/mcp-gateway/internal/domain/capture"
)

func TestOpenImportsHistoricalJSONLShards(t *testing.T) {
	dir := t.TempDir()
	shard := filepath.Join(dir, "2026-01-01.jsonl")
	lines := `{"timestamp":"2026-01-01T00:00:00Z","method":"ping","direction":"request","metadata":{"serverName":"demo","sessionId":"sess-1"}}
{"timestamp":"2026-01-01T00:00:01Z","direction":"response","metadata":{"serverName":"demo","sessionId":"sess-1"}}
`
	if err := os.WriteFile(shard, []byte(lines), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store, err := Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	result, err := store.QueryLogs(context.Background(), capture.QueryOptions{})
	if err != nil {
		t.Fatalf("QueryLogs: %v", err)
	}
	if result.Count != 2 {
		t.Fatalf("imported record count = %d, want 2", result.Count)
	}

	if _, err := os.Stat(shard); !os.IsNotExist(err) {
		t.Error("expected the original shard to be renamed away")
	}
	if _, err := os.Stat(shard + ".imported"); err != nil {
		t.Errorf("expected a .imported sidecar to exist: %v", err)
	}
}

func TestOpenIsIdempotentWhenNoShardsPresent(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	store.Close()

	store, err = Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer store.Close()
}
