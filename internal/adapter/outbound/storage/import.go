package storage

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fiberplane/mcp-gateway/internal/domain/capture"
)

// importHistoricalShards bulk-inserts any "*.jsonl" capture shards found
// directly under storageDir into the logs table, then renames each
// imported shard with a ".imported" suffix so it is not reread on the
// next boot. Runs once, under the same migration latch that guards
// schema setup, so concurrent processes never race on the same shard.
func importHistoricalShards(ctx context.Context, db *sql.DB, storageDir string) error {
	shards, err := filepath.Glob(filepath.Join(storageDir, "*.jsonl"))
	if err != nil {
		return fmt.Errorf("glob jsonl shards: %w", err)
	}

	for _, path := range shards {
		if err := importShard(ctx, db, path); err != nil {
			return fmt.Errorf("import %s: %w", filepath.Base(path), err)
		}
		if err := os.Rename(path, path+".imported"); err != nil {
			return fmt.Errorf("rename imported shard %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func importShard(ctx context.Context, db *sql.DB, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	store := &Store{db: db}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec capture.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("decode shard line: %w", err)
		}
		if err := store.Write(ctx, rec); err != nil {
			return fmt.Errorf("write shard record: %w", err)
		}
	}
	return scanner.Err()
}
