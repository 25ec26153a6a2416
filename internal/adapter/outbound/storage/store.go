// Package storage implements the embedded SQL storage backend
// (component B): an append-only logs table plus session, server
// registry, and server-health tables, backed by modernc.org/sqlite in
// WAL mode. A single *sql.DB is shared across the process; readers are
// never blocked by the capture engine's writer.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fiberplane/mcp-gateway/internal/adapter/outbound/locking"
	"github.com/fiberplane/mcp-gateway/internal/domain/capture"
	"github.com/fiberplane/mcp-gateway/internal/domain/gatewayerr"
	"github.com/fiberplane/mcp-gateway/internal/domain/health"
	"github.com/fiberplane/mcp-gateway/internal/domain/registry"
)

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store is the sqlite-backed implementation of component B.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database file at
// "<storageDir>/gateway.db", enables WAL mode, and runs migrations
// under a process-wide migration latch scoped to storageDir.
func Open(ctx context.Context, storageDir string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s/gateway.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", storageDir)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	latch := locking.NewMigrationLatch(storageDir)
	if err := latch.Run(func() error {
		if err := migrate(db); err != nil {
			return err
		}
		return importHistoricalShards(ctx, db, storageDir)
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate storage: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database handle is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Write appends a capture row and upserts the sessions row, under a
// single transaction.
func (s *Store) Write(ctx context.Context, r capture.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindStorage, "begin write transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var idStr *string
	if len(r.ID) > 0 && string(r.ID) != "null" {
		v := string(r.ID)
		idStr = &v
	}

	request, response, sseEvent := nullableJSON(r.Request), nullableJSON(r.Response), nullableJSON(r.SSEEvent)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO logs (
			timestamp, server_name, session_id, method, direction, id,
			client_name, client_version, user_agent, client_ip, http_status,
			duration_ms, input_tokens, output_tokens, method_detail,
			request_json, response_json, sse_event_json
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.Timestamp.UTC().Format(time.RFC3339Nano), r.Metadata.ServerName, r.Metadata.SessionID,
		nullableString(r.Method), string(r.Direction), idStr,
		identityField(r.Metadata.Client, "name"), identityField(r.Metadata.Client, "version"),
		nullableString(r.Metadata.UserAgent), nullableString(r.Metadata.ClientIP), nullableInt(r.Metadata.HTTPStatus),
		r.Metadata.DurationMs, nullableInt64(r.Metadata.InputTokens), nullableInt64(r.Metadata.OutputTokens),
		nullableString(r.Metadata.MethodDetail), request, response, sseEvent,
	)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindStorage, "insert log row", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	clientJSON, serverJSON := identityJSON(r.Metadata.Client), identityJSON(r.Metadata.Server)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, server_name, client_json, server_json, first_seen, last_seen)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(session_id) DO UPDATE SET
			server_name = excluded.server_name,
			client_json = COALESCE(excluded.client_json, sessions.client_json),
			server_json = COALESCE(excluded.server_json, sessions.server_json),
			last_seen = excluded.last_seen`,
		r.Metadata.SessionID, r.Metadata.ServerName, clientJSON, serverJSON, now, now,
	)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindStorage, "upsert session row", err)
	}

	if err := tx.Commit(); err != nil {
		return gatewayerr.Wrap(gatewayerr.KindStorage, "commit write transaction", err)
	}
	return nil
}

// QueryLogs implements the documented queryLogs(options) operation.
func (s *Store) QueryLogs(ctx context.Context, opts capture.QueryOptions) (capture.QueryResult, error) {
	opts.Normalize()

	where := []string{"1=1"}
	args := []any{}
	if opts.ServerName != "" {
		where = append(where, "server_name = ?")
		args = append(args, opts.ServerName)
	}
	if opts.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, opts.SessionID)
	}
	if opts.Method != "" {
		where = append(where, "method = ?")
		args = append(args, opts.Method)
	}
	if opts.ClientName != "" {
		where = append(where, "client_name = ?")
		args = append(args, opts.ClientName)
	}
	if opts.ClientVersion != "" {
		where = append(where, "client_version = ?")
		args = append(args, opts.ClientVersion)
	}
	if opts.ClientIP != "" {
		where = append(where, "client_ip = ?")
		args = append(args, opts.ClientIP)
	}
	if !opts.After.IsZero() {
		where = append(where, "timestamp > ?")
		args = append(args, opts.After.UTC().Format(time.RFC3339Nano))
	}
	if !opts.Before.IsZero() {
		where = append(where, "timestamp < ?")
		args = append(args, opts.Before.UTC().Format(time.RFC3339Nano))
	}

	order := "DESC"
	if opts.Order == "asc" {
		order = "ASC"
	}

	// Fetch one extra row to compute hasMore without a second count query.
	query := fmt.Sprintf(`
		SELECT timestamp, server_name, session_id, method, direction, id,
		       client_name, client_version, user_agent, client_ip, http_status,
		       duration_ms, input_tokens, output_tokens, method_detail,
		       request_json, response_json, sse_event_json
		FROM logs WHERE %s ORDER BY timestamp %s LIMIT ?`, strings.Join(where, " AND "), order)
	args = append(args, opts.Limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return capture.QueryResult{}, gatewayerr.Wrap(gatewayerr.KindStorage, "query logs", err)
	}
	defer rows.Close()

	var records []capture.Record
	for rows.Next() {
		r, err := scanLogRow(rows)
		if err != nil {
			return capture.QueryResult{}, gatewayerr.Wrap(gatewayerr.KindStorage, "scan log row", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return capture.QueryResult{}, gatewayerr.Wrap(gatewayerr.KindStorage, "iterate log rows", err)
	}

	hasMore := len(records) > opts.Limit
	if hasMore {
		records = records[:opts.Limit]
	}

	result := capture.QueryResult{Data: records, Count: len(records), Limit: opts.Limit, HasMore: hasMore}
	if len(records) > 0 {
		// records are ordered by the requested order; recover chronological extremes regardless.
		first, last := records[0].Timestamp, records[len(records)-1].Timestamp
		if order == "ASC" {
			result.OldestTimestamp, result.NewestTimestamp = first, last
		} else {
			result.OldestTimestamp, result.NewestTimestamp = last, first
		}
	}
	return result, nil
}

func scanLogRow(rows *sql.Rows) (capture.Record, error) {
	var (
		ts                                                    string
		serverName, sessionID, direction                      string
		method, idStr, clientName, clientVersion               sql.NullString
		userAgent, clientIP, methodDetail                      sql.NullString
		httpStatus, inputTokens, outputTokens                  sql.NullInt64
		durationMs                                             int64
		requestJSON, responseJSON, sseEventJSON                sql.NullString
	)
	if err := rows.Scan(&ts, &serverName, &sessionID, &method, &direction, &idStr,
		&clientName, &clientVersion, &userAgent, &clientIP, &httpStatus,
		&durationMs, &inputTokens, &outputTokens, &methodDetail,
		&requestJSON, &responseJSON, &sseEventJSON); err != nil {
		return capture.Record{}, err
	}

	timestamp, _ := time.Parse(time.RFC3339Nano, ts)
	r := capture.Record{
		Timestamp: timestamp,
		Method:    method.String,
		Direction: capture.Direction(direction),
		Metadata: capture.Metadata{
			ServerName:   serverName,
			SessionID:    sessionID,
			DurationMs:   durationMs,
			HTTPStatus:   int(httpStatus.Int64),
			UserAgent:    userAgent.String,
			ClientIP:     clientIP.String,
			InputTokens:  inputTokens.Int64,
			OutputTokens: outputTokens.Int64,
			MethodDetail: methodDetail.String,
		},
	}
	if idStr.Valid {
		r.ID = json.RawMessage(idStr.String)
	}
	if clientName.Valid {
		r.Metadata.Client = &capture.Identity{Name: clientName.String, Version: clientVersion.String}
	}
	if requestJSON.Valid {
		r.Request = json.RawMessage(requestJSON.String)
	}
	if responseJSON.Valid {
		r.Response = json.RawMessage(responseJSON.String)
	}
	if sseEventJSON.Valid {
		r.SSEEvent = json.RawMessage(sseEventJSON.String)
	}
	return r, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(i int) any {
	if i == 0 {
		return nil
	}
	return i
}

func nullableInt64(i int64) any {
	if i == 0 {
		return nil
	}
	return i
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func identityField(id *capture.Identity, field string) any {
	if id == nil {
		return nil
	}
	if field == "name" {
		return nullableString(id.Name)
	}
	return nullableString(id.Version)
}

func identityJSON(id *capture.Identity) any {
	if id == nil {
		return nil
	}
	b, err := json.Marshal(id)
	if err != nil {
		return nil
	}
	return string(b)
}
