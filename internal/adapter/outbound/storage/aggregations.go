package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/fiberplane/mcp-gateway/internal/domain/capture"
	"github.com/fiberplane/mcp-gateway/internal/domain/gatewayerr"
)

type sqlNullString = sql.NullString

// ServerSummary is one row of GetServers' aggregation.
type ServerSummary struct {
	Name          string    `json:"name"`
	LastActivity  time.Time `json:"lastActivity,omitzero"`
	ExchangeCount int64     `json:"exchangeCount"`
}

// SessionSummary is one row of GetSessions.
type SessionSummary struct {
	SessionID  string            `json:"sessionId"`
	ServerName string            `json:"serverName"`
	Client     *capture.Identity `json:"client,omitempty"`
	Server     *capture.Identity `json:"server,omitempty"`
	FirstSeen  time.Time         `json:"firstSeen"`
	LastSeen   time.Time         `json:"lastSeen"`
}

// ClientSummary is one row of GetClients.
type ClientSummary struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	SessionCount int64  `json:"sessionCount"`
}

// MethodSummary is one row of GetMethods.
type MethodSummary struct {
	Method string `json:"method"`
	Count  int64  `json:"count"`
}

// GetServers aggregates distinct server names observed in logs with
// their last activity timestamp and exchange count.
func (s *Store) GetServers(ctx context.Context) ([]ServerSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT server_name, MAX(timestamp), COUNT(*)
		FROM logs GROUP BY server_name ORDER BY server_name`)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindStorage, "aggregate servers", err)
	}
	defer rows.Close()

	var out []ServerSummary
	for rows.Next() {
		var name, ts string
		var count int64
		if err := rows.Scan(&name, &ts, &count); err != nil {
			return nil, gatewayerr.Wrap(gatewayerr.KindStorage, "scan server aggregation", err)
		}
		t, _ := time.Parse(time.RFC3339Nano, ts)
		out = append(out, ServerSummary{Name: name, LastActivity: t, ExchangeCount: count})
	}
	return out, rows.Err()
}

// GetSessions aggregates the sessions table, optionally filtered by
// serverName.
func (s *Store) GetSessions(ctx context.Context, serverName string) ([]SessionSummary, error) {
	query := `SELECT session_id, server_name, client_json, server_json, first_seen, last_seen FROM sessions`
	args := []any{}
	if serverName != "" {
		query += ` WHERE server_name = ?`
		args = append(args, serverName)
	}
	query += ` ORDER BY last_seen DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindStorage, "query sessions", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sessionID, srv string
		var clientJSON, serverJSON, firstSeen, lastSeen sqlNullString
		if err := rows.Scan(&sessionID, &srv, &clientJSON, &serverJSON, &firstSeen, &lastSeen); err != nil {
			return nil, gatewayerr.Wrap(gatewayerr.KindStorage, "scan session row", err)
		}
		summary := SessionSummary{SessionID: sessionID, ServerName: srv}
		summary.FirstSeen, _ = time.Parse(time.RFC3339Nano, firstSeen.String)
		summary.LastSeen, _ = time.Parse(time.RFC3339Nano, lastSeen.String)
		summary.Client = parseIdentity(clientJSON)
		summary.Server = parseIdentity(serverJSON)
		out = append(out, summary)
	}
	return out, rows.Err()
}

// GetClients aggregates distinct (client_name, client_version) pairs
// observed in logs with their session count.
func (s *Store) GetClients(ctx context.Context) ([]ClientSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT client_name, client_version, COUNT(DISTINCT session_id)
		FROM logs WHERE client_name IS NOT NULL
		GROUP BY client_name, client_version ORDER BY client_name`)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindStorage, "aggregate clients", err)
	}
	defer rows.Close()

	var out []ClientSummary
	for rows.Next() {
		var name, version sqlNullString
		var count int64
		if err := rows.Scan(&name, &version, &count); err != nil {
			return nil, gatewayerr.Wrap(gatewayerr.KindStorage, "scan client row", err)
		}
		out = append(out, ClientSummary{Name: name.String, Version: version.String, SessionCount: count})
	}
	return out, rows.Err()
}

// GetMethods aggregates method counts, optionally filtered by serverName.
func (s *Store) GetMethods(ctx context.Context, serverName string) ([]MethodSummary, error) {
	query := `SELECT method, COUNT(*) FROM logs WHERE method IS NOT NULL`
	args := []any{}
	if serverName != "" {
		query += ` AND server_name = ?`
		args = append(args, serverName)
	}
	query += ` GROUP BY method ORDER BY COUNT(*) DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindStorage, "aggregate methods", err)
	}
	defer rows.Close()

	var out []MethodSummary
	for rows.Next() {
		var method string
		var count int64
		if err := rows.Scan(&method, &count); err != nil {
			return nil, gatewayerr.Wrap(gatewayerr.KindStorage, "scan method row", err)
		}
		out = append(out, MethodSummary{Method: method, Count: count})
	}
	return out, rows.Err()
}

// GetServerMetrics returns the {lastActivity, exchangeCount} pair for a
// single server name.
func (s *Store) GetServerMetrics(ctx context.Context, name string) (capture.ServerMetrics, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT MAX(timestamp), COUNT(*) FROM logs WHERE server_name = ?`, name)
	var ts sqlNullString
	var count int64
	if err := row.Scan(&ts, &count); err != nil {
		return capture.ServerMetrics{}, gatewayerr.Wrap(gatewayerr.KindStorage, "query server metrics", err)
	}
	var last time.Time
	if ts.Valid {
		last, _ = time.Parse(time.RFC3339Nano, ts.String)
	}
	return capture.ServerMetrics{LastActivity: last, ExchangeCount: count}, nil
}

func parseIdentity(ns sqlNullString) *capture.Identity {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var id capture.Identity
	if err := json.Unmarshal([]byte(ns.String), &id); err != nil {
		return nil
	}
	return &id
}
