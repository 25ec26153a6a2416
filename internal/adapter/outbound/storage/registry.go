package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/fiberplane/mcp-gateway/internal/domain/registry"
)

var _ registry.Store = (*Store)(nil)

// List returns every registered server.
func (s *Store) List(ctx context.Context) ([]registry.Server, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, url, headers_json, type, protocol_version FROM servers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []registry.Server
	for rows.Next() {
		srv, err := scanServerRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, srv)
	}
	return out, rows.Err()
}

// Get returns a single server by name.
func (s *Store) Get(ctx context.Context, name string) (registry.Server, error) {
	row := s.db.QueryRowContext(ctx, `SELECT name, url, headers_json, type, protocol_version FROM servers WHERE name = ?`, name)
	return scanServerRowSingle(row)
}

// Add inserts a new server, failing with registry.ErrAlreadyExists on a
// unique-key violation.
func (s *Store) Add(ctx context.Context, srv registry.Server) error {
	headersJSON, err := headersToJSON(srv.Headers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO servers (name, url, headers_json, type, protocol_version) VALUES (?,?,?,?,?)`,
		srv.Name, srv.URL, headersJSON, srv.Type, nullableString(srv.ProtocolVersion))
	if err != nil {
		if isUniqueViolation(err) {
			return registry.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// Update overwrites an existing server's url/headers/type, failing with
// registry.ErrNotFound if name is unknown.
func (s *Store) Update(ctx context.Context, name string, srv registry.Server) error {
	headersJSON, err := headersToJSON(srv.Headers)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE servers SET url = ?, headers_json = ?, type = ?, protocol_version = ? WHERE name = ?`,
		srv.URL, headersJSON, srv.Type, nullableString(srv.ProtocolVersion), name)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// Remove deletes a server by name, failing with registry.ErrNotFound if
// unknown. Logs and server_health rows are never cascaded.
func (s *Store) Remove(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE name = ?`, name)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}

func headersToJSON(headers map[string]string) (any, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(headers)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServerRow(rows *sql.Rows) (registry.Server, error) {
	return scanServerRowSingle(rows)
}

func scanServerRowSingle(scanner rowScanner) (registry.Server, error) {
	var name, url, typ string
	var headersJSON, protocolVersion sql.NullString
	if err := scanner.Scan(&name, &url, &headersJSON, &typ, &protocolVersion); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registry.Server{}, registry.ErrNotFound
		}
		return registry.Server{}, err
	}
	srv := registry.Server{Name: name, URL: url, Type: typ, ProtocolVersion: protocolVersion.String}
	if headersJSON.Valid && headersJSON.String != "" {
		_ = json.Unmarshal([]byte(headersJSON.String), &srv.Headers)
	}
	return srv, nil
}
