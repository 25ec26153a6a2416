package storage

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/fiberplane/mcp-gateway/internal/domain/capture"
)

// GetSessionMetadata returns the cached client/server identity for
// sessionID, falling back to the "stateless" session when sessionID has
// no row of its own. Implements session.MetadataSource.
func (s *Store) GetSessionMetadata(ctx context.Context, sessionID string) (*capture.Identity, *capture.Identity, error) {
	client, server, ok, err := s.lookupSessionMetadata(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if ok {
		return client, server, nil
	}
	if sessionID != capture.StatelessSession {
		client, server, _, err := s.lookupSessionMetadata(ctx, capture.StatelessSession)
		return client, server, err
	}
	return nil, nil, nil
}

func (s *Store) lookupSessionMetadata(ctx context.Context, sessionID string) (client, server *capture.Identity, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT client_json, server_json FROM sessions WHERE session_id = ?`, sessionID)
	var clientJSON, serverJSON sql.NullString
	if scanErr := row.Scan(&clientJSON, &serverJSON); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return nil, nil, false, nil
		}
		return nil, nil, false, scanErr
	}
	return parseIdentity(clientJSON), parseIdentity(serverJSON), true, nil
}

// UpdateServerInfoForInitializeRequest backfills the upstream's server
// identity, once the response has revealed it, into the "initialize"
// log row's response_json (under $.serverInfo) and into the session
// row's server_json.
func (s *Store) UpdateServerInfoForInitializeRequest(ctx context.Context, serverName, sessionID string, requestID json.RawMessage, serverInfo capture.Identity) error {
	serverJSON, err := json.Marshal(serverInfo)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE logs SET response_json = json_set(COALESCE(response_json, '{}'), '$.serverInfo', json(?))
		WHERE server_name = ? AND session_id = ? AND method = 'initialize' AND id = ?`,
		string(serverJSON), serverName, sessionID, string(requestID)); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET server_json = ? WHERE session_id = ?`,
		string(serverJSON), sessionID); err != nil {
		return err
	}

	return tx.Commit()
}
