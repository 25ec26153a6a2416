package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/fiberplane/mcp-gateway/internal/domain/health"
)

// UpsertServerHealth persists a server's current health state.
func (s *Store) UpsertServerHealth(ctx context.Context, rec health.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO server_health (
			name, health, last_check_time, last_healthy_time, last_error_time,
			error_code, error_message, response_time_ms
		) VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET
			health = excluded.health,
			last_check_time = excluded.last_check_time,
			last_healthy_time = COALESCE(excluded.last_healthy_time, server_health.last_healthy_time),
			last_error_time = COALESCE(excluded.last_error_time, server_health.last_error_time),
			error_code = excluded.error_code,
			error_message = excluded.error_message,
			response_time_ms = excluded.response_time_ms`,
		rec.ServerName, string(rec.State),
		formatTimeOrNil(rec.LastCheckTime), formatTimeOrNil(rec.LastHealthyTime), formatTimeOrNil(rec.LastErrorTime),
		nullableString(rec.ErrorCode), nullableString(rec.ErrorMessage), nullableInt64(rec.ResponseTimeMs),
	)
	return err
}

// GetServerHealth returns the persisted health record for name, or
// health.StateUnknown if none has been recorded yet.
func (s *Store) GetServerHealth(ctx context.Context, name string) (health.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, health, last_check_time, last_healthy_time, last_error_time,
		       error_code, error_message, response_time_ms
		FROM server_health WHERE name = ?`, name)

	var (
		n, h                                   string
		lastCheck, lastHealthy, lastError       sql.NullString
		errCode, errMessage                     sql.NullString
		responseTimeMs                          sql.NullInt64
	)
	if err := row.Scan(&n, &h, &lastCheck, &lastHealthy, &lastError, &errCode, &errMessage, &responseTimeMs); err != nil {
		if err == sql.ErrNoRows {
			return health.Record{ServerName: name, State: health.StateUnknown}, nil
		}
		return health.Record{}, err
	}
	rec := health.Record{
		ServerName:     n,
		State:          health.State(h),
		ErrorCode:      errCode.String,
		ErrorMessage:   errMessage.String,
		ResponseTimeMs: responseTimeMs.Int64,
	}
	rec.LastCheckTime = parseTimeOrZero(lastCheck)
	rec.LastHealthyTime = parseTimeOrZero(lastHealthy)
	rec.LastErrorTime = parseTimeOrZero(lastError)
	return rec, nil
}

func formatTimeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeOrZero(ns sql.NullString) time.Time {
	if !ns.Valid || ns.String == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, ns.String)
	return t
}
