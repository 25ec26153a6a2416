package storage

const schemaVersion = 1

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS logs (
	timestamp        TEXT    NOT NULL,
	server_name      TEXT    NOT NULL,
	session_id       TEXT    NOT NULL,
	method           TEXT,
	direction        TEXT    NOT NULL,
	id               TEXT,
	client_name      TEXT,
	client_version   TEXT,
	user_agent       TEXT,
	client_ip        TEXT,
	http_status      INTEGER,
	duration_ms      INTEGER NOT NULL DEFAULT 0,
	input_tokens     INTEGER,
	output_tokens    INTEGER,
	method_detail    TEXT,
	request_json     TEXT,
	response_json    TEXT,
	sse_event_json   TEXT
);

CREATE INDEX IF NOT EXISTS idx_logs_server_timestamp ON logs(server_name, timestamp);
CREATE INDEX IF NOT EXISTS idx_logs_session_timestamp ON logs(session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_logs_method ON logs(method);
CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);

CREATE TABLE IF NOT EXISTS sessions (
	session_id   TEXT PRIMARY KEY,
	server_name  TEXT,
	client_json  TEXT,
	server_json  TEXT,
	first_seen   TEXT NOT NULL,
	last_seen    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS servers (
	name         TEXT PRIMARY KEY,
	url          TEXT NOT NULL,
	headers_json TEXT,
	type         TEXT NOT NULL DEFAULT 'http',
	protocol_version TEXT
);

CREATE TABLE IF NOT EXISTS server_health (
	name               TEXT PRIMARY KEY,
	health             TEXT NOT NULL DEFAULT 'unknown',
	last_check_time    TEXT,
	last_healthy_time  TEXT,
	last_error_time    TEXT,
	error_code         TEXT,
	error_message      TEXT,
	response_time_ms   INTEGER
);
`

// migrate runs forward-only schema migrations. Currently there is a
// single migration (the base schema); future versions append further
// ALTER/CREATE statements gated on schema_migrations.version.
func migrate(exec execer) error {
	if _, err := exec.Exec(schemaSQL); err != nil {
		return err
	}
	var current int
	row := exec.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}
	if _, err := exec.Exec(`INSERT INTO schema_migrations(version) VALUES (?)`, schemaVersion); err != nil {
		return err
	}
	return nil
}
