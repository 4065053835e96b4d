package store

// schemaStatements creates the agents/sessions/events/import_state tables
// and their indexes. Ported verbatim (column-for-column) from the
// reference schema so the on-disk shape matches the data model exactly.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		agent_type TEXT NOT NULL,
		name TEXT,
		registered_at TEXT NOT NULL DEFAULT (datetime('now')),
		last_seen_at TEXT NOT NULL DEFAULT (datetime('now'))
	);`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		agent_type TEXT NOT NULL,
		project TEXT,
		branch TEXT,
		status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active','idle','ended')),
		started_at TEXT NOT NULL DEFAULT (datetime('now')),
		ended_at TEXT,
		last_event_at TEXT NOT NULL DEFAULT (datetime('now')),
		metadata TEXT NOT NULL DEFAULT '{}'
	);`,
	`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT UNIQUE,
		schema_version INTEGER NOT NULL DEFAULT 1,
		session_id TEXT NOT NULL,
		agent_type TEXT NOT NULL,
		event_type TEXT NOT NULL,
		tool_name TEXT,
		status TEXT NOT NULL DEFAULT 'success' CHECK(status IN ('success','error','timeout')),
		tokens_in INTEGER NOT NULL DEFAULT 0,
		tokens_out INTEGER NOT NULL DEFAULT 0,
		cache_read_tokens INTEGER NOT NULL DEFAULT 0,
		cache_write_tokens INTEGER NOT NULL DEFAULT 0,
		branch TEXT,
		project TEXT,
		duration_ms INTEGER,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		client_timestamp TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		payload_truncated INTEGER NOT NULL DEFAULT 0 CHECK(payload_truncated IN (0,1)),
		model TEXT,
		cost_usd REAL,
		source TEXT NOT NULL DEFAULT 'api'
	);`,
	`CREATE TABLE IF NOT EXISTS import_state (
		file_path TEXT PRIMARY KEY,
		file_hash TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		source TEXT NOT NULL,
		events_imported INTEGER NOT NULL,
		imported_at TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_events_session_id ON events(session_id);`,
	`CREATE INDEX IF NOT EXISTS idx_events_event_type ON events(event_type);`,
	`CREATE INDEX IF NOT EXISTS idx_events_tool_name ON events(tool_name);`,
	`CREATE INDEX IF NOT EXISTS idx_events_agent_type ON events(agent_type);`,
	`CREATE INDEX IF NOT EXISTS idx_events_model ON events(model);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);`,
}
