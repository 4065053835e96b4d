// Package store is AgentMonitor's storage engine: a single-writer SQLite
// database holding agents, sessions, events, and importer dedup state, plus
// the declarative analytics queries the HTTP API reads from.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/davisbuilds/agentmonitor/internal/pricing"
)

// Store wraps the one *sql.DB connection AgentMonitor holds open, with an
// explicit mutex serializing every write (insert_event, lifecycle sweeps)
// per spec.md's single-writer discipline.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: creating db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening db: %w", err)
	}
	if err := configureSQLiteConnection(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: configuring sqlite: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: running schema statement: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DBSizeBytes stats the database file on disk, for the health endpoint.
func (s *Store) DBSizeBytes(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// InsertEvent implements the insert_event contract: lazily upserts the
// agent and session, applies session lifecycle transitions on
// session_end, derives cost_usd when absent, inserts the row, and
// deduplicates on a unique event_id collision.
func (s *Store) InsertEvent(ctx context.Context, params InsertEventParams) (InsertEventResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC().Format(time.RFC3339)
	agentID := params.AgentType + "-default"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return InsertEventResult{}, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := upsertAgent(ctx, tx, agentID, params.AgentType, now); err != nil {
		return InsertEventResult{}, err
	}
	if err := upsertSession(ctx, tx, params, agentID, now); err != nil {
		return InsertEventResult{}, err
	}
	if params.EventType == "session_end" {
		if err := applySessionEndTransition(ctx, tx, params.SessionID, params.AgentType, now); err != nil {
			return InsertEventResult{}, err
		}
	}

	costUSD := params.CostUSD
	if costUSD == nil && params.Model != nil && (params.TokensIn > 0 || params.TokensOut > 0) {
		if cost, ok := pricing.CalculateCost(*params.Model, pricing.TokenCounts{
			Input:      params.TokensIn,
			Output:     params.TokensOut,
			CacheRead:  params.CacheReadTokens,
			CacheWrite: params.CacheWriteTokens,
		}); ok {
			costUSD = &cost
		}
	}

	truncatedFlag := 0
	if params.PayloadTruncated {
		truncatedFlag = 1
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (
			event_id, session_id, agent_type, event_type, tool_name, status,
			tokens_in, tokens_out, cache_read_tokens, cache_write_tokens,
			branch, project, duration_ms, created_at, client_timestamp,
			metadata, payload_truncated, model, cost_usd, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		nullableStr(params.EventID),
		params.SessionID,
		params.AgentType,
		params.EventType,
		nullableStr(params.ToolName),
		params.Status,
		params.TokensIn,
		params.TokensOut,
		params.CacheReadTokens,
		params.CacheWriteTokens,
		nullableStr(params.Branch),
		nullableStr(params.Project),
		nullableInt64(params.DurationMS),
		now,
		nullableStr(params.ClientTimestamp),
		params.Metadata,
		truncatedFlag,
		nullableStr(params.Model),
		nullableFloat64(costUSD),
		string(params.Source),
	)
	if err != nil {
		if isUniqueConstraintError(err, "events.event_id") {
			return InsertEventResult{Duplicate: true}, nil
		}
		return InsertEventResult{}, fmt.Errorf("store: insert event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return InsertEventResult{}, fmt.Errorf("store: read inserted id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return InsertEventResult{}, fmt.Errorf("store: commit tx: %w", err)
	}

	event := Event{
		ID:               id,
		EventID:          params.EventID,
		SchemaVersion:    1,
		SessionID:        params.SessionID,
		AgentType:        params.AgentType,
		EventType:        params.EventType,
		ToolName:         params.ToolName,
		Status:           params.Status,
		TokensIn:         params.TokensIn,
		TokensOut:        params.TokensOut,
		CacheReadTokens:  params.CacheReadTokens,
		CacheWriteTokens: params.CacheWriteTokens,
		Branch:           params.Branch,
		Project:          params.Project,
		DurationMS:       params.DurationMS,
		CreatedAt:        now,
		ClientTimestamp:  params.ClientTimestamp,
		Metadata:         params.Metadata,
		PayloadTruncated: params.PayloadTruncated,
		Model:            params.Model,
		CostUSD:          costUSD,
		Source:           params.Source,
	}
	return InsertEventResult{Event: event}, nil
}

func upsertAgent(ctx context.Context, tx *sql.Tx, agentID, agentType, now string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO agents (id, agent_type, registered_at, last_seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_seen_at = excluded.last_seen_at
	`, agentID, agentType, now, now)
	if err != nil {
		return fmt.Errorf("store: upsert agent: %w", err)
	}
	return nil
}

// upsertSession creates the session on first sight or bumps it to active
// with last_event_at advanced; project/branch are coalesced so a caller
// that omits them never clobbers a previously recorded value.
func upsertSession(ctx context.Context, tx *sql.Tx, params InsertEventParams, agentID, now string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, agent_id, agent_type, project, branch, status, started_at, last_event_at, metadata)
		VALUES (?, ?, ?, ?, ?, 'active', ?, ?, '{}')
		ON CONFLICT(id) DO UPDATE SET
			status = 'active',
			last_event_at = excluded.last_event_at,
			project = COALESCE(excluded.project, sessions.project),
			branch = COALESCE(excluded.branch, sessions.branch)
	`,
		params.SessionID,
		agentID,
		params.AgentType,
		nullableStr(params.Project),
		nullableStr(params.Branch),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("store: upsert session: %w", err)
	}
	return nil
}

// applySessionEndTransition implements the agent-type-conditional part of
// the lifecycle state machine: claude_code sessions reuse session IDs
// across process restarts, so a session_end only idles them; every other
// agent type ends the session outright.
func applySessionEndTransition(ctx context.Context, tx *sql.Tx, sessionID, agentType, now string) error {
	if agentType == "claude_code" {
		_, err := tx.ExecContext(ctx, `UPDATE sessions SET status = 'idle' WHERE id = ?`, sessionID)
		if err != nil {
			return fmt.Errorf("store: idle session on session_end: %w", err)
		}
		return nil
	}
	_, err := tx.ExecContext(ctx, `UPDATE sessions SET status = 'ended', ended_at = ? WHERE id = ?`, now, sessionID)
	if err != nil {
		return fmt.Errorf("store: end session on session_end: %w", err)
	}
	return nil
}

func isUniqueConstraintError(err error, target string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, target)
}

func nullableStr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat64(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
