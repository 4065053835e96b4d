package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SessionFilters narrows GET /api/sessions.
type SessionFilters struct {
	Status        string
	ExcludeStatus string
	AgentType     string
	Since         string
	Limit         int
}

// SessionSummary is one row of GET /api/sessions, including the
// correlated-subquery rollups the dashboard needs.
type SessionSummary struct {
	Session
	EventCount   int64
	TokensIn     int64
	TokensOut    int64
	TotalCostUSD float64
	FilesEdited  int64
	LinesAdded   int64
	LinesRemoved int64
}

const sessionSummarySelect = `
	SELECT
		s.id, s.agent_id, s.agent_type, s.project, s.branch, s.status,
		s.started_at, s.ended_at, s.last_event_at, s.metadata,
		(SELECT COUNT(*) FROM events e WHERE e.session_id = s.id) AS event_count,
		(SELECT COALESCE(SUM(e.tokens_in), 0) FROM events e WHERE e.session_id = s.id) AS tokens_in,
		(SELECT COALESCE(SUM(e.tokens_out), 0) FROM events e WHERE e.session_id = s.id) AS tokens_out,
		(SELECT COALESCE(SUM(e.cost_usd), 0.0) FROM events e WHERE e.session_id = s.id) AS total_cost_usd,
		(SELECT COUNT(*) FROM events e WHERE e.session_id = s.id AND e.tool_name IN ('Edit','Write','MultiEdit','apply_patch','write_stdin')) AS files_edited,
		(SELECT COALESCE(SUM(CAST(json_extract(e.metadata, '$.lines_added') AS INTEGER)), 0) FROM events e WHERE e.session_id = s.id) AS lines_added,
		(SELECT COALESCE(SUM(CAST(json_extract(e.metadata, '$.lines_removed') AS INTEGER)), 0) FROM events e WHERE e.session_id = s.id) AS lines_removed
	FROM sessions s
`

// GetSessions returns sessions ordered active-first, then idle, then
// ended, most recently active within each bucket.
func (s *Store) GetSessions(ctx context.Context, filters SessionFilters) ([]SessionSummary, error) {
	query := sessionSummarySelect
	var args []any
	var conds []string

	if filters.Status != "" {
		conds = append(conds, "s.status = ?")
		args = append(args, filters.Status)
	}
	if filters.ExcludeStatus != "" {
		conds = append(conds, "s.status != ?")
		args = append(args, filters.ExcludeStatus)
	}
	if filters.AgentType != "" {
		conds = append(conds, "s.agent_type = ?")
		args = append(args, filters.AgentType)
	}
	if filters.Since != "" {
		conds = append(conds, "s.last_event_at >= ?")
		args = append(args, filters.Since)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY CASE s.status WHEN 'active' THEN 0 WHEN 'idle' THEN 1 ELSE 2 END, s.last_event_at DESC LIMIT ?`

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var row SessionSummary
		var project, branch, endedAt sql.NullString
		if err := rows.Scan(
			&row.ID, &row.AgentID, &row.AgentType, &project, &branch, &row.Status,
			&row.StartedAt, &endedAt, &row.LastEventAt, &row.Metadata,
			&row.EventCount, &row.TokensIn, &row.TokensOut, &row.TotalCostUSD,
			&row.FilesEdited, &row.LinesAdded, &row.LinesRemoved,
		); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		row.Project = nullableStrPtr(project)
		row.Branch = nullableStrPtr(branch)
		row.EndedAt = nullableStrPtr(endedAt)
		out = append(out, row)
	}
	return out, rows.Err()
}

// GetSessionByID returns one session's summary row, or ok=false if it does
// not exist.
func (s *Store) GetSessionByID(ctx context.Context, id string) (SessionSummary, bool, error) {
	rows, err := s.db.QueryContext(ctx, sessionSummarySelect+" WHERE s.id = ?", id)
	if err != nil {
		return SessionSummary{}, false, fmt.Errorf("store: get session: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return SessionSummary{}, false, rows.Err()
	}
	var row SessionSummary
	var project, branch, endedAt sql.NullString
	if err := rows.Scan(
		&row.ID, &row.AgentID, &row.AgentType, &project, &branch, &row.Status,
		&row.StartedAt, &endedAt, &row.LastEventAt, &row.Metadata,
		&row.EventCount, &row.TokensIn, &row.TokensOut, &row.TotalCostUSD,
		&row.FilesEdited, &row.LinesAdded, &row.LinesRemoved,
	); err != nil {
		return SessionSummary{}, false, fmt.Errorf("store: scan session: %w", err)
	}
	row.Project = nullableStrPtr(project)
	row.Branch = nullableStrPtr(branch)
	row.EndedAt = nullableStrPtr(endedAt)
	return row, true, nil
}

// GetSessionEvents returns a session's most recent events, newest first,
// capped at limit — the event list embedded in GET /api/sessions/{id}.
func (s *Store) GetSessionEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, session_id, agent_type, event_type, tool_name, status,
			tokens_in, tokens_out, cache_read_tokens, cache_write_tokens,
			branch, project, duration_ms, created_at, client_timestamp,
			metadata, payload_truncated, model, cost_usd, source
		FROM events WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: get session events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var row Event
		var eventID, toolName, branch, project, clientTimestamp, model sql.NullString
		var durationMS sql.NullInt64
		var costUSD sql.NullFloat64
		var truncated int
		var source string
		if err := rows.Scan(
			&row.ID, &eventID, &row.SessionID, &row.AgentType, &row.EventType, &toolName, &row.Status,
			&row.TokensIn, &row.TokensOut, &row.CacheReadTokens, &row.CacheWriteTokens,
			&branch, &project, &durationMS, &row.CreatedAt, &clientTimestamp,
			&row.Metadata, &truncated, &model, &costUSD, &source,
		); err != nil {
			return nil, fmt.Errorf("store: scan session event: %w", err)
		}
		row.EventID = nullableStrPtr(eventID)
		row.ToolName = nullableStrPtr(toolName)
		row.Branch = nullableStrPtr(branch)
		row.Project = nullableStrPtr(project)
		row.ClientTimestamp = nullableStrPtr(clientTimestamp)
		row.Model = nullableStrPtr(model)
		row.PayloadTruncated = truncated != 0
		row.Source = Source(source)
		row.SchemaVersion = 1
		if durationMS.Valid {
			v := durationMS.Int64
			row.DurationMS = &v
		}
		if costUSD.Valid {
			v := costUSD.Float64
			row.CostUSD = &v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// TranscriptEvent is one row of GET /api/sessions/{id}/transcript.
type TranscriptEvent struct {
	ID              int64
	EventType       string
	ToolName        *string
	Status          string
	TokensIn        int64
	TokensOut       int64
	Model           *string
	CostUSD         *float64
	DurationMS      *int64
	CreatedAt       string
	ClientTimestamp *string
	Metadata        string
}

// GetSessionTranscript returns every event for a session in chronological
// order.
func (s *Store) GetSessionTranscript(ctx context.Context, sessionID string) ([]TranscriptEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, tool_name, status, tokens_in, tokens_out, model, cost_usd, duration_ms,
			created_at, client_timestamp, metadata
		FROM events WHERE session_id = ? ORDER BY created_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: get transcript: %w", err)
	}
	defer rows.Close()

	var out []TranscriptEvent
	for rows.Next() {
		var row TranscriptEvent
		var toolName, model, clientTimestamp sql.NullString
		var costUSD sql.NullFloat64
		var durationMS sql.NullInt64
		if err := rows.Scan(
			&row.ID, &row.EventType, &toolName, &row.Status, &row.TokensIn, &row.TokensOut,
			&model, &costUSD, &durationMS, &row.CreatedAt, &clientTimestamp, &row.Metadata,
		); err != nil {
			return nil, fmt.Errorf("store: scan transcript event: %w", err)
		}
		row.ToolName = nullableStrPtr(toolName)
		row.Model = nullableStrPtr(model)
		row.ClientTimestamp = nullableStrPtr(clientTimestamp)
		if costUSD.Valid {
			v := costUSD.Float64
			row.CostUSD = &v
		}
		if durationMS.Valid {
			v := durationMS.Int64
			row.DurationMS = &v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ToolAnalyticsRow is one row of GET /api/stats/tools.
type ToolAnalyticsRow struct {
	ToolName      string
	TotalCalls    int64
	ErrorCount    int64
	ErrorRate     float64
	AvgDurationMS *float64
	ByAgent       map[string]int64
}

// AnalyticsFilters narrows the stats endpoints.
type AnalyticsFilters struct {
	AgentType string
	Since     string
}

func (f AnalyticsFilters) whereClause(args *[]any) string {
	var conds []string
	if f.AgentType != "" {
		conds = append(conds, "agent_type = ?")
		*args = append(*args, f.AgentType)
	}
	if f.Since != "" {
		conds = append(conds, "created_at >= ?")
		*args = append(*args, f.Since)
	}
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// GetToolAnalytics aggregates every event with a non-null tool_name (of any
// event_type) by tool_name, plus a per-tool
// breakdown of call counts by agent_type.
func (s *Store) GetToolAnalytics(ctx context.Context, filters AnalyticsFilters) ([]ToolAnalyticsRow, error) {
	args := []any{}
	where := filters.whereClause(&args)
	if where == "" {
		where = " WHERE tool_name IS NOT NULL"
	} else {
		where += " AND tool_name IS NOT NULL"
	}

	summarySQL := `
		SELECT tool_name, COUNT(*) AS total_calls,
			SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END) AS error_count,
			ROUND(CAST(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END) AS REAL) / COUNT(*), 4) AS error_rate,
			ROUND(AVG(duration_ms), 0) AS avg_duration_ms
		FROM events` + where + ` GROUP BY tool_name ORDER BY total_calls DESC`

	rows, err := s.db.QueryContext(ctx, summarySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get tool analytics: %w", err)
	}
	defer rows.Close()

	var out []ToolAnalyticsRow
	for rows.Next() {
		var row ToolAnalyticsRow
		if err := rows.Scan(&row.ToolName, &row.TotalCalls, &row.ErrorCount, &row.ErrorRate, &row.AvgDurationMS); err != nil {
			return nil, fmt.Errorf("store: scan tool analytics: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	agentSQL := `
		SELECT tool_name, agent_type, COUNT(*) AS cnt
		FROM events` + where + ` GROUP BY tool_name, agent_type ORDER BY tool_name, cnt DESC`
	agentRows, err := s.db.QueryContext(ctx, agentSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get tool analytics by agent: %w", err)
	}
	defer agentRows.Close()

	byTool := map[string]map[string]int64{}
	for agentRows.Next() {
		var toolName, agentType string
		var count int64
		if err := agentRows.Scan(&toolName, &agentType, &count); err != nil {
			return nil, fmt.Errorf("store: scan tool analytics by agent: %w", err)
		}
		if byTool[toolName] == nil {
			byTool[toolName] = map[string]int64{}
		}
		byTool[toolName][agentType] = count
	}
	if err := agentRows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		out[i].ByAgent = byTool[out[i].ToolName]
		if out[i].ByAgent == nil {
			out[i].ByAgent = map[string]int64{}
		}
	}
	return out, nil
}

// CostBucket is one row of the hourly cost-over-time timeline.
type CostBucket struct {
	Bucket     string
	CostUSD    float64
	TokensIn   int64
	TokensOut  int64
	EventCount int64
}

// GetCostOverTime buckets cost_usd (and token/event volume) by hour,
// keyed off client-reported time when present.
func (s *Store) GetCostOverTime(ctx context.Context, filters AnalyticsFilters) ([]CostBucket, error) {
	var conds []string
	var args []any
	if filters.AgentType != "" {
		conds = append(conds, "agent_type = ?")
		args = append(args, filters.AgentType)
	}
	if filters.Since != "" {
		conds = append(conds, "COALESCE(client_timestamp, created_at) >= ?")
		args = append(args, filters.Since)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	query := `
		SELECT
			strftime('%Y-%m-%dT%H:00:00Z', COALESCE(client_timestamp, created_at)) AS bucket,
			COALESCE(SUM(cost_usd), 0), COALESCE(SUM(tokens_in), 0), COALESCE(SUM(tokens_out), 0), COUNT(*)
		FROM events` + where + ` GROUP BY bucket ORDER BY bucket ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get cost over time: %w", err)
	}
	defer rows.Close()

	var out []CostBucket
	for rows.Next() {
		var row CostBucket
		if err := rows.Scan(&row.Bucket, &row.CostUSD, &row.TokensIn, &row.TokensOut, &row.EventCount); err != nil {
			return nil, fmt.Errorf("store: scan cost timeline: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ProjectCostRow is one row of GET /api/stats/cost's by_project facet.
type ProjectCostRow struct {
	Project      string
	CostUSD      float64
	SessionCount int64
	EventCount   int64
}

// GetCostByProject buckets cost_usd by project, defaulting ownerless
// sessions to "unknown" and capping the result at limit rows.
func (s *Store) GetCostByProject(ctx context.Context, limit int, filters AnalyticsFilters) ([]ProjectCostRow, error) {
	conds := []string{"e.cost_usd > 0"}
	var args []any
	if filters.AgentType != "" {
		conds = append(conds, "e.agent_type = ?")
		args = append(args, filters.AgentType)
	}
	if filters.Since != "" {
		conds = append(conds, "e.created_at >= ?")
		args = append(args, filters.Since)
	}
	where := " WHERE " + strings.Join(conds, " AND ")
	args = append(args, limit)

	query := `
		SELECT
			COALESCE(s.project, 'unknown') AS project,
			COALESCE(SUM(e.cost_usd), 0), COUNT(DISTINCT e.session_id), COUNT(*)
		FROM events e
		LEFT JOIN sessions s ON s.id = e.session_id` + where + `
		GROUP BY s.project ORDER BY 2 DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get cost by project: %w", err)
	}
	defer rows.Close()

	var out []ProjectCostRow
	for rows.Next() {
		var row ProjectCostRow
		if err := rows.Scan(&row.Project, &row.CostUSD, &row.SessionCount, &row.EventCount); err != nil {
			return nil, fmt.Errorf("store: scan cost by project: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ModelCostRow is one row of GET /api/stats/cost's by_model facet.
type ModelCostRow struct {
	Model      string
	CostUSD    float64
	EventCount int64
	TokensIn   int64
	TokensOut  int64
}

// GetCostByModel buckets cost_usd by model, excluding free (cost_usd <= 0)
// or model-less events.
func (s *Store) GetCostByModel(ctx context.Context, filters AnalyticsFilters) ([]ModelCostRow, error) {
	conds := []string{"model IS NOT NULL", "cost_usd > 0"}
	var args []any
	if filters.AgentType != "" {
		conds = append(conds, "agent_type = ?")
		args = append(args, filters.AgentType)
	}
	if filters.Since != "" {
		conds = append(conds, "created_at >= ?")
		args = append(args, filters.Since)
	}
	where := " WHERE " + strings.Join(conds, " AND ")

	query := `
		SELECT model, COALESCE(SUM(cost_usd), 0), COUNT(*), COALESCE(SUM(tokens_in), 0), COALESCE(SUM(tokens_out), 0)
		FROM events` + where + ` GROUP BY model ORDER BY 2 DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get cost by model: %w", err)
	}
	defer rows.Close()

	var out []ModelCostRow
	for rows.Next() {
		var row ModelCostRow
		if err := rows.Scan(&row.Model, &row.CostUSD, &row.EventCount, &row.TokensIn, &row.TokensOut); err != nil {
			return nil, fmt.Errorf("store: scan cost by model: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// BranchOption is one row of the branches facet in GET /api/filter-options.
type BranchOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// FilterOptions backs GET /api/filter-options.
type FilterOptions struct {
	AgentTypes []string       `json:"agent_types"`
	EventTypes []string       `json:"event_types"`
	ToolNames  []string       `json:"tool_names"`
	Models     []string       `json:"models"`
	Projects   []string       `json:"projects"`
	Branches   []BranchOption `json:"branches"`
	Sources    []string       `json:"sources"`
}

func (s *Store) distinctStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetFilterOptions runs the seven distinct-value queries the dashboard's
// filter facets need.
func (s *Store) GetFilterOptions(ctx context.Context) (FilterOptions, error) {
	var out FilterOptions
	var err error

	if out.AgentTypes, err = s.distinctStrings(ctx, `SELECT DISTINCT agent_type FROM events ORDER BY agent_type`); err != nil {
		return out, fmt.Errorf("store: filter options agent_types: %w", err)
	}
	if out.EventTypes, err = s.distinctStrings(ctx, `SELECT DISTINCT event_type FROM events ORDER BY event_type`); err != nil {
		return out, fmt.Errorf("store: filter options event_types: %w", err)
	}
	if out.ToolNames, err = s.distinctStrings(ctx, `SELECT DISTINCT tool_name FROM events WHERE tool_name IS NOT NULL ORDER BY tool_name`); err != nil {
		return out, fmt.Errorf("store: filter options tool_names: %w", err)
	}
	if out.Models, err = s.distinctStrings(ctx, `SELECT DISTINCT model FROM events WHERE model IS NOT NULL ORDER BY model`); err != nil {
		return out, fmt.Errorf("store: filter options models: %w", err)
	}
	if out.Projects, err = s.distinctStrings(ctx, `SELECT DISTINCT project FROM sessions WHERE project IS NOT NULL ORDER BY project`); err != nil {
		return out, fmt.Errorf("store: filter options projects: %w", err)
	}
	if out.Sources, err = s.distinctStrings(ctx, `SELECT DISTINCT source FROM events ORDER BY source`); err != nil {
		return out, fmt.Errorf("store: filter options sources: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT branch, project, MAX(last_event_at) AS latest
		FROM sessions WHERE branch IS NOT NULL AND branch != 'HEAD'
		GROUP BY branch ORDER BY latest DESC
	`)
	if err != nil {
		return out, fmt.Errorf("store: filter options branches: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var branch string
		var project sql.NullString
		var latest string
		if err := rows.Scan(&branch, &project, &latest); err != nil {
			return out, fmt.Errorf("store: scan branch option: %w", err)
		}
		label := branch
		if project.Valid && project.String != "" {
			label = project.String + " / " + branch
		}
		out.Branches = append(out.Branches, BranchOption{Value: branch, Label: label})
	}
	if err := rows.Err(); err != nil {
		return out, err
	}

	return out, nil
}

func nullableStrPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// Stats backs GET /api/stats and the periodic stats SSE broadcast.
type Stats struct {
	TotalEvents    int64
	ActiveSessions int64
	TotalSessions  int64
	TotalTokensIn  int64
	TotalTokensOut int64
	TotalCostUSD   float64
}

// GetStats computes the process-wide totals shown on the dashboard header.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(tokens_in), 0), COALESCE(SUM(tokens_out), 0), COALESCE(SUM(cost_usd), 0.0)
		FROM events
	`).Scan(&stats.TotalEvents, &stats.TotalTokensIn, &stats.TotalTokensOut, &stats.TotalCostUSD)
	if err != nil {
		return Stats{}, fmt.Errorf("store: get stats events: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE status = 'active'`).Scan(&stats.ActiveSessions); err != nil {
		return Stats{}, fmt.Errorf("store: get stats active sessions: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&stats.TotalSessions); err != nil {
		return Stats{}, fmt.Errorf("store: get stats total sessions: %w", err)
	}
	return stats, nil
}

// GetImportState returns the previously recorded import state for a file
// path, or ok=false if the file has never been imported.
func (s *Store) GetImportState(ctx context.Context, filePath string) (ImportStateRow, bool, error) {
	var row ImportStateRow
	err := s.db.QueryRowContext(ctx, `
		SELECT file_path, file_hash, file_size, source, events_imported, imported_at
		FROM import_state WHERE file_path = ?
	`, filePath).Scan(&row.FilePath, &row.FileHash, &row.FileSize, &row.Source, &row.EventsImported, &row.ImportedAt)
	if err == sql.ErrNoRows {
		return ImportStateRow{}, false, nil
	}
	if err != nil {
		return ImportStateRow{}, false, fmt.Errorf("store: get import state: %w", err)
	}
	return row, true, nil
}

// UpsertImportState records (or updates) a file's import state.
func (s *Store) UpsertImportState(ctx context.Context, row ImportStateRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_state (file_path, file_hash, file_size, source, events_imported, imported_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			file_hash = excluded.file_hash,
			file_size = excluded.file_size,
			source = excluded.source,
			events_imported = excluded.events_imported,
			imported_at = excluded.imported_at
	`, row.FilePath, row.FileHash, row.FileSize, row.Source, row.EventsImported, row.ImportedAt)
	if err != nil {
		return fmt.Errorf("store: upsert import state: %w", err)
	}
	return nil
}
