package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/davisbuilds/agentmonitor/internal/store"
)

type sessionWire struct {
	ID           string  `json:"id"`
	AgentID      string  `json:"agent_id"`
	AgentType    string  `json:"agent_type"`
	Project      *string `json:"project"`
	Branch       *string `json:"branch"`
	Status       string  `json:"status"`
	StartedAt    string  `json:"started_at"`
	EndedAt      *string `json:"ended_at"`
	LastEventAt  string  `json:"last_event_at"`
	Metadata     string  `json:"metadata"`
	EventCount   int64   `json:"event_count"`
	TokensIn     int64   `json:"tokens_in"`
	TokensOut    int64   `json:"tokens_out"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	FilesEdited  int64   `json:"files_edited"`
	LinesAdded   int64   `json:"lines_added"`
	LinesRemoved int64   `json:"lines_removed"`
}

func sessionWireFrom(row store.SessionSummary) sessionWire {
	return sessionWire{
		ID:           row.ID,
		AgentID:      row.AgentID,
		AgentType:    row.AgentType,
		Project:      row.Project,
		Branch:       row.Branch,
		Status:       string(row.Status),
		StartedAt:    row.StartedAt,
		EndedAt:      row.EndedAt,
		LastEventAt:  row.LastEventAt,
		Metadata:     row.Metadata,
		EventCount:   row.EventCount,
		TokensIn:     row.TokensIn,
		TokensOut:    row.TokensOut,
		TotalCostUSD: row.TotalCostUSD,
		FilesEdited:  row.FilesEdited,
		LinesAdded:   row.LinesAdded,
		LinesRemoved: row.LinesRemoved,
	}
}

type eventWire struct {
	ID               int64    `json:"id"`
	EventID          *string  `json:"event_id"`
	SessionID        string   `json:"session_id"`
	AgentType        string   `json:"agent_type"`
	EventType        string   `json:"event_type"`
	ToolName         *string  `json:"tool_name"`
	Status           string   `json:"status"`
	TokensIn         int64    `json:"tokens_in"`
	TokensOut        int64    `json:"tokens_out"`
	CacheReadTokens  int64    `json:"cache_read_tokens"`
	CacheWriteTokens int64    `json:"cache_write_tokens"`
	Branch           *string  `json:"branch"`
	Project          *string  `json:"project"`
	DurationMS       *int64   `json:"duration_ms"`
	CreatedAt        string   `json:"created_at"`
	ClientTimestamp  *string  `json:"client_timestamp"`
	Metadata         string   `json:"metadata"`
	PayloadTruncated bool     `json:"payload_truncated"`
	Model            *string  `json:"model"`
	CostUSD          *float64 `json:"cost_usd"`
	Source           string   `json:"source"`
}

func eventWireFrom(e store.Event) eventWire {
	return eventWire{
		ID:               e.ID,
		EventID:          e.EventID,
		SessionID:        e.SessionID,
		AgentType:        e.AgentType,
		EventType:        e.EventType,
		ToolName:         e.ToolName,
		Status:           e.Status,
		TokensIn:         e.TokensIn,
		TokensOut:        e.TokensOut,
		CacheReadTokens:  e.CacheReadTokens,
		CacheWriteTokens: e.CacheWriteTokens,
		Branch:           e.Branch,
		Project:          e.Project,
		DurationMS:       e.DurationMS,
		CreatedAt:        e.CreatedAt,
		ClientTimestamp:  e.ClientTimestamp,
		Metadata:         e.Metadata,
		PayloadTruncated: e.PayloadTruncated,
		Model:            e.Model,
		CostUSD:          e.CostUSD,
		Source:           string(e.Source),
	}
}

// sessionsList handles GET /api/sessions.
func (h *handlers) sessionsList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := store.SessionFilters{
		Status:        q.Get("status"),
		ExcludeStatus: q.Get("exclude_status"),
		AgentType:     q.Get("agent_type"),
		Since:         q.Get("since"),
		Limit:         int(parseInt64(q.Get("limit"), 50)),
	}

	rows, err := h.state.Store.GetSessions(r.Context(), filters)
	if err != nil {
		internalServerError(w)
		return
	}

	sessions := make([]sessionWire, len(rows))
	for i, row := range rows {
		sessions[i] = sessionWireFrom(row)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// sessionDetail handles GET /api/sessions/{id}.
func (h *handlers) sessionDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	session, ok, err := h.state.Store.GetSessionByID(r.Context(), id)
	if err != nil {
		internalServerError(w)
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, "Session not found")
		return
	}

	q := r.URL.Query()
	limit := parseInt64(q.Get("event_limit"), parseInt64(q.Get("limit"), 10))
	if limit <= 0 {
		limit = 10
	}

	events, err := h.state.Store.GetSessionEvents(r.Context(), id, int(limit))
	if err != nil {
		internalServerError(w)
		return
	}
	eventWires := make([]eventWire, len(events))
	for i, e := range events {
		eventWires[i] = eventWireFrom(e)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session": sessionWireFrom(session),
		"events":  eventWires,
	})
}
