package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/davisbuilds/agentmonitor/internal/store"
)

type transcriptEntry struct {
	Role       string   `json:"role"`
	Type       string   `json:"type"`
	ToolName   *string  `json:"tool_name,omitempty"`
	Detail     *string  `json:"detail,omitempty"`
	Status     *string  `json:"status,omitempty"`
	Model      *string  `json:"model,omitempty"`
	TokensIn   *int64   `json:"tokens_in,omitempty"`
	TokensOut  *int64   `json:"tokens_out,omitempty"`
	CostUSD    *float64 `json:"cost_usd,omitempty"`
	DurationMS *int64   `json:"duration_ms,omitempty"`
	Timestamp  string   `json:"timestamp"`
}

func transcriptRole(eventType string) string {
	switch eventType {
	case "session_start", "session_end":
		return "system"
	case "user_prompt":
		return "user"
	case "tool_use":
		return "tool"
	case "error":
		return "assistant"
	default:
		return "assistant"
	}
}

// transcriptDetail picks the human-readable detail line for a transcript
// entry from its event metadata, trying each candidate key in priority
// order until one yields a non-empty string.
func transcriptDetail(eventType string, metadata string) *string {
	if metadata == "" {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(metadata), &fields); err != nil {
		return nil
	}

	if eventType == "user_prompt" {
		if v, ok := stringField(fields, "message"); ok {
			return &v
		}
	}
	for _, key := range []string{"content_preview", "command", "file_path", "pattern", "query"} {
		if v, ok := stringField(fields, key); ok {
			return &v
		}
	}
	if raw, ok := fields["error"]; ok {
		switch e := raw.(type) {
		case string:
			if e != "" {
				return &e
			}
		case map[string]any:
			if v, ok := stringField(e, "message"); ok {
				return &v
			}
		}
	}
	if v, ok := stringField(fields, "diff_preview"); ok {
		return &v
	}
	return nil
}

func stringField(fields map[string]any, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	v, ok := raw.(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func transcriptEntryFrom(e store.TranscriptEvent) transcriptEntry {
	entry := transcriptEntry{
		Role:       transcriptRole(e.EventType),
		Type:       e.EventType,
		ToolName:   e.ToolName,
		Detail:     transcriptDetail(e.EventType, e.Metadata),
		Model:      e.Model,
		CostUSD:    e.CostUSD,
		DurationMS: e.DurationMS,
		Timestamp:  e.CreatedAt,
	}
	if e.ClientTimestamp != nil {
		entry.Timestamp = *e.ClientTimestamp
	}
	status := e.Status
	entry.Status = &status
	if e.TokensIn != 0 {
		v := e.TokensIn
		entry.TokensIn = &v
	}
	if e.TokensOut != 0 {
		v := e.TokensOut
		entry.TokensOut = &v
	}
	return entry
}

// sessionTranscript handles GET /api/sessions/{id}/transcript.
func (h *handlers) sessionTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	events, err := h.state.Store.GetSessionTranscript(r.Context(), id)
	if err != nil {
		internalServerError(w)
		return
	}
	if len(events) == 0 {
		writeJSONError(w, http.StatusNotFound, "No transcript data for this session")
		return
	}

	entries := make([]transcriptEntry, len(events))
	for i, e := range events {
		entries[i] = transcriptEntryFrom(e)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"entries":    entries,
	})
}
