package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/davisbuilds/agentmonitor/internal/otelingest"
	"github.com/davisbuilds/agentmonitor/internal/store"
	"github.com/davisbuilds/agentmonitor/internal/truncate"
)

// isProtobufContentType reports whether the request declares an OTLP
// protobuf body, which this receiver never decodes — only OTLP/JSON.
func isProtobufContentType(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Content-Type"), "application/x-protobuf")
}

func (h *handlers) insertAndBroadcast(r *http.Request, params store.InsertEventParams) {
	res, err := h.state.Store.InsertEvent(r.Context(), params)
	if err != nil {
		h.state.Log.Error().Err(err).Str("component", "otel").Msg("insert event failed")
		return
	}
	if res.Duplicate {
		return
	}
	if h.state.Hub != nil {
		h.state.Hub.Broadcast("event", res.Event)
		h.state.Hub.Broadcast("session_update", map[string]any{
			"session_id": res.Event.SessionID,
			"agent_type": res.Event.AgentType,
		})
	}
}

func (h *handlers) paramsFromParsedLog(e otelingest.ParsedLogEvent) (store.InsertEventParams, error) {
	metadataJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return store.InsertEventParams{}, err
	}
	truncated, err := truncate.Truncate(json.RawMessage(metadataJSON), h.state.Config.MaxPayloadKB)
	if err != nil {
		return store.InsertEventParams{}, err
	}
	return store.InsertEventParams{
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
		ClientTimestamp:  e.ClientTimestamp,
		Metadata:         string(truncated.Value),
		PayloadTruncated: truncated.Truncated,
		Model:            e.Model,
		CostUSD:          e.CostUSD,
		Source:           store.SourceOTel,
	}, nil
}

// otelLogs handles POST /api/otel/v1/logs. Unresolvable sessions and
// unrecognized event names are dropped silently by otelingest.ParseLogs;
// this mirrors the source exporter's tolerance for diagnostic noise.
func (h *handlers) otelLogs(w http.ResponseWriter, r *http.Request) {
	if isProtobufContentType(r) {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid OTLP logs payload")
		return
	}

	for _, event := range otelingest.ParseLogs(payload) {
		params, err := h.paramsFromParsedLog(event)
		if err != nil {
			h.state.Log.Error().Err(err).Str("component", "otel").Msg("build log event params")
			continue
		}
		h.insertAndBroadcast(r, params)
	}

	writeJSON(w, http.StatusOK, map[string]any{})
}

// otelMetrics handles POST /api/otel/v1/metrics, reconciling cumulative
// counters against the shared process-wide state before storing deltas.
func (h *handlers) otelMetrics(w http.ResponseWriter, r *http.Request) {
	if isProtobufContentType(r) {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid OTLP metrics payload")
		return
	}

	for _, delta := range otelingest.ParseMetrics(payload, h.state.OtelCumulative) {
		status := "success"
		params := store.InsertEventParams{
			SessionID:        delta.SessionID,
			AgentType:        delta.AgentType,
			EventType:        "llm_response",
			Status:           status,
			TokensIn:         delta.TokensInDelta,
			TokensOut:        delta.TokensOutDelta,
			CacheReadTokens:  delta.CacheReadDelta,
			CacheWriteTokens: delta.CacheWriteDelta,
			Metadata:         "{}",
			Model:            delta.Model,
			Source:           store.SourceOTel,
		}
		if delta.CostUSDDelta > 0 {
			cost := delta.CostUSDDelta
			params.CostUSD = &cost
		}
		h.insertAndBroadcast(r, params)
	}

	writeJSON(w, http.StatusOK, map[string]any{})
}

// otelTraces handles POST /api/otel/v1/traces. Traces are accepted for
// exporter compatibility but not persisted anywhere.
func (h *handlers) otelTraces(w http.ResponseWriter, r *http.Request) {
	if isProtobufContentType(r) {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}
