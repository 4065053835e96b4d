package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/davisbuilds/agentmonitor/internal/config"
	"github.com/davisbuilds/agentmonitor/internal/runtime"
	"github.com/davisbuilds/agentmonitor/internal/store"
)

func newTestRouter(t *testing.T) (http.Handler, *runtime.AppState) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api-test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Config{
		MaxPayloadKB:   10,
		MaxSSEClients:  10,
		SessionTimeout: 5 * time.Minute,
		SSEHeartbeat:   30 * time.Second,
		UsageLimits:    map[string]config.AgentUsageLimit{},
	}
	state := runtime.NewAppState(st, cfg, zerolog.Nop())
	return NewRouter(state), state
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestIngestSingleEventAndDedup(t *testing.T) {
	router, _ := newTestRouter(t)

	event := map[string]any{
		"event_id": "evt-1", "session_id": "s1", "agent_type": "codex",
		"event_type": "llm_request", "tokens_in": 12, "tokens_out": 34,
	}

	rec := postJSON(t, router, "/api/events", event)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var first ingestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.Received != 1 || first.Duplicates != 0 || len(first.IDs) != 1 {
		t.Fatalf("unexpected first response: %+v", first)
	}

	rec2 := postJSON(t, router, "/api/events", event)
	if rec2.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 on dedup: %s", rec2.Code, rec2.Body.String())
	}
	var second ingestResponse
	if err := json.Unmarshal(rec2.Body.Bytes(), &second); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if second.Duplicates != 1 || second.Received != 0 {
		t.Fatalf("unexpected dedup response: %+v", second)
	}
}

func TestIngestInvalidEventReturnsFieldErrors(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := postJSON(t, router, "/api/events", map[string]any{"session_id": "bad"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	var body ingestErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Details) == 0 {
		t.Fatal("expected at least one field error")
	}
	for _, fe := range body.Details {
		if fe.Field == "" || fe.Message == "" {
			t.Errorf("field error missing field/message: %+v", fe)
		}
	}
}

func TestIngestBatchPartialRejection(t *testing.T) {
	router, _ := newTestRouter(t)

	body := map[string]any{
		"events": []any{
			map[string]any{"session_id": "s1", "agent_type": "codex", "event_type": "llm_request"},
			map[string]any{"session_id": "bad"},
			map[string]any{"session_id": "s2", "agent_type": "codex", "event_type": "llm_request"},
		},
	}
	rec := postJSON(t, router, "/api/events/batch", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var result batchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.Received != 2 {
		t.Fatalf("received = %d, want 2", result.Received)
	}
	if len(result.Rejected) != 1 || result.Rejected[0].Index != 1 {
		t.Fatalf("unexpected rejections: %+v", result.Rejected)
	}
}

func TestSessionDetailNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/does-not-exist", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSessionLifecycleAndTranscript(t *testing.T) {
	router, _ := newTestRouter(t)

	postJSON(t, router, "/api/events", map[string]any{
		"session_id": "A", "agent_type": "claude_code", "event_type": "session_end",
	})
	postJSON(t, router, "/api/events", map[string]any{
		"session_id": "B", "agent_type": "codex", "event_type": "session_end",
	})

	req := httptest.NewRequest(http.MethodGet, "/api/sessions?limit=20", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var listed struct {
		Sessions []sessionWire `json:"sessions"`
		Total    int           `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	statuses := map[string]string{}
	for _, s := range listed.Sessions {
		statuses[s.ID] = s.Status
	}
	if statuses["A"] != "idle" {
		t.Errorf("session A status = %q, want idle", statuses["A"])
	}
	if statuses["B"] != "ended" {
		t.Errorf("session B status = %q, want ended", statuses["B"])
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/sessions/A/transcript", nil)
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("transcript status = %d, want 200: %s", rec2.Code, rec2.Body.String())
	}
	var transcript struct {
		SessionID string            `json:"session_id"`
		Entries   []transcriptEntry `json:"entries"`
	}
	if err := json.Unmarshal(rec2.Body.Bytes(), &transcript); err != nil {
		t.Fatalf("unmarshal transcript: %v", err)
	}
	if len(transcript.Entries) != 1 || transcript.Entries[0].Role != "system" {
		t.Fatalf("unexpected transcript entries: %+v", transcript.Entries)
	}
}

func TestStatsReflectsIngestedEvents(t *testing.T) {
	router, _ := newTestRouter(t)

	postJSON(t, router, "/api/events", map[string]any{
		"session_id": "s1", "agent_type": "codex", "event_type": "llm_request",
		"tokens_in": 100, "tokens_out": 50,
	})

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var stats statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stats.TotalEvents != 1 {
		t.Errorf("total_events = %d, want 1", stats.TotalEvents)
	}
	if stats.TotalTokensIn != 100 || stats.TotalTokensOut != 50 {
		t.Errorf("unexpected token totals: %+v", stats)
	}
}

func TestStreamConnectedFrame(t *testing.T) {
	router, _ := newTestRouter(t)

	server := httptest.NewServer(router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	buf := make([]byte, 4096)
	n, err := resp.Body.Read(buf)
	if err != nil && n == 0 {
		t.Fatalf("read stream: %v", err)
	}
	if !bytes.Contains(buf[:n], []byte(`"type":"connected"`)) {
		t.Errorf("expected a connected frame, got %q", buf[:n])
	}
}
