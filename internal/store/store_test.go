package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentmonitor-test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func TestInsertEventCreatesAgentAndSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.InsertEvent(ctx, InsertEventParams{
		SessionID: "sess-1",
		AgentType: "claude_code",
		EventType: "tool_use",
		ToolName:  strPtr("Edit"),
		Status:    "success",
		Metadata:  "{}",
		Source:    SourceAPI,
	})
	if err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}
	if res.Duplicate {
		t.Fatal("expected first insert to not be a duplicate")
	}
	if res.Event.ID == 0 {
		t.Fatal("expected a non-zero event id")
	}

	summary, ok, err := s.GetSessionByID(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSessionByID: %v", err)
	}
	if !ok {
		t.Fatal("expected session to exist")
	}
	if summary.Status != SessionActive {
		t.Errorf("Status = %v, want active", summary.Status)
	}
	if summary.EventCount != 1 {
		t.Errorf("EventCount = %d, want 1", summary.EventCount)
	}
}

func TestInsertEventDedupesOnEventID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	params := InsertEventParams{
		EventID:   strPtr("import-cc-abc123"),
		SessionID: "sess-2",
		AgentType: "claude_code",
		EventType: "tool_use",
		Status:    "success",
		Metadata:  "{}",
		Source:    SourceImport,
	}

	first, err := s.InsertEvent(ctx, params)
	if err != nil {
		t.Fatalf("first InsertEvent: %v", err)
	}
	if first.Duplicate {
		t.Fatal("first insert should not be a duplicate")
	}

	second, err := s.InsertEvent(ctx, params)
	if err != nil {
		t.Fatalf("second InsertEvent: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("second insert with same event_id should be a duplicate")
	}

	summary, _, err := s.GetSessionByID(ctx, "sess-2")
	if err != nil {
		t.Fatalf("GetSessionByID: %v", err)
	}
	if summary.EventCount != 1 {
		t.Errorf("EventCount = %d, want 1 (no double-insert)", summary.EventCount)
	}
}

func TestSessionEndTransitionsByAgentType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertEvent(ctx, InsertEventParams{
		SessionID: "claude-sess", AgentType: "claude_code", EventType: "session_start",
		Status: "success", Metadata: "{}", Source: SourceAPI,
	}); err != nil {
		t.Fatalf("InsertEvent session_start: %v", err)
	}
	if _, err := s.InsertEvent(ctx, InsertEventParams{
		SessionID: "claude-sess", AgentType: "claude_code", EventType: "session_end",
		Status: "success", Metadata: "{}", Source: SourceAPI,
	}); err != nil {
		t.Fatalf("InsertEvent session_end: %v", err)
	}
	summary, _, err := s.GetSessionByID(ctx, "claude-sess")
	if err != nil {
		t.Fatalf("GetSessionByID: %v", err)
	}
	if summary.Status != SessionIdle {
		t.Errorf("claude_code session_end should idle, got %v", summary.Status)
	}

	if _, err := s.InsertEvent(ctx, InsertEventParams{
		SessionID: "codex-sess", AgentType: "codex", EventType: "session_start",
		Status: "success", Metadata: "{}", Source: SourceAPI,
	}); err != nil {
		t.Fatalf("InsertEvent session_start: %v", err)
	}
	if _, err := s.InsertEvent(ctx, InsertEventParams{
		SessionID: "codex-sess", AgentType: "codex", EventType: "session_end",
		Status: "success", Metadata: "{}", Source: SourceAPI,
	}); err != nil {
		t.Fatalf("InsertEvent session_end: %v", err)
	}
	summary, _, err = s.GetSessionByID(ctx, "codex-sess")
	if err != nil {
		t.Fatalf("GetSessionByID: %v", err)
	}
	if summary.Status != SessionEnded {
		t.Errorf("codex session_end should end, got %v", summary.Status)
	}
}

func TestSweepIdleSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return frozen }

	if _, err := s.InsertEvent(ctx, InsertEventParams{
		SessionID: "stale-sess", AgentType: "claude_code", EventType: "tool_use",
		Status: "success", Metadata: "{}", Source: SourceAPI,
	}); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}

	s.now = func() time.Time { return frozen.Add(10 * time.Minute) }
	idled, ended, err := s.SweepIdleSessions(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("SweepIdleSessions: %v", err)
	}
	if idled != 1 || ended != 0 {
		t.Errorf("idled=%d ended=%d, want idled=1 ended=0", idled, ended)
	}

	s.now = func() time.Time { return frozen.Add(30 * time.Minute) }
	idled, ended, err = s.SweepIdleSessions(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("SweepIdleSessions: %v", err)
	}
	if idled != 0 || ended != 1 {
		t.Errorf("idled=%d ended=%d, want idled=0 ended=1", idled, ended)
	}
}

func TestGetFilterOptions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertEvent(ctx, InsertEventParams{
		SessionID: "fo-sess", AgentType: "claude_code", EventType: "tool_use",
		ToolName: strPtr("Edit"), Project: strPtr("agentmonitor"), Branch: strPtr("main"),
		Status: "success", Metadata: "{}", Source: SourceAPI, Model: strPtr("claude-sonnet-4-6"),
	}); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}

	opts, err := s.GetFilterOptions(ctx)
	if err != nil {
		t.Fatalf("GetFilterOptions: %v", err)
	}
	if len(opts.AgentTypes) != 1 || opts.AgentTypes[0] != "claude_code" {
		t.Errorf("AgentTypes = %v", opts.AgentTypes)
	}
	if len(opts.Branches) != 1 || opts.Branches[0].Label != "agentmonitor / main" {
		t.Errorf("Branches = %+v", opts.Branches)
	}
}
