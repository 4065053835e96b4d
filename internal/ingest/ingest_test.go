package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/davisbuilds/agentmonitor/internal/sse"
	"github.com/davisbuilds/agentmonitor/internal/store"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ingest-test.db")
	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, sse.NewHub(10), 10)
}

func TestIngestOneStoresAndBroadcasts(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()
	sub, _ := p.Hub.Subscribe()
	defer sub.Unsubscribe()

	outcome, fieldErrs, err := p.IngestOne(ctx, map[string]any{
		"session_id": "sess-1",
		"agent_type": "claude_code",
		"event_type": "tool_use",
		"tool_name":  "Edit",
	})
	if err != nil {
		t.Fatalf("IngestOne: %v", err)
	}
	if len(fieldErrs) != 0 {
		t.Fatalf("unexpected field errors: %v", fieldErrs)
	}
	if outcome.Duplicate {
		t.Fatal("expected first ingest to not be a duplicate")
	}
	if outcome.Event.ID == 0 {
		t.Fatal("expected a non-zero event id")
	}

	select {
	case <-sub.Messages:
	case <-time.After(time.Second):
		t.Fatal("expected a broadcast frame after ingest")
	}
}

func TestIngestOneRejectsInvalidPayload(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	_, fieldErrs, err := p.IngestOne(ctx, map[string]any{
		"agent_type": "claude_code",
		"event_type": "tool_use",
	})
	if err != nil {
		t.Fatalf("IngestOne: %v", err)
	}
	if len(fieldErrs) == 0 {
		t.Fatal("expected a missing session_id field error")
	}
}

func TestIngestBatchPartialRejection(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	items := []any{
		map[string]any{"session_id": "a", "agent_type": "claude_code", "event_type": "tool_use"},
		map[string]any{"agent_type": "claude_code", "event_type": "tool_use"},
		map[string]any{"session_id": "b", "agent_type": "codex", "event_type": "tool_use"},
	}

	result, err := p.IngestBatch(ctx, items)
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if len(result.IDs) != 2 {
		t.Errorf("IDs = %v, want 2 accepted", result.IDs)
	}
	if len(result.Rejected) != 1 || result.Rejected[0].Index != 1 {
		t.Errorf("Rejected = %+v, want exactly index 1 rejected", result.Rejected)
	}
}

func TestIngestBatchDeduplicatesByEventID(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	item := map[string]any{
		"event_id":   "fixed-id-1",
		"session_id": "dup-sess",
		"agent_type": "claude_code",
		"event_type": "tool_use",
	}

	first, err := p.IngestBatch(ctx, []any{item})
	if err != nil {
		t.Fatalf("first IngestBatch: %v", err)
	}
	if len(first.IDs) != 1 {
		t.Fatalf("expected first batch to accept 1 event, got %v", first.IDs)
	}

	second, err := p.IngestBatch(ctx, []any{item})
	if err != nil {
		t.Fatalf("second IngestBatch: %v", err)
	}
	if len(second.IDs) != 0 || second.Duplicates != 1 {
		t.Fatalf("expected second batch to report 1 duplicate and no ids, got %+v", second)
	}
}
