package sse

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestSubscribeRespectsMaxClients(t *testing.T) {
	h := NewHub(1)

	sub1, ok := h.Subscribe()
	if !ok {
		t.Fatal("expected first subscribe to succeed")
	}
	defer sub1.Unsubscribe()

	if _, ok := h.Subscribe(); ok {
		t.Fatal("expected second subscribe to fail at max_clients=1")
	}
	if h.ClientCount() != 1 {
		t.Errorf("ClientCount = %d, want 1", h.ClientCount())
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := NewHub(5)
	sub, ok := h.Subscribe()
	if !ok {
		t.Fatal("expected subscribe to succeed")
	}
	sub.Unsubscribe()
	sub.Unsubscribe()
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount = %d, want 0 after double unsubscribe", h.ClientCount())
	}
}

func TestBroadcastDeliversFormattedFrame(t *testing.T) {
	h := NewHub(5)
	sub, _ := h.Subscribe()
	defer sub.Unsubscribe()

	h.Broadcast("event_created", map[string]any{"id": 1})

	select {
	case frame := <-sub.Messages:
		if !strings.HasPrefix(frame, "data: ") || !strings.HasSuffix(frame, "\n\n") {
			t.Fatalf("frame not SSE-formatted: %q", frame)
		}
		body := strings.TrimSuffix(strings.TrimPrefix(frame, "data: "), "\n\n")
		var decoded struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		if err := json.Unmarshal([]byte(body), &decoded); err != nil {
			t.Fatalf("unmarshal frame body: %v", err)
		}
		if decoded.Type != "event_created" {
			t.Errorf("Type = %q, want event_created", decoded.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast frame")
	}
}

func TestBroadcastDropsWhenSubscriberBufferFull(t *testing.T) {
	h := NewHub(5)
	sub, _ := h.Subscribe()
	defer sub.Unsubscribe()

	for i := 0; i < clientBuffer+10; i++ {
		h.Broadcast("tick", i)
	}

	drained := 0
	for {
		select {
		case <-sub.Messages:
			drained++
		default:
			if drained > clientBuffer {
				t.Fatalf("drained %d frames, want at most %d (buffer capacity)", drained, clientBuffer)
			}
			return
		}
	}
}

func TestUnsubscribeRemovesFromFutureBroadcasts(t *testing.T) {
	h := NewHub(5)
	sub, _ := h.Subscribe()
	sub.Unsubscribe()

	h.Broadcast("event_created", map[string]any{"id": 1})

	select {
	case frame := <-sub.Messages:
		t.Fatalf("unsubscribed client should not receive frames, got %q", frame)
	default:
	}
}
