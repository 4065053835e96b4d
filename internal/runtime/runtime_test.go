package runtime

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/davisbuilds/agentmonitor/internal/config"
	"github.com/davisbuilds/agentmonitor/internal/store"
)

func newTestState(t *testing.T) *AppState {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "runtime-test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Config{
		MaxPayloadKB:   10,
		MaxSSEClients:  10,
		SessionTimeout: 5 * time.Minute,
		StatsInterval:  50 * time.Millisecond,
		UsageLimits:    map[string]config.AgentUsageLimit{},
	}
	return NewAppState(st, cfg, zerolog.Nop())
}

func TestRunStatsBroadcastOnceSkipsWithNoSubscribers(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	runStatsBroadcastOnce(ctx, state)
}

func TestRunStatsBroadcastOnceSendsToSubscriber(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	sub, ok := state.Hub.Subscribe()
	if !ok {
		t.Fatal("expected subscription to succeed")
	}
	defer sub.Unsubscribe()

	runStatsBroadcastOnce(ctx, state)

	select {
	case msg := <-sub.Messages:
		if msg == "" {
			t.Error("expected a non-empty stats frame")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stats broadcast")
	}
}

func TestRunIdleCheckOnceTransitionsActiveSession(t *testing.T) {
	state := newTestState(t)
	// Stored timestamps have one-second precision and one sweep applies both
	// the idle (T) and ended (2T) cutoffs, so T must span several seconds
	// for a single sweep to stop at idle.
	state.Config.SessionTimeout = 2 * time.Second
	ctx := context.Background()

	if _, err := state.Store.InsertEvent(ctx, store.InsertEventParams{
		SessionID: "sess-1",
		AgentType: "claude_code",
		EventType: "tool_use",
		Status:    "success",
		Metadata:  "{}",
		Source:    store.SourceAPI,
	}); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}

	time.Sleep(3500 * time.Millisecond)
	runIdleCheckOnce(ctx, state)

	session, ok, err := state.Store.GetSessionByID(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSessionByID: %v", err)
	}
	if !ok {
		t.Fatal("expected session to exist")
	}
	if session.Status != "idle" {
		t.Errorf("status = %q, want idle", session.Status)
	}
}

func TestHostStopsOnContextCancel(t *testing.T) {
	state := newTestState(t)
	ctx, cancel := context.WithCancel(context.Background())

	host := Start(ctx, state)
	cancel()

	done := make(chan struct{})
	go func() {
		host.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for background tasks to stop")
	}
}
