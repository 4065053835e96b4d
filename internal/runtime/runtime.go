// Package runtime wires storage, the SSE hub, and the ingest pipeline into
// one process-wide AppState, and owns the background tasks that run for the
// lifetime of the daemon: periodic stats broadcast, idle-session sweep, and
// scheduled (plus fsnotify-triggered) log import.
package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/davisbuilds/agentmonitor/internal/config"
	"github.com/davisbuilds/agentmonitor/internal/importer"
	"github.com/davisbuilds/agentmonitor/internal/ingest"
	"github.com/davisbuilds/agentmonitor/internal/otelingest"
	"github.com/davisbuilds/agentmonitor/internal/sse"
	"github.com/davisbuilds/agentmonitor/internal/store"
)

// DefaultUsageExtendedWindowHours mirrors the 7-day rolling window the
// original daemon uses for the "extended" usage-monitor budget. Nothing in
// the retained config surface assigns a per-agent window length, so every
// agent shares this one extended window and the configured session
// timeout as its session window.
const DefaultUsageExtendedWindowHours = 7 * 24

const defaultUsageExtendedWindowHours = DefaultUsageExtendedWindowHours

// AppState is the shared, process-wide handle every HTTP handler and
// background task operates on. It is constructed once by NewAppState,
// handed to Start, and lives for the life of the process.
type AppState struct {
	Store          *store.Store
	Hub            *sse.Hub
	Pipeline       *ingest.Pipeline
	OtelCumulative *otelingest.CumulativeState
	Config         config.Config
	Log            zerolog.Logger

	startedAt time.Time

	logMu     sync.Mutex
	lastLogAt map[string]time.Time
}

// NewAppState assembles the shared state from an already-open store.
func NewAppState(st *store.Store, cfg config.Config, log zerolog.Logger) *AppState {
	hub := sse.NewHub(cfg.MaxSSEClients)
	return &AppState{
		Store:          st,
		Hub:            hub,
		Pipeline:       ingest.New(st, hub, cfg.MaxPayloadKB),
		OtelCumulative: otelingest.NewCumulativeState(),
		Config:         cfg,
		Log:            log,
		startedAt:      time.Now(),
		lastLogAt:      map[string]time.Time{},
	}
}

// Uptime reports how long this process has been running.
func (a *AppState) Uptime() time.Duration { return time.Since(a.startedAt) }

// shouldLog rate-limits a high-frequency warning to at most once per
// interval, the same noisy-agent guard the teacher's daemon uses.
func (a *AppState) shouldLog(key string, interval time.Duration) bool {
	a.logMu.Lock()
	defer a.logMu.Unlock()
	now := time.Now()
	if last, ok := a.lastLogAt[key]; ok && now.Sub(last) < interval {
		return false
	}
	a.lastLogAt[key] = now
	return true
}

// Host owns the background task goroutines and the mechanics of stopping
// them cleanly on shutdown.
type Host struct {
	state *AppState
	wg    sync.WaitGroup
}

// Start launches the stats broadcast, idle sweep, and auto-import loops
// (plus the fsnotify directory watch, when configured), all bound to ctx.
// Every goroutine returns once ctx is cancelled; Start itself returns
// immediately.
func Start(ctx context.Context, state *AppState) *Host {
	h := &Host{state: state}

	h.spawn(func() { runStatsLoop(ctx, state) })
	h.spawn(func() { runIdleLoop(ctx, state) })
	if state.Config.AutoImportInterval > 0 {
		h.spawn(func() { runAutoImportLoop(ctx, state) })
		h.spawn(func() { watchImportDirs(ctx, state) })
	}

	return h
}

// Wait blocks until every background task goroutine has returned, which
// happens once the context Start was given is cancelled.
func (h *Host) Wait() { h.wg.Wait() }

func (h *Host) spawn(fn func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn()
	}()
}

// sleepOrDone waits for either the duration to elapse or ctx to be
// cancelled, reporting which happened — the Go analogue of the teacher's
// ticker-based loops and the Rust original's sleep_or_shutdown.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

func runStatsLoop(ctx context.Context, state *AppState) {
	state.Log.Info().Str("component", "runtime").Dur("interval", state.Config.StatsInterval).Msg("stats broadcast loop starting")
	for {
		if sleepOrDone(ctx, state.Config.StatsInterval) {
			state.Log.Info().Str("component", "runtime").Msg("stats broadcast loop stopping")
			return
		}
		runStatsBroadcastOnce(ctx, state)
	}
}

// runStatsBroadcastOnce mirrors runtime_tasks.rs's run_stats_broadcast_once:
// skip the query entirely when nobody is listening.
func runStatsBroadcastOnce(ctx context.Context, state *AppState) {
	if state.Hub.ClientCount() == 0 {
		return
	}

	stats, err := state.Store.GetStats(ctx)
	if err != nil {
		if state.shouldLog("stats_broadcast_error", 10*time.Second) {
			state.Log.Warn().Str("component", "runtime").Err(err).Msg("stats query failed")
		}
		return
	}

	sessionWindowHours := int64(state.Config.SessionTimeout / time.Hour)
	if sessionWindowHours <= 0 {
		sessionWindowHours = 1
	}
	usageMonitor, err := state.Store.GetUsageMonitor(ctx, UsageLimitForAgent(state.Config), sessionWindowHours, defaultUsageExtendedWindowHours)
	if err != nil {
		if state.shouldLog("stats_usage_monitor_error", 10*time.Second) {
			state.Log.Warn().Str("component", "runtime").Err(err).Msg("usage monitor query failed")
		}
		usageMonitor = nil
	}

	state.Hub.Broadcast("stats", map[string]any{
		"total_events":     stats.TotalEvents,
		"active_sessions":  stats.ActiveSessions,
		"total_sessions":   stats.TotalSessions,
		"total_tokens_in":  stats.TotalTokensIn,
		"total_tokens_out": stats.TotalTokensOut,
		"total_cost_usd":   stats.TotalCostUSD,
		"usage_monitor":    usageMonitor,
	})
}

func runIdleLoop(ctx context.Context, state *AppState) {
	state.Log.Info().Str("component", "runtime").Msg("idle sweep loop starting")
	for {
		if sleepOrDone(ctx, 60*time.Second) {
			state.Log.Info().Str("component", "runtime").Msg("idle sweep loop stopping")
			return
		}
		runIdleCheckOnce(ctx, state)
	}
}

// runIdleCheckOnce mirrors runtime_tasks.rs's run_idle_check_once.
func runIdleCheckOnce(ctx context.Context, state *AppState) {
	idled, _, err := state.Store.SweepIdleSessions(ctx, state.Config.SessionTimeout)
	if err != nil {
		if state.shouldLog("idle_sweep_error", 15*time.Second) {
			state.Log.Warn().Str("component", "runtime").Err(err).Msg("idle sweep failed")
		}
		return
	}

	if idled > 0 && state.Hub.ClientCount() > 0 {
		state.Hub.Broadcast("session_update", map[string]any{"type": "idle_check", "idled": idled})
	}
}

func runAutoImportLoop(ctx context.Context, state *AppState) {
	state.Log.Info().Str("component", "runtime").Dur("interval", state.Config.AutoImportInterval).Msg("auto-import loop starting")
	if sleepOrDone(ctx, 5*time.Second) {
		return
	}
	runAutoImportOnce(ctx, state)

	for {
		if sleepOrDone(ctx, state.Config.AutoImportInterval) {
			state.Log.Info().Str("component", "runtime").Msg("auto-import loop stopping")
			return
		}
		runAutoImportOnce(ctx, state)
	}
}

// runAutoImportOnce mirrors auto_import.rs's run_auto_import_once: import
// everything new since the last cycle, and broadcast only when it mattered.
func runAutoImportOnce(ctx context.Context, state *AppState) {
	result, err := importer.Run(ctx, state.Store, importer.Options{
		Source:       importer.SourceAll,
		ClaudeDir:    state.Config.ClaudeCodeHome,
		CodexDir:     state.Config.CodexHome,
		MaxPayloadKB: state.Config.MaxPayloadKB,
	})
	if err != nil {
		if state.shouldLog("auto_import_error", 30*time.Second) {
			state.Log.Warn().Str("component", "runtime").Err(err).Msg("auto-import cycle failed")
		}
		return
	}

	if result.TotalEventsImported == 0 {
		return
	}

	importedFiles := result.TotalFiles - result.SkippedFiles
	state.Log.Info().
		Str("component", "runtime").
		Int("events_imported", result.TotalEventsImported).
		Int("files", importedFiles).
		Msg("auto-import cycle complete")

	if state.Hub.ClientCount() > 0 {
		state.Hub.Broadcast("session_update", map[string]any{
			"type":     "auto_import",
			"imported": result.TotalEventsImported,
		})
	}
}

// UsageLimitForAgent adapts config.Config's agent->limit map (with its
// own "default" fallback) into the lookup function GetUsageMonitor wants,
// translating config.LimitType into store.UsageLimitType at the boundary.
// Shared by the stats broadcast loop and the usage-monitor HTTP handler.
func UsageLimitForAgent(cfg config.Config) func(agentType string) (store.UsageLimit, bool) {
	return func(agentType string) (store.UsageLimit, bool) {
		l, ok := cfg.UsageLimitFor(agentType)
		if !ok {
			return store.UsageLimit{}, false
		}
		limitType := store.UsageLimitTokens
		if l.LimitType == config.LimitTypeCost {
			limitType = store.UsageLimitCost
		}
		return store.UsageLimit{
			AgentType:     l.AgentType,
			LimitType:     limitType,
			SessionLimit:  l.SessionLimit,
			ExtendedLimit: l.ExtendedLimit,
		}, true
	}
}
