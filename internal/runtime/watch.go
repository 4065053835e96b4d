package runtime

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/davisbuilds/agentmonitor/internal/importer"
)

// importWatchDebounce bunches up a burst of filesystem events (a JSONL
// writer flushes far more often than it starts a new session) into a
// single import run, the same debounce shape the pack uses for its own
// directory watches.
const importWatchDebounce = 2 * time.Second

// watchImportDirs watches the top-level Claude Code (projects/) and Codex
// (sessions/) log directories and triggers an import cycle shortly after a
// change directly inside them. The watch is not recursive: writes to files
// in per-project or dated subdirectories raise no event here. It supplements
// runAutoImportLoop's scheduled sweep rather than replacing it: a missed
// or coalesced event is always caught by the next scheduled tick.
func watchImportDirs(ctx context.Context, state *AppState) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		state.Log.Warn().Str("component", "runtime").Err(err).Msg("log directory watch unavailable")
		return
	}
	defer watcher.Close()

	watched := 0
	for _, dir := range importer.WatchDirs(state.Config.ClaudeCodeHome, state.Config.CodexHome) {
		if err := watcher.Add(dir); err != nil {
			continue
		}
		watched++
	}
	if watched == 0 {
		state.Log.Info().Str("component", "runtime").Msg("no log directories found to watch; relying on scheduled auto-import only")
		return
	}

	state.Log.Info().Str("component", "runtime").Int("dirs", watched).Msg("log directory watch started")

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	trigger := make(chan struct{}, 1)
	scheduleImport := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(importWatchDebounce, func() {
			select {
			case trigger <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleImport()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if state.shouldLog("import_watch_error", 15*time.Second) {
				state.Log.Warn().Str("component", "runtime").Err(err).Msg("log directory watch error")
			}
		case <-trigger:
			runAutoImportOnce(ctx, state)
		}
	}
}
