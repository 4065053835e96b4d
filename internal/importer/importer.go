// Package importer discovers and parses Claude Code and Codex JSONL
// session transcripts on disk, turning them into the same normalized
// event shape the HTTP and OTLP ingest paths produce, so historical
// sessions recorded before AgentMonitor was running still show up.
package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/davisbuilds/agentmonitor/internal/store"
	"github.com/davisbuilds/agentmonitor/internal/truncate"
)

// Source selects which importer(s) a run should exercise.
type Source string

const (
	SourceClaudeCode Source = "claude-code"
	SourceCodex      Source = "codex"
	SourceAll        Source = "all"
)

// Options configures one import run.
type Options struct {
	Source       Source
	From         *time.Time
	To           *time.Time
	DryRun       bool
	Force        bool
	ClaudeDir    string
	CodexDir     string
	MaxPayloadKB int
}

// FileResult reports what happened for one discovered JSONL file.
type FileResult struct {
	Path             string
	Source           string
	EventsFound      int
	EventsImported   int
	SkippedDuplicate int
	SkippedUnchanged bool
}

// Result is the outcome of a full import run across every discovered file.
type Result struct {
	Files               []FileResult
	TotalFiles          int
	TotalEventsFound    int
	TotalEventsImported int
	TotalDuplicates     int
	SkippedFiles        int
}

// importedEvent is the importer's internal normalized shape before it is
// translated into store.InsertEventParams.
type importedEvent struct {
	eventID          string
	sessionID        string
	agentType        string
	eventType        string
	toolName         string
	status           string
	tokensIn         int64
	tokensOut        int64
	cacheReadTokens  int64
	cacheWriteTokens int64
	branch           string
	project          string
	durationMS       *int64
	clientTimestamp  string
	metadata         map[string]any
	model            string
	costUSD          *float64
}

// Run discovers and imports every matching file for the configured
// source(s), persisting per-file dedup state only when DryRun is unset, no
// From/To bound is given, and the file yielded at least one event.
func Run(ctx context.Context, st *store.Store, opts Options) (Result, error) {
	var files []FileResult

	if opts.Source == SourceClaudeCode || opts.Source == SourceAll {
		for _, path := range DiscoverClaudeCodeLogs(opts.ClaudeDir) {
			fr, err := processFile(ctx, st, path, "claude-code", opts, parseClaudeCodeFile)
			if err != nil {
				return Result{}, err
			}
			files = append(files, fr)
		}
	}

	if opts.Source == SourceCodex || opts.Source == SourceAll {
		for _, path := range DiscoverCodexLogs(opts.CodexDir) {
			fr, err := processFile(ctx, st, path, "codex", opts, parseCodexFile)
			if err != nil {
				return Result{}, err
			}
			files = append(files, fr)
		}
	}

	result := Result{Files: files, TotalFiles: len(files)}
	for _, f := range files {
		result.TotalEventsFound += f.EventsFound
		result.TotalEventsImported += f.EventsImported
		result.TotalDuplicates += f.SkippedDuplicate
		if f.SkippedUnchanged {
			result.SkippedFiles++
		}
	}
	return result, nil
}

func processFile(ctx context.Context, st *store.Store, path, source string, opts Options, parse func(string, Options) []importedEvent) (FileResult, error) {
	if !opts.Force {
		if existing, ok, err := st.GetImportState(ctx, path); err == nil && ok {
			if currentHash, err := hashFile(path); err == nil && currentHash == existing.FileHash {
				return FileResult{Path: path, Source: source, SkippedUnchanged: true}, nil
			}
		}
	}

	events := parse(path, opts)
	imported, duplicates, err := importEvents(ctx, st, events, opts.MaxPayloadKB, opts.DryRun)
	if err != nil {
		return FileResult{}, err
	}

	isDateScoped := opts.From != nil || opts.To != nil
	if !opts.DryRun && !isDateScoped && len(events) > 0 {
		if hash, err := hashFile(path); err == nil {
			size := int64(0)
			if info, err := os.Stat(path); err == nil {
				size = info.Size()
			}
			_ = st.UpsertImportState(ctx, store.ImportStateRow{
				FilePath:       path,
				FileHash:       hash,
				FileSize:       size,
				Source:         source,
				EventsImported: int64(imported),
				ImportedAt:     time.Now().UTC().Format(time.RFC3339),
			})
		}
	}

	return FileResult{
		Path:             path,
		Source:           source,
		EventsFound:      len(events),
		EventsImported:   imported,
		SkippedDuplicate: duplicates,
	}, nil
}

func importEvents(ctx context.Context, st *store.Store, events []importedEvent, maxPayloadKB int, dryRun bool) (imported, duplicates int, err error) {
	if dryRun {
		return len(events), 0, nil
	}

	for _, event := range events {
		metadataJSON, err := json.Marshal(event.metadata)
		if err != nil {
			continue
		}
		truncated, err := truncate.Truncate(json.RawMessage(metadataJSON), maxPayloadKB)
		if err != nil {
			continue
		}

		res, err := st.InsertEvent(ctx, store.InsertEventParams{
			EventID:          nonEmptyPtr(event.eventID),
			SessionID:        event.sessionID,
			AgentType:        event.agentType,
			EventType:        event.eventType,
			ToolName:         nonEmptyPtr(event.toolName),
			Status:           event.status,
			TokensIn:         event.tokensIn,
			TokensOut:        event.tokensOut,
			CacheReadTokens:  event.cacheReadTokens,
			CacheWriteTokens: event.cacheWriteTokens,
			Branch:           nonEmptyPtr(event.branch),
			Project:          nonEmptyPtr(event.project),
			DurationMS:       event.durationMS,
			ClientTimestamp:  nonEmptyPtr(event.clientTimestamp),
			Metadata:         string(truncated.Value),
			PayloadTruncated: truncated.Truncated,
			Model:            nonEmptyPtr(event.model),
			CostUSD:          event.costUSD,
			Source:           store.SourceImport,
		})
		if err != nil {
			continue
		}
		if res.Duplicate {
			duplicates++
		} else {
			imported++
		}
	}
	return imported, duplicates, nil
}

// DiscoverClaudeCodeLogs finds every *.jsonl file under
// <claude_dir>/projects/*/ (one level of project subdirectories).
func DiscoverClaudeCodeLogs(baseDir string) []string {
	root := baseDir
	if root == "" {
		root = filepath.Join(homeDir(), ".claude")
	}
	projectsDir := filepath.Join(root, "projects")

	entries, err := os.ReadDir(projectsDir)
	if err != nil {
		return nil
	}
	projects := lo.Filter(entries, func(e os.DirEntry, _ int) bool { return e.IsDir() })

	var files []string
	for _, project := range projects {
		projectEntries, err := os.ReadDir(filepath.Join(projectsDir, project.Name()))
		if err != nil {
			continue
		}
		jsonlEntries := lo.Filter(projectEntries, func(e os.DirEntry, _ int) bool {
			return !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl")
		})
		paths := lo.Map(jsonlEntries, func(e os.DirEntry, _ int) string {
			return filepath.Join(projectsDir, project.Name(), e.Name())
		})
		files = append(files, paths...)
	}
	files = lo.UniqBy(files, func(p string) string { return p })
	sort.Strings(files)
	return files
}

// DiscoverCodexLogs finds every *.jsonl file under <codex_dir>/sessions/,
// recursing through date-bucketed subdirectories.
func DiscoverCodexLogs(baseDir string) []string {
	root := baseDir
	if root == "" {
		if env := os.Getenv("CODEX_HOME"); env != "" {
			root = env
		} else {
			root = filepath.Join(homeDir(), ".codex")
		}
	}
	sessionsDir := filepath.Join(root, "sessions")

	var files []string
	walkJSONLFiles(sessionsDir, &files)
	files = lo.UniqBy(files, func(p string) string { return p })
	sort.Strings(files)
	return files
}

func walkJSONLFiles(dir string, out *[]string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	dirs := lo.Filter(entries, func(e os.DirEntry, _ int) bool { return e.IsDir() })
	jsonlEntries := lo.Filter(entries, func(e os.DirEntry, _ int) bool {
		return !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl")
	})

	*out = append(*out, lo.Map(jsonlEntries, func(e os.DirEntry, _ int) string {
		return filepath.Join(dir, e.Name())
	})...)

	for _, d := range dirs {
		walkJSONLFiles(filepath.Join(dir, d.Name()), out)
	}
}

// WatchDirs returns the Claude Code / Codex directories a filesystem
// watcher should subscribe to in order to react to new session activity.
// Non-existent directories are skipped; the caller's scheduled sweep is
// the source of truth regardless of whether the watch could be set up.
func WatchDirs(claudeDir, codexDir string) []string {
	claudeRoot := claudeDir
	if claudeRoot == "" {
		claudeRoot = filepath.Join(homeDir(), ".claude")
	}
	codexRoot := codexDir
	if codexRoot == "" {
		if env := os.Getenv("CODEX_HOME"); env != "" {
			codexRoot = env
		} else {
			codexRoot = filepath.Join(homeDir(), ".codex")
		}
	}

	candidates := []string{
		filepath.Join(claudeRoot, "projects"),
		filepath.Join(codexRoot, "sessions"),
	}
	dirs := lo.Filter(candidates, func(dir string, _ int) bool {
		info, err := os.Stat(dir)
		return err == nil && info.IsDir()
	})
	return dirs
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return "."
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("importer: reading %s: %w", path, err)
	}
	return sha256Hex(data), nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// shortSHA256Hex is the truncated-to-32-hex-char digest used to build
// deterministic, content-derived event IDs.
func shortSHA256Hex(input string) string {
	return sha256Hex([]byte(input))[:32]
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func parseTimestampUTC(raw string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func pathBasename(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}

func sliceChars(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
