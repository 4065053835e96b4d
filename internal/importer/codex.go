package importer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/davisbuilds/agentmonitor/internal/pricing"
)

// parseCodexFile reads one Codex JSONL session recording. Codex sessions
// open with a session_meta line, interleave token_count event_msg lines
// (cumulative, so only the delta since the previous line is imported), and
// close implicitly at end-of-file, so parseCodexFile synthesizes a
// session_end event from the final observed totals.
func parseCodexFile(path string, opts Options) []importedEvent {
	var events []importedEvent

	rawLines, ok := scanLines(path)
	if !ok {
		return events
	}

	var lines []map[string]any
	for _, raw := range rawLines {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			lines = append(lines, parsed)
		}
	}

	defaultModel := readCodexModel(opts.CodexDir)

	var sessionID, cwd, sessionTS string
	for _, line := range lines {
		if t, _ := getString(line, "type"); t != "session_meta" {
			continue
		}
		payload := asMapAny(line["payload"])
		sessionID, _ = getString(payload, "id")
		cwd, _ = getString(payload, "cwd")
		sessionTS, ok = getString(payload, "timestamp")
		if !ok {
			sessionTS, _ = getString(line, "timestamp")
		}
		break
	}
	if sessionID == "" {
		sessionID = strings.TrimSuffix(pathBasename(path), ".jsonl")
		if sessionID == "" {
			sessionID = "unknown"
		}
	}

	if ts, ok := parseTimestampUTC(sessionTS); ok {
		if opts.From != nil && ts.Before(*opts.From) {
			return events
		}
		if opts.To != nil && ts.After(*opts.To) {
			return events
		}
	}

	project := pathBasename(cwd)
	var prevTokensIn, prevTokensOut, prevCacheRead int64
	eventIndex := 0

	for _, line := range lines {
		lineType, _ := getString(line, "type")
		timestamp, _ := getString(line, "timestamp")
		payload := asMapAny(line["payload"])

		switch {
		case lineType == "session_meta":
			originator, _ := getString(payload, "originator")
			metadata := map[string]any{"cli_version": originator, "cwd": cwd}
			events = append(events, importedEvent{
				eventID:         "import-cdx-" + shortSHA256Hex("codex:"+sessionID+":meta"),
				sessionID:       sessionID,
				agentType:       "codex",
				eventType:       "session_start",
				status:          "success",
				project:         project,
				clientTimestamp: timestamp,
				metadata:        metadata,
				model:           defaultModel,
			})

		case lineType == "event_msg" && payloadType(payload) == "token_count":
			info := asMapAny(payload["info"])
			usage := asMapAny(info["total_token_usage"])
			totalIn := usageInt(usage, "input_tokens")
			totalOut := usageInt(usage, "output_tokens")
			totalCache := usageInt(usage, "cached_input_tokens")

			deltaIn := totalIn - prevTokensIn
			deltaOut := totalOut - prevTokensOut
			deltaCacheRead := totalCache - prevCacheRead
			prevTokensIn, prevTokensOut, prevCacheRead = totalIn, totalOut, totalCache

			if deltaIn <= 0 && deltaOut <= 0 {
				continue
			}

			var costUSD *float64
			if defaultModel != "" {
				if cost, ok := pricing.CalculateCost(defaultModel, pricing.TokenCounts{
					Input: deltaIn, Output: deltaOut, CacheRead: deltaCacheRead,
				}); ok {
					costUSD = &cost
				}
			}

			events = append(events, importedEvent{
				eventID:         "import-cdx-" + shortSHA256Hex("codex:"+sessionID+":token:"+strconv.Itoa(eventIndex)),
				sessionID:       sessionID,
				agentType:       "codex",
				eventType:       "llm_response",
				status:          "success",
				tokensIn:        deltaIn,
				tokensOut:       deltaOut,
				cacheReadTokens: deltaCacheRead,
				project:         project,
				clientTimestamp: timestamp,
				metadata:        map[string]any{"_synthetic": true, "_source": "codex_session_jsonl"},
				model:           defaultModel,
				costUSD:         costUSD,
			})
			eventIndex++

		case lineType == "response_item":
			if patch := extractPatchContent(payload); patch != "" {
				if meta, ok := parsePatchMeta(patch); ok {
					events = append(events, importedEvent{
						eventID:         "import-cdx-" + shortSHA256Hex("codex:"+sessionID+":patch:"+strconv.Itoa(eventIndex)),
						sessionID:       sessionID,
						agentType:       "codex",
						eventType:       "tool_use",
						toolName:        "apply_patch",
						status:          "success",
						project:         project,
						clientTimestamp: timestamp,
						metadata: map[string]any{
							"file_path":     meta.filePath,
							"lines_added":   meta.linesAdded,
							"lines_removed": meta.linesRemoved,
						},
					})
					eventIndex++
				}
			}
		}
	}

	if len(events) > 0 {
		var lastTS string
		if len(lines) > 0 {
			lastTS, _ = getString(lines[len(lines)-1], "timestamp")
		}
		events = append(events, importedEvent{
			eventID:         "import-cdx-" + shortSHA256Hex("codex:"+sessionID+":end"),
			sessionID:       sessionID,
			agentType:       "codex",
			eventType:       "session_end",
			status:          "success",
			project:         project,
			clientTimestamp: lastTS,
			metadata: map[string]any{
				"total_tokens_in":  prevTokensIn,
				"total_tokens_out": prevTokensOut,
				"total_cache_read": prevCacheRead,
			},
			model: defaultModel,
		})
	}

	return events
}

func payloadType(payload map[string]any) string {
	t, _ := getString(payload, "type")
	return t
}

// extractPatchContent recognizes both a direct apply_patch tool call and an
// exec_command call whose arguments shell out to apply_patch.
func extractPatchContent(payload map[string]any) string {
	name, _ := getString(payload, "name")

	if name == "apply_patch" {
		if input, ok := getString(payload, "input"); ok {
			return input
		}
	}

	if name == "exec_command" {
		arguments, ok := getString(payload, "arguments")
		if !ok {
			return ""
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(arguments), &parsed); err == nil {
			if cmd, ok := getString(parsed, "cmd"); ok && strings.HasPrefix(cmd, "apply_patch") {
				return cmd
			}
		}
		if strings.HasPrefix(arguments, "apply_patch") || strings.Contains(arguments, "*** Begin Patch") {
			return arguments
		}
	}

	return ""
}

type patchMeta struct {
	filePath     string
	linesAdded   int64
	linesRemoved int64
}

// parsePatchMeta extracts the touched file path and a +/- line count from
// an apply_patch-formatted diff.
func parsePatchMeta(patch string) (patchMeta, bool) {
	var meta patchMeta
	found := false

	for _, line := range strings.Split(patch, "\n") {
		switch {
		case strings.HasPrefix(line, "*** Update File: "):
			meta.filePath = strings.TrimSpace(strings.TrimPrefix(line, "*** Update File: "))
			found = true
		case strings.HasPrefix(line, "*** Add File: "):
			meta.filePath = strings.TrimSpace(strings.TrimPrefix(line, "*** Add File: "))
			found = true
		case strings.HasPrefix(line, "*** Delete File: "):
			meta.filePath = strings.TrimSpace(strings.TrimPrefix(line, "*** Delete File: "))
			found = true
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") && !strings.HasPrefix(line, "***"):
			meta.linesAdded++
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---") && !strings.HasPrefix(line, "***"):
			meta.linesRemoved++
		}
	}

	return meta, found
}

// readCodexModel reads the default model out of Codex's config.toml, a
// plain line-oriented scan rather than a TOML parse since only a single
// top-level `model = "..."` assignment matters here.
func readCodexModel(baseDir string) string {
	root := baseDir
	if root == "" {
		if env := os.Getenv("CODEX_HOME"); env != "" {
			root = env
		} else {
			root = filepath.Join(homeDir(), ".codex")
		}
	}

	content, err := os.ReadFile(filepath.Join(root, "config.toml"))
	if err != nil {
		return ""
	}

	for _, raw := range strings.Split(string(content), "\n") {
		line := strings.TrimSpace(raw)
		if !strings.HasPrefix(line, "model") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		value := strings.TrimSpace(parts[1])
		if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
			return value[1 : len(value)-1]
		}
	}
	return ""
}
