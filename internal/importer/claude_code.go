package importer

import (
	"bufio"
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

// scannerBufferSize enlarges bufio.Scanner's default token size so a
// single JSONL line containing a large tool_result payload doesn't
// overflow the default 64KB buffer.
const scannerBufferSize = 10 * 1024 * 1024

func scanLines(path string) ([]string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), scannerBufferSize)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, true
}

func getString(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func asMapAny(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

// parseClaudeCodeFile reads one Claude Code JSONL session transcript and
// produces one importedEvent per recognizable line, skipping lines the
// configured date range excludes.
func parseClaudeCodeFile(path string, opts Options) []importedEvent {
	var events []importedEvent

	lines, ok := scanLines(path)
	if !ok {
		return events
	}

	fileBasename := strings.TrimSuffix(pathBasename(path), ".jsonl")
	if fileBasename == "" {
		fileBasename = "unknown"
	}
	prevCostUSD := 0.0

	for i, rawLine := range lines {
		var line map[string]any
		if err := json.Unmarshal([]byte(rawLine), &line); err != nil {
			continue
		}

		lineType, ok := getString(line, "type")
		if !ok {
			continue
		}

		sessionID, ok := getString(line, "sessionId")
		if !ok {
			sessionID = fileBasename
		}

		timestamp, _ := getString(line, "timestamp")
		if ts, ok := parseTimestampUTC(timestamp); ok {
			if opts.From != nil && ts.Before(*opts.From) {
				continue
			}
			if opts.To != nil && ts.After(*opts.To) {
				continue
			}
		}

		eventType := "response"
		switch lineType {
		case "tool_use", "tool_result":
			eventType = "tool_use"
		case "assistant":
			eventType = "llm_response"
		case "error":
			eventType = "error"
		case "session_start":
			eventType = "session_start"
		case "session_end":
			eventType = "session_end"
		}

		toolName, ok := getString(line, "name")
		if !ok {
			toolName, _ = getString(line, "tool_name")
		}

		message := asMapAny(line["message"])
		model, ok := getString(line, "model")
		if !ok && message != nil {
			model, _ = getString(message, "model")
		}

		usage := asMapAny(line["usage"])
		if usage == nil && message != nil {
			usage = asMapAny(message["usage"])
		}
		tokensIn := usageInt(usage, "input_tokens")
		tokensOut := usageInt(usage, "output_tokens")
		cacheReadTokens := usageInt(usage, "cache_read_input_tokens")
		cacheWriteTokens := usageInt(usage, "cache_creation_input_tokens")

		var costDelta *float64
		if currentCostRaw, ok := line["costUSD"]; ok {
			if currentCost, ok := asFloat64(currentCostRaw); ok && currentCost > 0 {
				delta := currentCost - prevCostUSD
				if delta < 0 {
					delta = 0
				}
				prevCostUSD = currentCost
				if delta > 0 {
					costDelta = &delta
				}
			}
		}

		cwd, _ := getString(line, "cwd")
		project := pathBasename(cwd)
		branch, _ := getString(line, "gitBranch")

		status := "success"
		if lineType == "error" {
			status = "error"
		} else if isErr, ok := line["is_error"].(bool); ok && isErr {
			status = "error"
		} else if s, ok := getString(line, "status"); ok && s == "error" {
			status = "error"
		}

		metadata := map[string]any{}
		if errVal, ok := line["error"]; ok {
			if errStr, ok := errVal.(string); ok {
				metadata["error"] = errStr
			} else if errMap := asMapAny(errVal); errMap != nil {
				if msg, ok := getString(errMap, "message"); ok {
					metadata["error"] = msg
				}
			}
		}

		if contentVal, ok := line["content"]; ok {
			switch c := contentVal.(type) {
			case string:
				metadata["content_preview"] = sliceChars(c, 500)
			case []any:
				var parts []string
				for _, block := range c {
					if bm := asMapAny(block); bm != nil {
						if text, ok := getString(bm, "text"); ok {
							parts = append(parts, text)
						}
					}
				}
				if len(parts) > 0 {
					metadata["content_preview"] = sliceChars(strings.Join(parts, "\n"), 500)
				}
			}
		}

		if lineType == "tool_use" {
			if input := asMapAny(line["input"]); input != nil {
				for _, key := range []string{"command", "file_path", "pattern", "query"} {
					if val, ok := getString(input, key); ok {
						metadata[key] = val
					}
				}
				switch toolName {
				case "Edit", "MultiEdit":
					if oldStr, ok := getString(input, "old_string"); ok {
						metadata["lines_removed"] = countLines(oldStr)
					}
					if newStr, ok := getString(input, "new_string"); ok {
						metadata["lines_added"] = countLines(newStr)
					}
				case "Write":
					if text, ok := getString(input, "content"); ok {
						metadata["lines_added"] = countLines(text)
					}
				}
			}
		}

		if lineType == "tool_result" {
			if output, ok := line["output"]; ok {
				var rendered string
				if s, ok := output.(string); ok {
					rendered = s
				} else if b, err := json.Marshal(output); err == nil {
					rendered = string(b)
				}
				metadata["content_preview"] = sliceChars(rendered, 500)
			}
		}

		eventID := "import-cc-" + shortSHA256Hex("claude-code:"+sessionID+":"+strconv.Itoa(i))
		isToolUse := eventType == "tool_use"
		effectiveToolName := toolName
		if !isToolUse {
			effectiveToolName = ""
		}

		var durationMS *int64
		if d, ok := line["duration_ms"]; ok {
			if v, ok := asInt64(d); ok {
				durationMS = &v
			}
		} else if d, ok := line["durationMs"]; ok {
			if v, ok := asInt64(d); ok {
				durationMS = &v
			}
		}

		events = append(events, importedEvent{
			eventID:          eventID,
			sessionID:        sessionID,
			agentType:        "claude_code",
			eventType:        eventType,
			toolName:         effectiveToolName,
			status:           status,
			tokensIn:         tokensIn,
			tokensOut:        tokensOut,
			cacheReadTokens:  cacheReadTokens,
			cacheWriteTokens: cacheWriteTokens,
			branch:           branch,
			project:          project,
			durationMS:       durationMS,
			clientTimestamp:  timestamp,
			metadata:         metadata,
			model:            model,
			costUSD:          costDelta,
		})
	}

	return events
}

func usageInt(usage map[string]any, key string) int64 {
	if usage == nil {
		return 0
	}
	v, ok := usage[key]
	if !ok {
		return 0
	}
	n, _ := asInt64(v)
	return n
}

func countLines(s string) int64 {
	if s == "" {
		return 0
	}
	return int64(strings.Count(s, "\n") + 1)
}
