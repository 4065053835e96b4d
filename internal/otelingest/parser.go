// Package otelingest parses OTLP/JSON log and metric payloads (the format
// the Claude Code and Codex OpenTelemetry exporters emit) into the same
// normalized event shape the HTTP ingest API produces.
package otelingest

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ParsedLogEvent is one OTLP log record resolved into AgentMonitor's event
// shape, ready for the ingest pipeline.
type ParsedLogEvent struct {
	SessionID        string
	AgentType        string
	EventType        string
	ToolName         *string
	Status           string
	TokensIn         int64
	TokensOut        int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	Model            *string
	CostUSD          *float64
	DurationMS       *int64
	Project          *string
	Branch           *string
	ClientTimestamp  *string
	Metadata         map[string]any
}

// ParsedMetricDelta is the incremental usage one OTLP metric data point
// contributed since the last time its cumulative key was observed.
type ParsedMetricDelta struct {
	SessionID       string
	AgentType       string
	Model           *string
	TokensInDelta   int64
	TokensOutDelta  int64
	CacheReadDelta  int64
	CacheWriteDelta int64
	CostUSDDelta    float64
}

var claudeEventMap = map[string]string{
	"claude_code.tool_result":        "tool_use",
	"claude_code.tool_use":           "tool_use",
	"claude_code.api_request":        "llm_request",
	"claude_code.api_response":       "llm_response",
	"claude_code.session_start":      "session_start",
	"claude_code.session_end":        "session_end",
	"claude_code.file_change":        "file_change",
	"claude_code.git_commit":         "git_commit",
	"claude_code.plan_step":          "plan_step",
	"claude_code.error":              "error",
	"claude_code.user_prompt":        "user_prompt",
	"claude_code.user_prompt_submit": "user_prompt",
}

var codexEventMap = map[string]string{
	"codex.tool_result":   "tool_use",
	"codex.tool_use":      "tool_use",
	"codex.tool_decision": "tool_use",
	"codex.api_request":   "llm_request",
	"codex.api_response":  "llm_response",
	"codex.session_start": "session_start",
	"codex.session_end":   "session_end",
	"codex.file_change":   "file_change",
	"codex.error":         "error",
	"codex.user_prompt":   "user_prompt",
}

var skipEventNames = map[string]bool{
	"codex.sse_event":       true,
	"codex.websocket.event": true,
	"claude_code.response":  true,
	"codex.response":        true,
}

// TokenMetrics are the OTLP metric names carrying token-usage data points.
var TokenMetrics = []string{
	"claude_code.token.usage",
	"codex_cli_rs.token.usage",
	"gen_ai.client.token.usage",
}

// CostMetrics are the OTLP metric names carrying cost data points.
var CostMetrics = []string{
	"claude_code.cost.usage",
	"codex_cli_rs.cost.usage",
	"gen_ai.client.cost.usage",
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

var extractedBodyKeys = map[string]bool{
	"session_id": true, "tool_name": true, "model": true,
	"input_tokens": true, "output_tokens": true,
	"cache_read_tokens": true, "cache_write_tokens": true,
	"cost_usd": true, "duration_ms": true, "project": true, "branch": true,
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

// getAnyString extracts an OTLP AnyValue's scalar as a string.
func getAnyString(v map[string]any) (string, bool) {
	if s, ok := v["stringValue"].(string); ok {
		return s, true
	}
	if iv, ok := v["intValue"]; ok {
		switch n := iv.(type) {
		case float64:
			return strconv.FormatInt(int64(n), 10), true
		case string:
			return n, true
		}
	}
	if f, ok := v["doubleValue"].(float64); ok {
		return strconv.FormatFloat(f, 'g', -1, 64), true
	}
	if b, ok := v["boolValue"].(bool); ok {
		return strconv.FormatBool(b), true
	}
	return "", false
}

// getAnyNumber extracts an OTLP AnyValue's scalar as a float64.
func getAnyNumber(v map[string]any) (float64, bool) {
	if iv, ok := v["intValue"]; ok {
		switch n := iv.(type) {
		case float64:
			return n, true
		case string:
			if f, err := strconv.ParseFloat(n, 64); err == nil {
				return f, true
			}
		}
	}
	if f, ok := v["doubleValue"].(float64); ok {
		return f, true
	}
	if s, ok := v["stringValue"].(string); ok {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// extractAnyValue recursively resolves an OTLP AnyValue (scalar, kvlist, or
// array) into a plain Go value suitable for JSON metadata.
func extractAnyValue(v map[string]any) any {
	if s, ok := v["stringValue"].(string); ok {
		return s
	}
	if iv, ok := v["intValue"]; ok {
		switch n := iv.(type) {
		case float64:
			return n
		case string:
			if f, err := strconv.ParseFloat(n, 64); err == nil {
				return f
			}
		}
	}
	if f, ok := v["doubleValue"].(float64); ok {
		return f
	}
	if b, ok := v["boolValue"].(bool); ok {
		return b
	}
	if kvlist := asMap(v["kvlistValue"]); kvlist != nil {
		out := map[string]any{}
		for _, entry := range asSlice(kvlist["values"]) {
			em := asMap(entry)
			key, _ := em["key"].(string)
			if key == "" {
				continue
			}
			if val := asMap(em["value"]); val != nil {
				out[key] = extractAnyValue(val)
			}
		}
		return out
	}
	if arr := asMap(v["arrayValue"]); arr != nil {
		var out []any
		for _, entry := range asSlice(arr["values"]) {
			if em := asMap(entry); em != nil {
				out = append(out, extractAnyValue(em))
			}
		}
		return out
	}
	return nil
}

func getAttrValue(attrs []any, key string) map[string]any {
	for _, entry := range attrs {
		em := asMap(entry)
		if k, _ := em["key"].(string); k == key {
			return asMap(em["value"])
		}
	}
	return nil
}

func getAttrString(attrs []any, key string) (string, bool) {
	v := getAttrValue(attrs, key)
	if v == nil {
		return "", false
	}
	return getAnyString(v)
}

func getAttrNumber(attrs []any, key string) (float64, bool) {
	v := getAttrValue(attrs, key)
	if v == nil {
		return 0, false
	}
	return getAnyNumber(v)
}

func mapGetString(body map[string]any, key string) (string, bool) {
	v, ok := body[key]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

func mapGetNumber(body map[string]any, key string) (float64, bool) {
	v, ok := body[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// parseBodyObject resolves a log record's body AnyValue into a plain map,
// either by JSON-decoding a stringValue body or flattening a kvlistValue.
func parseBodyObject(body map[string]any) map[string]any {
	if body == nil {
		return nil
	}
	if s, ok := body["stringValue"].(string); ok {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(s), &decoded); err == nil {
			return decoded
		}
		return nil
	}
	if kvlist := asMap(body["kvlistValue"]); kvlist != nil {
		out := map[string]any{}
		for _, entry := range asSlice(kvlist["values"]) {
			em := asMap(entry)
			key, _ := em["key"].(string)
			if key == "" {
				continue
			}
			if val := asMap(em["value"]); val != nil {
				out[key] = extractAnyValue(val)
			}
		}
		return out
	}
	return nil
}

func nanoToISO(nanos string) (string, bool) {
	if nanos == "" {
		return "", false
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil || n <= 0 {
		return "", false
	}
	ms := n / 1_000_000
	if ms <= 0 {
		return "", false
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339), true
}

func resolveServiceName(resourceAttrs []any) string {
	service, _ := getAttrString(resourceAttrs, "service.name")
	sdk, _ := getAttrString(resourceAttrs, "telemetry.sdk.name")
	combined := strings.ToLower(service + " " + sdk)
	if strings.Contains(combined, "codex") {
		return "codex"
	}
	if strings.Contains(combined, "claude") {
		return "claude_code"
	}
	if service != "" {
		return service
	}
	return "unknown"
}

func mapEventName(agentType, eventName string) (string, bool) {
	table := claudeEventMap
	if agentType == "codex" {
		table = codexEventMap
	}
	if mapped, ok := table[eventName]; ok {
		return mapped, true
	}

	parts := strings.Split(eventName, ".")
	suffix := parts[len(parts)-1]
	switch suffix {
	case "tool_result", "tool_use":
		return "tool_use", true
	case "api_request":
		return "llm_request", true
	case "api_response":
		return "llm_response", true
	case "session_start":
		return "session_start", true
	case "session_end":
		return "session_end", true
	case "file_change":
		return "file_change", true
	case "git_commit":
		return "git_commit", true
	case "plan_step":
		return "plan_step", true
	case "error":
		return "error", true
	case "user_prompt", "user_prompt_submit":
		return "user_prompt", true
	default:
		return "", false
	}
}

func resolveEventType(agentType, eventName, severityText string) (string, bool) {
	if eventName != "" {
		if mapped, ok := mapEventName(agentType, eventName); ok {
			return mapped, true
		}
	}
	if severityText == "ERROR" {
		return "error", true
	}
	return "", false
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// parseLogRecord resolves one OTLP logRecords[] entry, or returns ok=false
// if it should be skipped (unresolvable session, unmapped event, or an
// explicitly ignored diagnostic event).
func parseLogRecord(logRecord map[string]any, resourceAttrs []any) (ParsedLogEvent, bool) {
	logAttrs := asSlice(logRecord["attributes"])
	eventName, _ := getAttrString(logAttrs, "event.name")
	if skipEventNames[eventName] {
		return ParsedLogEvent{}, false
	}

	bodyObj := parseBodyObject(asMap(logRecord["body"]))

	sessionID, ok := getAttrString(logAttrs, "gen_ai.session.id")
	if !ok {
		sessionID, ok = getAttrString(logAttrs, "conversation.id")
	}
	if !ok {
		sessionID, ok = getAttrString(resourceAttrs, "session.id")
	}
	if !ok {
		sessionID, ok = getAttrString(resourceAttrs, "gen_ai.session.id")
	}
	if !ok {
		sessionID, ok = getAttrString(resourceAttrs, "conversation.id")
	}
	if !ok && bodyObj != nil {
		sessionID, ok = mapGetString(bodyObj, "session_id")
	}
	if !ok {
		return ParsedLogEvent{}, false
	}

	agentType := resolveServiceName(resourceAttrs)
	resolvedName := eventName
	if resolvedName == "" {
		resolvedName, _ = getAttrString(logAttrs, "name")
	}
	severityText, _ := logRecord["severityText"].(string)
	eventType, ok := resolveEventType(agentType, resolvedName, severityText)
	if !ok {
		return ParsedLogEvent{}, false
	}

	toolName, ok := getAttrString(logAttrs, "gen_ai.tool.name")
	if !ok {
		toolName, ok = getAttrString(logAttrs, "tool_name")
	}
	if !ok {
		toolName, ok = getAttrString(logAttrs, "tool.name")
	}
	if !ok && bodyObj != nil {
		toolName, ok = mapGetString(bodyObj, "tool_name")
	}

	model, ok := getAttrString(logAttrs, "gen_ai.request.model")
	if !ok {
		model, ok = getAttrString(logAttrs, "model")
	}
	if !ok && bodyObj != nil {
		model, ok = mapGetString(bodyObj, "model")
	}

	tokensIn, ok := getAttrNumber(logAttrs, "gen_ai.usage.input_tokens")
	if !ok && bodyObj != nil {
		tokensIn, _ = mapGetNumber(bodyObj, "input_tokens")
	}

	tokensOut, ok := getAttrNumber(logAttrs, "gen_ai.usage.output_tokens")
	if !ok && bodyObj != nil {
		tokensOut, _ = mapGetNumber(bodyObj, "output_tokens")
	}

	cacheRead, ok := getAttrNumber(logAttrs, "gen_ai.usage.cache_read_input_tokens")
	if !ok && bodyObj != nil {
		cacheRead, _ = mapGetNumber(bodyObj, "cache_read_tokens")
	}

	cacheWrite, ok := getAttrNumber(logAttrs, "gen_ai.usage.cache_creation_input_tokens")
	if !ok && bodyObj != nil {
		cacheWrite, _ = mapGetNumber(bodyObj, "cache_write_tokens")
	}

	var costUSD *float64
	if cost, ok := getAttrNumber(logAttrs, "gen_ai.usage.cost"); ok {
		costUSD = &cost
	} else if bodyObj != nil {
		if cost, ok := mapGetNumber(bodyObj, "cost_usd"); ok {
			costUSD = &cost
		}
	}

	var durationMS *int64
	if d, ok := getAttrNumber(logAttrs, "gen_ai.latency"); ok {
		v := int64(d)
		durationMS = &v
	} else if d, ok := getAttrNumber(logAttrs, "duration_ms"); ok {
		v := int64(d)
		durationMS = &v
	} else if bodyObj != nil {
		if d, ok := mapGetNumber(bodyObj, "duration_ms"); ok {
			v := int64(d)
			durationMS = &v
		}
	}

	project, ok := getAttrString(logAttrs, "project")
	if !ok {
		project, ok = getAttrString(resourceAttrs, "project")
	}
	if !ok && bodyObj != nil {
		project, ok = mapGetString(bodyObj, "project")
	}

	branch, ok := getAttrString(logAttrs, "branch")
	if !ok {
		branch, ok = getAttrString(resourceAttrs, "branch")
	}
	if !ok && bodyObj != nil {
		branch, ok = mapGetString(bodyObj, "branch")
	}

	var clientTimestamp *string
	if tsRaw, ok := logRecord["timeUnixNano"].(string); ok {
		if iso, ok := nanoToISO(tsRaw); ok {
			clientTimestamp = &iso
		}
	}

	metadata := map[string]any{}
	if bodyObj != nil {
		for k, v := range bodyObj {
			if !extractedBodyKeys[k] {
				metadata[k] = v
			}
		}
	} else if msg, ok := asMap(logRecord["body"])["stringValue"].(string); ok {
		metadata["message"] = msg
	}

	status := "success"
	if eventType == "error" {
		status = "error"
	}

	return ParsedLogEvent{
		SessionID:        sessionID,
		AgentType:        agentType,
		EventType:        eventType,
		ToolName:         strPtr(toolName),
		Status:           status,
		TokensIn:         int64(tokensIn),
		TokensOut:        int64(tokensOut),
		CacheReadTokens:  int64(cacheRead),
		CacheWriteTokens: int64(cacheWrite),
		Model:            strPtr(model),
		CostUSD:          costUSD,
		DurationMS:       durationMS,
		Project:          strPtr(project),
		Branch:           strPtr(branch),
		ClientTimestamp:  clientTimestamp,
		Metadata:         metadata,
	}, true
}

// ParseLogs walks an OTLP/JSON logs payload's resourceLogs/scopeLogs/
// logRecords tree and resolves every recognizable record.
func ParseLogs(payload map[string]any) []ParsedLogEvent {
	var out []ParsedLogEvent
	for _, rl := range asSlice(payload["resourceLogs"]) {
		rlm := asMap(rl)
		resourceAttrs := asSlice(asMap(rlm["resource"])["attributes"])
		for _, sl := range asSlice(rlm["scopeLogs"]) {
			slm := asMap(sl)
			for _, lr := range asSlice(slm["logRecords"]) {
				if event, ok := parseLogRecord(asMap(lr), resourceAttrs); ok {
					out = append(out, event)
				}
			}
		}
	}
	return out
}

func getDataPointValue(dp map[string]any) float64 {
	if v, ok := dp["asDouble"].(float64); ok {
		return v
	}
	if raw, ok := dp["asInt"]; ok {
		switch v := raw.(type) {
		case float64:
			return v
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
	}
	return 0
}

// CumulativeState holds per-key last-observed cumulative values so
// ParseMetrics can compute deltas across repeated OTLP exports. It is safe
// for concurrent use since a single runtime serves every /v1/metrics call.
type CumulativeState struct {
	mu    sync.Mutex
	state map[string]float64
}

// NewCumulativeState returns an empty, ready-to-use cumulative state map.
func NewCumulativeState() *CumulativeState {
	return &CumulativeState{state: map[string]float64{}}
}

func (c *CumulativeState) computeDelta(key string, current float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, seen := c.state[key]
	c.state[key] = current
	if !seen {
		return current
	}
	delta := current - last
	if delta > 0 {
		return delta
	}
	return 0
}

// ParseMetrics walks an OTLP/JSON metrics payload's resourceMetrics/
// scopeMetrics/metrics tree, computing a delta for every recognized token
// or cost data point against cumul's running state.
func ParseMetrics(payload map[string]any, cumul *CumulativeState) []ParsedMetricDelta {
	var out []ParsedMetricDelta

	for _, rm := range asSlice(payload["resourceMetrics"]) {
		rmm := asMap(rm)
		resourceAttrs := asSlice(asMap(rmm["resource"])["attributes"])
		agentType := resolveServiceName(resourceAttrs)

		sessionID, ok := getAttrString(resourceAttrs, "gen_ai.session.id")
		if !ok {
			sessionID, ok = getAttrString(resourceAttrs, "session.id")
		}
		if !ok {
			sessionID, ok = getAttrString(resourceAttrs, "conversation.id")
		}
		if !ok {
			sessionID = "unknown"
		}

		for _, sm := range asSlice(rmm["scopeMetrics"]) {
			smm := asMap(sm)
			for _, metric := range asSlice(smm["metrics"]) {
				mm := asMap(metric)
				metricName, _ := mm["name"].(string)
				if metricName == "" {
					continue
				}

				sum := asMap(mm["sum"])
				isCumulative := false
				if temporality, ok := sum["aggregationTemporality"].(float64); ok {
					isCumulative = int(temporality) == 2
				}

				dataPoints := asSlice(sum["dataPoints"])
				if dataPoints == nil {
					dataPoints = asSlice(asMap(mm["gauge"])["dataPoints"])
				}

				for _, dp := range dataPoints {
					dpm := asMap(dp)
					raw := getDataPointValue(dpm)
					dpAttrs := asSlice(dpm["attributes"])

					model, ok := getAttrString(dpAttrs, "model")
					if !ok {
						model, ok = getAttrString(dpAttrs, "gen_ai.request.model")
					}
					if !ok {
						model, _ = getAttrString(resourceAttrs, "model")
					}
					tokenType, ok := getAttrString(dpAttrs, "type")
					if !ok {
						tokenType, _ = getAttrString(dpAttrs, "token.type")
					}

					key := strings.Join([]string{sessionID, agentType, metricName, model, tokenType}, "|")

					delta := raw
					if isCumulative {
						delta = cumul.computeDelta(key, raw)
					}
					if delta <= 0 {
						continue
					}

					switch {
					case contains(TokenMetrics, metricName):
						entry := ParsedMetricDelta{SessionID: sessionID, AgentType: agentType, Model: strPtr(model)}
						switch tokenType {
						case "input":
							entry.TokensInDelta = int64(delta)
						case "output":
							entry.TokensOutDelta = int64(delta)
						case "cacheRead", "cache_read":
							entry.CacheReadDelta = int64(delta)
						case "cacheCreation", "cache_creation", "cache_write":
							entry.CacheWriteDelta = int64(delta)
						default:
							entry.TokensInDelta = int64(delta)
						}
						out = append(out, entry)
					case contains(CostMetrics, metricName):
						out = append(out, ParsedMetricDelta{
							SessionID: sessionID, AgentType: agentType, Model: strPtr(model),
							CostUSDDelta: delta,
						})
					}
				}
			}
		}
	}

	return out
}
