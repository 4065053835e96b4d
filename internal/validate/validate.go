package validate

import (
	"strings"
)

// NormalizeFromValue validates and normalizes a raw, JSON-decoded ingest
// event body. Validation errors accumulate rather than short-circuit, so a
// caller can report every problem in one response.
func NormalizeFromValue(raw any) (NormalizedEvent, []FieldError) {
	body, ok := raw.(map[string]any)
	if !ok {
		return NormalizedEvent{}, []FieldError{{Field: "body", Message: "must be a JSON object"}}
	}

	var errs []FieldError
	event := NormalizedEvent{Source: "api"}

	event.EventID = optionalString(body, "event_id")
	event.SessionID, errs = requireString(body, "session_id", errs)
	event.AgentType, errs = requireString(body, "agent_type", errs)
	event.EventType, errs = requireString(body, "event_type", errs)

	if event.EventType != "" && !isOneOf(event.EventType, EventTypes) {
		errs = append(errs, FieldError{Field: "event_type", Message: "must be one of " + strings.Join(EventTypes, ", ")})
	}

	event.Status, errs = normalizeStatus(body, event.EventType, errs)

	event.ToolName = optionalString(body, "tool_name")
	event.Branch = optionalString(body, "branch")
	event.Project = optionalString(body, "project")
	event.Model = optionalString(body, "model")

	event.TokensIn, errs = optionalNonNegativeIntDefaultZero(body, "tokens_in", errs)
	event.TokensOut, errs = optionalNonNegativeIntDefaultZero(body, "tokens_out", errs)
	event.CacheReadTokens, errs = optionalNonNegativeIntDefaultZero(body, "cache_read_tokens", errs)
	event.CacheWriteTokens, errs = optionalNonNegativeIntDefaultZero(body, "cache_write_tokens", errs)
	event.DurationMS, errs = optionalNonNegativeIntPtr(body, "duration_ms", errs)
	event.CostUSD, errs = optionalNonNegativeFloatPtr(body, "cost_usd", errs)

	if ts := optionalString(body, "client_timestamp"); ts != nil {
		if isPlausibleISO8601(*ts) {
			event.ClientTimestamp = ts
		} else {
			errs = append(errs, FieldError{Field: "client_timestamp", Message: "does not look like an ISO-8601 timestamp"})
		}
	}

	if meta, ok := body["metadata"]; ok && meta != nil {
		event.Metadata = meta
	} else {
		event.Metadata = map[string]any{}
	}

	if source := optionalString(body, "source"); source != nil {
		if !isOneOf(*source, EventSources) {
			errs = append(errs, FieldError{Field: "source", Message: "must be one of " + strings.Join(EventSources, ", ")})
		} else {
			event.Source = *source
		}
	}

	return event, errs
}

func requireString(body map[string]any, field string, errs []FieldError) (string, []FieldError) {
	raw, ok := body[field]
	if !ok {
		return "", append(errs, FieldError{Field: field, Message: "is required"})
	}
	str, ok := raw.(string)
	if !ok {
		return "", append(errs, FieldError{Field: field, Message: "must be a string"})
	}
	trimmed := strings.TrimSpace(str)
	if trimmed == "" {
		return "", append(errs, FieldError{Field: field, Message: "must not be empty"})
	}
	return trimmed, errs
}

func optionalString(body map[string]any, field string) *string {
	raw, ok := body[field]
	if !ok || raw == nil {
		return nil
	}
	str, ok := raw.(string)
	if !ok {
		return nil
	}
	trimmed := strings.TrimSpace(str)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func normalizeStatus(body map[string]any, eventType string, errs []FieldError) (string, []FieldError) {
	raw, ok := body["status"]
	if !ok || raw == nil {
		if eventType == "error" {
			return "error", errs
		}
		return "success", errs
	}
	str, ok := raw.(string)
	if !ok {
		return "", append(errs, FieldError{Field: "status", Message: "must be a string"})
	}
	trimmed := strings.TrimSpace(str)
	if trimmed == "" {
		if eventType == "error" {
			return "error", errs
		}
		return "success", errs
	}
	if !isOneOf(trimmed, EventStatuses) {
		return "", append(errs, FieldError{Field: "status", Message: "must be one of " + strings.Join(EventStatuses, ", ")})
	}
	return trimmed, errs
}

// asFloat returns the numeric value of a JSON-decoded field, accepting
// float64 (the stdlib json.Unmarshal default) as well as int and int64;
// json.Number and every other type are reported as non-numeric.
func asFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func isIntegral(f float64) bool {
	return f == float64(int64(f))
}

func optionalNonNegativeIntDefaultZero(body map[string]any, field string, errs []FieldError) (int64, []FieldError) {
	raw, ok := body[field]
	if !ok || raw == nil {
		return 0, errs
	}
	f, ok := asFloat(raw)
	if !ok || !isIntegral(f) || f < 0 {
		return 0, append(errs, FieldError{Field: field, Message: "must be a non-negative integer"})
	}
	return int64(f), errs
}

func optionalNonNegativeIntPtr(body map[string]any, field string, errs []FieldError) (*int64, []FieldError) {
	raw, ok := body[field]
	if !ok || raw == nil {
		return nil, errs
	}
	f, ok := asFloat(raw)
	if !ok || !isIntegral(f) || f < 0 {
		return nil, append(errs, FieldError{Field: field, Message: "must be a non-negative integer"})
	}
	v := int64(f)
	return &v, errs
}

func optionalNonNegativeFloatPtr(body map[string]any, field string, errs []FieldError) (*float64, []FieldError) {
	raw, ok := body[field]
	if !ok || raw == nil {
		return nil, errs
	}
	f, ok := asFloat(raw)
	if !ok || f < 0 {
		return nil, append(errs, FieldError{Field: field, Message: "must be a non-negative number"})
	}
	return &f, errs
}

// isPlausibleISO8601 is a cheap shape check, not a full parse: at least 10
// characters with a '-' at index 4 (the year-month separator of
// YYYY-MM-DD...).
func isPlausibleISO8601(s string) bool {
	return len(s) >= 10 && s[4] == '-'
}
