// Package truncate bounds a metadata JSON payload to a byte budget without
// ever splitting a multi-byte UTF-8 code point, preferring to summarize
// down to a fixed set of operationally useful keys before falling back to a
// raw byte slice.
package truncate

import (
	"encoding/json"
	"unicode/utf8"
)

// priorityKeys is the fixed, ordered list of metadata fields worth keeping
// in a truncated summary, most useful first.
var priorityKeys = []string{
	"command", "file_path", "query", "pattern", "error",
	"message", "tool_name", "path", "type",
}

// Result is the outcome of truncating a metadata value.
type Result struct {
	Value     json.RawMessage
	Truncated bool
}

// Truncate bounds metadata (either a raw JSON string payload or an
// arbitrary JSON value) to maxKB kilobytes.
func Truncate(metadata any, maxKB int) (Result, error) {
	budget := maxKB * 1024

	if raw, ok := metadata.(string); ok {
		return truncateRawString(raw, budget)
	}

	serialized, err := json.Marshal(metadata)
	if err != nil {
		return Result{}, err
	}
	if len(serialized) <= budget {
		return Result{Value: serialized, Truncated: false}, nil
	}

	summary, summaryFits := buildSummary(serialized, budget)
	if summaryFits {
		return Result{Value: summary, Truncated: true}, nil
	}

	return Result{Value: sliceUTF8Safe(summary, budget), Truncated: true}, nil
}

func truncateRawString(raw string, budget int) (Result, error) {
	if len(raw) <= budget {
		return Result{Value: json.RawMessage(raw), Truncated: false}, nil
	}
	sliced := sliceUTF8Safe([]byte(raw), budget)
	return Result{Value: sliced, Truncated: true}, nil
}

// buildSummary builds {"_truncated":true,"_original_bytes":N,<present priority keys>}
// from the original serialized object, in priorityKeys order. Returns the
// serialized summary and whether it fits within budget.
func buildSummary(original []byte, budget int) ([]byte, bool) {
	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(original, &asMap); err != nil {
		// Not a JSON object (array, scalar) — there are no keys to keep, so
		// the summary carries only the _truncated/_original_bytes markers.
		summary := map[string]any{
			"_truncated":      true,
			"_original_bytes": len(original),
		}
		out, _ := json.Marshal(summary)
		return out, len(out) <= budget
	}

	summary := map[string]json.RawMessage{}
	for _, key := range priorityKeys {
		if value, ok := asMap[key]; ok {
			summary[key] = value
		}
	}

	out := marshalOrdered(summary, len(original))
	return out, len(out) <= budget
}

// marshalOrdered renders the summary object with a stable key order
// (_truncated, _original_bytes, then priorityKeys in order) so output is
// deterministic for a given input.
func marshalOrdered(present map[string]json.RawMessage, originalBytes int) []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, `{"_truncated":true,"_original_bytes":`...)
	sizeJSON, _ := json.Marshal(originalBytes)
	buf = append(buf, sizeJSON...)
	for _, key := range priorityKeys {
		value, ok := present[key]
		if !ok {
			continue
		}
		buf = append(buf, ',')
		keyJSON, _ := json.Marshal(key)
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = append(buf, value...)
	}
	buf = append(buf, '}')
	return buf
}

// sliceUTF8Safe truncates b to at most budget bytes, backing off further if
// that would split a multi-byte rune: a truncation point inside a
// continuation byte (10xxxxxx) is walked back to the start of that rune,
// which is then dropped entirely.
func sliceUTF8Safe(b []byte, budget int) []byte {
	if budget <= 0 {
		return []byte{}
	}
	if len(b) <= budget {
		return b
	}
	end := budget
	for end > 0 && !utf8.RuneStart(b[end]) {
		end--
	}
	return b[:end]
}
