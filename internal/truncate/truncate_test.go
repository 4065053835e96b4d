package truncate

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncatePassThroughWithinBudget(t *testing.T) {
	meta := map[string]any{"command": "ls -la"}
	res, err := Truncate(meta, 10)
	if err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if res.Truncated {
		t.Error("expected no truncation within budget")
	}
}

func TestTruncateSummarizesWithPriorityKeys(t *testing.T) {
	meta := map[string]any{
		"command":    "cat " + strings.Repeat("x", 100),
		"unrelated":  strings.Repeat("y", 5000),
		"file_path":  "/tmp/foo.txt",
		"irrelevant": strings.Repeat("z", 5000),
	}
	res, err := Truncate(meta, 1)
	if err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if !res.Truncated {
		t.Fatal("expected truncation")
	}
	var decoded map[string]any
	if err := json.Unmarshal(res.Value, &decoded); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if decoded["_truncated"] != true {
		t.Error("expected _truncated:true")
	}
	if _, ok := decoded["unrelated"]; ok {
		t.Error("non-priority key leaked into summary")
	}
}

func TestTruncateNeverSplitsMultibyteRune(t *testing.T) {
	meta := strings.Repeat("é", 2000) // 2 bytes each in UTF-8
	res, err := Truncate(meta, 1)
	if err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if !res.Truncated {
		t.Fatal("expected truncation")
	}
	if !utf8.Valid(res.Value) {
		t.Error("truncated output is not valid UTF-8")
	}
}

func TestTruncateRawStringPassThrough(t *testing.T) {
	res, err := Truncate("short", 10)
	if err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if res.Truncated {
		t.Error("expected no truncation for short raw string")
	}
	if string(res.Value) != "short" {
		t.Errorf("Value = %q", res.Value)
	}
}
