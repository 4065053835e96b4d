package otelingest

import "testing"

func attr(key string, value map[string]any) map[string]any {
	return map[string]any{"key": key, "value": value}
}

func strValue(s string) map[string]any {
	return map[string]any{"stringValue": s}
}

func intValue(n int64) map[string]any {
	return map[string]any{"intValue": float64(n)}
}

func TestParseLogsResolvesClaudeCodeToolUse(t *testing.T) {
	payload := map[string]any{
		"resourceLogs": []any{
			map[string]any{
				"resource": map[string]any{
					"attributes": []any{
						attr("service.name", strValue("claude-code")),
					},
				},
				"scopeLogs": []any{
					map[string]any{
						"logRecords": []any{
							map[string]any{
								"attributes": []any{
									attr("event.name", strValue("claude_code.tool_use")),
									attr("gen_ai.session.id", strValue("sess-abc")),
									attr("gen_ai.tool.name", strValue("Edit")),
									attr("gen_ai.usage.input_tokens", intValue(100)),
									attr("gen_ai.usage.output_tokens", intValue(50)),
								},
								"body": map[string]any{"stringValue": `{"path": "main.go"}`},
							},
						},
					},
				},
			},
		},
	}

	events := ParseLogs(payload)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	e := events[0]
	if e.SessionID != "sess-abc" {
		t.Errorf("SessionID = %q", e.SessionID)
	}
	if e.AgentType != "claude_code" {
		t.Errorf("AgentType = %q, want claude_code", e.AgentType)
	}
	if e.EventType != "tool_use" {
		t.Errorf("EventType = %q, want tool_use", e.EventType)
	}
	if e.ToolName == nil || *e.ToolName != "Edit" {
		t.Errorf("ToolName = %v", e.ToolName)
	}
	if e.TokensIn != 100 || e.TokensOut != 50 {
		t.Errorf("tokens = %d/%d, want 100/50", e.TokensIn, e.TokensOut)
	}
	if e.Metadata["path"] != "main.go" {
		t.Errorf("Metadata = %v, want path preserved", e.Metadata)
	}
}

func TestParseLogsSkipsUnresolvableSession(t *testing.T) {
	payload := map[string]any{
		"resourceLogs": []any{
			map[string]any{
				"scopeLogs": []any{
					map[string]any{
						"logRecords": []any{
							map[string]any{
								"attributes": []any{
									attr("event.name", strValue("claude_code.tool_use")),
								},
							},
						},
					},
				},
			},
		},
	}
	events := ParseLogs(payload)
	if len(events) != 0 {
		t.Fatalf("got %d events, want 0 (no resolvable session_id)", len(events))
	}
}

func TestParseLogsSkipsDiagnosticEvents(t *testing.T) {
	payload := map[string]any{
		"resourceLogs": []any{
			map[string]any{
				"scopeLogs": []any{
					map[string]any{
						"logRecords": []any{
							map[string]any{
								"attributes": []any{
									attr("event.name", strValue("codex.sse_event")),
									attr("gen_ai.session.id", strValue("sess-x")),
								},
							},
						},
					},
				},
			},
		},
	}
	events := ParseLogs(payload)
	if len(events) != 0 {
		t.Fatalf("got %d events, want 0 (skip-listed event)", len(events))
	}
}

func TestParseMetricsCumulativeComputesDelta(t *testing.T) {
	cumul := NewCumulativeState()
	makePayload := func(value int64) map[string]any {
		return map[string]any{
			"resourceMetrics": []any{
				map[string]any{
					"resource": map[string]any{
						"attributes": []any{attr("gen_ai.session.id", strValue("sess-1"))},
					},
					"scopeMetrics": []any{
						map[string]any{
							"metrics": []any{
								map[string]any{
									"name": "claude_code.token.usage",
									"sum": map[string]any{
										"aggregationTemporality": float64(2),
										"dataPoints": []any{
											map[string]any{
												"asInt":      float64(value),
												"attributes": []any{attr("type", strValue("input"))},
											},
										},
									},
								},
							},
						},
					},
				},
			},
		}
	}

	first := ParseMetrics(makePayload(100), cumul)
	if len(first) != 1 || first[0].TokensInDelta != 100 {
		t.Fatalf("first delta = %+v, want 100", first)
	}

	second := ParseMetrics(makePayload(150), cumul)
	if len(second) != 1 || second[0].TokensInDelta != 50 {
		t.Fatalf("second delta = %+v, want 50", second)
	}

	third := ParseMetrics(makePayload(120), cumul)
	if len(third) != 0 {
		t.Fatalf("third delta = %+v, want no events (decreasing cumulative value yields non-positive delta)", third)
	}
}

func TestParseMetricsCostMetric(t *testing.T) {
	cumul := NewCumulativeState()
	payload := map[string]any{
		"resourceMetrics": []any{
			map[string]any{
				"resource": map[string]any{
					"attributes": []any{attr("gen_ai.session.id", strValue("sess-2"))},
				},
				"scopeMetrics": []any{
					map[string]any{
						"metrics": []any{
							map[string]any{
								"name": "gen_ai.client.cost.usage",
								"gauge": map[string]any{
									"dataPoints": []any{
										map[string]any{"asDouble": 1.25},
									},
								},
							},
						},
					},
				},
			},
		},
	}

	deltas := ParseMetrics(payload, cumul)
	if len(deltas) != 1 || deltas[0].CostUSDDelta != 1.25 {
		t.Fatalf("deltas = %+v, want cost 1.25", deltas)
	}
}
