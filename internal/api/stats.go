package api

import (
	"net/http"
	"time"

	"github.com/davisbuilds/agentmonitor/internal/runtime"
	"github.com/davisbuilds/agentmonitor/internal/store"
)

func analyticsFiltersFromQuery(r *http.Request) store.AnalyticsFilters {
	q := r.URL.Query()
	return store.AnalyticsFilters{
		AgentType: q.Get("agent_type"),
		Since:     q.Get("since"),
	}
}

type statsResponse struct {
	TotalEvents    int64   `json:"total_events"`
	ActiveSessions int64   `json:"active_sessions"`
	TotalSessions  int64   `json:"total_sessions"`
	TotalTokensIn  int64   `json:"total_tokens_in"`
	TotalTokensOut int64   `json:"total_tokens_out"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
}

// stats handles GET /api/stats.
func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.state.Store.GetStats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, statsResponse{})
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		TotalEvents:    s.TotalEvents,
		ActiveSessions: s.ActiveSessions,
		TotalSessions:  s.TotalSessions,
		TotalTokensIn:  s.TotalTokensIn,
		TotalTokensOut: s.TotalTokensOut,
		TotalCostUSD:   s.TotalCostUSD,
	})
}

type toolAnalyticsWire struct {
	ToolName      string           `json:"tool_name"`
	TotalCalls    int64            `json:"total_calls"`
	ErrorCount    int64            `json:"error_count"`
	ErrorRate     float64          `json:"error_rate"`
	AvgDurationMS *float64         `json:"avg_duration_ms"`
	ByAgent       map[string]int64 `json:"by_agent"`
}

// statsTools handles GET /api/stats/tools.
func (h *handlers) statsTools(w http.ResponseWriter, r *http.Request) {
	rows, err := h.state.Store.GetToolAnalytics(r.Context(), analyticsFiltersFromQuery(r))
	if err != nil {
		internalServerError(w)
		return
	}
	tools := make([]toolAnalyticsWire, len(rows))
	for i, row := range rows {
		tools[i] = toolAnalyticsWire{
			ToolName:      row.ToolName,
			TotalCalls:    row.TotalCalls,
			ErrorCount:    row.ErrorCount,
			ErrorRate:     row.ErrorRate,
			AvgDurationMS: row.AvgDurationMS,
			ByAgent:       row.ByAgent,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

type costBucketWire struct {
	Bucket     string  `json:"bucket"`
	CostUSD    float64 `json:"cost_usd"`
	TokensIn   int64   `json:"tokens_in"`
	TokensOut  int64   `json:"tokens_out"`
	EventCount int64   `json:"event_count"`
}

type projectCostWire struct {
	Project      string  `json:"project"`
	CostUSD      float64 `json:"cost_usd"`
	SessionCount int64   `json:"session_count"`
	EventCount   int64   `json:"event_count"`
}

type modelCostWire struct {
	Model      string  `json:"model"`
	CostUSD    float64 `json:"cost_usd"`
	EventCount int64   `json:"event_count"`
	TokensIn   int64   `json:"tokens_in"`
	TokensOut  int64   `json:"tokens_out"`
}

// statsCost handles GET /api/stats/cost.
func (h *handlers) statsCost(w http.ResponseWriter, r *http.Request) {
	filters := analyticsFiltersFromQuery(r)
	limit := int(parseInt64(r.URL.Query().Get("limit"), 10))
	if limit < 1 {
		limit = 1
	}

	timeline, err := h.state.Store.GetCostOverTime(r.Context(), filters)
	if err != nil {
		internalServerError(w)
		return
	}
	byProject, err := h.state.Store.GetCostByProject(r.Context(), limit, filters)
	if err != nil {
		internalServerError(w)
		return
	}
	byModel, err := h.state.Store.GetCostByModel(r.Context(), filters)
	if err != nil {
		internalServerError(w)
		return
	}

	timelineWire := make([]costBucketWire, len(timeline))
	for i, b := range timeline {
		timelineWire[i] = costBucketWire{Bucket: b.Bucket, CostUSD: b.CostUSD, TokensIn: b.TokensIn, TokensOut: b.TokensOut, EventCount: b.EventCount}
	}
	projectWire := make([]projectCostWire, len(byProject))
	for i, p := range byProject {
		projectWire[i] = projectCostWire{Project: p.Project, CostUSD: p.CostUSD, SessionCount: p.SessionCount, EventCount: p.EventCount}
	}
	modelWire := make([]modelCostWire, len(byModel))
	for i, m := range byModel {
		modelWire[i] = modelCostWire{Model: m.Model, CostUSD: m.CostUSD, EventCount: m.EventCount, TokensIn: m.TokensIn, TokensOut: m.TokensOut}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"timeline":   timelineWire,
		"by_project": projectWire,
		"by_model":   modelWire,
	})
}

type usageWindowWire struct {
	Used        float64 `json:"used"`
	Limit       float64 `json:"limit"`
	WindowHours int64   `json:"windowHours"`
}

type agentUsageWire struct {
	AgentType string           `json:"agent_type"`
	LimitType string           `json:"limitType"`
	Session   usageWindowWire  `json:"session"`
	Extended  *usageWindowWire `json:"extended,omitempty"`
}

// usageMonitor handles GET /api/stats/usage-monitor.
func (h *handlers) usageMonitor(w http.ResponseWriter, r *http.Request) {
	sessionWindowHours := int64(h.state.Config.SessionTimeout / time.Hour)
	if sessionWindowHours <= 0 {
		sessionWindowHours = 1
	}

	rows, err := h.state.Store.GetUsageMonitor(r.Context(), runtime.UsageLimitForAgent(h.state.Config), sessionWindowHours, runtime.DefaultUsageExtendedWindowHours)
	if err != nil {
		internalServerError(w)
		return
	}

	out := make([]agentUsageWire, len(rows))
	for i, row := range rows {
		wire := agentUsageWire{
			AgentType: row.AgentType,
			LimitType: string(row.LimitType),
			Session:   usageWindowWire{Used: row.Session.Used, Limit: row.Session.Limit, WindowHours: row.Session.WindowHours},
		}
		if row.Extended != nil {
			wire.Extended = &usageWindowWire{Used: row.Extended.Used, Limit: row.Extended.Limit, WindowHours: row.Extended.WindowHours}
		}
		out[i] = wire
	}
	writeJSON(w, http.StatusOK, out)
}
