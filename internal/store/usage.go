package store

import (
	"context"
	"fmt"
)

// UsageLimitType mirrors config.LimitType without creating an import-cycle
// dependency from store on config.
type UsageLimitType string

const (
	UsageLimitTokens UsageLimitType = "tokens"
	UsageLimitCost   UsageLimitType = "cost"
)

// UsageLimit is one agent type's configured session/extended-window limit.
type UsageLimit struct {
	AgentType     string
	LimitType     UsageLimitType
	SessionLimit  float64
	ExtendedLimit float64
}

// UsageWindow is one budget window (session or extended) in the
// usage-monitor response.
type UsageWindow struct {
	Used        float64
	Limit       float64
	WindowHours int64
}

// AgentUsageData is one row of GET /api/stats/usage-monitor.
type AgentUsageData struct {
	AgentType string
	LimitType UsageLimitType
	Session   UsageWindow
	Extended  *UsageWindow
}

// GetUsageMonitor reports, for every agent_type that has ever sent an
// event, how much of its configured session and extended-window budget has
// been consumed so far. limitFor looks up the configured limit for an
// agent type (with the caller's own "default" fallback, if any); an agent
// type with both limits <= 0 is omitted entirely, matching the Rust
// original's "nothing configured" skip.
//
// sessionWindowHours/extendedWindowHours are fixed per-process rather than
// configurable per agent type: nothing in the retained configuration
// surface assigns an agent its own window length, so every agent shares
// one session window (the configured idle-session timeout, in hours) and
// one extended window (a 7-day rolling budget).
func (s *Store) GetUsageMonitor(ctx context.Context, limitFor func(agentType string) (UsageLimit, bool), sessionWindowHours, extendedWindowHours int64) ([]AgentUsageData, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT agent_type FROM events WHERE agent_type IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("store: usage monitor agent types: %w", err)
	}
	var agentTypes []string
	for rows.Next() {
		var agentType string
		if err := rows.Scan(&agentType); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan usage monitor agent type: %w", err)
		}
		agentTypes = append(agentTypes, agentType)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var out []AgentUsageData
	for _, agentType := range agentTypes {
		limit, ok := limitFor(agentType)
		if !ok || (limit.SessionLimit <= 0 && limit.ExtendedLimit <= 0) {
			continue
		}

		column := "tokens_in + tokens_out"
		if limit.LimitType == UsageLimitCost {
			column = "COALESCE(cost_usd, 0.0)"
		}

		sessionUsed, err := s.sumEventsSinceHours(ctx, column, agentType, sessionWindowHours)
		if err != nil {
			return nil, fmt.Errorf("store: usage monitor session sum: %w", err)
		}

		data := AgentUsageData{
			AgentType: agentType,
			LimitType: limit.LimitType,
			Session:   UsageWindow{Used: sessionUsed, Limit: limit.SessionLimit, WindowHours: sessionWindowHours},
		}

		if limit.ExtendedLimit > 0 {
			extendedUsed, err := s.sumEventsSinceHours(ctx, column, agentType, extendedWindowHours)
			if err != nil {
				return nil, fmt.Errorf("store: usage monitor extended sum: %w", err)
			}
			data.Extended = &UsageWindow{Used: extendedUsed, Limit: limit.ExtendedLimit, WindowHours: extendedWindowHours}
		}

		out = append(out, data)
	}
	return out, nil
}

func (s *Store) sumEventsSinceHours(ctx context.Context, column, agentType string, windowHours int64) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(`+column+`), 0.0) FROM events
		WHERE agent_type = ? AND created_at >= strftime('%Y-%m-%dT%H:%M:%SZ', 'now', ? || ' hours')
	`, agentType, fmt.Sprintf("-%d", windowHours)).Scan(&total)
	return total, err
}
