// Package config loads AgentMonitor's runtime configuration from the
// environment, following the AGENTMONITOR_* variable names and defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LimitType describes which unit a per-agent usage limit is expressed in.
type LimitType string

const (
	LimitTypeTokens LimitType = "tokens"
	LimitTypeCost   LimitType = "cost"
)

// AgentUsageLimit is one agent type's session and extended-window limits,
// reconstructed from the AGENTMONITOR_SESSION_*_LIMIT_<AGENT> variables.
type AgentUsageLimit struct {
	AgentType     string
	LimitType     LimitType
	SessionLimit  float64
	ExtendedLimit float64
}

// Config is AgentMonitor's immutable, process-wide configuration. It is
// read once at boot and never mutated afterward (spec §5).
type Config struct {
	Port   uint16
	Host   string
	DBPath string

	MaxPayloadKB       int
	SessionTimeout     time.Duration
	MaxSSEClients      int
	SSEHeartbeat       time.Duration
	StatsInterval      time.Duration
	AutoImportInterval time.Duration
	ClaudeCodeHome     string
	CodexHome          string
	UsageLimits        map[string]AgentUsageLimit
}

// BindAddr returns the host:port pair to listen on.
func (c Config) BindAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UsageLimitFor looks up the configured usage limit for an agent type,
// falling back to the "default" bucket when the agent has no specific
// override, and returns ok=false when neither exists.
func (c Config) UsageLimitFor(agentType string) (AgentUsageLimit, bool) {
	if limit, ok := c.UsageLimits[agentType]; ok {
		return limit, true
	}
	limit, ok := c.UsageLimits["default"]
	return limit, ok
}

// FromEnv loads configuration from the environment, optionally reading a
// local .env file first (godotenv never overwrites a variable that is
// already set).
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	port, err := parseEnvUint16("AGENTMONITOR_RUST_PORT", 3142)
	if err != nil {
		return Config{}, err
	}
	maxPayloadKB, err := parseEnvInt("AGENTMONITOR_MAX_PAYLOAD_KB", 10)
	if err != nil {
		return Config{}, err
	}
	sessionTimeoutMin, err := parseEnvInt("AGENTMONITOR_SESSION_TIMEOUT", 5)
	if err != nil {
		return Config{}, err
	}
	maxSSEClients, err := parseEnvInt("AGENTMONITOR_MAX_SSE_CLIENTS", 50)
	if err != nil {
		return Config{}, err
	}
	sseHeartbeatMS, err := parseEnvInt("AGENTMONITOR_SSE_HEARTBEAT_MS", 30000)
	if err != nil {
		return Config{}, err
	}
	statsIntervalMS, err := parseEnvInt("AGENTMONITOR_STATS_INTERVAL", 5000)
	if err != nil {
		return Config{}, err
	}
	autoImportMin, err := parseEnvInt("AGENTMONITOR_AUTO_IMPORT_MINUTES", 10)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:               port,
		Host:               envString("AGENTMONITOR_HOST", "127.0.0.1"),
		DBPath:             envString("AGENTMONITOR_RUST_DB_PATH", "./data/agentmonitor-rs.db"),
		MaxPayloadKB:       maxPayloadKB,
		SessionTimeout:     time.Duration(sessionTimeoutMin) * time.Minute,
		MaxSSEClients:      maxSSEClients,
		SSEHeartbeat:       time.Duration(sseHeartbeatMS) * time.Millisecond,
		StatsInterval:      time.Duration(statsIntervalMS) * time.Millisecond,
		AutoImportInterval: time.Duration(autoImportMin) * time.Minute,
		ClaudeCodeHome:     envString("AGENTMONITOR_CLAUDE_HOME", ""),
		CodexHome:          envString("CODEX_HOME", ""),
		UsageLimits:        make(map[string]AgentUsageLimit),
	}

	loadUsageLimit(cfg.UsageLimits, "claude_code", "CLAUDE_CODE", LimitTypeTokens, 44000, 220000)
	loadUsageLimit(cfg.UsageLimits, "codex", "CODEX", LimitTypeCost, 500, 2500)

	return cfg, nil
}

// loadUsageLimit populates the session and extended limits for one agent
// type from AGENTMONITOR_SESSION_{TOKEN,COST}_LIMIT_<ENVKEY> and
// AGENTMONITOR_EXTENDED_{TOKEN,COST}_LIMIT_<ENVKEY>, using
// defaultSession/defaultExtended when unset.
func loadUsageLimit(out map[string]AgentUsageLimit, agentType, envKey string, limitType LimitType, defaultSession, defaultExtended float64) {
	unit := "TOKEN"
	if limitType == LimitTypeCost {
		unit = "COST"
	}
	session := envFloat(fmt.Sprintf("AGENTMONITOR_SESSION_%s_LIMIT_%s", unit, envKey), defaultSession)
	extended := envFloat(fmt.Sprintf("AGENTMONITOR_EXTENDED_%s_LIMIT_%s", unit, envKey), defaultExtended)
	out[agentType] = AgentUsageLimit{
		AgentType:     agentType,
		LimitType:     limitType,
		SessionLimit:  session,
		ExtendedLimit: extended,
	}
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseEnvInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return parsed, nil
}

func parseEnvUint16(key string, fallback uint16) (uint16, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return uint16(parsed), nil
}
