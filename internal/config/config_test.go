package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Port != 3142 {
		t.Errorf("Port = %d, want 3142", cfg.Port)
	}
	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want 127.0.0.1", cfg.Host)
	}
	if cfg.MaxPayloadKB != 10 {
		t.Errorf("MaxPayloadKB = %d, want 10", cfg.MaxPayloadKB)
	}
	if cfg.SessionTimeout != 5*time.Minute {
		t.Errorf("SessionTimeout = %v, want 5m", cfg.SessionTimeout)
	}
	if cfg.MaxSSEClients != 50 {
		t.Errorf("MaxSSEClients = %d, want 50", cfg.MaxSSEClients)
	}
	if cfg.SSEHeartbeat != 30*time.Second {
		t.Errorf("SSEHeartbeat = %v, want 30s", cfg.SSEHeartbeat)
	}
	if cfg.StatsInterval != 5*time.Second {
		t.Errorf("StatsInterval = %v, want 5s", cfg.StatsInterval)
	}
	if cfg.AutoImportInterval != 10*time.Minute {
		t.Errorf("AutoImportInterval = %v, want 10m", cfg.AutoImportInterval)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("AGENTMONITOR_RUST_PORT", "9000")
	t.Setenv("AGENTMONITOR_HOST", "0.0.0.0")
	t.Setenv("AGENTMONITOR_AUTO_IMPORT_MINUTES", "0")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port)
	}
	if cfg.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want 0.0.0.0", cfg.Host)
	}
	if cfg.BindAddr() != "0.0.0.0:9000" {
		t.Errorf("BindAddr = %q", cfg.BindAddr())
	}
	if cfg.AutoImportInterval != 0 {
		t.Errorf("AutoImportInterval = %v, want 0 (disabled)", cfg.AutoImportInterval)
	}
}

func TestUsageLimitFor(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	limit, ok := cfg.UsageLimitFor("claude_code")
	if !ok {
		t.Fatal("expected claude_code usage limit")
	}
	if limit.LimitType != LimitTypeTokens || limit.SessionLimit != 44000 {
		t.Errorf("claude_code limit = %+v", limit)
	}

	limit, ok = cfg.UsageLimitFor("codex")
	if !ok {
		t.Fatal("expected codex usage limit")
	}
	if limit.LimitType != LimitTypeCost || limit.SessionLimit != 500 {
		t.Errorf("codex limit = %+v", limit)
	}

	if _, ok := cfg.UsageLimitFor("gemini_cli"); ok {
		t.Error("expected no usage limit for unconfigured agent type")
	}
}
