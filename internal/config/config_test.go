package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "agentdeck" {
		t.Errorf("expected Name=agentdeck, got %s", cfg.Name)
	}
	if cfg.Sync.GetPushDedupWindow() != time.Second {
		t.Errorf("expected push dedup window 1s, got %v", cfg.Sync.GetPushDedupWindow())
	}
	if cfg.Sync.GetSpliceWindow() != 60*time.Second {
		t.Errorf("expected splice window 60s, got %v", cfg.Sync.GetSpliceWindow())
	}
	if cfg.Sync.GetLegacyProximityWindow() != 15*time.Minute {
		t.Errorf("expected legacy proximity window 15m, got %v", cfg.Sync.GetLegacyProximityWindow())
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	// Ensure no env vars interfere
	t.Setenv("AGENTDECK_API_KEY", "")
	t.Setenv("AGENTDECK_BASE_URL", "")
	t.Setenv("AGENTDECK_DB", "")
	t.Setenv("AGENTDECK_AGENT_ID", "")

	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.AgentID = "agent-42"
	cfg.Backend.APIKey = "sk-test"
	cfg.Sync.SpliceWindow = "90s"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.AgentID != "agent-42" {
		t.Errorf("expected AgentID=agent-42, got %s", loaded.AgentID)
	}
	if loaded.Backend.APIKey != "sk-test" {
		t.Errorf("expected APIKey=sk-test, got %s", loaded.Backend.APIKey)
	}
	if loaded.Sync.GetSpliceWindow() != 90*time.Second {
		t.Errorf("expected splice window 90s, got %v", loaded.Sync.GetSpliceWindow())
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("AGENTDECK_API_KEY", "env-key")
	t.Setenv("AGENTDECK_DB", "/tmp/override.db")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Backend.APIKey != "env-key" {
		t.Errorf("expected APIKey=env-key, got %s", cfg.Backend.APIKey)
	}
	if cfg.Storage.DatabasePath != "/tmp/override.db" {
		t.Errorf("expected DatabasePath=/tmp/override.db, got %s", cfg.Storage.DatabasePath)
	}
}

func TestSyncConfig_InvalidDurationsFallBack(t *testing.T) {
	sc := SyncConfig{
		PushDedupWindow:       "not-a-duration",
		SpliceWindow:          "-5s",
		LegacyProximityWindow: "",
	}
	if sc.GetPushDedupWindow() != time.Second {
		t.Errorf("expected fallback 1s, got %v", sc.GetPushDedupWindow())
	}
	if sc.GetSpliceWindow() != 60*time.Second {
		t.Errorf("expected fallback 60s, got %v", sc.GetSpliceWindow())
	}
	if sc.GetLegacyProximityWindow() != 15*time.Minute {
		t.Errorf("expected fallback 15m, got %v", sc.GetLegacyProximityWindow())
	}
}
