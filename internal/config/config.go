// Package config holds all agentdeck configuration, loaded from
// .agentdeck/config.yaml with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all agentdeck configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Agent identity this client is scoped to
	AgentID string `yaml:"agent_id"`

	// Chat backend configuration
	Backend BackendConfig `yaml:"backend"`

	// Durable storage configuration
	Storage StorageConfig `yaml:"storage"`

	// Message synchronization tunables
	Sync SyncConfig `yaml:"sync"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// BackendConfig configures the managed chat backend.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Timeout string `yaml:"timeout"`
}

// StorageConfig configures the local durable store.
type StorageConfig struct {
	// SQLite database path for the message and session tables
	DatabasePath string `yaml:"database_path"`

	// JSON file holding per-agent local state entries
	StateCachePath string `yaml:"state_cache_path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`      // debug, info, warn, error
	DebugMode  bool            `yaml:"debug_mode"` // Master toggle - false = no logging (production)
	Categories map[string]bool `yaml:"categories"` // Per-category toggles
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "agentdeck",
		Version: "0.3.0",

		Backend: BackendConfig{
			BaseURL: "http://localhost:8090",
			Timeout: "120s",
		},

		Storage: StorageConfig{
			DatabasePath:   "data/agentdeck.db",
			StateCachePath: "data/agent_state.json",
		},

		Sync: DefaultSyncConfig(),

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("AGENTDECK_API_KEY"); key != "" {
		c.Backend.APIKey = key
	}
	if url := os.Getenv("AGENTDECK_BASE_URL"); url != "" {
		c.Backend.BaseURL = url
	}
	if path := os.Getenv("AGENTDECK_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
	if agent := os.Getenv("AGENTDECK_AGENT_ID"); agent != "" {
		c.AgentID = agent
	}
}

// GetBackendTimeout returns the chat backend timeout as a duration.
func (c *Config) GetBackendTimeout() time.Duration {
	d, err := time.ParseDuration(c.Backend.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}
