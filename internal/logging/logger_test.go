package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func resetState() {
	CloseAll()
	loggers = make(map[Category]*Logger)
	logsDir = ""
	workspace = ""
	config = loggingConfig{}
	configLoaded = false
	logLevel = LevelInfo
}

// TestAllCategoriesLog tests that all categories create log files when
// debug_mode is true.
func TestAllCategoriesLog(t *testing.T) {
	tempDir := t.TempDir()

	configDir := filepath.Join(tempDir, ".agentdeck")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configContent := `logging:
  level: debug
  debug_mode: true
  categories:
    boot: true
    session: true
    sync: true
    process: true
    store: true
    api: true
    cache: true
`
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	resetState()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	defer resetState()

	if !IsDebugMode() {
		t.Error("Expected debug mode to be enabled")
	}

	categories := []Category{
		CategoryBoot,
		CategorySession,
		CategorySync,
		CategoryProcess,
		CategoryStore,
		CategoryAPI,
		CategoryCache,
	}

	for _, cat := range categories {
		Get(cat).Info("test message for %s", cat)
	}
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(tempDir, ".agentdeck", "logs"))
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}

	found := make(map[string]bool)
	for _, e := range entries {
		for _, cat := range categories {
			if strings.HasSuffix(e.Name(), "_"+string(cat)+".log") {
				found[string(cat)] = true
			}
		}
	}
	for _, cat := range categories {
		if !found[string(cat)] {
			t.Errorf("No log file created for category %s", cat)
		}
	}
}

// TestProductionModeNoLogs verifies no log files are created without a
// config file (production mode).
func TestProductionModeNoLogs(t *testing.T) {
	tempDir := t.TempDir()

	resetState()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	defer resetState()

	if IsDebugMode() {
		t.Error("Expected production mode (debug disabled)")
	}

	Session("this should go nowhere")
	Sync("this too")

	if _, err := os.Stat(filepath.Join(tempDir, ".agentdeck", "logs")); !os.IsNotExist(err) {
		t.Error("Logs directory should not exist in production mode")
	}
}

func TestCategoryFilter(t *testing.T) {
	tempDir := t.TempDir()

	configDir := filepath.Join(tempDir, ".agentdeck")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	configContent := `logging:
  level: debug
  debug_mode: true
  categories:
    sync: true
    store: false
`
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	resetState()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	defer resetState()

	if !IsCategoryEnabled(CategorySync) {
		t.Error("sync category should be enabled")
	}
	if IsCategoryEnabled(CategoryStore) {
		t.Error("store category should be disabled")
	}
	// Unlisted categories default to enabled in debug mode.
	if !IsCategoryEnabled(CategoryProcess) {
		t.Error("unlisted category should default to enabled")
	}
}
