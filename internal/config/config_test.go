package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Configuration Tests
// =============================================================================

func setXDG(t *testing.T) (configDir, dataDir string) {
	t.Helper()
	tmpDir := t.TempDir()
	configDir = filepath.Join(tmpDir, "config")
	dataDir = filepath.Join(tmpDir, "data")
	t.Setenv("XDG_CONFIG_HOME", configDir)
	t.Setenv("XDG_DATA_HOME", dataDir)
	t.Setenv("HOME", tmpDir)
	return configDir, dataDir
}

// TestConfigAutoCreate verifies first run creates config file at XDG path with defaults
func TestConfigAutoCreate(t *testing.T) {
	configDir, dataDir := setXDG(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	configPath := filepath.Join(configDir, "pantryat", "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Errorf("config file not created at %s", configPath)
	}

	if want := filepath.Join(dataDir, "pantryat", "pantry.db"); cfg.GetDatabasePath() != want {
		t.Errorf("database path = %q, want %q", cfg.GetDatabasePath(), want)
	}
	if cfg.OutputFormat != "text" {
		t.Errorf("expected OutputFormat = 'text', got %q", cfg.OutputFormat)
	}
	if cfg.IsSyncEnabled() {
		t.Error("sync should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

// TestSampleConfigLoadsLikeDefaults verifies the created file parses to the defaults
func TestSampleConfigLoadsLikeDefaults(t *testing.T) {
	setXDG(t)
	if _, err := Load(""); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("sample config invalid: %v", err)
	}
	if cfg.GetSyncTimeout() != 30*time.Second || cfg.GetOfflineMode() != OfflineModeAuto {
		t.Errorf("unexpected sync settings: %+v", cfg.Sync)
	}
	if cfg.GetLowStockDefault() != 2 {
		t.Errorf("low stock default = %g, want 2", cfg.GetLowStockDefault())
	}
	if !cfg.IsFileWatcherEnabled() {
		t.Error("file watcher should be enabled by the sample")
	}
}

func TestSampleConfigEmbedded(t *testing.T) {
	content := GetSampleConfig()
	for _, want := range []string{"sync:", "endpoint:", "offline_mode:", "low_stock_default:", "#"} {
		if !strings.Contains(content, want) {
			t.Errorf("sample config missing %q", want)
		}
	}
}

// TestConfigCustomPath verifies a custom config file is used and ~ is expanded
func TestConfigCustomPath(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	path := filepath.Join(tmpDir, "custom.yaml")
	content := `
database:
  path: ~/pantry/custom.db
output_format: json
sync:
  enabled: true
  endpoint: https://pantry.example.com
  timeout: 5s
  probe_interval: 1m
  daemon:
    enabled: true
    idle_timeout: 60
    file_watcher: false
    debounce_ms: 250
pantry:
  low_stock_default: 0.5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error = %v", path, err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if want := filepath.Join(tmpDir, "pantry", "custom.db"); cfg.GetDatabasePath() != want {
		t.Errorf("database path = %q, want %q", cfg.GetDatabasePath(), want)
	}
	if cfg.GetCachePath("pantryat-cache.db") != filepath.Join(tmpDir, "pantry", "pantryat-cache.db") {
		t.Errorf("cache path = %q", cfg.GetCachePath("pantryat-cache.db"))
	}
	if !cfg.IsSyncEnabled() {
		t.Error("sync should be enabled")
	}
	if cfg.GetSyncTimeout() != 5*time.Second {
		t.Errorf("sync timeout = %v", cfg.GetSyncTimeout())
	}
	if cfg.GetProbeInterval() != time.Minute {
		t.Errorf("probe interval = %v", cfg.GetProbeInterval())
	}
	if cfg.GetProbeTimeout() != DefaultProbeTimeout {
		t.Errorf("probe timeout = %v", cfg.GetProbeTimeout())
	}
	if !cfg.IsDaemonEnabled() || cfg.GetDaemonIdleTimeout() != time.Minute {
		t.Errorf("daemon settings = %+v", cfg.Sync.Daemon)
	}
	if cfg.IsFileWatcherEnabled() {
		t.Error("file watcher should be disabled")
	}
	if cfg.GetDaemonDebounce() != 250*time.Millisecond {
		t.Errorf("debounce = %v", cfg.GetDaemonDebounce())
	}
	if cfg.GetLowStockDefault() != 0.5 {
		t.Errorf("low stock default = %g", cfg.GetLowStockDefault())
	}
}

func TestLowStockDefaultEnvWins(t *testing.T) {
	t.Setenv("PANTRYAT_LOW_STOCK_DEFAULT", "4")
	v := 1.0
	cfg := &Config{Pantry: PantryConfig{LowStockDefault: &v}}
	if got := cfg.GetLowStockDefault(); got != 4 {
		t.Errorf("GetLowStockDefault() = %g, want 4", got)
	}
}

func TestConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("sync: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "invalid YAML") {
		t.Errorf("expected invalid YAML error, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	neg := -1.0
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"output format", func(c *Config) { c.OutputFormat = "xml" }, "output_format"},
		{"offline mode", func(c *Config) { c.Sync.OfflineMode = "sometimes" }, "offline_mode"},
		{"missing endpoint", func(c *Config) { c.Sync.Enabled = true }, "sync.endpoint is required"},
		{"bad endpoint", func(c *Config) { c.Sync.Enabled = true; c.Sync.Endpoint = "ftp://x" }, "invalid sync.endpoint"},
		{"bad timeout", func(c *Config) { c.Sync.Timeout = "soon" }, "sync.timeout"},
		{"zero interval", func(c *Config) { c.Sync.ProbeInterval = "0s" }, "sync.probe_interval"},
		{"negative threshold", func(c *Config) { c.Pantry.LowStockDefault = &neg }, "low_stock_default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setXDG(t)
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyFlags(t *testing.T) {
	setXDG(t)
	cfg := DefaultConfig()
	cfg.ApplyFlags(true, "json", "/tmp/other.db", true)

	if !cfg.NoPrompt || cfg.OutputFormat != "json" {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.GetDatabasePath() != "/tmp/other.db" {
		t.Errorf("db path = %q", cfg.GetDatabasePath())
	}
	if cfg.GetOfflineMode() != OfflineModeOffline {
		t.Errorf("offline mode = %q", cfg.GetOfflineMode())
	}
}

func TestDurationFallbacks(t *testing.T) {
	cfg := &Config{Sync: SyncConfig{Timeout: "garbage", ProbeInterval: "-5s"}}
	if cfg.GetSyncTimeout() != DefaultSyncTimeout {
		t.Errorf("GetSyncTimeout() = %v", cfg.GetSyncTimeout())
	}
	if cfg.GetProbeInterval() != DefaultProbeInterval {
		t.Errorf("GetProbeInterval() = %v", cfg.GetProbeInterval())
	}
	if cfg.GetDaemonIdleTimeout() != 300*time.Second || cfg.GetDaemonDebounce() != time.Second {
		t.Errorf("daemon defaults = %v, %v", cfg.GetDaemonIdleTimeout(), cfg.GetDaemonDebounce())
	}
	if !cfg.IsBackgroundLoggingEnabled() {
		t.Error("background logging should default to enabled")
	}
	if cfg.GetRecipeAPIBase() != DefaultRecipeAPIBase {
		t.Errorf("GetRecipeAPIBase() = %q", cfg.GetRecipeAPIBase())
	}
}

func TestGetXDGDirFallsBackToHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", home)
	if want := filepath.Join(home, ".config", "pantryat"); GetConfigDir() != want {
		t.Errorf("GetConfigDir() = %q, want %q", GetConfigDir(), want)
	}
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("PANTRY_DIR", "/srv/pantry")

	if got := ExpandPath("~/a.db"); got != filepath.Join(home, "a.db") {
		t.Errorf("ExpandPath(~/a.db) = %q", got)
	}
	if got := ExpandPath("$PANTRY_DIR/a.db"); got != "/srv/pantry/a.db" {
		t.Errorf("ExpandPath($PANTRY_DIR/a.db) = %q", got)
	}
	if ExpandPath("") != "" {
		t.Error("empty path should stay empty")
	}
}

func TestNotificationSettings(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	cfg, err := Parse([]byte("notification:\n  enabled: true\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cfg.IsNotificationEnabled() || !cfg.IsOSNotificationEnabled() {
		t.Error("notifications and the OS channel should be on")
	}
	if got := cfg.GetNotificationLogPath(); got != filepath.Join("/data", "pantryat", "notifications.log") {
		t.Errorf("GetNotificationLogPath() = %q", got)
	}

	cfg, err = Parse([]byte("notification:\n  enabled: true\n  os: false\n  log_path: /tmp/n.log\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.IsOSNotificationEnabled() || cfg.GetNotificationLogPath() != "/tmp/n.log" {
		t.Errorf("os = %v, log = %q", cfg.IsOSNotificationEnabled(), cfg.GetNotificationLogPath())
	}
}
