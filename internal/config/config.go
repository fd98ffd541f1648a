// Package config handles application configuration
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pantryat/backend"
)

//go:embed config.sample.yaml
var sampleConfig string

// GetSampleConfig returns the embedded sample configuration content
func GetSampleConfig() string {
	return sampleConfig
}

// Defaults for unset values.
const (
	DefaultSyncTimeout   = 30 * time.Second
	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 3 * time.Second
	DefaultIdleTimeout   = 300
	DefaultDebounceMs    = 1000
	DefaultRecipeAPIBase = "https://www.themealdb.com/api/json/v1/1"
	DBFileName           = "pantry.db"
)

// Offline modes.
const (
	OfflineModeAuto    = "auto"
	OfflineModeOnline  = "online"
	OfflineModeOffline = "offline"
)

// Config represents the application configuration
type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	OutputFormat string             `yaml:"output_format"`
	NoPrompt     bool               `yaml:"no_prompt"`
	Pantry       PantryConfig       `yaml:"pantry"`
	Recipes      RecipesConfig      `yaml:"recipes"`
	Sync         SyncConfig         `yaml:"sync"`
	Logging      LoggingConfig      `yaml:"logging"`
	Notification NotificationConfig `yaml:"notification"`
}

// DatabaseConfig locates the pantry database
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PantryConfig holds inventory settings
type PantryConfig struct {
	LowStockDefault *float64 `yaml:"low_stock_default"`
}

// RecipesConfig holds recipe API settings
type RecipesConfig struct {
	APIBase string `yaml:"api_base"`
}

// SyncConfig holds synchronization settings
type SyncConfig struct {
	Enabled       bool         `yaml:"enabled"`
	Endpoint      string       `yaml:"endpoint"`
	User          string       `yaml:"user"`
	Timeout       string       `yaml:"timeout"`        // e.g., "30s"
	OfflineMode   string       `yaml:"offline_mode"`   // auto, online, offline
	ProbeInterval string       `yaml:"probe_interval"` // e.g., "15s"
	ProbeTimeout  string       `yaml:"probe_timeout"`  // e.g., "3s"
	Daemon        DaemonConfig `yaml:"daemon"`
}

// DaemonConfig holds background daemon settings
type DaemonConfig struct {
	Enabled     bool  `yaml:"enabled"`
	IdleTimeout int   `yaml:"idle_timeout"` // seconds
	FileWatcher *bool `yaml:"file_watcher"`
	DebounceMs  int   `yaml:"debounce_ms"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	BackgroundEnabled *bool `yaml:"background_enabled"` // default: true
}

// NotificationConfig holds daemon notification settings
type NotificationConfig struct {
	Enabled bool   `yaml:"enabled"`
	OS      *bool  `yaml:"os"`       // default: true
	LogPath string `yaml:"log_path"` // default: <data dir>/notifications.log
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database:     DatabaseConfig{Path: filepath.Join(GetDataDir(), DBFileName)},
		OutputFormat: "text",
		Recipes:      RecipesConfig{APIBase: DefaultRecipeAPIBase},
		Sync: SyncConfig{
			Timeout:       DefaultSyncTimeout.String(),
			OfflineMode:   OfflineModeAuto,
			ProbeInterval: DefaultProbeInterval.String(),
			ProbeTimeout:  DefaultProbeTimeout.String(),
		},
	}
}

// Load loads configuration from the specified path, or the default XDG path if empty.
// If the config file doesn't exist, it creates one from the sample.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := writeSample(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and fills defaults for unset fields.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in config file: %w", err)
	}

	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "text"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(GetDataDir(), DBFileName)
	} else {
		cfg.Database.Path = ExpandPath(cfg.Database.Path)
	}
	if cfg.Recipes.APIBase == "" {
		cfg.Recipes.APIBase = DefaultRecipeAPIBase
	}
	return cfg, nil
}

func writeSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.OutputFormat != "text" && c.OutputFormat != "json" {
		return fmt.Errorf("invalid output_format: %q (must be 'text' or 'json')", c.OutputFormat)
	}

	switch c.Sync.OfflineMode {
	case "", OfflineModeAuto, OfflineModeOnline, OfflineModeOffline:
	default:
		return fmt.Errorf("invalid sync.offline_mode: %q (must be auto, online or offline)", c.Sync.OfflineMode)
	}

	if c.Sync.Enabled {
		if c.Sync.Endpoint == "" {
			return errors.New("sync.endpoint is required when sync is enabled")
		}
		u, err := url.Parse(c.Sync.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid sync.endpoint: %q (must be an http or https URL)", c.Sync.Endpoint)
		}
	}

	durations := map[string]string{
		"sync.timeout":        c.Sync.Timeout,
		"sync.probe_interval": c.Sync.ProbeInterval,
		"sync.probe_timeout":  c.Sync.ProbeTimeout,
	}
	for key, v := range durations {
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %q", key, v)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", key, v)
		}
	}

	if c.Pantry.LowStockDefault != nil && *c.Pantry.LowStockDefault < 0 {
		return fmt.Errorf("pantry.low_stock_default must be zero or greater, got %g", *c.Pantry.LowStockDefault)
	}
	return nil
}

// ApplyFlags applies CLI flag overrides to the configuration
func (c *Config) ApplyFlags(noPrompt bool, outputFormat, dbPath string, offline bool) {
	if noPrompt {
		c.NoPrompt = true
	}
	if outputFormat != "" {
		c.OutputFormat = outputFormat
	}
	if dbPath != "" {
		c.Database.Path = ExpandPath(dbPath)
	}
	if offline {
		c.Sync.OfflineMode = OfflineModeOffline
	}
}

// GetDatabasePath returns the path to the pantry database
func (c *Config) GetDatabasePath() string {
	return c.Database.Path
}

// GetCachePath returns the path of the recipe record cache, which lives next
// to the pantry database.
func (c *Config) GetCachePath(name string) string {
	return filepath.Join(filepath.Dir(c.GetDatabasePath()), name)
}

// IsSyncEnabled returns true if synchronization is enabled and an endpoint is set
func (c *Config) IsSyncEnabled() bool {
	return c.Sync.Enabled && c.Sync.Endpoint != ""
}

// GetOfflineMode returns the offline mode setting.
// Returns "auto" as default if not configured.
func (c *Config) GetOfflineMode() string {
	if c.Sync.OfflineMode == "" {
		return OfflineModeAuto
	}
	return c.Sync.OfflineMode
}

// GetSyncTimeout returns the per-push timeout, 30s by default.
func (c *Config) GetSyncTimeout() time.Duration {
	return parseDuration(c.Sync.Timeout, DefaultSyncTimeout)
}

// GetProbeInterval returns the reachability probe interval, 15s by default.
func (c *Config) GetProbeInterval() time.Duration {
	return parseDuration(c.Sync.ProbeInterval, DefaultProbeInterval)
}

// GetProbeTimeout returns the reachability dial timeout, 3s by default.
func (c *Config) GetProbeTimeout() time.Duration {
	return parseDuration(c.Sync.ProbeTimeout, DefaultProbeTimeout)
}

func parseDuration(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetRecipeAPIBase returns the recipe API base URL
func (c *Config) GetRecipeAPIBase() string {
	if c.Recipes.APIBase == "" {
		return DefaultRecipeAPIBase
	}
	return c.Recipes.APIBase
}

// GetLowStockDefault returns the low-stock threshold for items without one.
// PANTRYAT_LOW_STOCK_DEFAULT wins over the config file.
func (c *Config) GetLowStockDefault() float64 {
	if os.Getenv("PANTRYAT_LOW_STOCK_DEFAULT") == "" && c.Pantry.LowStockDefault != nil {
		return *c.Pantry.LowStockDefault
	}
	return backend.LowStockDefault()
}

// IsDaemonEnabled returns true if the background daemon is enabled.
func (c *Config) IsDaemonEnabled() bool {
	return c.Sync.Daemon.Enabled
}

// GetDaemonIdleTimeout returns the daemon idle timeout.
// Returns 300 seconds if not configured.
func (c *Config) GetDaemonIdleTimeout() time.Duration {
	secs := c.Sync.Daemon.IdleTimeout
	if secs <= 0 {
		secs = DefaultIdleTimeout
	}
	return time.Duration(secs) * time.Second
}

// IsFileWatcherEnabled returns true if the daemon watches the pantry database.
// Defaults to true.
func (c *Config) IsFileWatcherEnabled() bool {
	if c.Sync.Daemon.FileWatcher == nil {
		return true
	}
	return *c.Sync.Daemon.FileWatcher
}

// GetDaemonDebounce returns the watcher debounce duration, 1s by default.
func (c *Config) GetDaemonDebounce() time.Duration {
	ms := c.Sync.Daemon.DebounceMs
	if ms <= 0 {
		ms = DefaultDebounceMs
	}
	return time.Duration(ms) * time.Millisecond
}

// IsBackgroundLoggingEnabled returns true if background logging is enabled.
// Returns true (default) if not configured.
func (c *Config) IsBackgroundLoggingEnabled() bool {
	if c.Logging.BackgroundEnabled == nil {
		return true
	}
	return *c.Logging.BackgroundEnabled
}

// IsNotificationEnabled returns true if the daemon sends notifications.
func (c *Config) IsNotificationEnabled() bool {
	return c.Notification.Enabled
}

// IsOSNotificationEnabled returns true if desktop notifications are wanted.
// Defaults to true.
func (c *Config) IsOSNotificationEnabled() bool {
	if c.Notification.OS == nil {
		return true
	}
	return *c.Notification.OS
}

// GetNotificationLogPath returns the notification log file.
func (c *Config) GetNotificationLogPath() string {
	if c.Notification.LogPath != "" {
		return ExpandPath(c.Notification.LogPath)
	}
	return filepath.Join(GetDataDir(), "notifications.log")
}

// getXDGDir returns a directory path following the XDG base directory layout.
func getXDGDir(envVar, fallbackPath string) string {
	if xdgDir := os.Getenv(envVar); xdgDir != "" {
		return filepath.Join(xdgDir, "pantryat")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", fallbackPath, "pantryat")
	}
	return filepath.Join(home, fallbackPath, "pantryat")
}

// GetConfigDir returns the configuration directory following the XDG base directory layout
func GetConfigDir() string {
	return getXDGDir("XDG_CONFIG_HOME", ".config")
}

// GetDataDir returns the data directory following the XDG base directory layout
func GetDataDir() string {
	return getXDGDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return os.ExpandEnv(path)
}
