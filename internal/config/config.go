// Package config resolves kabulog settings: built-in defaults, then TOML
// files, then KABULOG_* environment variables (a .env file is loaded first).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	appName       = "Kabulog"
	appNameLower  = "kabulog"
	defaultDBName = "kabulog.db"
	fileName      = "kabulog.toml"
)

// Config is the full application configuration.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Storage    StorageConfig    `toml:"storage"`
	MarketData MarketDataConfig `toml:"market_data"`
	Cooldown   CooldownConfig   `toml:"cooldown"`
	Rules      RulesConfig      `toml:"rules"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	AI         AIConfig         `toml:"ai"`
	Logging    LoggingConfig    `toml:"logging"`
	Client     ClientConfig     `toml:"client"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig locates the sqlite database. An empty DataDir means the
// per-user application directory.
type StorageConfig struct {
	DataDir string `toml:"data_dir"`
	DBName  string `toml:"db_name"`
	DBPath  string `toml:"db_path"`
}

type MarketDataConfig struct {
	BaseURL           string  `toml:"base_url"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Timeout           string  `toml:"timeout"`
	CacheTTL          string  `toml:"cache_ttl"`
	MarketCapScale    float64 `toml:"market_cap_scale"`
	Concurrency       int     `toml:"concurrency"`
}

// GetTimeout parses Timeout, falling back to 15s.
func (c MarketDataConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 15*time.Second)
}

// GetCacheTTL parses CacheTTL, falling back to one minute.
func (c MarketDataConfig) GetCacheTTL() time.Duration {
	return parseDuration(c.CacheTTL, time.Minute)
}

type CooldownConfig struct {
	BulkWindow   string `toml:"bulk_window"`
	ClientWindow string `toml:"client_window"`
}

// GetBulkWindow parses BulkWindow, falling back to ten minutes.
func (c CooldownConfig) GetBulkWindow() time.Duration {
	return parseDuration(c.BulkWindow, 10*time.Minute)
}

// GetClientWindow parses ClientWindow, falling back to ten seconds.
func (c CooldownConfig) GetClientWindow() time.Duration {
	return parseDuration(c.ClientWindow, 10*time.Second)
}

type RulesConfig struct {
	Path string `toml:"path"`
}

// SchedulerConfig holds cron expressions. An empty expression disables the job.
type SchedulerConfig struct {
	Enabled      bool   `toml:"enabled"`
	SnapshotCron string `toml:"snapshot_cron"`
	WarmCron     string `toml:"warm_cron"`
	JobTimeout   string `toml:"job_timeout"`
}

// GetJobTimeout parses JobTimeout, falling back to five minutes.
func (c SchedulerConfig) GetJobTimeout() time.Duration {
	return parseDuration(c.JobTimeout, 5*time.Minute)
}

// AIConfig seeds advice defaults. API keys are read from the environment only.
type AIConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	BaseURL  string `toml:"base_url"`
	APIKey   string `toml:"-"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Dir    string `toml:"dir"`
}

// ClientConfig is used by the kabulog CLI.
type ClientConfig struct {
	APIURL    string `toml:"api_url"`
	StateFile string `toml:"state_file"`
}

// NewDefaultConfig returns a Config with built-in defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8000,
		},
		Storage: StorageConfig{
			DBName: defaultDBName,
		},
		MarketData: MarketDataConfig{
			BaseURL:           "http://127.0.0.1:8080",
			RequestsPerSecond: 2,
			Timeout:           "15s",
			CacheTTL:          "1m",
			MarketCapScale:    1,
			Concurrency:       4,
		},
		Cooldown: CooldownConfig{
			BulkWindow:   "10m",
			ClientWindow: "10s",
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			SnapshotCron: "0 0 18 * * *",
			WarmCron:     "0 */15 9-15 * * MON-FRI",
			JobTimeout:   "5m",
		},
		AI: AIConfig{
			Provider: "gemini",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Client: ClientConfig{
			APIURL: "http://127.0.0.1:8000",
		},
	}
}

// DefaultPaths lists the config files Load reads when none are given: the
// per-user file first, then ./kabulog.toml.
func DefaultPaths() []string {
	var paths []string
	if dir, err := appConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "config.toml"))
	}
	return append(paths, fileName)
}

// Load builds a Config from defaults, each existing file in paths (later
// files win) and the environment. Missing files are skipped.
func Load(paths ...string) (*Config, error) {
	_ = godotenv.Load()

	if len(paths) == 0 {
		paths = DefaultPaths()
	}
	cfg := NewDefaultConfig()
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KABULOG_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("KABULOG_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KABULOG_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("KABULOG_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("KABULOG_MARKET_DATA_URL"); v != "" {
		cfg.MarketData.BaseURL = v
	}
	if v := os.Getenv("KABULOG_MARKET_DATA_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil && rps > 0 {
			cfg.MarketData.RequestsPerSecond = rps
		}
	}
	if v := os.Getenv("KABULOG_BULK_WINDOW"); v != "" {
		cfg.Cooldown.BulkWindow = v
	}
	if v := os.Getenv("KABULOG_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("KABULOG_SCHEDULER_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Scheduler.Enabled = enabled
		}
	}
	if v := os.Getenv("KABULOG_SCHEDULER_TIMEOUT"); v != "" {
		cfg.Scheduler.JobTimeout = v
	}
	if v := os.Getenv("KABULOG_AI_PROVIDER"); v != "" {
		cfg.AI.Provider = v
	}
	if v := os.Getenv("KABULOG_AI_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("KABULOG_AI_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("KABULOG_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
	if v := os.Getenv("KABULOG_API_URL"); v != "" {
		cfg.Client.APIURL = v
	}
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DataDir returns the data directory, creating it if needed.
func (c *Config) DataDir() (string, error) {
	dir := strings.TrimSpace(c.Storage.DataDir)
	if dir == "" {
		var err error
		dir, err = appConfigDir()
		if err != nil {
			return "", err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// DBPath returns the sqlite path. An explicit db_path wins over data_dir/db_name.
func (c *Config) DBPath() (string, error) {
	if path := strings.TrimSpace(c.Storage.DBPath); path != "" {
		return path, nil
	}
	dir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(c.Storage.DBName)
	if name == "" {
		name = defaultDBName
	}
	return filepath.Join(dir, name), nil
}

// LogDir returns the log directory, defaulting to <data dir>/logs.
func (c *Config) LogDir() (string, error) {
	if dir := strings.TrimSpace(c.Logging.Dir); dir != "" {
		return dir, nil
	}
	dir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// ClientStateFile returns where the CLI persists its fetch timestamp.
func (c *Config) ClientStateFile() (string, error) {
	if path := strings.TrimSpace(c.Client.StateFile); path != "" {
		return path, nil
	}
	dir, err := appConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "client-state.json"), nil
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func appConfigDir() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", appName), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = home
		}
		return filepath.Join(appData, appName), nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", appNameLower), nil
	}
	return filepath.Join(configDir, appNameLower), nil
}
