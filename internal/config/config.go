package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds the full icsync configuration. Tunables live in the TOML
// file; secrets (API token, webhook secret, postgres DSN) are taken from
// the environment so the file can be committed to dotfiles safely.
type Config struct {
	Intercom IntercomConfig `toml:"intercom"`
	Store    StoreConfig    `toml:"store"`
	Sync     SyncConfig     `toml:"sync"`
	Webhook  WebhookConfig  `toml:"webhook"`
	Daemon   DaemonConfig   `toml:"daemon"`
}

// IntercomConfig configures the Intercom API client.
type IntercomConfig struct {
	BaseURL            string `toml:"base_url"`
	APIVersion         string `toml:"api_version"`
	AccessToken        string `toml:"-"` // env only
	RateLimitPerMinute int    `toml:"rate_limit_per_minute"`
	MaxRetries         int    `toml:"max_retries"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
}

// StoreConfig selects and configures the replica store backend.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `toml:"driver"`
	// Path is the SQLite database file (sqlite driver only).
	Path string `toml:"path"`
	// DSN is the postgres connection string; DATABASE_URL overrides it.
	DSN string `toml:"dsn"`
}

// SyncConfig holds batch/worker tunables for the orchestrator.
type SyncConfig struct {
	BatchSize            int `toml:"batch_size"`
	IncrementalBatchSize int `toml:"incremental_batch_size"`
	Workers              int `toml:"workers"`
	LookbackHours        int `toml:"lookback_hours"`
	StaleRunTimeoutHours int `toml:"stale_run_timeout_hours"`
}

// WebhookConfig configures the daemon's HTTP listener.
type WebhookConfig struct {
	ListenAddr string `toml:"listen_addr"`
	Secret     string `toml:"-"` // env only
}

// DaemonConfig configures the long-running daemon.
type DaemonConfig struct {
	DataDir string `toml:"data_dir"`
	// SyncIntervalMinutes enables periodic incremental sync when > 0.
	SyncIntervalMinutes int `toml:"sync_interval_minutes"`
}

// Default returns a config with all tunables at their defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".icsync")
	return &Config{
		Intercom: IntercomConfig{
			BaseURL:            "https://api.intercom.io",
			APIVersion:         "2.11",
			RateLimitPerMinute: 500,
			MaxRetries:         3,
			TimeoutSeconds:     30,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   filepath.Join(dataDir, "replica.db"),
		},
		Sync: SyncConfig{
			BatchSize:            50,
			IncrementalBatchSize: 20,
			Workers:              5,
			LookbackHours:        24,
			StaleRunTimeoutHours: 24,
		},
		Webhook: WebhookConfig{
			ListenAddr: ":8085",
		},
		Daemon: DaemonConfig{
			DataDir: dataDir,
		},
	}
}

// Load reads config from the given path, overlaying defaults, then applies
// environment overrides. A missing file is not an error; env vars alone are
// enough to run.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// applyEnv loads .env if present and overlays environment variables.
func (c *Config) applyEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("INTERCOM_ACCESS_TOKEN"); v != "" {
		c.Intercom.AccessToken = v
	}
	if v := os.Getenv("INTERCOM_WEBHOOK_SECRET"); v != "" {
		c.Webhook.Secret = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.Driver = "postgres"
		c.Store.DSN = v
	}
	if v := os.Getenv("ICSYNC_DATA_DIR"); v != "" {
		c.Daemon.DataDir = v
	}
}

// Validate reports configuration errors that would only surface mid-run.
func (c *Config) Validate() error {
	if c.Intercom.AccessToken == "" {
		return fmt.Errorf("intercom access token not set (INTERCOM_ACCESS_TOKEN)")
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn or DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync.workers must be positive")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive")
	}
	return nil
}

// RequestTimeout returns the HTTP request timeout as a duration.
func (c *IntercomConfig) RequestTimeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StaleRunTimeout returns the age beyond which a "running" sync run is
// considered abandoned.
func (c *SyncConfig) StaleRunTimeout() time.Duration {
	if c.StaleRunTimeoutHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.StaleRunTimeoutHours) * time.Hour
}

// Lookback returns the incremental sync lookback window.
func (c *SyncConfig) Lookback() time.Duration {
	if c.LookbackHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.LookbackHours) * time.Hour
}
