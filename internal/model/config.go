package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// SessionConfig controls local session tracking.
type SessionConfig struct {
	// TimeoutSec is how long (in seconds) a session stays current
	// without activity before it is considered expired.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// SyncConfig controls foreground and background mailbox syncs.
type SyncConfig struct {
	// PageSize is the number of messages fetched per sync page.
	PageSize int `mapstructure:"page_size" yaml:"page_size"`

	// PollIntervalSec is how often (in seconds) tracked mailboxes are
	// re-synced when push is not available.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// PushConfig controls the push listener connection lifecycle.
type PushConfig struct {
	// RetryDelaySec is the fixed delay (in seconds) before reopening a
	// dropped push stream.
	RetryDelaySec int `mapstructure:"retry_delay_sec" yaml:"retry_delay_sec"`

	// IdleTimeoutSec is how long (in seconds) a push stream may stay
	// silent before it is treated as dead and reconnected.
	IdleTimeoutSec int `mapstructure:"idle_timeout_sec" yaml:"idle_timeout_sec"`
}

// Config is the top-level configuration for the cache layer.
type Config struct {
	// DBPath is the location of the SQLite cache database.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`

	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Sync    SyncConfig    `mapstructure:"sync" yaml:"sync"`
	Push    PushConfig    `mapstructure:"push" yaml:"push"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailcache/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailcache", "config.yaml")
}

// DefaultDBPath returns the default location of the cache database,
// located at ~/.local/share/mailcache/mail.db.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "mail.db")
	}
	return filepath.Join(home, ".local", "share", "mailcache", "mail.db")
}

// defaultConfig returns a sensible default configuration.
func defaultConfig() *Config {
	return &Config{
		DBPath:  DefaultDBPath(),
		Session: SessionConfig{TimeoutSec: 7200},
		Sync: SyncConfig{
			PageSize:        50,
			PollIntervalSec: 300,
		},
		Push: PushConfig{
			RetryDelaySec:  5,
			IdleTimeoutSec: 90,
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("db_path", DefaultDBPath())
	v.SetDefault("session.timeout_sec", 7200)
	v.SetDefault("sync.page_size", 50)
	v.SetDefault("sync.poll_interval_sec", 300)
	v.SetDefault("push.retry_delay_sec", 5)
	v.SetDefault("push.idle_timeout_sec", 90)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("db_path", cfg.DBPath)
	v.Set("session", cfg.Session)
	v.Set("sync", cfg.Sync)
	v.Set("push", cfg.Push)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
