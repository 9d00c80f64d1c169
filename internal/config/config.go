package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database  DatabaseConfig
	API       APIConfig
	Reconcile ReconcileConfig
	CSV       CSVConfig
	Log       LogConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path        string
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// APIConfig points at the remote gestiones API. The bearer token is read
// from the env var named by TokenEnv, or from the secrets store.
type APIConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	TokenEnv string        `mapstructure:"token_env"`
}

type ReconcileConfig struct {
	BatchSize           int           `mapstructure:"batch_size"`
	MaxAttemptsPerBatch int           `mapstructure:"max_attempts_per_batch"`
	InitialBackoff      time.Duration `mapstructure:"initial_backoff"`
}

type CSVConfig struct {
	ChunkRows int `mapstructure:"chunk_rows"`
}

type LogConfig struct {
	Level string
}

const maxBatchSize = 10000

// Load reads configuration from file and env. Env var overrides use prefix DEBTDESK_.
func Load() (Config, error) {
	v := viper.New()

	home := os.Getenv("HOME")
	v.SetDefault("database.path", filepath.Join(home, ".local", "share", "debtdesk", "debtdesk.db"))
	v.SetDefault("database.busy_timeout", "5s")
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.timeout", "10s")
	v.SetDefault("api.token_env", "DEBTDESK_API_TOKEN")
	v.SetDefault("reconcile.batch_size", maxBatchSize)
	v.SetDefault("reconcile.max_attempts_per_batch", 1)
	v.SetDefault("reconcile.initial_backoff", "500ms")
	v.SetDefault("csv.chunk_rows", 1000)
	v.SetDefault("log.level", "info")

	v.SetConfigType("toml")

	cfgPath := os.Getenv("DEBTDESK_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(home, ".config", "debtdesk"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("DEBTDESK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, c.Validate()
}

// Validate rejects settings the rest of the program cannot work with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, errors.New("database.path is empty"))
	}
	if c.Reconcile.BatchSize < 1 || c.Reconcile.BatchSize > maxBatchSize {
		errs = append(errs, fmt.Errorf("reconcile.batch_size %d outside 1..%d", c.Reconcile.BatchSize, maxBatchSize))
	}
	if c.Reconcile.MaxAttemptsPerBatch < 1 {
		errs = append(errs, fmt.Errorf("reconcile.max_attempts_per_batch must be at least 1"))
	}
	if c.CSV.ChunkRows < 1 {
		errs = append(errs, fmt.Errorf("csv.chunk_rows must be at least 1"))
	}
	return errors.Join(errs...)
}

// Save writes the provided config to disk, creating the config directory if needed.
func Save(cfg Config) error {
	path := os.Getenv("DEBTDESK_CONFIG")
	if path == "" {
		path = filepath.Join(os.Getenv("HOME"), ".config", "debtdesk", "config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("database.path", cfg.Database.Path)
	v.Set("database.busy_timeout", cfg.Database.BusyTimeout.String())
	v.Set("api.base_url", cfg.API.BaseURL)
	v.Set("api.timeout", cfg.API.Timeout.String())
	v.Set("api.token_env", cfg.API.TokenEnv)
	v.Set("reconcile.batch_size", cfg.Reconcile.BatchSize)
	v.Set("reconcile.max_attempts_per_batch", cfg.Reconcile.MaxAttemptsPerBatch)
	v.Set("reconcile.initial_backoff", cfg.Reconcile.InitialBackoff.String())
	v.Set("csv.chunk_rows", cfg.CSV.ChunkRows)
	v.Set("log.level", cfg.Log.Level)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
