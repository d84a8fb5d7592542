// Package config loads, validates, and persists the hoonpm config document.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"hoonpm/internal/fsutil"
)

// Ensure loads the config at path, writing defaults first when it is absent.
func Ensure(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}
	cfg = DefaultConfig()
	if err := Save(path, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("DOC_CONFIG_PARSE: %w", err)
	}
	cfg = Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Save(path string, cfg Config) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	blob, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("DOC_CONFIG_ENCODE: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return fsutil.AtomicWrite(path, blob, 0o644)
}

// Normalize fills gaps left by hand-edited documents.
func Normalize(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Version == 0 {
		cfg.Version = SchemaVersion
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = def.Storage.Root
	}
	if cfg.Network.MaxRetries == 0 {
		cfg.Network.MaxRetries = def.Network.MaxRetries
	}
	if cfg.Network.RetryDelay == "" {
		cfg.Network.RetryDelay = def.Network.RetryDelay
	}
	if cfg.Network.HTTPTimeout == "" {
		cfg.Network.HTTPTimeout = def.Network.HTTPTimeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	return cfg
}

func Validate(cfg Config) error {
	if cfg.Version != SchemaVersion {
		return fmt.Errorf("DOC_CONFIG_VERSION: unsupported version %d", cfg.Version)
	}
	if cfg.Network.MaxRetries < 0 {
		return fmt.Errorf("DOC_CONFIG_SCHEMA: network.max_retries must be >= 0")
	}
	if _, err := time.ParseDuration(cfg.Network.RetryDelay); err != nil {
		return fmt.Errorf("DOC_CONFIG_SCHEMA: network.retry_delay: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Network.HTTPTimeout); err != nil {
		return fmt.Errorf("DOC_CONFIG_SCHEMA: network.http_timeout: %w", err)
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("DOC_CONFIG_SCHEMA: unknown logging.level %q", cfg.Logging.Level)
	}
	return nil
}

// RetryDelay returns the parsed retry base delay.
func (n NetworkConfig) RetryDelayDuration() time.Duration {
	d, err := time.ParseDuration(n.RetryDelay)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// HTTPTimeoutDuration returns the parsed HTTP client timeout.
func (n NetworkConfig) HTTPTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(n.HTTPTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
