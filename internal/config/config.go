// Package config loads the runtime's single configuration object (spec §6):
// data directory, HTTP ports, worker tuning, cleanup tuning, dependency-wait
// timeout, and dashboard reconnect policy. Follows the teacher's
// internal/config pattern: one struct per concern, YAML-backed, defaults
// baked into DefaultConfig(), env overrides applied after Load.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"zmcptools/internal/logging"
)

// Config holds every tunable of the orchestration runtime.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Worker    WorkerConfig    `yaml:"worker"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	Waiter    WaiterConfig    `yaml:"waiter"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DefaultConfig returns the configuration spec §6 mandates absent an
// on-disk file or env overrides.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Worker:    DefaultWorkerConfig(),
		Cleanup:   DefaultCleanupConfig(),
		Waiter:    DefaultWaiterConfig(),
		Dashboard: DefaultDashboardConfig(),
		Logging: LoggingConfig{
			Level:     "info",
			DebugMode: false,
		},
	}
}

// Load reads path as YAML over DefaultConfig(), then applies env overrides.
// A missing file is not an error: defaults (plus env) are returned as-is.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Boot("config file not found, using defaults: %s", path)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	logging.Boot("config loaded from %s", path)
	return cfg, nil
}

// Save writes c to path as YAML, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// applyEnvOverrides lets deployment environments override selected fields
// without touching the on-disk file, mirroring the teacher's pattern of
// layering env vars atop a loaded/default config.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ZMCP_DATA_DIR"); v != "" {
		c.Server.DataDir = v
	}
	if v := os.Getenv("ZMCP_HTTP_HOST"); v != "" {
		c.Server.HTTPHost = v
	}
	if v := os.Getenv("ZMCP_HTTP_PORT"); v != "" {
		if n, err := parsePort(v); err == nil {
			c.Server.HTTPPort = n
		}
	}
	if v := os.Getenv("ZMCP_DASHBOARD_PORT"); v != "" {
		if n, err := parsePort(v); err == nil {
			c.Server.DashboardPort = n
		}
	}
	if v := os.Getenv("ZMCP_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
	}
}

func parsePort(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// LoggingRuntimeConfig converts the on-disk logging section into the
// logging package's own Config, which mirrors it to avoid an import cycle.
func (c *Config) LoggingRuntimeConfig() logging.Config {
	return logging.Config{
		DebugMode:  c.Logging.DebugMode,
		Categories: c.Logging.Categories,
	}
}
