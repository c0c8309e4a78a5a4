package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vaultkeep/vaultbackup/internal/registry"
	"github.com/vaultkeep/vaultbackup/internal/verrors"
)

// Config is the server's YAML configuration (server.yaml, §6).
type Config struct {
	Server   ListenConfig    `yaml:"server"`
	Limits   LimitsConfig    `yaml:"limits"`
	Storage  StorageConfig   `yaml:"storage"`
	Registry registry.Config `yaml:"registry"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// ListenConfig controls the accept loop's listen address.
type ListenConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LimitsConfig bounds concurrency and declared payload sizes (§5, §7).
type LimitsConfig struct {
	MaxClients             int `yaml:"max_clients"`
	IdleTimeoutSeconds     int `yaml:"idle_timeout_seconds"`
	DrainTimeoutSeconds    int `yaml:"drain_timeout_seconds"`
	MaxFilePayloadBytes    int `yaml:"max_file_payload_bytes"`
	MaxControlPayloadBytes int `yaml:"max_control_payload_bytes"`
}

// StorageConfig names where verified plaintext files are written.
type StorageConfig struct {
	Directory string `yaml:"directory"`
}

// LoggingConfig mirrors the client's own logging block.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ListenConfig{ListenAddr: "0.0.0.0:1256"},
		Limits: LimitsConfig{
			MaxClients:             64,
			IdleTimeoutSeconds:     30,
			DrainTimeoutSeconds:    15,
			MaxFilePayloadBytes:    16 * 1024 * 1024,
			MaxControlPayloadBytes: 4 * 1024,
		},
		Storage: StorageConfig{Directory: "/var/lib/vaultbackup/files"},
		Registry: registry.Config{
			Type:   registry.DatabaseTypeSQLite,
			SQLite: registry.SQLiteConfig{Path: "/var/lib/vaultbackup/registry.db"},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads and validates a server config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &verrors.ConfigError{Op: "server.LoadConfig", Err: err}
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &verrors.ConfigError{Op: "server.LoadConfig", Err: err}
	}
	cfg.Registry.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, &verrors.ConfigError{Op: "server.LoadConfig", Err: err}
	}
	return cfg, nil
}

// Validate checks required fields and the declared-size ceilings from §7.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Limits.MaxClients < 1 {
		return fmt.Errorf("limits.max_clients must be at least 1")
	}
	if c.Limits.IdleTimeoutSeconds < 1 {
		return fmt.Errorf("limits.idle_timeout_seconds must be at least 1")
	}
	if c.Limits.DrainTimeoutSeconds < 1 {
		return fmt.Errorf("limits.drain_timeout_seconds must be at least 1")
	}
	if c.Limits.MaxFilePayloadBytes < 1 {
		return fmt.Errorf("limits.max_file_payload_bytes must be positive")
	}
	if c.Limits.MaxControlPayloadBytes < 1 {
		return fmt.Errorf("limits.max_control_payload_bytes must be positive")
	}
	if c.Storage.Directory == "" {
		return fmt.Errorf("storage.directory is required")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	return nil
}
