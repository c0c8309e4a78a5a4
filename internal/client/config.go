package client

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/vaultkeep/vaultbackup/internal/verrors"
	"github.com/vaultkeep/vaultbackup/internal/wire"
)

// Config is the client daemon's YAML configuration.
type Config struct {
	Server   ServerEndpoint `yaml:"server"`
	Identity IdentityConfig `yaml:"identity"`
	Transfer TransferConfig `yaml:"transfer"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerEndpoint names the server this client talks to.
type ServerEndpoint struct {
	Address string `yaml:"address"`
}

// IdentityConfig controls where the client's persisted identity lives.
type IdentityConfig struct {
	Name     string `yaml:"name"`
	StateDir string `yaml:"state_dir"`
}

// TransferConfig controls the file to upload and chunking parameters.
type TransferConfig struct {
	FilePath      string `yaml:"file_path"`
	MaxChunkBytes int    `yaml:"max_chunk_bytes"`
}

// LoggingConfig mirrors the teacher's own logging block.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server:   ServerEndpoint{Address: fmt.Sprintf("127.0.0.1:%d", wire.DefaultPort)},
		Transfer: TransferConfig{MaxChunkBytes: wire.MaxChunkBytes},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads and validates a client config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &verrors.ConfigError{Op: "client.LoadConfig", Err: err}
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &verrors.ConfigError{Op: "client.LoadConfig", Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, &verrors.ConfigError{Op: "client.LoadConfig", Err: err}
	}
	return cfg, nil
}

// Validate checks required fields and the chunk-size bound from spec §6
// ([64 KiB, 1 MiB]).
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Identity.Name == "" {
		return fmt.Errorf("identity.name is required")
	}
	if c.Identity.StateDir == "" {
		return fmt.Errorf("identity.state_dir is required")
	}
	if c.Transfer.FilePath == "" {
		return fmt.Errorf("transfer.file_path is required")
	}
	if c.Transfer.MaxChunkBytes < 64*1024 || c.Transfer.MaxChunkBytes > 1024*1024 {
		return fmt.Errorf("transfer.max_chunk_bytes must be between 64 KiB and 1 MiB, got %d", c.Transfer.MaxChunkBytes)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	return nil
}

// identityPath returns the path of the persisted identity file within
// StateDir.
func (c *Config) identityPath() string {
	return filepath.Join(c.Identity.StateDir, "identity.json")
}
