package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DefaultCLIDir returns the default aegisctl directory (~/.aegis).
func DefaultCLIDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".aegis"), nil
}

// DefaultCLIPath returns the default aegisctl config file (~/.aegis/config.yml).
func DefaultCLIPath() (string, error) {
	dir, err := DefaultCLIDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// CLIConfig holds aegisctl settings. Values from flags and the environment
// take precedence over the file.
type CLIConfig struct {
	DatabaseURL   string `yaml:"database_url,omitempty"`
	DefaultTenant string `yaml:"default_tenant,omitempty"`
	LogLevel      string `yaml:"log_level,omitempty"`
}

// Validate checks the fields aegisctl needs to reach the database.
func (c *CLIConfig) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database_url is required")
	}
	if c.DefaultTenant != "" {
		if _, err := uuid.Parse(c.DefaultTenant); err != nil {
			return fmt.Errorf("default_tenant: %w", err)
		}
	}
	return nil
}

// Tenant returns the tenant to act on: explicit wins over DefaultTenant.
func (c *CLIConfig) Tenant(explicit string) (uuid.UUID, error) {
	raw := explicit
	if raw == "" {
		raw = c.DefaultTenant
	}
	if raw == "" {
		return uuid.Nil, errors.New("no tenant given and no default_tenant configured")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid tenant %q: %w", raw, err)
	}
	return id, nil
}

// LoadCLI reads the configuration from path.
// If the file does not exist, an empty config is returned.
func LoadCLI(path string) (*CLIConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &CLIConfig{}, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg CLIConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &cfg, nil
}

// Save writes the configuration to path, creating directories as needed.
func (c *CLIConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// The file can hold database credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
