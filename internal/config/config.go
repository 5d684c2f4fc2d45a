package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alekspetrov/tether/internal/adapters/gitlab"
	"github.com/alekspetrov/tether/internal/adapters/redmine"
	"github.com/alekspetrov/tether/internal/digest"
	"github.com/alekspetrov/tether/internal/gateway"
	"github.com/alekspetrov/tether/internal/logging"
)

// Config represents the main configuration
type Config struct {
	Version      string          `yaml:"version"`
	Redmine      *redmine.Config `yaml:"redmine"`
	GitLab       *gitlab.Config  `yaml:"gitlab"`
	CategoryKeys []string        `yaml:"category_keys"`
	Polling      *PollingConfig  `yaml:"polling"`
	Storage      *StorageConfig  `yaml:"storage"`
	Server       *gateway.Config `yaml:"server"`
	Digest       *digest.Config  `yaml:"digest"`
	Logging      *logging.Config `yaml:"logging"`
}

// PollingConfig holds poll driver settings
type PollingConfig struct {
	Enabled            bool `yaml:"enabled"`
	IntervalSeconds    int  `yaml:"interval_seconds"`
	JitterSeconds      int  `yaml:"jitter_seconds"`
	ProjectConcurrency int  `yaml:"project_concurrency"`
}

// Interval returns the poll interval as a duration.
func (p *PollingConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}

// Jitter returns the poll jitter as a duration.
func (p *PollingConfig) Jitter() time.Duration {
	return time.Duration(p.JitterSeconds) * time.Second
}

// StorageConfig holds mapping store settings
type StorageConfig struct {
	ConnectionString string `yaml:"connection_string"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Version:      "1.0",
		Redmine:      redmine.DefaultConfig(),
		GitLab:       gitlab.DefaultConfig(),
		CategoryKeys: []string{"Feature", "Bug", "Task"},
		Polling: &PollingConfig{
			Enabled:            true,
			IntervalSeconds:    60,
			JitterSeconds:      5,
			ProjectConcurrency: 1,
		},
		Storage: &StorageConfig{
			ConnectionString: filepath.Join(homeDir, ".tether", "tether.db"),
		},
		Server:  gateway.DefaultConfig(),
		Digest:  digest.DefaultConfig(),
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil // Return defaults if no config file
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Expand paths
	if config.Storage != nil {
		config.Storage.ConnectionString = expandPath(config.Storage.ConnectionString)
	}
	if config.Digest != nil {
		config.Digest.Path = expandPath(config.Digest.Path)
	}
	if config.Logging != nil {
		config.Logging.Output = expandLogOutput(config.Logging.Output)
	}

	return config, nil
}

// Save saves configuration to a file
func Save(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default configuration path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".tether", "config.yaml")
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// expandLogOutput expands ~ in file outputs and leaves the stream names
// alone.
func expandLogOutput(output string) string {
	switch output {
	case "", "stdout", "stderr":
		return output
	}
	return expandPath(output)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Redmine == nil || c.Redmine.BaseURL == "" {
		return fmt.Errorf("redmine base_url is required")
	}
	if c.Redmine.APIKey == "" {
		return fmt.Errorf("redmine api_key is required")
	}
	if c.GitLab == nil || c.GitLab.BaseURL == "" {
		return fmt.Errorf("gitlab base_url is required")
	}
	if c.GitLab.Token == "" {
		return fmt.Errorf("gitlab token is required")
	}
	if len(c.CategoryKeys) == 0 {
		return fmt.Errorf("category_keys must not be empty")
	}
	if c.Polling == nil {
		return fmt.Errorf("polling configuration is required")
	}
	if c.Polling.IntervalSeconds < 5 {
		return fmt.Errorf("polling interval_seconds must be at least 5, got %d", c.Polling.IntervalSeconds)
	}
	if c.Polling.JitterSeconds < 0 {
		return fmt.Errorf("polling jitter_seconds must not be negative, got %d", c.Polling.JitterSeconds)
	}
	if c.Polling.ProjectConcurrency < 1 {
		return fmt.Errorf("polling project_concurrency must be at least 1, got %d", c.Polling.ProjectConcurrency)
	}
	if c.Storage == nil || c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection_string is required")
	}
	if c.Server != nil && c.Server.Enabled {
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			return fmt.Errorf("invalid server port: %d", c.Server.Port)
		}
	}
	if c.Digest != nil && c.Digest.Enabled {
		if c.Digest.Schedule == "" {
			return fmt.Errorf("digest schedule is required when the digest is enabled")
		}
		if c.Digest.Path == "" {
			return fmt.Errorf("digest path is required when the digest is enabled")
		}
	}
	return nil
}
