// Package common provides shared utilities for Tally
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Tally
type Config struct {
	Environment string        `toml:"environment"`
	Server      ServerConfig  `toml:"server"`
	Storage     StorageConfig `toml:"storage"`
	Jobs        JobsConfig    `toml:"jobs"`
	Clients     ClientsConfig `toml:"clients"`
	Logging     LoggingConfig `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend   string `toml:"backend"` // "surrealdb" (default) or "memory"
	Address   string `toml:"address"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
}

// JobsConfig holds the cadence of the background jobs and the conflict retry budget.
type JobsConfig struct {
	ProcessorInterval string `toml:"processor_interval"`
	SplitwiseInterval string `toml:"splitwise_interval"`
	ConflictRetries   int    `toml:"conflict_retries"`
}

// GetProcessorInterval parses and returns the periodic processor cadence
func (c *JobsConfig) GetProcessorInterval() time.Duration {
	d, err := time.ParseDuration(c.ProcessorInterval)
	if err != nil || d <= 0 {
		return 3 * time.Hour
	}
	return d
}

// GetSplitwiseInterval parses and returns the Splitwise import cadence
func (c *JobsConfig) GetSplitwiseInterval() time.Duration {
	d, err := time.ParseDuration(c.SplitwiseInterval)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// GetConflictRetries returns the number of attempts for a read-compute-commit sequence.
func (c *JobsConfig) GetConflictRetries() int {
	if c.ConflictRetries <= 0 {
		return DefaultConflictRetries
	}
	return c.ConflictRetries
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	Splitwise SplitwiseConfig `toml:"splitwise"`
}

// SplitwiseConfig holds Splitwise API configuration
type SplitwiseConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
	GroupID   int64  `toml:"group_id"`
	AccountID string `toml:"account_id"` // local account used for imports when none is given
}

// Enabled reports whether the Splitwise integration has credentials.
func (c *SplitwiseConfig) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

// GetTimeout parses and returns the timeout duration
func (c *SplitwiseConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string   `toml:"level"`
	Format  string   `toml:"format"` // "json" or "text"
	Outputs []string `toml:"outputs"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Backend:   "surrealdb",
			Address:   "ws://localhost:8000/rpc",
			Namespace: "tally",
			Database:  "tally",
			Username:  "root",
			Password:  "root",
		},
		Jobs: JobsConfig{
			ProcessorInterval: "3h",
			SplitwiseInterval: "1h",
			ConflictRetries:   DefaultConflictRetries,
		},
		Clients: ClientsConfig{
			Splitwise: SplitwiseConfig{
				BaseURL:   "https://secure.splitwise.com/api/v3.0",
				RateLimit: 2,
				Timeout:   "30s",
			},
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "json",
			Outputs: []string{"console"},
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Later files override earlier ones
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("TALLY_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("TALLY_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("TALLY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("TALLY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	// Storage overrides
	if v := os.Getenv("TALLY_STORAGE_BACKEND"); v != "" {
		config.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("TALLY_STORAGE_ADDRESS"); v != "" {
		config.Storage.Address = v
	}
	if v := os.Getenv("TALLY_STORAGE_USERNAME"); v != "" {
		config.Storage.Username = v
	}
	if v := os.Getenv("TALLY_STORAGE_PASSWORD"); v != "" {
		config.Storage.Password = v
	}

	if v := os.Getenv("TALLY_PROCESSOR_INTERVAL"); v != "" {
		config.Jobs.ProcessorInterval = v
	}
	if v := os.Getenv("TALLY_SPLITWISE_INTERVAL"); v != "" {
		config.Jobs.SplitwiseInterval = v
	}

	// Splitwise overrides
	if v := os.Getenv("SPLITWISE_API_KEY"); v != "" {
		config.Clients.Splitwise.APIKey = v
	}
	if v := os.Getenv("TALLY_SPLITWISE_API_KEY"); v != "" {
		config.Clients.Splitwise.APIKey = v
	}
	if v := os.Getenv("TALLY_SPLITWISE_ACCOUNT_ID"); v != "" {
		config.Clients.Splitwise.AccountID = v
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ValidateRequired returns the names of settings that must be present for the
// configured backend and integrations but are empty.
func (c *Config) ValidateRequired() []string {
	var missing []string
	if c.Storage.Backend == "" || c.Storage.Backend == "surrealdb" {
		if strings.TrimSpace(c.Storage.Address) == "" {
			missing = append(missing, "storage.address")
		}
		if strings.TrimSpace(c.Storage.Namespace) == "" {
			missing = append(missing, "storage.namespace")
		}
		if strings.TrimSpace(c.Storage.Database) == "" {
			missing = append(missing, "storage.database")
		}
	}
	if c.Clients.Splitwise.Enabled() && strings.TrimSpace(c.Clients.Splitwise.BaseURL) == "" {
		missing = append(missing, "clients.splitwise.base_url")
	}
	return missing
}
