// Package config loads the coordinator configuration from config/coordinator.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full coordinator configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Requests  RequestsConfig  `yaml:"requests"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Logging   LoggingConfig   `yaml:"logging"`
	Owner     string          `yaml:"owner"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// Duration is a time.Duration that unmarshals from yaml strings like "24h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	ListenAddr      string   `yaml:"listen_addr"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects persistence. An empty DSN runs in-memory.
type DatabaseConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

// RequestsConfig holds the fee and stake policy.
type RequestsConfig struct {
	FeePercent   int64 `yaml:"fee_percent"`
	MinimumStake int64 `yaml:"minimum_stake"`
}

// TimeoutsConfig holds the refund timeout policy.
type TimeoutsConfig struct {
	Request    Duration `yaml:"request"`
	Processing Duration `yaml:"processing"`
}

// OracleConfig points at the decryption oracle. An empty endpoint selects the
// in-process stub.
type OracleConfig struct {
	Endpoint    string `yaml:"endpoint"`
	APIKey      string `yaml:"api_key"`
	CallbackRef string `yaml:"callback_ref"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SweeperConfig controls the background timeout sweeper.
type SweeperConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RateLimitConfig controls per-principal request throttling.
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	Burst             int `yaml:"burst"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Requests: RequestsConfig{
			FeePercent:   2,
			MinimumStake: 100,
		},
		Timeouts: TimeoutsConfig{
			Request:    Duration(24 * time.Hour),
			Processing: Duration(time.Hour),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Sweeper: SweeperConfig{Enabled: true},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
		},
	}
}

// Load reads the configuration from config/coordinator.yaml.
func Load() (*Config, error) {
	return LoadFromPath(filepath.Join("config", "coordinator.yaml"))
}

// LoadFromPath reads the configuration from a specific path. Fields left
// unset in the file keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads the configuration or falls back to defaults when the
// file does not exist.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

func (c *Config) validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Requests.FeePercent < 0 || c.Requests.FeePercent > 100 {
		return fmt.Errorf("requests.fee_percent %d outside 0..100", c.Requests.FeePercent)
	}
	if c.Timeouts.Request <= 0 || c.Timeouts.Processing <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}
