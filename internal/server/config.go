package server

import (
	"fmt"
	"os"
	"time"

	kerrors "github.com/PolarWolf314/whanau/internal/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the directory server configuration.
type Config struct {
	// Listen is the address the server binds, e.g. ":8443".
	Listen string `yaml:"listen"`

	// Directory is the folder invites and public keys are kept in.
	Directory string `yaml:"directory"`

	// Tokens are the bearer tokens clients may present. Empty accepts any token.
	Tokens []string `yaml:"tokens"`

	// Metrics exposes Prometheus metrics at /metrics.
	Metrics bool `yaml:"metrics"`

	// RateLimit is the sustained requests per second allowed from one client
	// address, with RateBurst on top. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`

	ShutdownTimeout int `yaml:"shutdown_timeout_seconds"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:          ":8080",
		Metrics:         true,
		RateLimit:       5,
		RateBurst:       20,
		ShutdownTimeout: 5,
	}
}

// LoadConfig loads configuration from a YAML file. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration can be served.
func (c *Config) Validate() error {
	if c.Directory == "" {
		return fmt.Errorf("server needs a directory folder: %w", kerrors.ErrDirectoryNotConfigured)
	}
	if c.Listen == "" {
		return fmt.Errorf("server needs a listen address")
	}
	if c.RateLimit < 0 || (c.RateLimit > 0 && c.RateBurst <= 0) {
		return fmt.Errorf("rate_limit must be zero, or positive with a positive rate_burst")
	}
	for i, t := range c.Tokens {
		if t == "" {
			return fmt.Errorf("token %d is empty: %w", i, kerrors.ErrNotAuthenticated)
		}
	}
	return nil
}

func (c *Config) shutdownTimeout() time.Duration {
	if c.ShutdownTimeout <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ShutdownTimeout) * time.Second
}
