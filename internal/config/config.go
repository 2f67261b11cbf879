// Package config provides configuration loading and validation for the
// catalog console.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides
// (CATALOG_CONSOLE_LOG_LEVEL, CATALOG_CONSOLE_ADDRESS, ...).
const EnvPrefix = "CATALOG_CONSOLE"

// Option defines the interface for configuration options.
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration.
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file.
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks.
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config is the root configuration structure.
type Config struct {
	// Address is the console's own listen address.
	Address string `yaml:"address,omitempty"`

	// Commerce configures the commerce platform upstream.
	Commerce UpstreamConfig `yaml:"commerce"`

	// MDM configures the master-data-management upstream.
	MDM UpstreamConfig `yaml:"mdm"`

	// Client tunes the shared resource client behavior.
	Client ClientConfig `yaml:"client,omitempty"`

	// Sync tunes the sync orchestrator.
	Sync SyncConfig `yaml:"sync,omitempty"`

	// SettingsFile is the path of the persisted view-settings document.
	// Empty selects the in-memory store.
	SettingsFile string `yaml:"settingsFile,omitempty"`

	// Telemetry enables the Prometheus metrics endpoint.
	Telemetry bool `yaml:"telemetry,omitempty"`
}

// UpstreamConfig identifies one upstream API.
type UpstreamConfig struct {
	// BaseURL is the upstream base URL.
	BaseURL string `yaml:"baseUrl"`

	// TokenFile is the path to a file containing the bearer token. The
	// file should contain only the token with optional trailing whitespace.
	TokenFile string `yaml:"tokenFile,omitempty"`
}

// ClientConfig tunes the resource client.
type ClientConfig struct {
	// RequestTimeout is the per-request deadline (e.g. "30s").
	RequestTimeout string `yaml:"requestTimeout,omitempty"`

	// Retries is the maximum number of attempts per request.
	Retries int `yaml:"retries,omitempty"`

	// CacheSize bounds the response cache entry count.
	CacheSize int `yaml:"cacheSize,omitempty"`

	// CacheTTL is the default response cache TTL (e.g. "60s").
	CacheTTL string `yaml:"cacheTtl,omitempty"`

	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit for a target.
	BreakerThreshold int `yaml:"breakerThreshold,omitempty"`

	// BreakerOpenFor is how long the circuit stays open (e.g. "30s").
	BreakerOpenFor string `yaml:"breakerOpenFor,omitempty"`
}

// SyncConfig tunes the sync orchestrator.
type SyncConfig struct {
	// SourceRetries is the per-source retry budget for the stock fan-out.
	// Negative means the default.
	SourceRetries int `yaml:"sourceRetries,omitempty"`
}

// GetToken returns the upstream bearer token, reading TokenFile when set.
// The token from file has leading/trailing whitespace trimmed.
func (u *UpstreamConfig) GetToken() (string, error) {
	if u.TokenFile == "" {
		return "", nil
	}
	// Use filepath.Clean to prevent path traversal attacks.
	cleanPath := filepath.Clean(u.TokenFile)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return "", fmt.Errorf("failed to read token from file %s: %w", u.TokenFile, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// RequestTimeoutDuration parses the configured request timeout, falling back
// to the given default.
func (c *ClientConfig) RequestTimeoutDuration(fallback time.Duration) time.Duration {
	return parseDuration(c.RequestTimeout, fallback)
}

// CacheTTLDuration parses the configured cache TTL, falling back to the
// given default.
func (c *ClientConfig) CacheTTLDuration(fallback time.Duration) time.Duration {
	return parseDuration(c.CacheTTL, fallback)
}

// BreakerOpenForDuration parses the configured open duration, falling back
// to the given default.
func (c *ClientConfig) BreakerOpenForDuration(fallback time.Duration) time.Duration {
	return parseDuration(c.BreakerOpenFor, fallback)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// LoadConfig loads and parses configuration from a YAML file.
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Pre-set so an absent field is distinguishable from an explicit zero.
	config := Config{Sync: SyncConfig{SourceRetries: -1}}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateUpstream("commerce", &c.Commerce); err != nil {
		return err
	}
	if err := validateUpstream("mdm", &c.MDM); err != nil {
		return err
	}

	if c.Client.Retries < 0 {
		return fmt.Errorf("client.retries cannot be negative")
	}
	if c.Client.CacheSize < 0 {
		return fmt.Errorf("client.cacheSize cannot be negative")
	}
	if c.Client.BreakerThreshold < 0 {
		return fmt.Errorf("client.breakerThreshold cannot be negative")
	}

	return nil
}

// GetAddress returns the listen address, using ":8080" if not specified.
func (c *Config) GetAddress() string {
	if c.Address == "" {
		return ":8080"
	}
	return c.Address
}

func validateUpstream(name string, u *UpstreamConfig) error {
	if u.BaseURL == "" {
		return fmt.Errorf("%s.baseUrl is required", name)
	}
	parsed, err := url.Parse(u.BaseURL)
	if err != nil {
		return fmt.Errorf("%s.baseUrl is not a valid URL: %w", name, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s.baseUrl must use http or https, got %q", name, parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s.baseUrl has no host", name)
	}
	return nil
}
