package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foxzi/discador/internal/quota"
)

// TokenEnv overrides backend.token when set
const TokenEnv = "DISCADOR_BACKEND_TOKEN"

// Config is the main configuration structure
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Cache   CacheConfig   `yaml:"cache"`
	Polling PollingConfig `yaml:"polling"`
	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`
	Quota   QuotaConfig   `yaml:"quota"`
	Metrics MetricsConfig `yaml:"metrics"` // Prometheus metrics configuration
	Debug   DebugConfig   `yaml:"debug"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains console HTTP API settings
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes"` // Max HTTP header size (default: 1MB)
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // HTTP read timeout (default: 30s)
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // HTTP write timeout (default: 60s, uploads stream through it)
	IdleTimeout     time.Duration `yaml:"idle_timeout"`     // HTTP idle timeout (default: 60s)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // Graceful shutdown budget (default: 30s)
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"` // Max audio upload size (default: 20MB)
}

// BackendConfig describes the dialer REST backend
type BackendConfig struct {
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	Timeout        time.Duration `yaml:"timeout"`
	UserAgent      string        `yaml:"user_agent"`
	RetryAttempts  int           `yaml:"retry_attempts"`  // Attempts per operation (default: 3)
	RetryDelay     time.Duration `yaml:"retry_delay"`     // Linear back-off base (default: 1s)
	DeleteAttempts int           `yaml:"delete_attempts"` // Attempts for campaign delete (default: 2)
}

// CacheConfig contains sync cache TTLs
type CacheConfig struct {
	ListTTL         time.Duration `yaml:"list_ttl"`         // Default: 5m
	StatsTTL        time.Duration `yaml:"stats_ttl"`        // Default: 10s
	JanitorInterval time.Duration `yaml:"janitor_interval"` // Default: 1m
}

// PollingConfig contains background refresh settings
type PollingConfig struct {
	CampaignsInterval time.Duration `yaml:"campaigns_interval"` // Default: 30s
	CallsInterval     time.Duration `yaml:"calls_interval"`     // Default: 5s
	Jitter            float64       `yaml:"jitter"`             // Fraction of interval, default 0.2
	MaxBackoff        time.Duration `yaml:"max_backoff"`        // Default: 5m
}

// StorageConfig contains local snapshot storage settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig lists the operator keys allowed to use the console API
type AuthConfig struct {
	APIKeys []APIKey `yaml:"api_keys"`
}

// APIKey is one operator credential. Hash is a bcrypt hash of the key.
type APIKey struct {
	Name string `yaml:"name"`
	Hash string `yaml:"hash"`
}

// QuotaConfig contains operator action limits
type QuotaConfig struct {
	Enabled       bool                    `yaml:"enabled"`
	Global        quota.Limits            `yaml:"global"`
	Operator      quota.Limits            `yaml:"operator"`
	Overrides     map[string]quota.Limits `yaml:"overrides"`
	FlushInterval time.Duration           `yaml:"flush_interval"` // Default: 10s
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`    // Default: :9091
	Path          string        `yaml:"path"`           // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 10s
	AllowedIPs    []string      `yaml:"allowed_ips"`    // IP addresses/CIDRs allowed to access metrics
}

// DebugConfig toggles development helpers
type DebugConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if token := os.Getenv(TokenEnv); token != "" {
		cfg.Backend.Token = token
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.MaxHeaderBytes == 0 {
		c.Server.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 20 << 20
	}

	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 30 * time.Second
	}
	if c.Backend.UserAgent == "" {
		c.Backend.UserAgent = "discador-console"
	}
	if c.Backend.RetryAttempts == 0 {
		c.Backend.RetryAttempts = 3
	}
	if c.Backend.RetryDelay == 0 {
		c.Backend.RetryDelay = time.Second
	}
	if c.Backend.DeleteAttempts == 0 {
		c.Backend.DeleteAttempts = 2
	}

	if c.Cache.ListTTL == 0 {
		c.Cache.ListTTL = 5 * time.Minute
	}
	if c.Cache.StatsTTL == 0 {
		c.Cache.StatsTTL = 10 * time.Second
	}
	if c.Cache.JanitorInterval == 0 {
		c.Cache.JanitorInterval = time.Minute
	}

	if c.Polling.CampaignsInterval == 0 {
		c.Polling.CampaignsInterval = 30 * time.Second
	}
	if c.Polling.CallsInterval == 0 {
		c.Polling.CallsInterval = 5 * time.Second
	}
	if c.Polling.Jitter == 0 {
		c.Polling.Jitter = 0.2
	}
	if c.Polling.MaxBackoff == 0 {
		c.Polling.MaxBackoff = 5 * time.Minute
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/discador/console.db"
	}

	if c.Quota.FlushInterval == 0 {
		c.Quota.FlushInterval = 10 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	// Metrics defaults
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9091"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("backend.url must be an absolute http(s) URL: %s", c.Backend.URL)
	}
	if c.Backend.RetryAttempts < 1 {
		return fmt.Errorf("backend.retry_attempts must be at least 1")
	}
	if c.Backend.DeleteAttempts < 1 {
		return fmt.Errorf("backend.delete_attempts must be at least 1")
	}

	if c.Cache.StatsTTL > c.Cache.ListTTL {
		return fmt.Errorf("cache.stats_ttl (%s) must not exceed cache.list_ttl (%s)", c.Cache.StatsTTL, c.Cache.ListTTL)
	}

	if c.Polling.Jitter < 0 || c.Polling.Jitter >= 1 {
		return fmt.Errorf("polling.jitter must be in [0, 1)")
	}
	if c.Polling.MaxBackoff < c.Polling.CallsInterval {
		return fmt.Errorf("polling.max_backoff must not be shorter than polling.calls_interval")
	}

	if len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth.api_keys must not be empty")
	}
	names := make(map[string]bool, len(c.Auth.APIKeys))
	for i, k := range c.Auth.APIKeys {
		if k.Name == "" {
			return fmt.Errorf("auth.api_keys[%d].name is required", i)
		}
		if k.Hash == "" {
			return fmt.Errorf("auth.api_keys[%d].hash is required", i)
		}
		if names[k.Name] {
			return fmt.Errorf("duplicate operator name in auth.api_keys: %s", k.Name)
		}
		names[k.Name] = true
	}

	for name, l := range c.Quota.Overrides {
		if l.PerHour < 0 || l.PerDay < 0 {
			return fmt.Errorf("quota.overrides.%s limits must not be negative", name)
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}

// QuotaLimiterConfig converts the quota section for the limiter
func (c *Config) QuotaLimiterConfig() quota.Config {
	return quota.Config{
		Global:        c.Quota.Global,
		Operator:      c.Quota.Operator,
		Overrides:     c.Quota.Overrides,
		FlushInterval: c.Quota.FlushInterval,
	}
}
