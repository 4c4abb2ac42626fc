package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/foxzi/discador/internal/quota"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return cfgPath
}

func TestLoad(t *testing.T) {
	content := `
server:
  listen_addr: ":9080"
  write_timeout: 2m

backend:
  url: "https://dialer.example.com/api"
  token: "file-token"
  timeout: 10s
  retry_attempts: 4
  delete_attempts: 1

cache:
  list_ttl: 2m
  stats_ttl: 5s

polling:
  campaigns_interval: 1m
  calls_interval: 3s
  jitter: 0.1

storage:
  path: "/tmp/console.db"

auth:
  api_keys:
    - name: ana
      hash: "$2a$10$abcdefghijklmnopqrstuv"

quota:
  enabled: true
  operator:
    per_hour: 50
  overrides:
    supervisor:
      per_hour: 500
      per_day: 5000

debug:
  enabled: true

logging:
  level: "debug"
  format: "text"
`
	t.Setenv(TokenEnv, "")
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddr != ":9080" {
		t.Errorf("Server.ListenAddr = %v, want :9080", cfg.Server.ListenAddr)
	}
	if cfg.Server.WriteTimeout != 2*time.Minute {
		t.Errorf("Server.WriteTimeout = %v, want 2m", cfg.Server.WriteTimeout)
	}
	if cfg.Backend.URL != "https://dialer.example.com/api" || cfg.Backend.Token != "file-token" {
		t.Errorf("Backend = %+v", cfg.Backend)
	}
	if cfg.Backend.RetryAttempts != 4 || cfg.Backend.DeleteAttempts != 1 {
		t.Errorf("Backend attempts = %d/%d, want 4/1", cfg.Backend.RetryAttempts, cfg.Backend.DeleteAttempts)
	}
	if cfg.Cache.ListTTL != 2*time.Minute || cfg.Cache.StatsTTL != 5*time.Second {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.Polling.CallsInterval != 3*time.Second || cfg.Polling.Jitter != 0.1 {
		t.Errorf("Polling = %+v", cfg.Polling)
	}
	if len(cfg.Auth.APIKeys) != 1 || cfg.Auth.APIKeys[0].Name != "ana" {
		t.Errorf("Auth.APIKeys = %+v", cfg.Auth.APIKeys)
	}
	if !cfg.Quota.Enabled || cfg.Quota.Overrides["supervisor"].PerDay != 5000 {
		t.Errorf("Quota = %+v", cfg.Quota)
	}
	if !cfg.Debug.Enabled {
		t.Error("Debug.Enabled = false, want true")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}

	qc := cfg.QuotaLimiterConfig()
	if qc.Operator != (quota.Limits{PerHour: 50}) || qc.FlushInterval != 10*time.Second {
		t.Errorf("QuotaLimiterConfig() = %+v", qc)
	}
}

const minimalConfig = `
backend:
  url: "http://localhost:8000"
auth:
  api_keys:
    - name: ana
      hash: "x"
`

func TestLoadDefaults(t *testing.T) {
	t.Setenv(TokenEnv, "")
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("Server.ListenAddr = %v, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Server.MaxUploadBytes != 20<<20 {
		t.Errorf("Server.MaxUploadBytes = %v, want 20MB", cfg.Server.MaxUploadBytes)
	}
	if cfg.Backend.RetryAttempts != 3 || cfg.Backend.DeleteAttempts != 2 || cfg.Backend.RetryDelay != time.Second {
		t.Errorf("Backend retry defaults = %+v", cfg.Backend)
	}
	if cfg.Cache.ListTTL != 5*time.Minute || cfg.Cache.StatsTTL != 10*time.Second {
		t.Errorf("Cache defaults = %+v", cfg.Cache)
	}
	if cfg.Polling.Jitter != 0.2 || cfg.Polling.MaxBackoff != 5*time.Minute {
		t.Errorf("Polling defaults = %+v", cfg.Polling)
	}
	if cfg.Storage.Path != "/var/lib/discador/console.db" {
		t.Errorf("Storage.Path = %v", cfg.Storage.Path)
	}
	if cfg.Metrics.ListenAddr != ":9091" || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics defaults = %+v", cfg.Metrics)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %v, want info", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %v, want json", cfg.Logging.Format)
	}
}

func TestLoadTokenFromEnv(t *testing.T) {
	t.Setenv(TokenEnv, "env-token")
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.Token != "env-token" {
		t.Errorf("Backend.Token = %q, want env-token", cfg.Backend.Token)
	}
}

func validConfig() Config {
	cfg := Config{
		Backend: BackendConfig{URL: "http://localhost:8000"},
		Auth:    AuthConfig{APIKeys: []APIKey{{Name: "ana", Hash: "x"}}},
	}
	cfg.setDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{name: "valid config", modify: func(c *Config) {}},
		{
			name:    "missing backend url",
			modify:  func(c *Config) { c.Backend.URL = "" },
			wantErr: "backend.url is required",
		},
		{
			name:    "relative backend url",
			modify:  func(c *Config) { c.Backend.URL = "/api" },
			wantErr: "backend.url",
		},
		{
			name:    "unsupported scheme",
			modify:  func(c *Config) { c.Backend.URL = "ftp://dialer" },
			wantErr: "backend.url",
		},
		{
			name:    "stats ttl longer than list ttl",
			modify:  func(c *Config) { c.Cache.StatsTTL = time.Hour },
			wantErr: "cache.stats_ttl",
		},
		{
			name:    "jitter out of range",
			modify:  func(c *Config) { c.Polling.Jitter = 1.5 },
			wantErr: "polling.jitter",
		},
		{
			name:    "no api keys",
			modify:  func(c *Config) { c.Auth.APIKeys = nil },
			wantErr: "auth.api_keys",
		},
		{
			name: "duplicate operator",
			modify: func(c *Config) {
				c.Auth.APIKeys = append(c.Auth.APIKeys, APIKey{Name: "ana", Hash: "y"})
			},
			wantErr: "duplicate operator",
		},
		{
			name:    "key without hash",
			modify:  func(c *Config) { c.Auth.APIKeys[0].Hash = "" },
			wantErr: "hash is required",
		},
		{
			name:    "negative override",
			modify:  func(c *Config) { c.Quota.Overrides = map[string]quota.Limits{"ana": {PerHour: -1}} },
			wantErr: "quota.overrides.ana",
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Logging.Level = "invalid" },
			wantErr: "logging.level",
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.Logging.Format = "invalid" },
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() expected error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, `invalid: yaml: content: [`))
	if err == nil {
		t.Error("Load() expected error for invalid YAML")
	}
}
