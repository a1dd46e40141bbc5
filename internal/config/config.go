package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// EnvConfigPath lets the environment override the config file location.
const EnvConfigPath = "INTENTMCP_CONFIG"

// Config is everything the daemons load at startup.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Auth    AuthConfig    `json:"auth"`
	Storage StorageConfig `json:"storage"`
	Backend BackendConfig `json:"backend"`
	Events  EventsConfig  `json:"events"`
	Logging LoggingConfig `json:"logging"`
	Alerts  AlertsConfig  `json:"alerts"`
	Mock    MockConfig    `json:"mock"`
}

// ServerConfig controls the tool surface listener.
type ServerConfig struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	MetricsAddr string `json:"metrics_address"`
}

// AuthConfig selects the credential mode for the tool surface.
type AuthConfig struct {
	Mode   string      `json:"mode"`
	Tokens []AuthToken `json:"tokens"`
}

// AuthToken binds a static token to a subject name.
type AuthToken struct {
	Subject string `json:"subject"`
	Token   string `json:"token"`
}

// StorageConfig describes the intent store backends.
type StorageConfig struct {
	IntentStore IntentStoreConfig `json:"intent_store"`
}

// IntentStoreConfig selects memory or MySQL persistence.
type IntentStoreConfig struct {
	Driver          string `json:"driver"`
	DSN             string `json:"dsn"`
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifetime string `json:"conn_max_lifetime"`
}

// BackendConfig describes the TMF921 backend the engine drives.
type BackendConfig struct {
	BaseURL         string      `json:"base_url"`
	Timeout         string      `json:"timeout"`
	MaxAttempts     int         `json:"max_attempts"`
	RetryBackoff    string      `json:"retry_backoff"`
	RetryBackoffCap string      `json:"retry_backoff_cap"`
	OAuth           OAuthConfig `json:"oauth"`
	StaticToken     string      `json:"static_token"`
}

// OAuthConfig carries the password-grant credentials for the backend IdP.
type OAuthConfig struct {
	Enabled      bool   `json:"enabled"`
	TokenURL     string `json:"token_url"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	Scope        string `json:"scope"`
}

// EventsConfig selects the lifecycle event publisher.
type EventsConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig describes the Redis event stream.
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Stream   string `json:"stream"`
	MaxLen   int64  `json:"max_len"`
}

// RabbitMQConfig describes the AMQP event queue.
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// LoggingConfig mirrors pkg/logger's configuration surface.
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig controls the rotating audit log.
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// AlertsConfig wires the failure alert channels.
type AlertsConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// MockConfig controls the tmfmockd daemon.
type MockConfig struct {
	Address      string `json:"address"`
	MappingsPath string `json:"mappings_path"`
}

// Load parses the JSON config file. An empty path falls back to the
// INTENTMCP_CONFIG environment variable, then to built-in defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		cfg := &Config{}
		cfg.applyDefaults(".")
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.Name == "" {
		c.Server.Name = "intentmcp"
	}
	if c.Server.Version == "" {
		c.Server.Version = "dev"
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
	if c.Storage.IntentStore.Driver == "" {
		c.Storage.IntentStore.Driver = "memory"
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = "http://127.0.0.1:9090"
	}
	if c.Backend.Timeout == "" {
		c.Backend.Timeout = "30s"
	}
	if c.Backend.MaxAttempts <= 0 {
		c.Backend.MaxAttempts = 3
	}
	if c.Backend.RetryBackoff == "" {
		c.Backend.RetryBackoff = "500ms"
	}
	if c.Backend.RetryBackoffCap == "" {
		c.Backend.RetryBackoffCap = "5s"
	}
	if c.Backend.OAuth.Enabled && c.Backend.OAuth.TokenURL == "" {
		c.Backend.OAuth.TokenURL = c.Backend.BaseURL + "/auth/keycloak_realm/protocol/openid-connect/token"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
	}
	if c.Mock.Address == "" {
		c.Mock.Address = ":9090"
	}
}

// Duration parses a config duration string with a fallback.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

// Validate checks the combinations a daemon cannot start without.
func (c *Config) Validate() error {
	if c.Storage.IntentStore.Driver == "mysql" && c.Storage.IntentStore.DSN == "" {
		return errors.New("mysql intent store requires a dsn")
	}
	if c.Auth.Mode == "static" && len(c.Auth.Tokens) == 0 {
		return errors.New("static auth mode requires at least one token")
	}
	if c.Events.Driver == "redis" && c.Events.Redis.Address == "" {
		return errors.New("redis event driver requires an address")
	}
	if c.Events.Driver == "rabbitmq" && c.Events.RabbitMQ.URL == "" {
		return errors.New("rabbitmq event driver requires a url")
	}
	return nil
}
