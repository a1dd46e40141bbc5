package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" || cfg.Server.Name != "intentmcp" {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Auth.Mode != "disabled" {
		t.Fatalf("unexpected auth default: %+v", cfg.Auth)
	}
	if cfg.Storage.IntentStore.Driver != "memory" || cfg.Events.Driver != "memory" {
		t.Fatalf("unexpected driver defaults: %+v", cfg)
	}
	if cfg.Backend.MaxAttempts != 3 || cfg.Backend.Timeout != "30s" {
		t.Fatalf("unexpected backend defaults: %+v", cfg.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		"server": {"address": ":7070", "version": "1.2.3"},
		"auth": {"mode": "static", "tokens": [{"subject": "ops", "token": "tok"}]},
		"backend": {"base_url": "http://backend:9191", "oauth": {"enabled": true, "username": "u", "password": "p"}},
		"logging": {"audit": {"enabled": true}}
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":7070" || cfg.Server.Version != "1.2.3" {
		t.Fatalf("file values lost: %+v", cfg.Server)
	}
	// Unset values still fall back.
	if cfg.Server.Name != "intentmcp" || cfg.Backend.RetryBackoff != "500ms" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	// The OAuth token URL derives from the backend base URL.
	want := "http://backend:9191/auth/keycloak_realm/protocol/openid-connect/token"
	if cfg.Backend.OAuth.TokenURL != want {
		t.Fatalf("got token url %q, want %q", cfg.Backend.OAuth.TokenURL, want)
	}
	// The audit path lands next to the config file.
	if cfg.Logging.Audit.Path != filepath.Join(dir, "logs", "audit.log") {
		t.Fatalf("unexpected audit path %q", cfg.Logging.Audit.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadRejectsMissingAndMalformedFiles(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for a missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed json")
	}
}

func TestValidateCatchesBrokenCombinations(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"mysql without dsn", func(c *Config) { c.Storage.IntentStore.Driver = "mysql" }},
		{"static auth without tokens", func(c *Config) { c.Auth.Mode = "static" }},
		{"redis without address", func(c *Config) { c.Events.Driver = "redis" }},
		{"rabbitmq without url", func(c *Config) { c.Events.Driver = "rabbitmq" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.applyDefaults(".")
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("", 2*time.Second); got != 2*time.Second {
		t.Fatalf("empty input: got %v", got)
	}
	if got := Duration("150ms", time.Second); got != 150*time.Millisecond {
		t.Fatalf("valid input: got %v", got)
	}
	if got := Duration("soon", time.Second); got != time.Second {
		t.Fatalf("invalid input: got %v", got)
	}
}
