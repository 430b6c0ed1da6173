// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// validSecret is 32+ characters, the minimum accepted.
const validSecret = "0123456789abcdef0123456789abcdef"

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Security.JWTSecret = validSecret
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Server.Port != 8090 {
		t.Errorf("expected default port 8090, got %d", cfg.Server.Port)
	}
	if cfg.Realtime.HeartbeatInterval != 20*time.Second {
		t.Errorf("expected 20s heartbeat, got %s", cfg.Realtime.HeartbeatInterval)
	}
	if cfg.Realtime.WarnThreshold >= cfg.Realtime.MaxConnections {
		t.Error("default warn threshold should be below max connections")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"zero port", func(c *Config) { c.Server.Port = 0 }, true},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, true},
		{"zero heartbeat", func(c *Config) { c.Realtime.HeartbeatInterval = 0 }, true},
		{"idle below heartbeat", func(c *Config) { c.Realtime.IdleTimeout = time.Second }, true},
		{"zero max connections", func(c *Config) { c.Realtime.MaxConnections = 0 }, true},
		{"warn above max", func(c *Config) { c.Realtime.WarnThreshold = c.Realtime.MaxConnections + 1 }, true},
		{"zero message rate", func(c *Config) { c.Realtime.MessageRate = 0 }, true},
		{"zero send buffer", func(c *Config) { c.Realtime.SendBuffer = 0 }, true},
		{"short jwt secret", func(c *Config) { c.Security.JWTSecret = "short" }, true},
		{"empty store path", func(c *Config) { c.Store.Path = "" }, true},
		{"in-memory store without path", func(c *Config) {
			c.Store.Path = ""
			c.Store.InMemory = true
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", validSecret)
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("WS_HEARTBEAT_INTERVAL", "5s")
	t.Setenv("WS_IDLE_TIMEOUT", "15s")
	t.Setenv("WS_WARN_THRESHOLD", "50")
	t.Setenv("WS_MAX_CONNECTIONS", "100")
	t.Setenv("CORS_ORIGINS", "https://app.studypath.io, https://admin.studypath.io")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Realtime.HeartbeatInterval != 5*time.Second {
		t.Errorf("expected 5s heartbeat, got %s", cfg.Realtime.HeartbeatInterval)
	}
	if cfg.Realtime.WarnThreshold != 50 {
		t.Errorf("expected warn threshold 50, got %d", cfg.Realtime.WarnThreshold)
	}
	if len(cfg.Server.CORSOrigins) != 2 {
		t.Fatalf("expected 2 CORS origins, got %v", cfg.Server.CORSOrigins)
	}
	if cfg.Server.CORSOrigins[1] != "https://admin.studypath.io" {
		t.Errorf("expected trimmed origin, got %q", cfg.Server.CORSOrigins[1])
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 7070
realtime:
  max_connections: 500
  warn_threshold: 400
security:
  jwt_secret: "` + validSecret + `"
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("expected port 7070 from file, got %d", cfg.Server.Port)
	}
	if cfg.Realtime.MaxConnections != 500 {
		t.Errorf("expected 500 max connections from file, got %d", cfg.Realtime.MaxConnections)
	}
	// Untouched settings keep their defaults.
	if cfg.Realtime.HeartbeatInterval != 20*time.Second {
		t.Errorf("expected default heartbeat, got %s", cfg.Realtime.HeartbeatInterval)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 7070
security:
  jwt_secret: "` + validSecret + `"
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("HTTP_PORT", "6060")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != 6060 {
		t.Errorf("env should override file, expected 6060, got %d", cfg.Server.Port)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("JWT_SECRET", "too-short")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for short jwt secret")
	}
}

func TestAddr(t *testing.T) {
	cfg := ServerConfig{Host: "127.0.0.1", Port: 8090}
	if cfg.Addr() != "127.0.0.1:8090" {
		t.Errorf("unexpected addr %q", cfg.Addr())
	}
}
