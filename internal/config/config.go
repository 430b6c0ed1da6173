// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

// Package config loads and validates Relay configuration.
//
// Configuration is layered via Koanf v2 (highest priority wins):
//  1. Environment variables
//  2. Config file (config.yaml)
//  3. Built-in defaults
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Relay server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Realtime RealtimeConfig `koanf:"realtime"`
	Security SecurityConfig `koanf:"security"`
	Store    StoreConfig    `koanf:"store"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	CORSOrigins []string      `koanf:"cors_origins"`
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RealtimeConfig holds WebSocket hub settings.
type RealtimeConfig struct {
	// HeartbeatInterval is the expected client ping cadence.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`

	// IdleTimeout reaps connections with no inbound traffic. Should be a
	// small multiple of HeartbeatInterval so a healthy client never trips it.
	IdleTimeout time.Duration `koanf:"idle_timeout"`

	// MaxConnections is the hard aggregate connection limit used for
	// critical load alerts.
	MaxConnections int `koanf:"max_connections"`

	// WarnThreshold is the connection count at which a warning-level
	// system alert is broadcast.
	WarnThreshold int `koanf:"warn_threshold"`

	// MessageRate and MessageBurst bound per-connection inbound traffic.
	// Exceeding them emits an advisory rate_limit_exceeded envelope.
	MessageRate  float64 `koanf:"message_rate"`
	MessageBurst int     `koanf:"message_burst"`

	// MaxAuthFailures closes a connection after this many consecutive
	// failed authenticate attempts. 0 disables the cutoff.
	MaxAuthFailures int `koanf:"max_auth_failures"`

	// SendBuffer is the per-connection outbound queue depth. A full queue
	// marks the connection dead and drops it.
	SendBuffer int `koanf:"send_buffer"`
}

// SecurityConfig holds authentication settings.
type SecurityConfig struct {
	// JWTSecret signs and verifies bearer tokens. Minimum 32 characters.
	JWTSecret string `koanf:"jwt_secret"`

	// SessionTimeout is the issued-token lifetime.
	SessionTimeout time.Duration `koanf:"session_timeout"`

	// RateLimitReqs/RateLimitWindow bound REST requests per client IP.
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// StoreConfig holds BadgerDB settings for the notification and chat stores.
type StoreConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for values that cannot work at runtime.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Realtime.HeartbeatInterval <= 0 {
		return fmt.Errorf("realtime.heartbeat_interval must be positive, got %s", c.Realtime.HeartbeatInterval)
	}
	if c.Realtime.IdleTimeout < c.Realtime.HeartbeatInterval {
		return fmt.Errorf("realtime.idle_timeout (%s) must be at least realtime.heartbeat_interval (%s)",
			c.Realtime.IdleTimeout, c.Realtime.HeartbeatInterval)
	}
	if c.Realtime.MaxConnections <= 0 {
		return fmt.Errorf("realtime.max_connections must be positive, got %d", c.Realtime.MaxConnections)
	}
	if c.Realtime.WarnThreshold <= 0 || c.Realtime.WarnThreshold > c.Realtime.MaxConnections {
		return fmt.Errorf("realtime.warn_threshold must be between 1 and max_connections (%d), got %d",
			c.Realtime.MaxConnections, c.Realtime.WarnThreshold)
	}
	if c.Realtime.MessageRate <= 0 {
		return fmt.Errorf("realtime.message_rate must be positive, got %f", c.Realtime.MessageRate)
	}
	if c.Realtime.SendBuffer <= 0 {
		return fmt.Errorf("realtime.send_buffer must be positive, got %d", c.Realtime.SendBuffer)
	}
	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("security.jwt_secret must be at least 32 characters, got %d", len(c.Security.JWTSecret))
	}
	if c.Store.Path == "" && !c.Store.InMemory {
		return fmt.Errorf("store.path is required unless store.in_memory is set")
	}
	return nil
}
