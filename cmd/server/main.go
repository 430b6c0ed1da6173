// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

// Package main is the entry point for the Relay server.
//
// Relay is the real-time messaging gateway for the StudyPath platform. It
// delivers notifications, application status updates, and counselor/student
// chat over WebSocket connections, backed by a BadgerDB persistence layer
// and a REST API for history and administration.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Load settings from environment variables and config files (Koanf v2)
//  2. Store: Open BadgerDB for notification and chat persistence
//  3. Authentication: JWT manager and circuit-breaker-wrapped token verifier
//  4. Hub: WebSocket hub with connection registry and load monitoring
//  5. HTTP Server: REST API plus the /ws upgrade endpoint
//  6. Supervisor Tree: suture v4 supervision of the hub and HTTP server
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, config file (config.yaml),
// built-in defaults. Required settings:
//
//   - JWT_SECRET: 32+ character secret for token signing
//   - STORE_PATH: BadgerDB data directory (or STORE_IN_MEMORY=true)
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new connections
//   - Closes every WebSocket with a close frame
//   - Waits for in-flight requests to complete (10s timeout)
//   - Closes the BadgerDB store
//
// # Example Usage
//
// Development with an in-memory store:
//
//	export JWT_SECRET=$(openssl rand -base64 32)
//	export STORE_IN_MEMORY=true
//	./relay
//
// Production:
//
//	export JWT_SECRET=$(openssl rand -base64 32)
//	export STORE_PATH=/data/relay
//	export CORS_ORIGINS=https://app.studypath.io
//	./relay
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/studypath/relay/internal/api"
	"github.com/studypath/relay/internal/auth"
	"github.com/studypath/relay/internal/chat"
	"github.com/studypath/relay/internal/config"
	"github.com/studypath/relay/internal/logging"
	"github.com/studypath/relay/internal/notifications"
	"github.com/studypath/relay/internal/realtime"
	"github.com/studypath/relay/internal/storage"
	"github.com/studypath/relay/internal/supervisor"
	"github.com/studypath/relay/internal/supervisor/services"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize zerolog with configuration
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Msg("Starting Relay with supervisor tree")
	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("store_path", cfg.Store.Path).
		Bool("store_in_memory", cfg.Store.InMemory).
		Int("max_connections", cfg.Realtime.MaxConnections).
		Msg("Configuration loaded")

	// Open the BadgerDB store backing notifications and chat history
	db, err := storage.Open(cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()
	logging.Info().Msg("Store opened successfully")

	// JWT manager issues tokens for the login endpoint; the verifier is
	// wrapped in a circuit breaker so repeated verification failures trip
	// open instead of hammering the hub's read pumps.
	jwtManager, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize JWT manager")
	}
	verifier := auth.NewBreakerVerifier(auth.NewJWTVerifier(jwtManager), auth.DefaultBreakerConfig())
	logging.Info().Msg("JWT authentication enabled")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Hub with connection registry and load monitoring
	registry := realtime.NewRegistry()
	load := realtime.NewLoadMonitor(
		cfg.Realtime.MaxConnections,
		cfg.Realtime.WarnThreshold,
		cfg.Realtime.MessageRate,
		cfg.Realtime.MessageBurst,
	)
	hub := realtime.NewHub(cfg.Realtime, registry, verifier, load)

	// Domain services push through the hub; the chat service also receives
	// inbound chat envelopes from it.
	notificationSvc := notifications.NewService(notifications.NewStore(db), hub)
	chatSvc := chat.NewService(chat.NewStore(db), hub)
	hub.SetChatDelegate(chatSvc)

	handler := api.NewHandler(jwtManager, notificationSvc, chatSvc)
	wsHandler := realtime.NewHandler(hub, cfg.Server.CORSOrigins)
	router := api.NewRouter(cfg, handler, verifier, wsHandler)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	// Create structured logger for supervisor using our slog adapter
	// This bridges zerolog to slog for sutureslog compatibility
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddRealtimeService(services.NewHubService(hub))
	logging.Info().Msg("WebSocket hub added to supervisor tree")

	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	// Wait for supervisor to finish (either from signal or error)
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Wait for the error channel to close (supervisor finished)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	// Report any services that failed to stop within timeout
	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}
