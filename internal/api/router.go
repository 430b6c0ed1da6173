// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/studypath/relay/internal/auth"
	"github.com/studypath/relay/internal/config"
	"github.com/studypath/relay/internal/middleware"
)

// chiMiddleware adapts http.HandlerFunc middleware to Chi's
// func(http.Handler) http.Handler so it can be used with r.Use().
func chiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// NewRouter wires all HTTP routes: the websocket upgrade endpoint, the
// REST API and the operational endpoints.
func NewRouter(cfg *config.Config, handler *Handler, verifier auth.TokenVerifier, ws http.Handler) http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route in order.
	r.Use(chiMiddleware(middleware.RequestID))
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Websocket upgrade. Token exchange happens inside the connection,
	// so the route itself carries no auth middleware.
	r.Get("/ws", ws.ServeHTTP)

	// Operational endpoints.
	r.Get("/api/v1/health", handler.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Token issuance, rate limited hard against brute force.
	r.Route("/api/v1/auth", func(r chi.Router) {
		if !cfg.Security.RateLimitDisabled {
			r.Use(httprate.LimitByIP(10, cfg.Security.RateLimitWindow))
		}
		r.Post("/login", handler.Login)
	})

	// Authenticated REST API.
	r.Route("/api/v1", func(r chi.Router) {
		if !cfg.Security.RateLimitDisabled {
			r.Use(httprate.LimitByIP(cfg.Security.RateLimitReqs, cfg.Security.RateLimitWindow))
		}
		r.Use(chiMiddleware(middleware.PrometheusMetrics))
		r.Use(chiMiddleware(middleware.Compression))
		r.Use(chiMiddleware(middleware.Authenticate(verifier)))

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", handler.ListNotifications)
			r.Post("/", handler.PublishNotification)
			r.Get("/unread-count", handler.UnreadNotificationCount)
			r.Post("/{id}/read", handler.MarkNotificationRead)
			r.Delete("/{id}", handler.DeleteNotification)
		})

		r.Post("/applications/updates", handler.PublishApplicationUpdate)

		r.Route("/chat", func(r chi.Router) {
			r.Post("/messages/{id}/read", handler.MarkMessageRead)
			r.Get("/{peerID}/messages", handler.Conversation)
			r.Post("/{peerID}/messages", handler.SendMessage)
			r.Get("/{peerID}/unread-count", handler.UnreadMessageCount)
		})
	})

	return r
}
