// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

// Package metrics provides Prometheus instrumentation for Relay:
// connection lifecycle, envelope throughput, fan-out delivery, load
// alerts, and REST endpoint latency. Collectors are registered via
// promauto at package load and served on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection lifecycle
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connections_active",
			Help: "Current number of open WebSocket connections",
		},
	)

	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_connections_total",
			Help: "Total number of WebSocket connections accepted",
		},
	)

	ConnectionsBound = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_connections_bound_total",
			Help: "Total number of connections bound to a user identity",
		},
	)

	HandshakeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_handshake_failures_total",
			Help: "Total number of failed authenticate attempts",
		},
	)

	// Envelope throughput
	MessagesInbound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_inbound_total",
			Help: "Total inbound envelopes by kind",
		},
		[]string{"kind"},
	)

	MessagesOutbound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_outbound_total",
			Help: "Total outbound envelopes by kind",
		},
		[]string{"kind"},
	)

	MessagesMalformed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_messages_malformed_total",
			Help: "Total inbound envelopes that failed to parse",
		},
	)

	SendsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_sends_dropped_total",
			Help: "Total outbound envelopes dropped because a connection's send queue was full or closed",
		},
	)

	// Fan-out
	FanoutTargets = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_fanout_targets",
			Help:    "Number of connections reached per user-targeted push",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	// Load and rate limiting
	SystemAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_system_alerts_total",
			Help: "Total system alerts broadcast by severity level",
		},
		[]string{"level"},
	)

	RateLimitSignals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_rate_limit_signals_total",
			Help: "Total rate_limit_exceeded envelopes sent to clients",
		},
	)

	// REST API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordAPIRequest records one completed API request.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
