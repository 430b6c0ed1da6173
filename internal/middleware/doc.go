// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

/*
Package middleware provides HTTP middleware for the Relay REST API.

Key components:

  - Authenticate: bearer-token authentication backed by a TokenVerifier,
    storing the resulting identity in the request context
  - RequestID: UUID-based request tracking wired into the logging context
  - PrometheusMetrics: request count and latency instrumentation
  - Compression: gzip for response bodies, skipping WebSocket upgrades

All middleware operates on http.HandlerFunc so it composes directly with
chi route groups via a small adapter in the api package.
*/
package middleware
