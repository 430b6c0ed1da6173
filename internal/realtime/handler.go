// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

package realtime

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/studypath/relay/internal/logging"
)

// Handler upgrades HTTP requests on /ws into hub-managed connections.
type Handler struct {
	hub            *Hub
	allowedOrigins []string
}

// NewHandler creates the WebSocket upgrade handler. allowedOrigins
// follows the CORS origin list; "*" allows any non-empty origin.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		hub:            hub,
		allowedOrigins: allowedOrigins,
	}
}

// upgrader builds a WebSocket upgrader with origin checking and a
// handshake timeout against slow-client attacks.
func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkOrigin validates the browser Origin header. Legitimate browser
// WebSockets always include Origin; allowing an empty one would bypass
// origin checking entirely, so non-browser clients must send it too.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("websocket connection rejected: missing Origin header")
		return false
	}

	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	logging.Warn().Str("origin", origin).Msg("websocket connection rejected: origin not allowed")
	return false
}

// ServeHTTP handles GET /ws: upgrades the transport and attaches the
// connection to the hub.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := h.upgrader()
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.hub.Attach(newConn(h.hub, ws))
}
