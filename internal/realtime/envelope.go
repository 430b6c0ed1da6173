// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

package realtime

import (
	"time"

	"github.com/goccy/go-json"
)

// Envelope kinds exchanged over the WebSocket connection.
const (
	KindConnected         = "connected"
	KindAuthenticate      = "authenticate"
	KindAuthenticated     = "authenticated"
	KindPing              = "ping"
	KindPong              = "pong"
	KindSubscribe         = "subscribe"
	KindSystemAlert       = "system_alert"
	KindRateLimitExceeded = "rate_limit_exceeded"
	KindChatMessage       = "chat_message"
	KindMessageRead       = "message_read"
	KindNotification      = "notification"
	KindApplicationUpdate = "application_update"
)

// Alert severity levels for system_alert envelopes.
const (
	AlertLevelWarning  = "warning"
	AlertLevelCritical = "critical"
)

// Envelope is the wire message unit: a JSON object tagged with a type,
// an optional kind-dependent payload, and an optional timestamp.
// Envelopes are immutable once constructed.
type Envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Token     string      `json:"token,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// inboundEnvelope is the parse target for client frames. Data stays raw
// so kind handlers can unmarshal their own payload shape.
type inboundEnvelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Token     string          `json:"token,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// ConnectedData is the payload of a connected envelope.
type ConnectedData struct {
	ConnectionID string `json:"connectionId"`
}

// AuthenticatedData is the payload of an authenticated envelope.
type AuthenticatedData struct {
	UserID string `json:"userId"`
}

// SubscribeData is the payload of a subscribe envelope.
type SubscribeData struct {
	Topic string `json:"topic"`
}

// SystemAlertData is the payload of a system_alert envelope.
type SystemAlertData struct {
	Level       string `json:"level"`
	Connections int    `json:"connections"`
	Limit       int    `json:"limit"`
}

// MessageReadData is the payload of a message_read envelope.
type MessageReadData struct {
	MessageID string `json:"messageId"`
}

// NewEnvelope constructs an outbound envelope with the current timestamp.
func NewEnvelope(kind string, data interface{}) Envelope {
	return Envelope{
		Type:      kind,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// newConnectedEnvelope announces the assigned connection id.
func newConnectedEnvelope(connectionID string) Envelope {
	return NewEnvelope(KindConnected, ConnectedData{ConnectionID: connectionID})
}

// newAuthenticatedEnvelope confirms a successful handshake.
func newAuthenticatedEnvelope(userID string) Envelope {
	return NewEnvelope(KindAuthenticated, AuthenticatedData{UserID: userID})
}

// newPongEnvelope echoes the originating ping timestamp when present.
func newPongEnvelope(pingTimestamp string) Envelope {
	env := NewEnvelope(KindPong, nil)
	if pingTimestamp != "" {
		env.Timestamp = pingTimestamp
	}
	return env
}

// newSystemAlertEnvelope carries a load alert with a human-readable
// top-level message alongside the structured payload.
func newSystemAlertEnvelope(alert Alert, message string) Envelope {
	env := NewEnvelope(KindSystemAlert, SystemAlertData{
		Level:       alert.Level,
		Connections: alert.Connections,
		Limit:       alert.Limit,
	})
	env.Message = message
	return env
}

// newRateLimitEnvelope signals a client to slow down.
func newRateLimitEnvelope() Envelope {
	return NewEnvelope(KindRateLimitExceeded, nil)
}

// MarshalEnvelope converts an envelope to JSON.
func MarshalEnvelope(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// parseInbound parses a raw client frame. Malformed frames return an
// error to the caller, which logs and drops the frame without closing
// the connection.
func parseInbound(raw []byte) (inboundEnvelope, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return inboundEnvelope{}, err
	}
	return env, nil
}
