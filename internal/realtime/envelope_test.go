// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

package realtime

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestMarshalEnvelope_Connected(t *testing.T) {
	payload, err := MarshalEnvelope(newConnectedEnvelope("conn-123"))
	if err != nil {
		t.Fatalf("MarshalEnvelope failed: %v", err)
	}

	var decoded struct {
		Type string `json:"type"`
		Data struct {
			ConnectionID string `json:"connectionId"`
		} `json:"data"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}

	if decoded.Type != KindConnected {
		t.Errorf("type = %q, want %q", decoded.Type, KindConnected)
	}
	if decoded.Data.ConnectionID != "conn-123" {
		t.Errorf("connectionId = %q, want conn-123", decoded.Data.ConnectionID)
	}
	if decoded.Timestamp == "" {
		t.Error("timestamp should be set")
	}
}

func TestMarshalEnvelope_OmitsEmptyFields(t *testing.T) {
	payload, err := MarshalEnvelope(NewEnvelope(KindPong, nil))
	if err != nil {
		t.Fatalf("MarshalEnvelope failed: %v", err)
	}

	s := string(payload)
	for _, field := range []string{"\"data\"", "\"token\"", "\"message\""} {
		if strings.Contains(s, field) {
			t.Errorf("empty field %s should be omitted: %s", field, s)
		}
	}
}

func TestNewPongEnvelope_EchoesPingTimestamp(t *testing.T) {
	env := newPongEnvelope("2026-08-30T12:00:00Z")
	if env.Timestamp != "2026-08-30T12:00:00Z" {
		t.Errorf("pong should echo ping timestamp, got %q", env.Timestamp)
	}

	env = newPongEnvelope("")
	if env.Timestamp == "" {
		t.Error("pong without ping timestamp should carry its own")
	}
}

func TestNewSystemAlertEnvelope(t *testing.T) {
	alert := Alert{Level: AlertLevelCritical, Connections: 10000, Limit: 10000}
	env := newSystemAlertEnvelope(alert, alert.Message())

	if env.Type != KindSystemAlert {
		t.Errorf("type = %q, want %q", env.Type, KindSystemAlert)
	}
	data, ok := env.Data.(SystemAlertData)
	if !ok {
		t.Fatalf("Data is %T, want SystemAlertData", env.Data)
	}
	if data.Level != AlertLevelCritical || data.Connections != 10000 || data.Limit != 10000 {
		t.Errorf("alert payload wrong: %+v", data)
	}
	if env.Message == "" {
		t.Error("system alert should carry a human-readable message")
	}
}

func TestParseInbound(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		check   func(t *testing.T, env inboundEnvelope)
	}{
		{
			name: "authenticate with token",
			raw:  `{"type":"authenticate","token":"abc.def.ghi"}`,
			check: func(t *testing.T, env inboundEnvelope) {
				if env.Type != KindAuthenticate || env.Token != "abc.def.ghi" {
					t.Errorf("parsed %+v", env)
				}
			},
		},
		{
			name: "ping with timestamp",
			raw:  `{"type":"ping","timestamp":"2026-08-30T12:00:00Z"}`,
			check: func(t *testing.T, env inboundEnvelope) {
				if env.Type != KindPing || env.Timestamp != "2026-08-30T12:00:00Z" {
					t.Errorf("parsed %+v", env)
				}
			},
		},
		{
			name: "subscribe payload stays raw",
			raw:  `{"type":"subscribe","data":{"topic":"applications"}}`,
			check: func(t *testing.T, env inboundEnvelope) {
				var data SubscribeData
				if err := json.Unmarshal(env.Data, &data); err != nil {
					t.Fatalf("payload unmarshal failed: %v", err)
				}
				if data.Topic != "applications" {
					t.Errorf("topic = %q", data.Topic)
				}
			},
		},
		{
			name: "unknown kind still parses",
			raw:  `{"type":"time_travel"}`,
			check: func(t *testing.T, env inboundEnvelope) {
				if env.Type != "time_travel" {
					t.Errorf("type = %q", env.Type)
				}
			},
		},
		{name: "not json", raw: `this is not json`, wantErr: true},
		{name: "truncated", raw: `{"type":"ping"`, wantErr: true},
		{name: "json array", raw: `[1,2,3]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := parseInbound([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected parse error for %q", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseInbound(%q) failed: %v", tt.raw, err)
			}
			if tt.check != nil {
				tt.check(t, env)
			}
		})
	}
}
