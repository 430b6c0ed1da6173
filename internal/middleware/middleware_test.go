// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

package middleware

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/studypath/relay/internal/auth"
	"github.com/studypath/relay/internal/logging"
)

//nolint:gochecknoinits // Silence logs for the whole package test run
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

func TestRequestIDGeneratesUUID(t *testing.T) {
	var captured string
	handler := RequestID(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	got := rec.Header().Get("X-Request-ID")
	if got == "" {
		t.Fatal("expected X-Request-ID header in response")
	}
	if _, err := uuid.Parse(got); err != nil {
		t.Errorf("X-Request-ID is not a valid UUID: %v", err)
	}
	if captured != got {
		t.Errorf("context id %q does not match header %q", captured, got)
	}
}

func TestRequestIDPreservesUpstreamID(t *testing.T) {
	var captured string
	handler := RequestID(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-Request-ID", "proxy-assigned-id")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "proxy-assigned-id" {
		t.Errorf("expected upstream id preserved, got %q", got)
	}
	if captured != "proxy-assigned-id" {
		t.Errorf("expected upstream id in context, got %q", captured)
	}
}

func TestGetRequestIDMissing(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("expected empty id on bare context, got %q", got)
	}
}

func TestPrometheusMetricsPassesThrough(t *testing.T) {
	for _, code := range []int{http.StatusOK, http.StatusNotFound, http.StatusInternalServerError} {
		handler := PrometheusMetrics(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		})
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil))
		if rec.Code != code {
			t.Errorf("status %d not propagated, got %d", code, rec.Code)
		}
	}
}

func TestPrometheusMetricsDefaultsTo200(t *testing.T) {
	handler := PrometheusMetrics(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("implicit header"))
	})
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected implicit 200, got %d", rec.Code)
	}
}

func TestCompressionGzipsAcceptingClients(t *testing.T) {
	body := strings.Repeat("notification payload ", 200)
	handler := Compression(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, got %q", rec.Header().Get("Content-Encoding"))
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer zr.Close()
	decompressed, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read decompressed body: %v", err)
	}
	if string(decompressed) != body {
		t.Error("decompressed body does not match original")
	}
}

func TestCompressionSkipsNonAcceptingClients(t *testing.T) {
	handler := Compression(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain body"))
	})
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	if rec.Header().Get("Content-Encoding") == "gzip" {
		t.Error("compressed despite missing Accept-Encoding")
	}
	if rec.Body.String() != "plain body" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestCompressionSkipsWebSocketUpgrade(t *testing.T) {
	handler := Compression(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("upgrade path"))
	})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Upgrade", "websocket")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Header().Get("Content-Encoding") == "gzip" {
		t.Error("upgrade request must not be compressed")
	}
	if rec.Body.String() != "upgrade path" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

type staticVerifier struct {
	identity auth.Identity
	err      error
}

func (v staticVerifier) Verify(_ context.Context, token string) (auth.Identity, error) {
	if v.err != nil {
		return auth.Identity{}, v.err
	}
	if token != "good-token" {
		return auth.Identity{}, errors.New("unknown token")
	}
	return v.identity, nil
}

func TestAuthenticateAcceptsValidToken(t *testing.T) {
	verifier := staticVerifier{identity: auth.Identity{UserID: "user-1", Role: auth.RoleStudent}}
	var got auth.Identity
	var ok bool
	handler := Authenticate(verifier)(func(w http.ResponseWriter, r *http.Request) {
		got, ok = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !ok || got.UserID != "user-1" || got.Role != auth.RoleStudent {
		t.Errorf("identity not propagated, got %+v ok=%v", got, ok)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	verifier := staticVerifier{identity: auth.Identity{UserID: "user-1"}}
	handler := Authenticate(verifier)(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without a valid token")
	})

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc123"},
		{"empty token", "Bearer "},
		{"bad token", "Bearer forged"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected JSON error body, got %q", ct)
			}
		})
	}
}
