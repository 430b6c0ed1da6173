// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/studypath/relay/internal/auth"
	"github.com/studypath/relay/internal/logging"
)

const identityKey contextKey = "identity"

// Authenticate requires a valid bearer token on the request and stores
// the resulting identity in the context for handlers.
func Authenticate(verifier auth.TokenVerifier) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				unauthorized(w, "missing bearer token")
				return
			}

			identity, err := verifier.Verify(r.Context(), token)
			if err != nil {
				logging.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected API token")
				unauthorized(w, "invalid or expired token")
				return
			}

			next(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		}
	}
}

// ContextWithIdentity stores an authenticated identity in the context.
func ContextWithIdentity(ctx context.Context, identity auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext returns the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(auth.Identity)
	return identity, ok
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   map[string]string{"code": "UNAUTHORIZED", "message": message},
	})
}
