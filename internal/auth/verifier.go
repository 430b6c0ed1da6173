// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

package auth

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// Identity is the result of a successful token verification.
type Identity struct {
	UserID string
	Role   string
}

// TokenVerifier validates a bearer token and resolves the identity behind it.
// The WebSocket handshake depends only on this interface, so the JWT manager
// can be swapped for a remote verification service without touching the hub.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// JWTVerifier adapts JWTManager to the TokenVerifier interface.
type JWTVerifier struct {
	manager *JWTManager
}

// NewJWTVerifier creates a TokenVerifier backed by local JWT validation.
func NewJWTVerifier(manager *JWTManager) *JWTVerifier {
	return &JWTVerifier{manager: manager}
}

// Verify validates the token and returns the identity it carries.
func (v *JWTVerifier) Verify(_ context.Context, token string) (Identity, error) {
	claims, err := v.manager.ValidateToken(token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: claims.UserID, Role: claims.Role}, nil
}

// BreakerVerifier wraps a TokenVerifier with a circuit breaker. When the
// underlying verifier performs remote I/O, a run of failures opens the
// breaker and handshakes fail fast instead of piling up on a dead
// dependency. Invalid-token errors count as failures only while the
// breaker's consecutive-failure threshold is not reached, which is
// acceptable for the advisory failure mode the handshake uses.
type BreakerVerifier struct {
	inner   TokenVerifier
	breaker *gobreaker.CircuitBreaker[Identity]
}

// BreakerConfig tunes the verification circuit breaker.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerConfig returns settings suitable for a local or
// low-latency remote verifier.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "token-verifier",
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 10,
	}
}

// NewBreakerVerifier wraps the given verifier with circuit breaker protection.
func NewBreakerVerifier(inner TokenVerifier, cfg BreakerConfig) *BreakerVerifier {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}

	return &BreakerVerifier{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[Identity](settings),
	}
}

// Verify delegates to the wrapped verifier through the breaker.
func (v *BreakerVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	return v.breaker.Execute(func() (Identity, error) {
		return v.inner.Verify(ctx, token)
	})
}

// State reports the breaker state for health endpoints.
func (v *BreakerVerifier) State() string {
	return v.breaker.State().String()
}
