// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

// Package auth provides JWT token issuance and verification for Relay.
//
// Tokens carry a user id and role, are signed with HMAC-SHA256, and serve
// as the bearer credential for both the REST API and the WebSocket
// authenticate handshake.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/studypath/relay/internal/config"
)

// Role values carried in token claims.
const (
	RoleStudent   = "student"
	RoleCounselor = "counselor"
	RoleAdmin     = "admin"
)

// ValidRole reports whether role is one of the known role values.
func ValidRole(role string) bool {
	switch role {
	case RoleStudent, RoleCounselor, RoleAdmin:
		return true
	}
	return false
}

// Claims represents JWT claims for a Relay bearer token.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager handles JWT token creation and validation.
// Uses HMAC-SHA256 signing; the secret must be at least 32 characters
// (enforced by config validation).
type JWTManager struct {
	secret  []byte
	timeout time.Duration
}

// NewJWTManager creates a JWT manager from the security configuration.
func NewJWTManager(cfg *config.SecurityConfig) (*JWTManager, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required but was empty")
	}

	return &JWTManager{
		secret:  []byte(cfg.JWTSecret),
		timeout: cfg.SessionTimeout,
	}, nil
}

// Timeout returns the configured token lifetime.
func (m *JWTManager) Timeout() time.Duration {
	return m.timeout
}

// GenerateToken creates a signed token for the given user.
// The token expires after the configured session timeout.
func (m *JWTManager) GenerateToken(userID, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.timeout)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, nil
}

// ValidateToken validates a token string and extracts its claims.
// Rejects tokens signed with anything other than HMAC to prevent
// algorithm confusion attacks, and rejects expired or not-yet-valid tokens.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("token missing user_id claim")
	}

	return claims, nil
}
