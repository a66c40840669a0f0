// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package opauth

import (
	"testing"
	"time"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if !CheckPassword("hunter2", hash) {
		t.Fatal("correct password should check out")
	}
	if CheckPassword("wrong", hash) {
		t.Fatal("wrong password should not check out")
	}
}

func TestIssueAndValidate(t *testing.T) {
	m := NewManager("super-secret", time.Hour)
	token, sessionID, err := m.Issue()
	if err != nil {
		t.Fatal(err)
	}
	claims, err := m.Validate(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.SessionID != sessionID {
		t.Fatalf("session id = %q, want %q", claims.SessionID, sessionID)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	m := NewManager("secret-a", time.Hour)
	token, _, err := m.Issue()
	if err != nil {
		t.Fatal(err)
	}
	other := NewManager("secret-b", time.Hour)
	if _, err := other.Validate(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	// Bypass NewManager's non-positive-ttl default so the token is
	// already expired by the time Validate runs.
	m := &Manager{secret: []byte("secret"), ttl: time.Nanosecond}
	token, _, err := m.Issue()
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := m.Validate(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}
