package auth

import (
	"errors"
	"testing"
	"time"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))

	token, err := v.Sign(Identity{UserID: "user-a", DisplayName: "Alice"}, time.Hour)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	identity, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if identity.UserID != "user-a" {
		t.Errorf("Expected user-a, got %q", identity.UserID)
	}
	if identity.DisplayName != "Alice" {
		t.Errorf("Expected Alice, got %q", identity.DisplayName)
	}
}

func TestVerifyEmptyToken(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))

	_, err := v.Verify("")
	if !errors.Is(err, ErrMissingToken) {
		t.Errorf("Expected ErrMissingToken, got %v", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	issuer := NewVerifier([]byte("secret-one"))
	v := NewVerifier([]byte("secret-two"))

	token, err := issuer.Sign(Identity{UserID: "user-a"}, time.Hour)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))

	token, err := v.Sign(Identity{UserID: "user-a"}, -time.Minute)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyGarbageToken(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))

	if _, err := v.Verify("not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestDisplayNameFallsBackToUserID(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))

	token, err := v.Sign(Identity{UserID: "user-a"}, time.Hour)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	identity, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if identity.DisplayName != "user-a" {
		t.Errorf("Expected fallback display name user-a, got %q", identity.DisplayName)
	}
}
