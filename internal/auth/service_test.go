package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	svc := NewService("session-secret", time.Hour)

	token, err := svc.Issue("hashed-phone-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	subject, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if subject != "hashed-phone-1" {
		t.Fatalf("unexpected subject %q", subject)
	}
}

func TestVerifyExpired(t *testing.T) {
	svc := NewService("session-secret", -time.Minute)

	token, err := svc.Issue("hashed-phone-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestVerifyTampered(t *testing.T) {
	svc := NewService("session-secret", time.Hour)

	token, err := svc.Issue("hashed-phone-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := svc.Verify(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for tampered token, got %v", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	token, err := NewService("secret-a", time.Hour).Issue("hashed-phone-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := NewService("secret-b", time.Hour).Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken across secrets, got %v", err)
	}
}
