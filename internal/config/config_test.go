package config

import (
	"strings"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	env := map[string]string{
		"DATABASE_URL":          "postgres://localhost:5432/pesabridge",
		"REDIS_URL":             "redis://localhost:6379/0",
		"MPESA_CONSUMER_KEY":    "consumer-key",
		"MPESA_CONSUMER_SECRET": "consumer-secret",
		"MPESA_PASSKEY":         "passkey",
		"MPESA_VALIDATION_KEY":  "validation-key",
		"CALLBACK_BASE_URL":     "https://bridge.example.com",
		"LEDGER_RPC_URL":        "http://localhost:8545",
		"SESSION_SECRET":        "session-secret",
		"SEAL_KEY":              strings.Repeat("ab", 32),
		"PHONE_HASH_KEY":        "phone-hash-key",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
}

func TestLoad(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Hardened() {
		t.Fatal("callback mode must default to hardened")
	}
	if len(cfg.SealKey) != 32 {
		t.Fatalf("expected 32-byte seal key, got %d", len(cfg.SealKey))
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected listen address %q", cfg.Address())
	}
}

func TestLoadRejectsSharedSecrets(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SESSION_SECRET", "shared-value")
	t.Setenv("PHONE_HASH_KEY", "shared-value")

	if _, err := Load(); err == nil {
		t.Fatal("expected rejection of reused secret values")
	}
}

func TestLoadRejectsShortSealKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SEAL_KEY", "abcd")

	if _, err := Load(); err == nil {
		t.Fatal("expected rejection of short seal key")
	}
}

func TestLoadRejectsUnknownCallbackMode(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CALLBACK_MODE", "permissive")

	if _, err := Load(); err == nil {
		t.Fatal("expected rejection of unknown callback mode")
	}
}

func TestHardenedModeRequiresValidationKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MPESA_VALIDATION_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected rejection when hardened mode lacks a validation key")
	}
}

func TestRelaxedModeIsExplicit(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MPESA_VALIDATION_KEY", "")
	t.Setenv("CALLBACK_MODE", "relaxed")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Hardened() {
		t.Fatal("expected relaxed mode")
	}
}
