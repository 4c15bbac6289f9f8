package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	// t.Setenv registers the restore; the vars must be absent, not empty,
	// for envconfig defaults to kick in.
	for _, key := range []string{"PORT", "DEFAULT_LOCATION_ID", "SUPERVISOR_PIN"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.DefaultLocationID != "loc-main" {
		t.Fatalf("expected default location loc-main, got %q", cfg.DefaultLocationID)
	}
	if cfg.SupervisorPIN != "" {
		t.Fatalf("expected no supervisor pin default, got %q", cfg.SupervisorPIN)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected address :8080, got %q", cfg.Address())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("IDEMPOTENCY_TTL_MINUTES", "60")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("expected port 9090, got %q", cfg.Port)
	}
	if cfg.IdempotencyTTLMinutes != 60 {
		t.Fatalf("expected ttl 60, got %d", cfg.IdempotencyTTLMinutes)
	}
}
