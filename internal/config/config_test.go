package config

import (
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if v := envInt("TEST_INT", 0); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	if v := envInt("TEST_INT_MISSING", 99); v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalidFallsBack(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	if v := envInt("TEST_INT_BAD", 7); v != 7 {
		t.Fatalf("expected fallback 7 for non-integer value, got %d", v)
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	if !envBool("TEST_BOOL", false) {
		t.Fatal("expected true")
	}
	t.Setenv("TEST_BOOL_BAD", "maybe")
	if envBool("TEST_BOOL_BAD", false) {
		t.Fatal("expected fallback false for non-boolean value")
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	if v := envDuration("TEST_DUR", 0); v != 5*time.Second {
		t.Fatalf("expected 5s, got %s", v)
	}
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	if v := envDuration("TEST_DUR_BAD", time.Minute); v != time.Minute {
		t.Fatalf("expected fallback 1m for invalid duration, got %s", v)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	// With no env vars set, Load should succeed using all defaults.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.DatabaseURL != "kiroku.db" {
		t.Fatalf("expected default sqlite path, got %q", cfg.DatabaseURL)
	}
	if cfg.ActionMaxAttempts != 3 {
		t.Fatalf("expected default max attempts 3, got %d", cfg.ActionMaxAttempts)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KIROKU_PORT", "9090")
	t.Setenv("KIROKU_DATABASE_URL", "postgres://u:p@localhost:5432/kiroku")
	t.Setenv("KIROKU_ACTION_BASE_DELAY", "250ms")
	t.Setenv("KIROKU_MOUNT_DEV_SINKS", "true")
	t.Setenv("KIROKU_RATE_LIMIT_STALE_AFTER", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://u:p@localhost:5432/kiroku" {
		t.Fatalf("unexpected database url %q", cfg.DatabaseURL)
	}
	if cfg.ActionBaseDelay != 250*time.Millisecond {
		t.Fatalf("expected 250ms base delay, got %s", cfg.ActionBaseDelay)
	}
	if !cfg.MountDevSinks {
		t.Fatal("expected dev sinks enabled")
	}
	if cfg.RateLimitStaleAfter != 30*time.Second {
		t.Fatalf("expected 30s stale window, got %s", cfg.RateLimitStaleAfter)
	}
}

func TestValidateRejectsEmptyActionBase(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.ActionBaseURL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for empty action base URL")
	}
}

func TestValidateRejectsZeroAttempts(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.ActionMaxAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero max attempts")
	}
}
