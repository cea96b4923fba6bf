package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/portal")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("Port = %q, want 8000", cfg.Port)
	}
	if !cfg.IsDev() {
		t.Error("expected development env by default")
	}
	if cfg.OTPResendCooldown != 60 {
		t.Errorf("OTPResendCooldown = %d, want 60", cfg.OTPResendCooldown)
	}
	if cfg.InviteTTL() != 7*24*time.Hour {
		t.Errorf("InviteTTL = %v, want 168h", cfg.InviteTTL())
	}
	if cfg.RoleTimeout() != 8*time.Second {
		t.Errorf("RoleTimeout = %v, want 8s", cfg.RoleTimeout())
	}
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoad_DevSecretFallback(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/portal")
	t.Setenv("ENV", "development")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.JWTSecret == "" {
		t.Error("expected fallback dev secret")
	}
}

func TestValidate_ProductionRequiresSecret(t *testing.T) {
	cfg := &Config{
		Env:               "production",
		RedisURL:          "localhost:6379",
		InviteTTLDays:     7,
		OTPResendCooldown: 60,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing JWT_SECRET in production")
	}

	cfg.JWTSecret = "real-secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_RejectsNonPositiveTTLs(t *testing.T) {
	cfg := &Config{
		Env:               "development",
		RedisURL:          "localhost:6379",
		JWTSecret:         "x",
		InviteTTLDays:     0,
		OTPResendCooldown: 60,
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero INVITE_TTL_DAYS")
	}

	cfg.InviteTTLDays = 7
	cfg.OTPResendCooldown = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero OTP_RESEND_COOLDOWN_SECONDS")
	}
}
