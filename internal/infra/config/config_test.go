package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PLI_APP_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Auth.MaxFailedAttempts != 5 {
		t.Fatalf("expected 5 max failed attempts, got %d", cfg.Auth.MaxFailedAttempts)
	}
	if cfg.Auth.LockoutDuration != 30*time.Minute {
		t.Fatalf("expected 30m lockout, got %v", cfg.Auth.LockoutDuration)
	}
	if cfg.Auth.ResetTokenTTL != time.Hour {
		t.Fatalf("expected 1h reset ttl, got %v", cfg.Auth.ResetTokenTTL)
	}
	if cfg.Session.TTL != 24*time.Hour {
		t.Fatalf("expected 24h session ttl, got %v", cfg.Session.TTL)
	}
	if cfg.Session.Retention != 90*24*time.Hour {
		t.Fatalf("expected 90 day retention, got %v", cfg.Session.Retention)
	}
	if cfg.RateLimit.LoginLimit != 5 || cfg.RateLimit.GeneralLimit != 100 || cfg.RateLimit.SensitiveLimit != 20 {
		t.Fatalf("unexpected rate limits: %+v", cfg.RateLimit)
	}
	if cfg.JWT.Issuer != "PLI-Sistema" || cfg.JWT.Audience != "PLI-Users" {
		t.Fatalf("unexpected jwt issuer/audience: %s/%s", cfg.JWT.Issuer, cfg.JWT.Audience)
	}
	if cfg.HTTP.RequestTimeout != 30*time.Second {
		t.Fatalf("expected 30s request timeout, got %v", cfg.HTTP.RequestTimeout)
	}
	if cfg.Telemetry.Enabled || cfg.Telemetry.ServiceName != "cadastro-auth" {
		t.Fatalf("expected tracing disabled by default, got %+v", cfg.Telemetry)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PLI_AUTH_MAX_FAILED_ATTEMPTS", "7")
	t.Setenv("PLI_SESSION_MAX_CONCURRENT", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Auth.MaxFailedAttempts != 7 {
		t.Fatalf("expected override 7, got %d", cfg.Auth.MaxFailedAttempts)
	}
	if cfg.Session.MaxConcurrent != 3 {
		t.Fatalf("expected override 3, got %d", cfg.Session.MaxConcurrent)
	}
}

func TestValidate_ProductionRequiresSecret(t *testing.T) {
	cfg := AppConfig{
		App:  AppSettings{Env: "production"},
		Auth: AuthSettings{MaxFailedAttempts: 5},
		JWT:  JWTSettings{Secret: "short"},
	}
	if err := cfg.Validate(); !errors.Is(err, ErrJWTSecretMissing) {
		t.Fatalf("expected ErrJWTSecretMissing, got %v", err)
	}

	cfg.JWT.Secret = "0123456789abcdef0123456789abcdef"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_TelemetrySamplingRate(t *testing.T) {
	cfg := AppConfig{
		Auth:      AuthSettings{MaxFailedAttempts: 5},
		Telemetry: TelemetrySettings{Enabled: true, SamplingRate: 1.5},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected sampling rate above 1 to be rejected")
	}

	cfg.Telemetry.SamplingRate = 0.25
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}
