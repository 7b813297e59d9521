package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.PlannerCronSpec != "30 22 * * *" {
		t.Errorf("PlannerCronSpec = %q, want 30 22 * * *", cfg.PlannerCronSpec)
	}
	if cfg.WindowOpenHour != 23 {
		t.Errorf("WindowOpenHour = %d, want 23", cfg.WindowOpenHour)
	}
	if cfg.WindowMinutes != 300 {
		t.Errorf("WindowMinutes = %d, want 300", cfg.WindowMinutes)
	}
	if cfg.MaxConcurrent != 10 {
		t.Errorf("MaxConcurrent = %d, want 10", cfg.MaxConcurrent)
	}
	if cfg.DispatchTolerance != 5*time.Minute {
		t.Errorf("DispatchTolerance = %s, want 5m", cfg.DispatchTolerance)
	}
	if cfg.GenerationTimeout != 10*time.Minute {
		t.Errorf("GenerationTimeout = %s, want 10m", cfg.GenerationTimeout)
	}
	if cfg.CacheTTL != 24*time.Hour {
		t.Errorf("CacheTTL = %s, want 24h", cfg.CacheTTL)
	}
	if !cfg.ReconcileEnabled {
		t.Error("ReconcileEnabled should default to true")
	}
	if cfg.ReconcileThreshold != 30*time.Minute {
		t.Errorf("ReconcileThreshold = %s, want 30m", cfg.ReconcileThreshold)
	}
	if cfg.CircuitBreakerThreshold != 5 {
		t.Errorf("CircuitBreakerThreshold = %d, want 5", cfg.CircuitBreakerThreshold)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://relato:secret@db/relato")
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("WINDOW_OPEN_HOUR", "22")
	t.Setenv("WINDOW_MINUTES", "360")
	t.Setenv("MAX_CONCURRENT", "4")
	t.Setenv("DISPATCH_TOLERANCE", "2m")
	t.Setenv("RECONCILE_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()

	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q, want :9999", cfg.HTTPAddr)
	}
	if cfg.WindowOpenHour != 22 {
		t.Errorf("WindowOpenHour = %d, want 22", cfg.WindowOpenHour)
	}
	if cfg.WindowMinutes != 360 {
		t.Errorf("WindowMinutes = %d, want 360", cfg.WindowMinutes)
	}
	if cfg.MaxConcurrent != 4 {
		t.Errorf("MaxConcurrent = %d, want 4", cfg.MaxConcurrent)
	}
	if cfg.DispatchTolerance != 2*time.Minute {
		t.Errorf("DispatchTolerance = %s, want 2m", cfg.DispatchTolerance)
	}
	if cfg.ReconcileEnabled {
		t.Error("ReconcileEnabled should be false")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	t.Setenv("MAX_CONCURRENT", "lots")

	cfg := Load()

	if cfg.MaxConcurrent != 10 {
		t.Errorf("MaxConcurrent = %d, want default 10", cfg.MaxConcurrent)
	}
}

func TestLoad_PortFallback(t *testing.T) {
	t.Setenv("PORT", "3000")

	cfg := Load()

	if cfg.HTTPAddr != ":3000" {
		t.Errorf("HTTPAddr = %q, want :3000", cfg.HTTPAddr)
	}
}

func TestMaskedJSON_MasksSecrets(t *testing.T) {
	cfg := Load()
	cfg.DatabaseURL = "postgres://relato:hunter2@db/relato"
	cfg.NotifySecret = "hmac-signing-key"

	out, err := cfg.MaskedJSON()
	if err != nil {
		t.Fatalf("MaskedJSON: %v", err)
	}

	s := string(out)
	if strings.Contains(s, "hunter2") {
		t.Error("masked output leaks the database password")
	}
	if strings.Contains(s, "hmac-signing-key") {
		t.Error("masked output leaks the notify secret")
	}
	if !strings.Contains(s, "postgres://***") {
		t.Error("masked output should keep the database scheme")
	}
}
