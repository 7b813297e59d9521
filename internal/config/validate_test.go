package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		DatabaseURL:           "postgres://relato@db/relato",
		GeneratorURL:          "https://engine.internal/generate",
		PlannerCronSpec:       "30 22 * * *",
		WindowOpenHour:        23,
		WindowMinutes:         300,
		GenerationTimeoutStr:  "10m",
		GenerationTimeout:     10 * time.Minute,
		ReconcileEnabled:      true,
		ReconcileThresholdStr: "30m",
		ReconcileThreshold:    30 * time.Minute,
		LogLevel:              "info",
	}
}

func TestValidate_OK(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_MissingDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("error %q should name DATABASE_URL", err)
	}
}

func TestValidate_BadCronSpec(t *testing.T) {
	cfg := validConfig()
	cfg.PlannerCronSpec = "every day at ten"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "PLANNER_CRON_SPEC") {
		t.Errorf("error %q should name PLANNER_CRON_SPEC", err)
	}
}

func TestValidate_WindowBounds(t *testing.T) {
	cfg := validConfig()
	cfg.WindowOpenHour = 25

	if err := Validate(cfg); err == nil {
		t.Error("expected error for WINDOW_OPEN_HOUR = 25")
	}

	cfg = validConfig()
	cfg.WindowMinutes = 0

	if err := Validate(cfg); err == nil {
		t.Error("expected error for WINDOW_MINUTES = 0")
	}
}

func TestValidate_ReconcileThresholdMustExceedTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.ReconcileThresholdStr = "5m"
	cfg.ReconcileThreshold = 5 * time.Minute

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "RECONCILE_THRESHOLD") {
		t.Errorf("error %q should name RECONCILE_THRESHOLD", err)
	}
}

func TestValidate_BadDuration(t *testing.T) {
	cfg := validConfig()
	cfg.DispatchToleranceStr = "five minutes"

	if err := Validate(cfg); err == nil {
		t.Error("expected error for invalid DISPATCH_TOLERANCE")
	}
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = ""
	cfg.LogLevel = "loud"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verrs) != 2 {
		t.Errorf("errors = %d, want 2", len(verrs))
	}
}
