package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	if cfg.GeneratorURL == "" {
		errs = append(errs, ValidationError{
			Field:   "GENERATOR_URL",
			Message: "required",
		})
	}

	if cfg.PlannerCronSpec != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(cfg.PlannerCronSpec); err != nil {
			errs = append(errs, ValidationError{
				Field:   "PLANNER_CRON_SPEC",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	if cfg.WindowOpenHour < 0 || cfg.WindowOpenHour > 23 {
		errs = append(errs, ValidationError{
			Field:   "WINDOW_OPEN_HOUR",
			Message: fmt.Sprintf("must be between 0 and 23, got %d", cfg.WindowOpenHour),
		})
	}

	if cfg.WindowMinutes <= 0 || cfg.WindowMinutes > 24*60 {
		errs = append(errs, ValidationError{
			Field:   "WINDOW_MINUTES",
			Message: fmt.Sprintf("must be between 1 and 1440, got %d", cfg.WindowMinutes),
		})
	}

	errs = appendDurationErrors(errs, "DISPATCH_INTERVAL", cfg.DispatchIntervalStr)
	errs = appendDurationErrors(errs, "DISPATCH_TOLERANCE", cfg.DispatchToleranceStr)
	errs = appendDurationErrors(errs, "GENERATION_TIMEOUT", cfg.GenerationTimeoutStr)
	errs = appendDurationErrors(errs, "CACHE_TTL", cfg.CacheTTLStr)
	errs = appendDurationErrors(errs, "CACHE_RETENTION", cfg.CacheRetentionStr)
	errs = appendDurationErrors(errs, "RECONCILE_INTERVAL", cfg.ReconcileIntervalStr)
	errs = appendDurationErrors(errs, "RECONCILE_THRESHOLD", cfg.ReconcileThresholdStr)

	if cfg.ReconcileEnabled && cfg.ReconcileThreshold > 0 && cfg.GenerationTimeout > 0 &&
		cfg.ReconcileThreshold <= cfg.GenerationTimeout {
		errs = append(errs, ValidationError{
			Field:   "RECONCILE_THRESHOLD",
			Message: fmt.Sprintf("must exceed GENERATION_TIMEOUT (%s)", cfg.GenerationTimeoutStr),
		})
	}

	switch cfg.LogLevel {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "LOG_LEVEL",
			Message: fmt.Sprintf("must be one of trace, debug, info, warn, error, got %q", cfg.LogLevel),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func appendDurationErrors(errs ValidationErrors, field, value string) ValidationErrors {
	if value == "" {
		return errs
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid duration: %v", err),
		})
	}
	if d <= 0 {
		return append(errs, ValidationError{
			Field:   field,
			Message: "must be positive",
		})
	}
	return errs
}
