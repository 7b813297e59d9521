package config

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Config holds all configuration for the relato scheduling service.
// Values are loaded from environment variables; see printUsage() in
// cmd/relato for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	// GeneratorURL points at the report generation engine.
	GeneratorURL   string `json:"generator_url"`
	GeneratorToken string `json:"generator_token,omitempty"`

	// PlannerCronSpec fires the nightly planning pass, shortly before the
	// dispatch window opens.
	PlannerCronSpec string `json:"planner_cron_spec"`

	WindowOpenHour int `json:"window_open_hour"`
	WindowMinutes  int `json:"window_minutes"`

	DispatchInterval    time.Duration `json:"-"`
	DispatchIntervalStr string        `json:"dispatch_interval"`

	DispatchTolerance    time.Duration `json:"-"`
	DispatchToleranceStr string        `json:"dispatch_tolerance"`

	MaxConcurrent int `json:"max_concurrent"`

	GenerationTimeout    time.Duration `json:"-"`
	GenerationTimeoutStr string        `json:"generation_timeout"`

	CacheTTL    time.Duration `json:"-"`
	CacheTTLStr string        `json:"cache_ttl"`

	CacheRetention    time.Duration `json:"-"`
	CacheRetentionStr string        `json:"cache_retention"`

	CacheBatchSize int `json:"cache_batch_size"`

	CacheSweepInterval    time.Duration `json:"-"`
	CacheSweepIntervalStr string        `json:"cache_sweep_interval"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	ReconcileEnabled     bool          `json:"reconcile_enabled"`
	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`

	// ReconcileThreshold must exceed GenerationTimeout so in-flight
	// generations are never reaped.
	ReconcileThreshold    time.Duration `json:"-"`
	ReconcileThresholdStr string        `json:"reconcile_threshold"`

	ReconcileBatchSize int `json:"reconcile_batch_size"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	NotifyWebhookURL string `json:"notify_webhook_url,omitempty"`
	NotifySecret     string `json:"notify_secret,omitempty"`

	NotifyTimeout    time.Duration `json:"-"`
	NotifyTimeoutStr string        `json:"notify_timeout"`

	// AnalyticsRetention bounds the Redis usage counters.
	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	// LeaderRetryInterval determines the maximum failover gap.
	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`

	LogLevel string `json:"log_level"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		HTTPAddr:                   os.Getenv("HTTP_ADDR"),
		GeneratorURL:               os.Getenv("GENERATOR_URL"),
		GeneratorToken:             os.Getenv("GENERATOR_TOKEN"),
		PlannerCronSpec:            os.Getenv("PLANNER_CRON_SPEC"),
		DispatchIntervalStr:        os.Getenv("DISPATCH_INTERVAL"),
		DispatchToleranceStr:       os.Getenv("DISPATCH_TOLERANCE"),
		GenerationTimeoutStr:       os.Getenv("GENERATION_TIMEOUT"),
		CacheTTLStr:                os.Getenv("CACHE_TTL"),
		CacheRetentionStr:          os.Getenv("CACHE_RETENTION"),
		CacheSweepIntervalStr:      os.Getenv("CACHE_SWEEP_INTERVAL"),
		DBOpTimeoutStr:             os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:       os.Getenv("DB_CONN_MAX_LIFETIME"),
		HTTPShutdownTimeoutStr:     os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		MetricsEnabled:             os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:                os.Getenv("METRICS_PATH"),
		ReconcileEnabled:           os.Getenv("RECONCILE_ENABLED") != "false",
		ReconcileIntervalStr:       os.Getenv("RECONCILE_INTERVAL"),
		ReconcileThresholdStr:      os.Getenv("RECONCILE_THRESHOLD"),
		CircuitBreakerCooldownStr:  os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		NotifyWebhookURL:           os.Getenv("NOTIFY_WEBHOOK_URL"),
		NotifySecret:               os.Getenv("NOTIFY_SECRET"),
		NotifyTimeoutStr:           os.Getenv("NOTIFY_TIMEOUT"),
		AnalyticsRetentionStr:      os.Getenv("ANALYTICS_RETENTION"),
		LeaderRetryIntervalStr:     os.Getenv("LEADER_RETRY_INTERVAL"),
		LeaderHeartbeatIntervalStr: os.Getenv("LEADER_HEARTBEAT_INTERVAL"),
		LogLevel:                   os.Getenv("LOG_LEVEL"),
	}

	cfg.WindowOpenHour = intEnv("WINDOW_OPEN_HOUR", 23)
	cfg.WindowMinutes = intEnv("WINDOW_MINUTES", 300)
	cfg.MaxConcurrent = intEnv("MAX_CONCURRENT", 10)
	cfg.CacheBatchSize = intEnv("CACHE_BATCH_SIZE", 100)
	cfg.DBMaxOpenConns = intEnv("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = intEnv("DB_MAX_IDLE_CONNS", 5)
	cfg.ReconcileBatchSize = intEnv("RECONCILE_BATCH_SIZE", 100)

	if threshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); threshStr != "" {
		if n, err := parseInt(threshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", threshStr)
		}
	} else {
		cfg.CircuitBreakerThreshold = 5
	}

	if lockKeyStr := os.Getenv("LEADER_LOCK_KEY"); lockKeyStr != "" {
		if n, err := parseInt(lockKeyStr); err == nil && n > 0 {
			cfg.LeaderLockKey = int64(n)
		} else {
			log.Printf("config: invalid LEADER_LOCK_KEY %q (must be a positive integer), using default 917465", lockKeyStr)
		}
	}
	if cfg.LeaderLockKey == 0 {
		cfg.LeaderLockKey = 917465
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.PlannerCronSpec == "" {
		// Daily pass half an hour before the window opens.
		cfg.PlannerCronSpec = "30 22 * * *"
	}
	if cfg.DispatchIntervalStr == "" {
		cfg.DispatchIntervalStr = "1m"
	}
	if cfg.DispatchToleranceStr == "" {
		cfg.DispatchToleranceStr = "5m"
	}
	if cfg.GenerationTimeoutStr == "" {
		cfg.GenerationTimeoutStr = "10m"
	}
	if cfg.CacheTTLStr == "" {
		cfg.CacheTTLStr = "24h"
	}
	if cfg.CacheRetentionStr == "" {
		cfg.CacheRetentionStr = "720h"
	}
	if cfg.CacheSweepIntervalStr == "" {
		cfg.CacheSweepIntervalStr = "1h"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.ReconcileIntervalStr == "" {
		cfg.ReconcileIntervalStr = "5m"
	}
	if cfg.ReconcileThresholdStr == "" {
		cfg.ReconcileThresholdStr = "30m"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.NotifyTimeoutStr == "" {
		cfg.NotifyTimeoutStr = "30s"
	}
	if cfg.AnalyticsRetentionStr == "" {
		cfg.AnalyticsRetentionStr = "2160h"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.DispatchIntervalStr); err == nil {
		cfg.DispatchInterval = d
	}
	if d, err := time.ParseDuration(cfg.DispatchToleranceStr); err == nil {
		cfg.DispatchTolerance = d
	}
	if d, err := time.ParseDuration(cfg.GenerationTimeoutStr); err == nil {
		cfg.GenerationTimeout = d
	}
	if d, err := time.ParseDuration(cfg.CacheTTLStr); err == nil {
		cfg.CacheTTL = d
	}
	if d, err := time.ParseDuration(cfg.CacheRetentionStr); err == nil {
		cfg.CacheRetention = d
	}
	if d, err := time.ParseDuration(cfg.CacheSweepIntervalStr); err == nil {
		cfg.CacheSweepInterval = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileIntervalStr); err == nil {
		cfg.ReconcileInterval = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileThresholdStr); err == nil {
		cfg.ReconcileThreshold = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.NotifyTimeoutStr); err == nil {
		cfg.NotifyTimeout = d
	}
	if d, err := time.ParseDuration(cfg.AnalyticsRetentionStr); err == nil {
		cfg.AnalyticsRetention = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderHeartbeatIntervalStr); err == nil {
		cfg.LeaderHeartbeatInterval = d
	}

	return cfg
}

// intEnv reads a positive integer from the environment, falling back to def.
func intEnv(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := parseInt(raw)
	if err != nil || n <= 0 {
		log.Printf("config: invalid %s %q (must be a positive integer), using default %d", key, raw, def)
		return def
	}
	return n
}

// parseInt parses a string as an integer.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL             string `json:"database_url"`
		RedisAddr               string `json:"redis_addr,omitempty"`
		HTTPAddr                string `json:"http_addr"`
		GeneratorURL            string `json:"generator_url"`
		GeneratorToken          string `json:"generator_token,omitempty"`
		PlannerCronSpec         string `json:"planner_cron_spec"`
		WindowOpenHour          int    `json:"window_open_hour"`
		WindowMinutes           int    `json:"window_minutes"`
		DispatchInterval        string `json:"dispatch_interval"`
		DispatchTolerance       string `json:"dispatch_tolerance"`
		MaxConcurrent           int    `json:"max_concurrent"`
		GenerationTimeout       string `json:"generation_timeout"`
		CacheTTL                string `json:"cache_ttl"`
		CacheRetention          string `json:"cache_retention"`
		CacheBatchSize          int    `json:"cache_batch_size"`
		CacheSweepInterval      string `json:"cache_sweep_interval"`
		DBOpTimeout             string `json:"db_op_timeout"`
		DBMaxOpenConns          int    `json:"db_max_open_conns"`
		DBMaxIdleConns          int    `json:"db_max_idle_conns"`
		DBConnMaxLifetime       string `json:"db_conn_max_lifetime"`
		HTTPShutdownTimeout     string `json:"http_shutdown_timeout"`
		MetricsEnabled          bool   `json:"metrics_enabled"`
		MetricsPath             string `json:"metrics_path"`
		ReconcileEnabled        bool   `json:"reconcile_enabled"`
		ReconcileInterval       string `json:"reconcile_interval"`
		ReconcileThreshold      string `json:"reconcile_threshold"`
		ReconcileBatchSize      int    `json:"reconcile_batch_size"`
		CircuitBreakerThreshold int    `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string `json:"circuit_breaker_cooldown"`
		NotifyWebhookURL        string `json:"notify_webhook_url,omitempty"`
		NotifySecret            string `json:"notify_secret,omitempty"`
		NotifyTimeout           string `json:"notify_timeout"`
		AnalyticsRetention      string `json:"analytics_retention"`
		LeaderLockKey           int64  `json:"leader_lock_key"`
		LeaderRetryInterval     string `json:"leader_retry_interval"`
		LeaderHeartbeatInterval string `json:"leader_heartbeat_interval"`
		LogLevel                string `json:"log_level"`
	}{
		DatabaseURL:             maskSecret(c.DatabaseURL),
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		GeneratorURL:            c.GeneratorURL,
		GeneratorToken:          maskSecret(c.GeneratorToken),
		PlannerCronSpec:         c.PlannerCronSpec,
		WindowOpenHour:          c.WindowOpenHour,
		WindowMinutes:           c.WindowMinutes,
		DispatchInterval:        c.DispatchIntervalStr,
		DispatchTolerance:       c.DispatchToleranceStr,
		MaxConcurrent:           c.MaxConcurrent,
		GenerationTimeout:       c.GenerationTimeoutStr,
		CacheTTL:                c.CacheTTLStr,
		CacheRetention:          c.CacheRetentionStr,
		CacheBatchSize:          c.CacheBatchSize,
		CacheSweepInterval:      c.CacheSweepIntervalStr,
		DBOpTimeout:             c.DBOpTimeoutStr,
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBConnMaxLifetime:       c.DBConnMaxLifetimeStr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		ReconcileEnabled:        c.ReconcileEnabled,
		ReconcileInterval:       c.ReconcileIntervalStr,
		ReconcileThreshold:      c.ReconcileThresholdStr,
		ReconcileBatchSize:      c.ReconcileBatchSize,
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldownStr,
		NotifyWebhookURL:        c.NotifyWebhookURL,
		NotifySecret:            maskSecret(c.NotifySecret),
		NotifyTimeout:           c.NotifyTimeoutStr,
		AnalyticsRetention:      c.AnalyticsRetentionStr,
		LeaderLockKey:           c.LeaderLockKey,
		LeaderRetryInterval:     c.LeaderRetryIntervalStr,
		LeaderHeartbeatInterval: c.LeaderHeartbeatIntervalStr,
		LogLevel:                c.LogLevel,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://", "redis://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
