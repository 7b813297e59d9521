// Command worker runs a dispatch-only node: it claims due executions and
// generates reports but never plans, reconciles or serves the admin API.
// Extra workers scale generation throughput during the nightly window.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/justoai/relato/internal/analytics"
	"github.com/justoai/relato/internal/circuitbreaker"
	"github.com/justoai/relato/internal/config"
	"github.com/justoai/relato/internal/dispatcher"
	"github.com/justoai/relato/internal/generator"
	"github.com/justoai/relato/internal/notify"
	"github.com/justoai/relato/internal/quota"
	"github.com/justoai/relato/internal/store/postgres"

	_ "github.com/lib/pq"
)

func newLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(parsed).With().Timestamp().Logger()
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 2
	}

	log := newLogger(cfg.LogLevel)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Error().Err(err).Msg("failed to open database")
		return 1
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	if err := db.Ping(); err != nil {
		log.Error().Err(err).Msg("failed to connect to database")
		return 1
	}

	store := postgres.New(db, cfg.DBOpTimeout)
	guard := quota.NewGuard(store, log)
	gen := generator.New(cfg.GeneratorURL, cfg.GeneratorToken, log)

	disp := dispatcher.New(dispatcher.Config{
		MaxConcurrent:     cfg.MaxConcurrent,
		Tolerance:         cfg.DispatchTolerance,
		GenerationTimeout: cfg.GenerationTimeout,
		CacheTTL:          cfg.CacheTTL,
	}, store, gen, guard, log).WithCacheStore(store)
	if cfg.CircuitBreakerThreshold > 0 {
		disp = disp.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}
	if cfg.NotifyWebhookURL != "" {
		notifier := notify.NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.NotifySecret, log).
			WithTimeout(cfg.NotifyTimeout)
		disp = disp.WithNotifier(notifier)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		disp = disp.WithAnalytics(analytics.NewRedisSink(redisClient, log).WithRetention(cfg.AnalyticsRetention))
		log.Info().Str("redis", cfg.RedisAddr).Msg("analytics enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		disp.Run(ctx, cfg.DispatchInterval)
	}()

	log.Info().Dur("interval", cfg.DispatchInterval).Msg("worker started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.Info().Stringer("signal", received).Msg("shutting down")

	cancel()
	wg.Wait()

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Error().Err(err).Msg("redis close error")
		}
	}

	log.Info().Msg("worker stopped")
	return 0
}
