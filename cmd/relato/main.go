package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/justoai/relato/internal/analytics"
	"github.com/justoai/relato/internal/api"
	"github.com/justoai/relato/internal/cache"
	"github.com/justoai/relato/internal/circuitbreaker"
	"github.com/justoai/relato/internal/config"
	"github.com/justoai/relato/internal/dispatcher"
	"github.com/justoai/relato/internal/distribution"
	"github.com/justoai/relato/internal/generator"
	"github.com/justoai/relato/internal/leaderelection"
	"github.com/justoai/relato/internal/metrics"
	"github.com/justoai/relato/internal/notify"
	"github.com/justoai/relato/internal/planner"
	"github.com/justoai/relato/internal/quota"
	"github.com/justoai/relato/internal/reconciler"
	"github.com/justoai/relato/internal/store/postgres"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`relato - recurring report scheduler

Usage:
  relato <command>

Commands:
  serve      Start the planner, dispatcher and admin API
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  GENERATOR_URL             Report generation engine endpoint (required)
  GENERATOR_TOKEN           Bearer token for the generation engine
  REDIS_ADDR                Redis address for usage analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")

  PLANNER_CRON_SPEC         Nightly planning pass (default: "30 22 * * *")
  WINDOW_OPEN_HOUR          Dispatch window opening hour UTC (default: "23")
  WINDOW_MINUTES            Dispatch window length in minutes (default: "300")
  DISPATCH_INTERVAL         Dispatch poll interval (default: "1m")
  DISPATCH_TOLERANCE        Due-execution selection tolerance (default: "5m")
  MAX_CONCURRENT            Concurrent generations per pass (default: "10")
  GENERATION_TIMEOUT        Per-report generation timeout (default: "10m")

  CACHE_TTL                 Report cache validity (default: "24h")
  CACHE_RETENTION           Max cache entry age (default: "720h")
  CACHE_BATCH_SIZE          Invalidation batch size (default: "100")
  CACHE_SWEEP_INTERVAL      TTL/age sweep interval (default: "1h")

  RECONCILE_ENABLED         Reap abandoned RUNNING executions (default: "true")
  RECONCILE_INTERVAL        How often to scan (default: "5m")
  RECONCILE_THRESHOLD       Claim age before reaping (default: "30m")

  CIRCUIT_BREAKER_THRESHOLD Failures before a workspace trips (default: "5", 0 disables)
  CIRCUIT_BREAKER_COOLDOWN  Open-circuit cooldown (default: "2m")

  NOTIFY_WEBHOOK_URL        Notification gateway endpoint (optional)
  NOTIFY_SECRET             HMAC secret for notification signing

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")

  LEADER_LOCK_KEY           Advisory lock key shared per database
  LEADER_RETRY_INTERVAL     Follower lock retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection ping interval (default: "2s")

  LOG_LEVEL                 trace|debug|info|warn|error (default: "info")`)
}

func newLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(parsed).With().Timestamp().Logger()
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	log := newLogger(cfg.LogLevel)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Error().Err(err).Msg("failed to open database")
		return exitRuntimeError
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	if err := db.Ping(); err != nil {
		log.Error().Err(err).Msg("failed to connect to database")
		return exitRuntimeError
	}

	store := postgres.New(db, cfg.DBOpTimeout)
	guard := quota.NewGuard(store, log)
	dist := distribution.New(cfg.WindowOpenHour, cfg.WindowMinutes)
	gen := generator.New(cfg.GeneratorURL, cfg.GeneratorToken, log)

	// Metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer, log)
		log.Info().Str("path", cfg.MetricsPath).Msg("metrics enabled")
	}

	runner := planner.NewRunner(store, guard, dist, log)
	if metricsSink != nil {
		runner = runner.WithMetrics(metricsSink)
	}

	invalidator := cache.NewInvalidator(store, log).
		WithBatchSize(cfg.CacheBatchSize).
		WithRetention(cfg.CacheRetention)
	if metricsSink != nil {
		invalidator = invalidator.WithMetrics(metricsSink)
	}

	// The dispatcher and warmer share one breaker so warm-up failures count
	// against the same per-workspace circuit.
	var breaker *circuitbreaker.CircuitBreaker
	if cfg.CircuitBreakerThreshold > 0 {
		breaker = circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}

	warmer := cache.NewWarmer(store, gen, log).WithTTL(cfg.CacheTTL)
	if breaker != nil {
		warmer = warmer.WithBreaker(breaker)
	}

	disp := dispatcher.New(dispatcher.Config{
		MaxConcurrent:     cfg.MaxConcurrent,
		Tolerance:         cfg.DispatchTolerance,
		GenerationTimeout: cfg.GenerationTimeout,
		CacheTTL:          cfg.CacheTTL,
	}, store, gen, guard, log).WithCacheStore(store)
	if metricsSink != nil {
		disp = disp.WithMetrics(metricsSink)
	}
	if breaker != nil {
		disp = disp.WithBreaker(breaker)
	}
	if cfg.NotifyWebhookURL != "" {
		notifier := notify.NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.NotifySecret, log).
			WithTimeout(cfg.NotifyTimeout)
		disp = disp.WithNotifier(notifier)
		log.Info().Str("url", cfg.NotifyWebhookURL).Msg("notifications enabled")
	} else {
		log.Info().Msg("NOTIFY_WEBHOOK_URL not set; notifications disabled")
	}

	// Redis usage analytics (optional)
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		sink := analytics.NewRedisSink(redisClient, log).WithRetention(cfg.AnalyticsRetention)
		disp = disp.WithAnalytics(sink)
		log.Info().Str("redis", cfg.RedisAddr).Msg("analytics enabled")
	} else {
		log.Info().Msg("REDIS_ADDR not set; analytics disabled")
	}

	// Admin API
	apiHandler := api.NewHandler(store, invalidator, log).WithHealthChecker(store)
	if redisClient != nil {
		apiHandler = apiHandler.WithRedisCheck(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	mux := http.NewServeMux()
	if metricsSink != nil {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	mux.Handle("/", apiHandler)

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	// Dispatcher runs on every instance; claims keep it safe.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	var dispatcherWg sync.WaitGroup
	dispatcherWg.Add(1)
	go func() {
		defer dispatcherWg.Done()
		disp.Run(dispatcherCtx, cfg.DispatchInterval)
	}()

	// Leader duties: nightly planning pass, cache warm-up, stale-claim
	// reconciliation and cache sweeps run on exactly one instance.
	var (
		leaderMu   sync.Mutex
		leaderCron *cron.Cron
		leaderWg   sync.WaitGroup
	)

	recon := reconciler.New(reconciler.Config{
		Interval:  cfg.ReconcileInterval,
		Threshold: cfg.ReconcileThreshold,
		BatchSize: cfg.ReconcileBatchSize,
	}, store, guard, log)
	if metricsSink != nil {
		recon = recon.WithMetrics(metricsSink)
	}

	onElected := func(leaderCtx context.Context) {
		c := cron.New()

		if _, err := c.AddFunc(cfg.PlannerCronSpec, func() {
			runPlannerPass(leaderCtx, runner, store, warmer, log)
		}); err != nil {
			log.Fatal().Err(err).Str("spec", cfg.PlannerCronSpec).Msg("invalid planner cron spec")
		}
		if _, err := c.AddFunc(fmt.Sprintf("@every %s", cfg.CacheSweepInterval), func() {
			if _, err := invalidator.SweepExpired(leaderCtx); err != nil {
				log.Error().Err(err).Msg("expired-entry sweep failed")
			}
			if _, err := invalidator.SweepAged(leaderCtx); err != nil {
				log.Error().Err(err).Msg("aged-entry sweep failed")
			}
		}); err != nil {
			log.Fatal().Err(err).Dur("interval", cfg.CacheSweepInterval).Msg("invalid cache sweep interval")
		}
		c.Start()

		leaderMu.Lock()
		leaderCron = c
		leaderMu.Unlock()

		if cfg.ReconcileEnabled {
			leaderWg.Add(1)
			go func() {
				defer leaderWg.Done()
				recon.Run(leaderCtx)
			}()
		}
	}
	onDemoted := func() {
		leaderMu.Lock()
		c := leaderCron
		leaderCron = nil
		leaderMu.Unlock()
		if c != nil {
			<-c.Stop().Done()
		}
		leaderWg.Wait()
	}

	elector := leaderelection.New(db, cfg.LeaderLockKey,
		cfg.LeaderRetryInterval, cfg.LeaderHeartbeatInterval,
		onElected, onDemoted, log)
	if metricsSink != nil {
		elector = elector.WithMetrics(metricsSink)
	}

	electorCtx, cancelElector := context.WithCancel(context.Background())
	var electorWg sync.WaitGroup
	electorWg.Add(1)
	go func() {
		defer electorWg.Done()
		elector.Run(electorCtx)
	}()

	log.Info().
		Str("version", version).
		Str("http", cfg.HTTPAddr).
		Str("planner_cron", cfg.PlannerCronSpec).
		Msg("relato started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.Info().Stringer("signal", received).Msg("shutting down")

	// Leader duties stop first so no new executions are planned, then the
	// dispatcher drains in-flight generations, then the HTTP surface closes.
	cancelElector()
	electorWg.Wait()

	cancelDispatcher()
	dispatcherWg.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Error().Err(err).Msg("redis close error")
		}
	}

	log.Info().Msg("stopped")
	return exitSuccess
}

// runPlannerPass executes the nightly pass and pre-warms the cache for the
// schedules that were just planned.
func runPlannerPass(ctx context.Context, runner *planner.Runner, store *postgres.Store, warmer *cache.Warmer, log zerolog.Logger) {
	result, err := runner.RunDailyPass(ctx)
	if err != nil {
		log.Error().Err(err).Msg("planning pass failed")
		return
	}
	log.Info().
		Int("processed", result.Processed).
		Int("scheduled", result.Scheduled).
		Int("rejected", result.Rejected).
		Msg("planning pass completed")

	for _, assignment := range result.Assignments {
		sched, err := store.GetScheduleByID(ctx, assignment.ScheduleID)
		if err != nil {
			log.Warn().Err(err).Stringer("schedule_id", assignment.ScheduleID).Msg("warm-up lookup failed")
			continue
		}
		if _, err := warmer.EnsureFresh(ctx, sched); err != nil {
			log.Warn().Err(err).Stringer("schedule_id", assignment.ScheduleID).Msg("warm-up failed")
		}
	}
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("relato version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
