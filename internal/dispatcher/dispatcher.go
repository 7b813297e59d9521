// Package dispatcher claims due scheduled executions and runs them against
// the external report generator with bounded concurrency.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/justoai/relato/internal/cache"
	"github.com/justoai/relato/internal/circuitbreaker"
	"github.com/justoai/relato/internal/domain"
)

// ErrClaimLost is returned by Store.ClaimExecution when another dispatcher
// instance claimed the execution first. Not an error condition: the loser
// skips silently.
var ErrClaimLost = errors.New("execution claim lost")

// ErrMissingSchedule marks an execution whose schedule vanished between
// planning and dispatch.
var ErrMissingSchedule = errors.New("execution has no schedule")

type Store interface {
	// GetDueExecutions returns AGENDADO executions with scheduledFor in
	// [from, to], oldest first, at most limit.
	GetDueExecutions(ctx context.Context, from, to time.Time, limit int) ([]domain.ScheduledExecution, error)

	// ClaimExecution transitions AGENDADO to RUNNING atomically, recording
	// startedAt. Returns ErrClaimLost when the execution is no longer
	// claimable.
	ClaimExecution(ctx context.Context, id uuid.UUID, startedAt time.Time) error

	CompleteExecution(ctx context.Context, exec domain.ScheduledExecution) error

	// FailExecution marks the execution FAILED, records the cause and
	// increments retryCount.
	FailExecution(ctx context.Context, id uuid.UUID, completedAt time.Time, cause string) error

	GetScheduleByID(ctx context.Context, id uuid.UUID) (domain.ScheduleDefinition, error)
}

// ReportGenerator is the external generation pipeline (document retrieval,
// AI analysis, rendering). Calls may block for minutes on document-heavy
// reports; the dispatcher bounds them with a timeout.
type ReportGenerator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error)
}

// Quota is the dispatch-time slice of the quota guard: only refunds.
type Quota interface {
	Refund(ctx context.Context, workspaceID uuid.UUID, units int) error
}

// ReadyNotification tells recipients a report is available for download.
type ReadyNotification struct {
	Recipients   []string
	ScheduleName string
	DownloadURL  string
	FileSize     int64
	ExpiresAt    *time.Time
}

// Notifier delivers ready notifications. Best-effort: failures never affect
// the execution outcome.
type Notifier interface {
	SendReportReady(ctx context.Context, n ReadyNotification) error
}

// AnalyticsSink records per-workspace generation usage. Fire-and-forget.
type AnalyticsSink interface {
	Record(ctx context.Context, workspaceID uuid.UUID, tokensUsed int, cacheHit bool)
}

// MetricsSink records dispatch metrics. All methods are non-blocking and
// fire-and-forget.
type MetricsSink interface {
	WindowCompleted(duration time.Duration, claimed, completed, failed int)
	ClaimConflict()
	ExecutionOutcome(outcome string)
	ExecutionsInFlightIncr()
	ExecutionsInFlightDecr()
	GenerationDuration(d time.Duration)
	CacheResult(hit bool)
}

// Outcome labels for ExecutionOutcome.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

type Config struct {
	// MaxConcurrent bounds executions claimed and run per window pass.
	MaxConcurrent int
	// Tolerance widens the selection window around now to absorb polling
	// jitter.
	Tolerance time.Duration
	// GenerationTimeout bounds a single generator call.
	GenerationTimeout time.Duration
	// CacheTTL is the validity of artifacts written after generation.
	CacheTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrent:     10,
		Tolerance:         5 * time.Minute,
		GenerationTimeout: 10 * time.Minute,
		CacheTTL:          24 * time.Hour,
	}
}

// WindowResult aggregates one dispatch pass.
type WindowResult struct {
	Selected  int
	Claimed   int
	Skipped   int // claims lost to concurrent dispatchers
	Completed int
	Failed    int
}

type Dispatcher struct {
	config    Config
	store     Store
	generator ReportGenerator
	quota     Quota

	notifier   Notifier                       // optional, nil = disabled
	analytics  AnalyticsSink                  // optional, nil = disabled
	metrics    MetricsSink                    // optional, nil = disabled
	breaker    *circuitbreaker.CircuitBreaker // optional, nil = disabled
	cacheStore cache.Store                    // optional, nil = no artifact caching

	log   zerolog.Logger
	clock func() time.Time
}

func New(config Config, store Store, generator ReportGenerator, guard Quota, log zerolog.Logger) *Dispatcher {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if config.Tolerance <= 0 {
		config.Tolerance = DefaultConfig().Tolerance
	}
	if config.GenerationTimeout <= 0 {
		config.GenerationTimeout = DefaultConfig().GenerationTimeout
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultConfig().CacheTTL
	}
	return &Dispatcher{
		config:    config,
		store:     store,
		generator: generator,
		quota:     guard,
		log:       log.With().Str("component", "dispatcher").Logger(),
		clock:     time.Now,
	}
}

// WithNotifier attaches a recipient notifier.
func (d *Dispatcher) WithNotifier(n Notifier) *Dispatcher {
	d.notifier = n
	return d
}

// WithAnalytics attaches a usage analytics sink.
func (d *Dispatcher) WithAnalytics(sink AnalyticsSink) *Dispatcher {
	d.analytics = sink
	return d
}

// WithMetrics attaches a metrics sink.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// WithBreaker guards generator calls with a per-workspace circuit breaker.
func (d *Dispatcher) WithBreaker(cb *circuitbreaker.CircuitBreaker) *Dispatcher {
	d.breaker = cb
	return d
}

// WithCacheStore enables best-effort artifact caching after generation.
func (d *Dispatcher) WithCacheStore(store cache.Store) *Dispatcher {
	d.cacheStore = store
	return d
}

// WithClock overrides the time source. Test hook.
func (d *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	d.clock = clock
	return d
}

// Run polls RunWindow on the given interval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.log.Info().Dur("interval", interval).Msg("dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("dispatcher stopped")
			return
		case <-ticker.C:
			if _, err := d.RunWindow(ctx); err != nil {
				d.log.Error().Err(err).Msg("dispatch window failed")
			}
		}
	}
}

// RunWindow selects due AGENDADO executions, claims each one and runs the
// claimed set concurrently. It returns once every claimed execution has
// reached a terminal state.
func (d *Dispatcher) RunWindow(ctx context.Context) (WindowResult, error) {
	started := d.clock()
	from := started.Add(-d.config.Tolerance)
	to := started.Add(d.config.Tolerance)

	due, err := d.store.GetDueExecutions(ctx, from, to, d.config.MaxConcurrent)
	if err != nil {
		return WindowResult{}, fmt.Errorf("get due executions: %w", err)
	}

	var result WindowResult
	result.Selected = len(due)

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, exec := range due {
		if err := d.store.ClaimExecution(ctx, exec.ID, d.clock()); err != nil {
			if errors.Is(err, ErrClaimLost) {
				result.Skipped++
				if d.metrics != nil {
					d.metrics.ClaimConflict()
				}
				continue
			}
			d.log.Error().Err(err).Stringer("execution_id", exec.ID).Msg("claim failed")
			continue
		}
		result.Claimed++

		wg.Add(1)
		go func(exec domain.ScheduledExecution) {
			defer wg.Done()
			completed := d.runExecution(ctx, exec)
			mu.Lock()
			if completed {
				result.Completed++
			} else {
				result.Failed++
			}
			mu.Unlock()
		}(exec)
	}
	wg.Wait()

	duration := d.clock().Sub(started)
	if d.metrics != nil {
		d.metrics.WindowCompleted(duration, result.Claimed, result.Completed, result.Failed)
	}
	if result.Claimed > 0 {
		d.log.Info().
			Int("selected", result.Selected).
			Int("claimed", result.Claimed).
			Int("skipped", result.Skipped).
			Int("completed", result.Completed).
			Int("failed", result.Failed).
			Dur("duration", duration).
			Msg("dispatch window completed")
	}
	return result, nil
}

// runExecution drives one claimed execution to a terminal state. Returns
// true on completion, false on failure.
func (d *Dispatcher) runExecution(ctx context.Context, exec domain.ScheduledExecution) bool {
	if d.metrics != nil {
		d.metrics.ExecutionsInFlightIncr()
		defer d.metrics.ExecutionsInFlightDecr()
	}

	log := d.log.With().
		Stringer("execution_id", exec.ID).
		Stringer("workspace_id", exec.WorkspaceID).
		Logger()

	if exec.ScheduleID == nil {
		d.failExecution(ctx, exec, ErrMissingSchedule)
		return false
	}

	sched, err := d.store.GetScheduleByID(ctx, *exec.ScheduleID)
	if err != nil {
		d.failExecution(ctx, exec, fmt.Errorf("load schedule: %w", err))
		return false
	}

	wsKey := exec.WorkspaceID.String()
	if d.breaker != nil {
		if err := d.breaker.Allow(wsKey); err != nil {
			log.Warn().Msg("generator circuit open, failing fast")
			d.failExecution(ctx, exec, err)
			return false
		}
	}

	genCtx, cancel := context.WithTimeout(ctx, d.config.GenerationTimeout)
	defer cancel()

	genStarted := d.clock()
	result, err := d.generator.Generate(genCtx, domain.GenerationRequest{
		WorkspaceID:   sched.WorkspaceID,
		ReportType:    sched.ReportType,
		ProcessIDs:    sched.ProcessIDs,
		AudienceType:  sched.AudienceType,
		OutputFormats: sched.OutputFormats,
		DeltaDataOnly: sched.ReportType == domain.ReportTypeDelta,
	})
	genDuration := d.clock().Sub(genStarted)
	if d.metrics != nil {
		d.metrics.GenerationDuration(genDuration)
	}

	if err != nil {
		if d.breaker != nil {
			d.breaker.RecordFailure(wsKey)
		}
		log.Error().Err(err).Dur("duration", genDuration).Msg("generation failed")
		d.failExecution(ctx, exec, err)
		return false
	}
	if d.breaker != nil {
		d.breaker.RecordSuccess(wsKey)
	}

	completedAt := d.clock()
	exec.Status = domain.ExecutionStatusCompleted
	exec.CompletedAt = &completedAt
	exec.Duration = genDuration
	exec.Result = result.Summary
	exec.FileURLs = result.FileURLs
	exec.CacheHit = result.CacheHit
	exec.CacheKey = result.CacheKey

	if err := d.store.CompleteExecution(ctx, exec); err != nil {
		// The artifact exists but the record didn't settle; the reconciler
		// will fail and refund this RUNNING row later.
		log.Error().Err(err).Msg("complete update failed")
		return false
	}

	if d.metrics != nil {
		d.metrics.ExecutionOutcome(OutcomeCompleted)
		d.metrics.CacheResult(result.CacheHit)
	}
	log.Info().
		Dur("duration", genDuration).
		Bool("cache_hit", result.CacheHit).
		Int("files", len(result.FileURLs)).
		Msg("execution completed")

	d.writeCache(ctx, sched, result, completedAt)
	d.notify(sched, result)
	if d.analytics != nil {
		go d.analytics.Record(context.WithoutCancel(ctx), exec.WorkspaceID, result.TokensUsed, result.CacheHit)
	}
	return true
}

// failExecution settles a claimed execution as FAILED and refunds its
// quota charge. Refund happens at most once per execution: FailExecution
// rejects terminal rows, so a second settle attempt never reaches the
// ledger.
func (d *Dispatcher) failExecution(ctx context.Context, exec domain.ScheduledExecution, cause error) {
	now := d.clock()
	if err := d.store.FailExecution(ctx, exec.ID, now, cause.Error()); err != nil {
		d.log.Error().Err(err).Stringer("execution_id", exec.ID).Msg("fail update lost")
		return
	}

	if exec.QuotaConsumed > 0 {
		if err := d.quota.Refund(ctx, exec.WorkspaceID, exec.QuotaConsumed); err != nil {
			d.log.Error().Err(err).
				Stringer("execution_id", exec.ID).
				Stringer("workspace_id", exec.WorkspaceID).
				Msg("quota refund lost")
		}
	}
	if d.metrics != nil {
		d.metrics.ExecutionOutcome(OutcomeFailed)
	}
}

// writeCache stores the generated artifact. Best-effort: a failure is
// logged and the execution outcome stands.
func (d *Dispatcher) writeCache(ctx context.Context, sched domain.ScheduleDefinition, result domain.GenerationResult, now time.Time) {
	if d.cacheStore == nil || result.CacheHit {
		return
	}

	key := result.CacheKey
	if key == "" {
		key = cache.Key(sched.WorkspaceID, sched.ReportType, sched.AudienceType, sched.ProcessIDs)
	}
	entry := domain.CacheEntry{
		CacheKey:              key,
		WorkspaceID:           sched.WorkspaceID,
		ReportType:            sched.ReportType,
		AudienceType:          sched.AudienceType,
		ProcessIDs:            sched.ProcessIDs,
		LastMovementTimestamp: now,
		CachedData:            []byte(result.Summary),
		CreatedAt:             now,
		ExpiresAt:             now.Add(d.config.CacheTTL),
	}
	if err := d.cacheStore.Put(ctx, entry); err != nil {
		d.log.Warn().Err(err).Str("cache_key", key).Msg("cache write failed")
	}
}

// notify tells recipients the report is ready. Fire-and-forget.
func (d *Dispatcher) notify(sched domain.ScheduleDefinition, result domain.GenerationResult) {
	if d.notifier == nil || len(sched.Recipients) == 0 {
		return
	}

	var downloadURL string
	if len(result.FileURLs) > 0 {
		downloadURL = result.FileURLs[0]
	}
	n := ReadyNotification{
		Recipients:   sched.Recipients,
		ScheduleName: sched.Name,
		DownloadURL:  downloadURL,
		FileSize:     result.FileSize,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.notifier.SendReportReady(ctx, n); err != nil {
			d.log.Warn().Err(err).
				Str("schedule", sched.Name).
				Int("recipients", len(sched.Recipients)).
				Msg("report-ready notification failed")
		}
	}()
}
