// Package reconciler settles executions stranded in a non-terminal state.
//
// A dispatcher instance can die between claiming an execution and writing
// its terminal state. The row then stays RUNNING forever, its quota unit
// charged but no report delivered. The reconciler periodically scans for
// RUNNING executions whose claim is older than a threshold, fails them and
// refunds the charge. The threshold must exceed the dispatcher's generation
// timeout so in-flight work is never reaped.
//
// The same cycle reaps AGENDADO rows whose slot passed longer ago than the
// threshold. The dispatcher only selects rows within its tolerance of now,
// so after an outage longer than that, planned rows would otherwise sit
// charged and undelivered forever.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/justoai/relato/internal/domain"
)

// ClaimExpiredMessage is recorded as the failure cause on reaped RUNNING rows.
const ClaimExpiredMessage = "claim expired: dispatcher did not settle the execution"

// WindowMissedMessage is recorded as the failure cause on reaped AGENDADO rows.
const WindowMissedMessage = "dispatch window missed: no dispatcher picked up the execution"

type Store interface {
	// GetStaleRunning returns RUNNING executions with startedAt before
	// olderThan, oldest first, at most limit.
	GetStaleRunning(ctx context.Context, olderThan time.Time, limit int) ([]domain.ScheduledExecution, error)

	// GetOverdueAgendado returns AGENDADO executions scheduled before
	// olderThan, oldest first, at most limit.
	GetOverdueAgendado(ctx context.Context, olderThan time.Time, limit int) ([]domain.ScheduledExecution, error)

	// FailExecution marks the execution FAILED, records the cause and
	// increments retryCount. Must reject terminal rows so a racing
	// dispatcher completion wins.
	FailExecution(ctx context.Context, id uuid.UUID, completedAt time.Time, cause string) error
}

type Quota interface {
	Refund(ctx context.Context, workspaceID uuid.UUID, units int) error
}

// MetricsSink records reconciler metrics. Fire-and-forget; nil disables.
type MetricsSink interface {
	StaleExecutionsFailed(count int)
	OverdueExecutionsFailed(count int)
}

type Config struct {
	// Interval is how often the reconciler runs.
	Interval time.Duration

	// Threshold is the claim age after which a RUNNING execution is
	// considered abandoned. Must exceed the dispatcher's generation
	// timeout.
	Threshold time.Duration

	// BatchSize caps executions settled per cycle.
	BatchSize int
}

func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: 30 * time.Minute,
		BatchSize: 100,
	}
}

type Reconciler struct {
	config  Config
	store   Store
	quota   Quota
	metrics MetricsSink
	log     zerolog.Logger
	clock   func() time.Time
}

func New(config Config, store Store, guard Quota, log zerolog.Logger) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Threshold <= 0 {
		config.Threshold = DefaultConfig().Threshold
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	return &Reconciler{
		config: config,
		store:  store,
		quota:  guard,
		log:    log.With().Str("component", "reconciler").Logger(),
		clock:  time.Now,
	}
}

// WithMetrics attaches a metrics sink.
func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// WithClock overrides the time source. Test hook.
func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Run executes reconciliation cycles until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.log.Info().
		Dur("interval", r.config.Interval).
		Dur("threshold", r.config.Threshold).
		Msg("reconciler started")

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.log.Error().Err(err).Msg("reconcile cycle failed")
			}
		}
	}
}

// RunOnce settles one batch of stale RUNNING executions and one batch of
// overdue AGENDADO executions. Returns how many were failed and refunded
// in total.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	olderThan := r.clock().Add(-r.config.Threshold)

	stale, err := r.store.GetStaleRunning(ctx, olderThan, r.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("get stale running: %w", err)
	}
	settled := r.settle(ctx, stale, ClaimExpiredMessage)
	if r.metrics != nil {
		r.metrics.StaleExecutionsFailed(settled)
	}

	// The threshold exceeds the dispatch tolerance, so none of these rows
	// can still be claimed by a live dispatcher.
	overdue, err := r.store.GetOverdueAgendado(ctx, olderThan, r.config.BatchSize)
	if err != nil {
		return settled, fmt.Errorf("get overdue agendado: %w", err)
	}
	reaped := r.settle(ctx, overdue, WindowMissedMessage)
	if r.metrics != nil {
		r.metrics.OverdueExecutionsFailed(reaped)
	}

	return settled + reaped, nil
}

// settle fails each execution and refunds its quota charge.
func (r *Reconciler) settle(ctx context.Context, execs []domain.ScheduledExecution, cause string) int {
	var settled int
	for _, exec := range execs {
		if err := r.store.FailExecution(ctx, exec.ID, r.clock(), cause); err != nil {
			// A dispatcher may have settled the row between scan and
			// update; skip without refund.
			r.log.Debug().Err(err).Stringer("execution_id", exec.ID).Msg("row settled elsewhere")
			continue
		}
		settled++

		if exec.QuotaConsumed > 0 {
			if err := r.quota.Refund(ctx, exec.WorkspaceID, exec.QuotaConsumed); err != nil {
				r.log.Error().Err(err).
					Stringer("execution_id", exec.ID).
					Stringer("workspace_id", exec.WorkspaceID).
					Msg("refund for reaped execution lost")
			}
		}

		r.log.Warn().
			Stringer("execution_id", exec.ID).
			Stringer("workspace_id", exec.WorkspaceID).
			Str("cause", cause).
			Msg("stranded execution failed and refunded")
	}
	return settled
}
