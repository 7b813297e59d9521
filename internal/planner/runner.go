// Package planner turns due recurring schedules into concrete scheduled
// executions, once a day, before the nightly generation window opens.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/justoai/relato/internal/domain"
	"github.com/justoai/relato/internal/quota"
)

// ErrDuplicateExecution is returned by Store.InsertExecution when an
// execution for the same (schedule, slot) already exists. The planner
// treats it as already planned, keeping the daily pass idempotent.
var ErrDuplicateExecution = errors.New("execution already exists")

type Store interface {
	// GetDueSchedules returns enabled schedules whose nextRun falls in
	// [from, to) or is overdue (before from).
	GetDueSchedules(ctx context.Context, from, to time.Time) ([]domain.ScheduleDefinition, error)

	InsertExecution(ctx context.Context, exec domain.ScheduledExecution) error

	// MarkScheduleRun advances lastRun/nextRun and bumps the schedule's
	// monthly usage counter by one.
	MarkScheduleRun(ctx context.Context, scheduleID uuid.UUID, lastRun, nextRun time.Time) error
}

// Quota is the planning-time slice of the quota guard.
type Quota interface {
	Validate(ctx context.Context, workspaceID uuid.UUID, units int) error
	Consume(ctx context.Context, workspaceID uuid.UUID, units int) error
	Refund(ctx context.Context, workspaceID uuid.UUID, units int) error
}

// Distributor assigns a workspace its slot in the nightly window.
type Distributor interface {
	Slot(workspaceID string) (offset int, at time.Time)
}

// MetricsSink records planning metrics. Fire-and-forget; nil disables.
type MetricsSink interface {
	PassCompleted(duration time.Duration, scheduled, rejected, errs int)
	QuotaRejected()
}

// Assignment is one schedule's slot in the window, surfaced for
// observability.
type Assignment struct {
	ScheduleID  uuid.UUID
	WorkspaceID uuid.UUID
	Offset      int
	At          time.Time
}

// PassResult aggregates one daily pass.
type PassResult struct {
	Processed   int
	Scheduled   int
	Rejected    int // quota policy blocks, recorded as FAILED with no charge
	Errors      int
	Assignments []Assignment
}

type Runner struct {
	store   Store
	quota   Quota
	dist    Distributor
	metrics MetricsSink
	log     zerolog.Logger
	clock   func() time.Time
}

func NewRunner(store Store, guard Quota, dist Distributor, log zerolog.Logger) *Runner {
	return &Runner{
		store: store,
		quota: guard,
		dist:  dist,
		log:   log.With().Str("component", "planner").Logger(),
		clock: time.Now,
	}
}

// WithMetrics attaches a metrics sink.
func (r *Runner) WithMetrics(sink MetricsSink) *Runner {
	r.metrics = sink
	return r
}

// WithClock overrides the time source. Test hook.
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.clock = clock
	return r
}

// RunDailyPass plans every schedule due today. A single schedule's failure
// is logged and counted, never aborts the pass.
func (r *Runner) RunDailyPass(ctx context.Context) (PassResult, error) {
	started := r.clock()
	today := truncateToDay(started)
	tomorrow := today.AddDate(0, 0, 1)

	schedules, err := r.store.GetDueSchedules(ctx, today, tomorrow)
	if err != nil {
		return PassResult{}, fmt.Errorf("get due schedules: %w", err)
	}

	var result PassResult
	for _, sched := range schedules {
		result.Processed++

		assignment, outcome, err := r.planSchedule(ctx, sched, today)
		switch outcome {
		case outcomeScheduled:
			result.Scheduled++
			result.Assignments = append(result.Assignments, assignment)
		case outcomeRejected:
			result.Rejected++
			if r.metrics != nil {
				r.metrics.QuotaRejected()
			}
		case outcomeSkipped:
			// Already planned by an earlier pass; nothing to count.
		case outcomeError:
			result.Errors++
			r.log.Error().Err(err).
				Stringer("schedule_id", sched.ID).
				Stringer("workspace_id", sched.WorkspaceID).
				Msg("schedule planning failed")
		}
	}

	duration := r.clock().Sub(started)
	if r.metrics != nil {
		r.metrics.PassCompleted(duration, result.Scheduled, result.Rejected, result.Errors)
	}
	r.log.Info().
		Int("processed", result.Processed).
		Int("scheduled", result.Scheduled).
		Int("rejected", result.Rejected).
		Int("errors", result.Errors).
		Dur("duration", duration).
		Msg("daily planning pass completed")

	return result, nil
}

type outcome int

const (
	outcomeScheduled outcome = iota
	outcomeRejected
	outcomeSkipped
	outcomeError
)

func (r *Runner) planSchedule(ctx context.Context, sched domain.ScheduleDefinition, today time.Time) (Assignment, outcome, error) {
	units := len(sched.ProcessIDs)
	if units == 0 {
		units = 1
	}

	if err := r.quota.Validate(ctx, sched.WorkspaceID, units); err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			return Assignment{}, outcomeRejected, r.recordRejection(ctx, sched, err)
		}
		return Assignment{}, outcomeError, err
	}

	// Consume before persisting: the ledger update is the atomic re-check
	// of Validate, and a failed insert below refunds the unit. A race lost
	// here is the same policy block as a Validate rejection.
	if err := r.quota.Consume(ctx, sched.WorkspaceID, 1); err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			return Assignment{}, outcomeRejected, r.recordRejection(ctx, sched, err)
		}
		return Assignment{}, outcomeError, err
	}

	offset, at := r.dist.Slot(sched.WorkspaceID.String())
	scheduleID := sched.ID
	exec := domain.ScheduledExecution{
		ID:            uuid.New(),
		WorkspaceID:   sched.WorkspaceID,
		ScheduleID:    &scheduleID,
		Status:        domain.ExecutionStatusAgendado,
		ScheduledFor:  at,
		QuotaConsumed: 1,
		CreatedAt:     r.clock(),
	}

	if err := r.store.InsertExecution(ctx, exec); err != nil {
		if refundErr := r.quota.Refund(ctx, sched.WorkspaceID, 1); refundErr != nil {
			r.log.Error().Err(refundErr).
				Stringer("workspace_id", sched.WorkspaceID).
				Msg("refund after failed insert lost")
		}
		if errors.Is(err, ErrDuplicateExecution) {
			return Assignment{}, outcomeSkipped, nil
		}
		return Assignment{}, outcomeError, fmt.Errorf("insert execution: %w", err)
	}

	nextRun := sched.Frequency.Next(today)
	if err := r.store.MarkScheduleRun(ctx, sched.ID, today, nextRun); err != nil {
		// The execution is planned and paid for; the schedule will surface
		// as overdue tomorrow and dedupe on insert.
		return Assignment{}, outcomeError, fmt.Errorf("mark schedule run: %w", err)
	}

	r.log.Info().
		Stringer("schedule_id", sched.ID).
		Stringer("workspace_id", sched.WorkspaceID).
		Int("offset_minutes", offset).
		Time("scheduled_for", at).
		Time("next_run", nextRun).
		Msg("schedule planned")

	return Assignment{
		ScheduleID:  sched.ID,
		WorkspaceID: sched.WorkspaceID,
		Offset:      offset,
		At:          at,
	}, outcomeScheduled, nil
}

// recordRejection persists the policy block as a FAILED execution with no
// quota charge. Not retried: the budget, not the system, said no.
func (r *Runner) recordRejection(ctx context.Context, sched domain.ScheduleDefinition, cause error) error {
	scheduleID := sched.ID
	now := r.clock()
	completed := now
	exec := domain.ScheduledExecution{
		ID:            uuid.New(),
		WorkspaceID:   sched.WorkspaceID,
		ScheduleID:    &scheduleID,
		Status:        domain.ExecutionStatusFailed,
		ScheduledFor:  now,
		QuotaConsumed: 0,
		CompletedAt:   &completed,
		Error:         cause.Error(),
		CreatedAt:     now,
	}
	if err := r.store.InsertExecution(ctx, exec); err != nil && !errors.Is(err, ErrDuplicateExecution) {
		r.log.Error().Err(err).
			Stringer("schedule_id", sched.ID).
			Msg("failed to record quota rejection")
	}

	r.log.Warn().
		Stringer("schedule_id", sched.ID).
		Stringer("workspace_id", sched.WorkspaceID).
		Str("reason", cause.Error()).
		Msg("schedule rejected by quota")
	return nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
