package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/justoai/relato/internal/circuitbreaker"
	"github.com/justoai/relato/internal/domain"
)

// Generator is the external report generation pipeline. Shared with the
// dispatcher; the warmer uses the same path so warmed artifacts are
// indistinguishable from dispatched ones.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error)
}

// DefaultWarmTTL is how long a warmed artifact stays valid.
const DefaultWarmTTL = 24 * time.Hour

// Warmer pre-computes report artifacts ahead of their scheduled run.
// Warm-up is optional: any failure leaves the dispatcher to generate
// on demand as usual.
type Warmer struct {
	store     Store
	generator Generator
	breaker   *circuitbreaker.CircuitBreaker // optional, nil = disabled
	ttl       time.Duration
	log       zerolog.Logger
	clock     func() time.Time
}

func NewWarmer(store Store, generator Generator, log zerolog.Logger) *Warmer {
	return &Warmer{
		store:     store,
		generator: generator,
		ttl:       DefaultWarmTTL,
		log:       log.With().Str("component", "cache-warmer").Logger(),
		clock:     time.Now,
	}
}

// WithTTL overrides the warmed-entry TTL.
func (w *Warmer) WithTTL(d time.Duration) *Warmer {
	if d > 0 {
		w.ttl = d
	}
	return w
}

// WithBreaker guards warm-up generator calls with the same circuit breaker
// the dispatcher uses, so a browned-out engine is not hammered twice.
func (w *Warmer) WithBreaker(cb *circuitbreaker.CircuitBreaker) *Warmer {
	w.breaker = cb
	return w
}

// WithClock overrides the time source. Test hook.
func (w *Warmer) WithClock(clock func() time.Time) *Warmer {
	w.clock = clock
	return w
}

// EnsureFresh checks for a valid cached artifact for the schedule and
// generates one when absent or expired. Returns true when a generation ran.
// The cache write is best-effort: a store failure is logged and the warm-up
// still counts as done, since the artifact was produced.
func (w *Warmer) EnsureFresh(ctx context.Context, schedule domain.ScheduleDefinition) (bool, error) {
	key := Key(schedule.WorkspaceID, schedule.ReportType, schedule.AudienceType, schedule.ProcessIDs)
	now := w.clock()

	entry, err := w.store.Get(ctx, key)
	switch {
	case err == nil:
		if !entry.Expired(now) {
			w.log.Debug().Str("cache_key", key).Msg("warm skip, valid entry present")
			return false, nil
		}
	case errors.Is(err, ErrNotFound):
		// Fall through to generation.
	default:
		return false, fmt.Errorf("warm lookup: %w", err)
	}

	wsKey := schedule.WorkspaceID.String()
	if w.breaker != nil {
		if err := w.breaker.Allow(wsKey); err != nil {
			return false, fmt.Errorf("warm generate: %w", err)
		}
	}

	result, err := w.generator.Generate(ctx, domain.GenerationRequest{
		WorkspaceID:   schedule.WorkspaceID,
		ReportType:    schedule.ReportType,
		ProcessIDs:    schedule.ProcessIDs,
		AudienceType:  schedule.AudienceType,
		OutputFormats: schedule.OutputFormats,
		DeltaDataOnly: schedule.ReportType == domain.ReportTypeDelta,
	})
	if err != nil {
		if w.breaker != nil {
			w.breaker.RecordFailure(wsKey)
		}
		return false, fmt.Errorf("warm generate: %w", err)
	}
	if w.breaker != nil {
		w.breaker.RecordSuccess(wsKey)
	}

	put := domain.CacheEntry{
		CacheKey:              key,
		WorkspaceID:           schedule.WorkspaceID,
		ReportType:            schedule.ReportType,
		AudienceType:          schedule.AudienceType,
		ProcessIDs:            schedule.ProcessIDs,
		LastMovementTimestamp: now,
		CachedData:            []byte(result.Summary),
		CreatedAt:             now,
		ExpiresAt:             now.Add(w.ttl),
	}
	if err := w.store.Put(ctx, put); err != nil {
		w.log.Warn().Err(err).Str("cache_key", key).Msg("warm cache write failed")
	}

	w.log.Info().
		Str("cache_key", key).
		Stringer("workspace_id", schedule.WorkspaceID).
		Msg("cache warmed")
	return true, nil
}
