package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/justoai/relato/internal/domain"
)

// ErrNotFound is returned by Store.Get when no entry exists under a key.
var ErrNotFound = errors.New("cache entry not found")

// DefaultBatchSize bounds how many movements a single bulk-invalidation
// query covers.
const DefaultBatchSize = 100

// DefaultRetention is the age-based safety net: entries older than this are
// swept regardless of their TTL.
const DefaultRetention = 30 * 24 * time.Hour

// Store is the persistence contract for cache entries. Deletions return
// the removed keys and the process IDs they covered, for audit.
type Store interface {
	Get(ctx context.Context, key string) (domain.CacheEntry, error)
	Put(ctx context.Context, entry domain.CacheEntry) error

	// DeleteStale removes entries referencing any of processIDs whose
	// lastMovementTimestamp predates before.
	DeleteStale(ctx context.Context, processIDs []string, before time.Time) (deleted int, affected []string, err error)

	DeleteWorkspace(ctx context.Context, workspaceID uuid.UUID) (deleted int, affected []string, err error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// MetricsSink records invalidation metrics. Fire-and-forget; nil disables.
type MetricsSink interface {
	CacheInvalidated(trigger string, count int)
}

// Result reports one invalidation's effect.
type Result struct {
	Invalidated int
	ProcessIDs  []string
}

// Invalidator applies the delete-only staleness model: movements, purges
// and sweeps remove entries, they never mutate them.
type Invalidator struct {
	store     Store
	batchSize int
	retention time.Duration
	metrics   MetricsSink
	log       zerolog.Logger
	clock     func() time.Time
}

func NewInvalidator(store Store, log zerolog.Logger) *Invalidator {
	return &Invalidator{
		store:     store,
		batchSize: DefaultBatchSize,
		retention: DefaultRetention,
		log:       log.With().Str("component", "cache").Logger(),
		clock:     time.Now,
	}
}

// WithBatchSize overrides the bulk-invalidation batch size.
func (inv *Invalidator) WithBatchSize(n int) *Invalidator {
	if n > 0 {
		inv.batchSize = n
	}
	return inv
}

// WithRetention overrides the age-based sweep horizon.
func (inv *Invalidator) WithRetention(d time.Duration) *Invalidator {
	if d > 0 {
		inv.retention = d
	}
	return inv
}

// WithMetrics attaches a metrics sink.
func (inv *Invalidator) WithMetrics(sink MetricsSink) *Invalidator {
	inv.metrics = sink
	return inv
}

// WithClock overrides the time source. Test hook.
func (inv *Invalidator) WithClock(clock func() time.Time) *Invalidator {
	inv.clock = clock
	return inv
}

// OnMovement invalidates entries made stale by a single new case movement.
// Invalidating an already-absent entry is a no-op, not an error, so replayed
// or backfilled movements are harmless.
func (inv *Invalidator) OnMovement(ctx context.Context, processID string, movementDate time.Time) (Result, error) {
	deleted, affected, err := inv.store.DeleteStale(ctx, []string{processID}, movementDate)
	if err != nil {
		return Result{}, fmt.Errorf("invalidate process %s: %w", processID, err)
	}

	if deleted > 0 {
		inv.log.Info().
			Str("process_id", processID).
			Time("movement_date", movementDate).
			Int("invalidated", deleted).
			Msg("cache invalidated by movement")
	}
	inv.record("movement", deleted)
	return Result{Invalidated: deleted, ProcessIDs: affected}, nil
}

// OnMovements batches bulk movements: fixed-size batches, one delete per
// batch using the batch's max movement date. This over-invalidates inside a
// batch (an entry stale for any batched process goes) which is safe: a
// deleted entry is regenerated, never wrongly served.
func (inv *Invalidator) OnMovements(ctx context.Context, movements []domain.Movement) (Result, error) {
	var total Result
	seen := make(map[string]bool)

	for start := 0; start < len(movements); start += inv.batchSize {
		end := start + inv.batchSize
		if end > len(movements) {
			end = len(movements)
		}
		batch := movements[start:end]

		ids := make([]string, 0, len(batch))
		var maxDate time.Time
		for _, m := range batch {
			ids = append(ids, m.ProcessID)
			if m.Date.After(maxDate) {
				maxDate = m.Date
			}
		}

		deleted, affected, err := inv.store.DeleteStale(ctx, ids, maxDate)
		if err != nil {
			return total, fmt.Errorf("invalidate batch [%d:%d]: %w", start, end, err)
		}

		total.Invalidated += deleted
		for _, id := range affected {
			if !seen[id] {
				seen[id] = true
				total.ProcessIDs = append(total.ProcessIDs, id)
			}
		}
	}

	if total.Invalidated > 0 {
		inv.log.Info().
			Int("movements", len(movements)).
			Int("invalidated", total.Invalidated).
			Msg("cache invalidated by bulk movements")
	}
	inv.record("bulk", total.Invalidated)
	return total, nil
}

// PurgeWorkspace removes every entry for a tenant. Administrative reset.
func (inv *Invalidator) PurgeWorkspace(ctx context.Context, workspaceID uuid.UUID) (Result, error) {
	deleted, affected, err := inv.store.DeleteWorkspace(ctx, workspaceID)
	if err != nil {
		return Result{}, fmt.Errorf("purge workspace %s: %w", workspaceID, err)
	}

	inv.log.Info().
		Stringer("workspace_id", workspaceID).
		Int("invalidated", deleted).
		Msg("workspace cache purged")
	inv.record("purge", deleted)
	return Result{Invalidated: deleted, ProcessIDs: affected}, nil
}

// SweepExpired removes entries past their TTL. Periodic housekeeping.
func (inv *Invalidator) SweepExpired(ctx context.Context) (int, error) {
	deleted, err := inv.store.DeleteExpired(ctx, inv.clock())
	if err != nil {
		return 0, fmt.Errorf("sweep expired: %w", err)
	}
	if deleted > 0 {
		inv.log.Info().Int("swept", deleted).Msg("expired cache entries swept")
	}
	inv.record("ttl", deleted)
	return deleted, nil
}

// SweepAged removes entries older than the retention horizon regardless of
// TTL, bounding growth when TTLs are set far out.
func (inv *Invalidator) SweepAged(ctx context.Context) (int, error) {
	cutoff := inv.clock().Add(-inv.retention)
	deleted, err := inv.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep aged: %w", err)
	}
	if deleted > 0 {
		inv.log.Info().Int("swept", deleted).Time("cutoff", cutoff).Msg("aged cache entries swept")
	}
	inv.record("age", deleted)
	return deleted, nil
}

func (inv *Invalidator) record(trigger string, count int) {
	if inv.metrics != nil {
		inv.metrics.CacheInvalidated(trigger, count)
	}
}
