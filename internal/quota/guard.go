// Package quota enforces the per-workspace monthly budget of
// report-generation units.
package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrQuotaExceeded marks a policy rejection: terminal, never retried.
var ErrQuotaExceeded = errors.New("monthly report quota exceeded")

// Ledger is the storage-level counter. Consume and Refund must be atomic
// (a single guarded update) so concurrent planning passes for the same
// workspace cannot lose updates. Consume returns ErrQuotaExceeded when the
// charge would overrun the budget; Refund never drives usage below zero.
type Ledger interface {
	Remaining(ctx context.Context, workspaceID uuid.UUID) (int, error)
	Consume(ctx context.Context, workspaceID uuid.UUID, units int) error
	Refund(ctx context.Context, workspaceID uuid.UUID, units int) error
}

// Guard wraps the ledger with validation and logging. All scheduling
// components charge quota through the Guard, never the ledger directly.
type Guard struct {
	ledger Ledger
	log    zerolog.Logger
}

func NewGuard(ledger Ledger, log zerolog.Logger) *Guard {
	return &Guard{ledger: ledger, log: log.With().Str("component", "quota").Logger()}
}

// Validate checks that units are available without charging them. A
// concurrent consumer can still win the race; Consume re-checks atomically.
func (g *Guard) Validate(ctx context.Context, workspaceID uuid.UUID, units int) error {
	if units <= 0 {
		return fmt.Errorf("validate: units must be positive, got %d", units)
	}

	remaining, err := g.ledger.Remaining(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("quota remaining: %w", err)
	}
	if remaining < units {
		return fmt.Errorf("workspace %s: requested %d units, %d remaining: %w",
			workspaceID, units, remaining, ErrQuotaExceeded)
	}
	return nil
}

// Consume charges units against the workspace ledger.
func (g *Guard) Consume(ctx context.Context, workspaceID uuid.UUID, units int) error {
	if err := g.ledger.Consume(ctx, workspaceID, units); err != nil {
		return fmt.Errorf("quota consume: %w", err)
	}
	g.log.Debug().Stringer("workspace_id", workspaceID).Int("units", units).Msg("quota consumed")
	return nil
}

// Refund returns units to the workspace ledger after a failed execution.
func (g *Guard) Refund(ctx context.Context, workspaceID uuid.UUID, units int) error {
	if err := g.ledger.Refund(ctx, workspaceID, units); err != nil {
		return fmt.Errorf("quota refund: %w", err)
	}
	g.log.Debug().Stringer("workspace_id", workspaceID).Int("units", units).Msg("quota refunded")
	return nil
}
