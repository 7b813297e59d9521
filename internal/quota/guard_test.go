package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// mockLedger mimics the storage-level guarded counter.
type mockLedger struct {
	mu    sync.Mutex
	limit map[uuid.UUID]int
	used  map[uuid.UUID]int
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		limit: make(map[uuid.UUID]int),
		used:  make(map[uuid.UUID]int),
	}
}

func (l *mockLedger) set(ws uuid.UUID, limit, used int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit[ws] = limit
	l.used[ws] = used
}

func (l *mockLedger) Remaining(ctx context.Context, ws uuid.UUID) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit[ws] - l.used[ws], nil
}

func (l *mockLedger) Consume(ctx context.Context, ws uuid.UUID, units int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.used[ws]+units > l.limit[ws] {
		return fmt.Errorf("workspace %s: %w", ws, ErrQuotaExceeded)
	}
	l.used[ws] += units
	return nil
}

func (l *mockLedger) Refund(ctx context.Context, ws uuid.UUID, units int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.used[ws] -= units
	if l.used[ws] < 0 {
		l.used[ws] = 0
	}
	return nil
}

func (l *mockLedger) usage(ws uuid.UUID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.used[ws]
}

func TestValidate_AllowsWithinBudget(t *testing.T) {
	ledger := newMockLedger()
	ws := uuid.New()
	ledger.set(ws, 10, 3)

	g := NewGuard(ledger, zerolog.Nop())
	if err := g.Validate(context.Background(), ws, 5); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_RejectsOverBudget(t *testing.T) {
	ledger := newMockLedger()
	ws := uuid.New()
	ledger.set(ws, 10, 8)

	g := NewGuard(ledger, zerolog.Nop())
	err := g.Validate(context.Background(), ws, 5)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Validate err = %v, want ErrQuotaExceeded", err)
	}
}

func TestValidate_RejectsNonPositiveUnits(t *testing.T) {
	g := NewGuard(newMockLedger(), zerolog.Nop())
	if err := g.Validate(context.Background(), uuid.New(), 0); err == nil {
		t.Fatal("Validate(0 units) should fail")
	}
}

func TestConsumeRefund_Roundtrip(t *testing.T) {
	ledger := newMockLedger()
	ws := uuid.New()
	ledger.set(ws, 10, 0)

	g := NewGuard(ledger, zerolog.Nop())
	ctx := context.Background()

	if err := g.Consume(ctx, ws, 1); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if got := ledger.usage(ws); got != 1 {
		t.Fatalf("usage after consume = %d, want 1", got)
	}

	if err := g.Refund(ctx, ws, 1); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if got := ledger.usage(ws); got != 0 {
		t.Fatalf("usage after refund = %d, want 0", got)
	}
}

func TestConsume_RaceLosesToAtomicGuard(t *testing.T) {
	// Validate passes for both callers but only one Consume can win the
	// last unit; the loser gets the policy rejection from the ledger.
	ledger := newMockLedger()
	ws := uuid.New()
	ledger.set(ws, 1, 0)

	g := NewGuard(ledger, zerolog.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = g.Consume(ctx, ws, 1)
		}(i)
	}
	wg.Wait()

	var rejected int
	for _, err := range errs {
		if errors.Is(err, ErrQuotaExceeded) {
			rejected++
		} else if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if rejected != 1 {
		t.Fatalf("rejected = %d, want exactly 1", rejected)
	}
	if got := ledger.usage(ws); got != 1 {
		t.Fatalf("usage = %d, want 1", got)
	}
}
