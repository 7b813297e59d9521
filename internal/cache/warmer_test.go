package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/justoai/relato/internal/circuitbreaker"
	"github.com/justoai/relato/internal/domain"
)

type mockGenerator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (g *mockGenerator) Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return domain.GenerationResult{}, g.err
	}
	return domain.GenerationResult{Summary: "generated", FileURLs: []string{"https://files/report.pdf"}}, nil
}

func (g *mockGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func warmSchedule(ws uuid.UUID) domain.ScheduleDefinition {
	return domain.ScheduleDefinition{
		ID:            uuid.New(),
		WorkspaceID:   ws,
		ReportType:    domain.ReportTypeComplete,
		AudienceType:  domain.AudienceClient,
		ProcessIDs:    []string{"P1", "P2"},
		OutputFormats: []domain.Format{domain.FormatPDF},
	}
}

func TestEnsureFresh_GeneratesWhenAbsent(t *testing.T) {
	store := newMockStore()
	gen := &mockGenerator{}
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	w := NewWarmer(store, gen, zerolog.Nop()).WithClock(func() time.Time { return now })
	warmed, err := w.EnsureFresh(context.Background(), warmSchedule(uuid.New()))
	if err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	if !warmed {
		t.Fatal("expected a generation run")
	}
	if gen.callCount() != 1 {
		t.Errorf("generator calls = %d, want 1", gen.callCount())
	}
	if store.count() != 1 {
		t.Errorf("cache entries = %d, want 1", store.count())
	}
}

func TestEnsureFresh_SkipsValidEntry(t *testing.T) {
	store := newMockStore()
	gen := &mockGenerator{}
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	ws := uuid.New()
	sched := warmSchedule(ws)

	store.put(domain.CacheEntry{
		CacheKey:              Key(ws, sched.ReportType, sched.AudienceType, sched.ProcessIDs),
		WorkspaceID:           ws,
		ProcessIDs:            sched.ProcessIDs,
		LastMovementTimestamp: now.Add(-time.Hour),
		CreatedAt:             now.Add(-time.Hour),
		ExpiresAt:             now.Add(time.Hour),
	})

	w := NewWarmer(store, gen, zerolog.Nop()).WithClock(func() time.Time { return now })
	warmed, err := w.EnsureFresh(context.Background(), sched)
	if err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	if warmed {
		t.Error("warm ran despite valid cached entry")
	}
	if gen.callCount() != 0 {
		t.Errorf("generator calls = %d, want 0", gen.callCount())
	}
}

func TestEnsureFresh_RegeneratesExpiredEntry(t *testing.T) {
	store := newMockStore()
	gen := &mockGenerator{}
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	ws := uuid.New()
	sched := warmSchedule(ws)

	store.put(domain.CacheEntry{
		CacheKey:   Key(ws, sched.ReportType, sched.AudienceType, sched.ProcessIDs),
		ProcessIDs: sched.ProcessIDs,
		CreatedAt:  now.Add(-48 * time.Hour),
		ExpiresAt:  now.Add(-24 * time.Hour),
	})

	w := NewWarmer(store, gen, zerolog.Nop()).WithClock(func() time.Time { return now })
	warmed, err := w.EnsureFresh(context.Background(), sched)
	if err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	if !warmed || gen.callCount() != 1 {
		t.Errorf("warmed=%v calls=%d, want regeneration", warmed, gen.callCount())
	}
}

func TestEnsureFresh_GeneratorFailurePropagates(t *testing.T) {
	store := newMockStore()
	gen := &mockGenerator{err: errors.New("model overloaded")}

	w := NewWarmer(store, gen, zerolog.Nop())
	warmed, err := w.EnsureFresh(context.Background(), warmSchedule(uuid.New()))
	if err == nil {
		t.Fatal("expected generator error")
	}
	if warmed {
		t.Error("warmed reported true on failure")
	}
	if store.count() != 0 {
		t.Errorf("cache entries = %d, want 0", store.count())
	}
}

func TestEnsureFresh_OpenCircuitBlocksGeneration(t *testing.T) {
	store := newMockStore()
	gen := &mockGenerator{}
	ws := uuid.New()

	breaker := circuitbreaker.New(2, time.Minute)
	breaker.RecordFailure(ws.String())
	breaker.RecordFailure(ws.String())

	w := NewWarmer(store, gen, zerolog.Nop()).WithBreaker(breaker)
	warmed, err := w.EnsureFresh(context.Background(), warmSchedule(ws))
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if warmed {
		t.Error("warmed reported true behind an open circuit")
	}
	if gen.callCount() != 0 {
		t.Errorf("generator calls = %d, want 0", gen.callCount())
	}
}
