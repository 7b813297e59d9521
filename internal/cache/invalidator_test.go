package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/justoai/relato/internal/domain"
)

// mockStore keeps entries in memory with the same delete semantics the
// Postgres store implements.
type mockStore struct {
	mu      sync.Mutex
	entries map[string]domain.CacheEntry
	batches int // DeleteStale call count, for batching assertions
}

func newMockStore() *mockStore {
	return &mockStore{entries: make(map[string]domain.CacheEntry)}
}

func (s *mockStore) put(e domain.CacheEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.CacheKey] = e
}

func (s *mockStore) Get(ctx context.Context, key string) (domain.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return domain.CacheEntry{}, ErrNotFound
	}
	return e, nil
}

func (s *mockStore) Put(ctx context.Context, entry domain.CacheEntry) error {
	s.put(entry)
	return nil
}

func (s *mockStore) DeleteStale(ctx context.Context, processIDs []string, before time.Time) (int, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++

	want := make(map[string]bool, len(processIDs))
	for _, id := range processIDs {
		want[id] = true
	}

	var deleted int
	var affected []string
	for key, e := range s.entries {
		touches := false
		for _, id := range e.ProcessIDs {
			if want[id] {
				touches = true
				break
			}
		}
		if touches && e.LastMovementTimestamp.Before(before) {
			delete(s.entries, key)
			deleted++
			affected = append(affected, e.ProcessIDs...)
		}
	}
	return deleted, affected, nil
}

func (s *mockStore) DeleteWorkspace(ctx context.Context, ws uuid.UUID) (int, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int
	var affected []string
	for key, e := range s.entries {
		if e.WorkspaceID == ws {
			delete(s.entries, key)
			deleted++
			affected = append(affected, e.ProcessIDs...)
		}
	}
	return deleted, affected, nil
}

func (s *mockStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int
	for key, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, key)
			deleted++
		}
	}
	return deleted, nil
}

func (s *mockStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int
	for key, e := range s.entries {
		if e.CreatedAt.Before(cutoff) {
			delete(s.entries, key)
			deleted++
		}
	}
	return deleted, nil
}

func (s *mockStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func entryFor(ws uuid.UUID, processIDs []string, lastMovement time.Time) domain.CacheEntry {
	return domain.CacheEntry{
		CacheKey:              Key(ws, domain.ReportTypeComplete, domain.AudienceClient, processIDs),
		WorkspaceID:           ws,
		ReportType:            domain.ReportTypeComplete,
		AudienceType:          domain.AudienceClient,
		ProcessIDs:            processIDs,
		LastMovementTimestamp: lastMovement,
		CachedData:            []byte("cached report"),
		CreatedAt:             lastMovement,
		ExpiresAt:             lastMovement.Add(24 * time.Hour),
	}
}

func TestOnMovement_DeletesStaleEntry(t *testing.T) {
	store := newMockStore()
	ws := uuid.New()
	t0 := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	store.put(entryFor(ws, []string{"P1", "P2"}, t0))

	inv := NewInvalidator(store, zerolog.Nop())

	// A movement on P1 dated after T0 makes the entry stale.
	res, err := inv.OnMovement(context.Background(), "P1", t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("OnMovement: %v", err)
	}
	if res.Invalidated != 1 {
		t.Fatalf("invalidated = %d, want 1", res.Invalidated)
	}
	if len(res.ProcessIDs) != 2 {
		t.Errorf("affected = %v, want both P1 and P2", res.ProcessIDs)
	}

	// A later, backfilled movement dated before T0 finds nothing: the
	// entry is already absent and nothing resurrects it.
	res, err = inv.OnMovement(context.Background(), "P1", t0.Add(-time.Hour))
	if err != nil {
		t.Fatalf("OnMovement (backfill): %v", err)
	}
	if res.Invalidated != 0 {
		t.Errorf("backfill invalidated = %d, want 0", res.Invalidated)
	}
}

func TestOnMovement_KeepsFreshEntry(t *testing.T) {
	store := newMockStore()
	ws := uuid.New()
	t0 := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	store.put(entryFor(ws, []string{"P1"}, t0))

	inv := NewInvalidator(store, zerolog.Nop())

	// Movement older than the cached snapshot: entry stays.
	res, err := inv.OnMovement(context.Background(), "P1", t0.Add(-time.Minute))
	if err != nil {
		t.Fatalf("OnMovement: %v", err)
	}
	if res.Invalidated != 0 || store.count() != 1 {
		t.Errorf("fresh entry was invalidated (count=%d, remaining=%d)", res.Invalidated, store.count())
	}
}

func TestOnMovement_AbsentEntryIsNoop(t *testing.T) {
	inv := NewInvalidator(newMockStore(), zerolog.Nop())

	res, err := inv.OnMovement(context.Background(), "P404", time.Now())
	if err != nil {
		t.Fatalf("OnMovement on empty cache: %v", err)
	}
	if res.Invalidated != 0 {
		t.Errorf("invalidated = %d, want 0", res.Invalidated)
	}
}

func TestOnMovements_Batches(t *testing.T) {
	store := newMockStore()
	ws := uuid.New()
	t0 := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	movements := make([]domain.Movement, 0, 25)
	for i := 0; i < 25; i++ {
		id := "P" + string(rune('A'+i))
		store.put(entryFor(ws, []string{id}, t0))
		movements = append(movements, domain.Movement{ProcessID: id, Date: t0.Add(time.Hour)})
	}

	inv := NewInvalidator(store, zerolog.Nop()).WithBatchSize(10)
	res, err := inv.OnMovements(context.Background(), movements)
	if err != nil {
		t.Fatalf("OnMovements: %v", err)
	}

	if res.Invalidated != 25 {
		t.Errorf("invalidated = %d, want 25", res.Invalidated)
	}
	if store.batches != 3 {
		t.Errorf("delete queries = %d, want 3 (batch size 10 over 25 movements)", store.batches)
	}
	if store.count() != 0 {
		t.Errorf("entries remaining = %d, want 0", store.count())
	}
}

func TestOnMovements_UsesMaxDatePerBatch(t *testing.T) {
	store := newMockStore()
	ws := uuid.New()
	t0 := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	// Entry snapshot at t0+30m. The batch carries one movement before the
	// snapshot and one after; the batch max supersedes the snapshot.
	store.put(entryFor(ws, []string{"P1"}, t0.Add(30*time.Minute)))

	movements := []domain.Movement{
		{ProcessID: "P1", Date: t0.Add(10 * time.Minute)},
		{ProcessID: "P2", Date: t0.Add(time.Hour)},
	}

	inv := NewInvalidator(store, zerolog.Nop())
	res, err := inv.OnMovements(context.Background(), movements)
	if err != nil {
		t.Fatalf("OnMovements: %v", err)
	}
	if res.Invalidated != 1 {
		t.Errorf("invalidated = %d, want 1 (batch max date supersedes snapshot)", res.Invalidated)
	}
}

func TestPurgeWorkspace_OnlyTargetTenant(t *testing.T) {
	store := newMockStore()
	wsA, wsB := uuid.New(), uuid.New()
	t0 := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	store.put(entryFor(wsA, []string{"A1"}, t0))
	store.put(entryFor(wsA, []string{"A2"}, t0))
	store.put(entryFor(wsB, []string{"B1"}, t0))

	inv := NewInvalidator(store, zerolog.Nop())
	res, err := inv.PurgeWorkspace(context.Background(), wsA)
	if err != nil {
		t.Fatalf("PurgeWorkspace: %v", err)
	}
	if res.Invalidated != 2 {
		t.Errorf("invalidated = %d, want 2", res.Invalidated)
	}
	if store.count() != 1 {
		t.Errorf("entries remaining = %d, want 1 (other tenant untouched)", store.count())
	}
}

func TestSweepExpired(t *testing.T) {
	store := newMockStore()
	ws := uuid.New()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	fresh := entryFor(ws, []string{"P1"}, now)
	stale := entryFor(ws, []string{"P2"}, now.Add(-48*time.Hour))
	store.put(fresh)
	store.put(stale)

	inv := NewInvalidator(store, zerolog.Nop()).WithClock(func() time.Time { return now })
	swept, err := inv.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if swept != 1 || store.count() != 1 {
		t.Errorf("swept = %d, remaining = %d; want 1 and 1", swept, store.count())
	}
}

func TestSweepAged_IgnoresTTL(t *testing.T) {
	store := newMockStore()
	ws := uuid.New()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	old := entryFor(ws, []string{"P1"}, now.Add(-40*24*time.Hour))
	old.ExpiresAt = now.Add(365 * 24 * time.Hour) // TTL far out; age wins
	store.put(old)

	inv := NewInvalidator(store, zerolog.Nop()).WithClock(func() time.Time { return now })
	swept, err := inv.SweepAged(context.Background())
	if err != nil {
		t.Fatalf("SweepAged: %v", err)
	}
	if swept != 1 {
		t.Errorf("swept = %d, want 1", swept)
	}
}
