package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	cb := New(3, time.Minute).WithClock(func() time.Time { return now })

	for i := 0; i < 2; i++ {
		cb.RecordFailure("ws-1")
		if err := cb.Allow("ws-1"); err != nil {
			t.Fatalf("circuit opened after %d failures, threshold is 3", i+1)
		}
	}

	cb.RecordFailure("ws-1")
	if err := cb.Allow("ws-1"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow after threshold = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_IsolatesWorkspaces(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	cb := New(1, time.Minute).WithClock(func() time.Time { return now })

	cb.RecordFailure("ws-broken")
	if err := cb.Allow("ws-broken"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("broken workspace should be open")
	}
	if err := cb.Allow("ws-healthy"); err != nil {
		t.Fatalf("healthy workspace blocked: %v", err)
	}
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	cb := New(1, time.Minute).WithClock(func() time.Time { return now })

	cb.RecordFailure("ws-1")

	// Cooldown elapses: one probe is admitted, a second is not.
	now = now.Add(2 * time.Minute)
	if err := cb.Allow("ws-1"); err != nil {
		t.Fatalf("probe after cooldown blocked: %v", err)
	}
	if err := cb.Allow("ws-1"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("second call during half-open should be blocked")
	}

	// Probe success closes the circuit.
	cb.RecordSuccess("ws-1")
	if err := cb.Allow("ws-1"); err != nil {
		t.Fatalf("closed circuit blocked: %v", err)
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	cb := New(1, time.Minute).WithClock(func() time.Time { return now })

	cb.RecordFailure("ws-1")
	now = now.Add(2 * time.Minute)
	if err := cb.Allow("ws-1"); err != nil {
		t.Fatalf("probe blocked: %v", err)
	}

	cb.RecordFailure("ws-1")
	now = now.Add(30 * time.Second) // inside the new cooldown
	if err := cb.Allow("ws-1"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("circuit should reopen after probe failure")
	}
}
