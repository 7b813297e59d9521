package distribution

import (
	"fmt"
	"testing"
	"time"
)

func TestHash_Deterministic(t *testing.T) {
	p := New(DefaultOpenHour, DefaultWindowMinutes)

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("workspace-%d", i)
		first := p.Hash(id)
		for j := 0; j < 5; j++ {
			if got := p.Hash(id); got != first {
				t.Fatalf("hash(%q) not stable: %d then %d", id, first, got)
			}
		}
		if first < 0 || first >= DefaultWindowMinutes {
			t.Fatalf("hash(%q) = %d, want [0, %d)", id, first, DefaultWindowMinutes)
		}
	}
}

func TestHash_SpreadsTenants(t *testing.T) {
	p := New(DefaultOpenHour, DefaultWindowMinutes)

	seen := make(map[int]int)
	for i := 0; i < 1000; i++ {
		seen[p.Hash(fmt.Sprintf("ws-%d", i))]++
	}

	// With 1000 tenants over 300 slots a uniform hash should touch most
	// slots and never concentrate heavily on one.
	if len(seen) < 200 {
		t.Errorf("only %d distinct slots used for 1000 tenants", len(seen))
	}
	for slot, count := range seen {
		if count > 25 {
			t.Errorf("slot %d has %d tenants, distribution is skewed", slot, count)
		}
	}
}

func TestAssign_InsideWindow(t *testing.T) {
	now := time.Date(2025, 3, 10, 22, 30, 0, 0, time.UTC)
	p := New(DefaultOpenHour, DefaultWindowMinutes).WithClock(func() time.Time { return now })

	for offset := 0; offset < DefaultWindowMinutes; offset++ {
		at := p.Assign(offset)
		minuteOfDay := at.Hour()*60 + at.Minute()
		inside := minuteOfDay >= 23*60 || minuteOfDay < 4*60
		if !inside {
			t.Fatalf("Assign(%d) = %s, time-of-day outside 23:00-04:00", offset, at)
		}
	}
}

func TestAssign_OffsetZeroIsWindowOpen(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	p := New(DefaultOpenHour, DefaultWindowMinutes).WithClock(func() time.Time { return now })

	at := p.Assign(0)
	want := time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)
	if !at.Equal(want) {
		t.Errorf("Assign(0) = %s, want %s", at, want)
	}
}

func TestAssign_LastSlotBeforeClose(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	p := New(DefaultOpenHour, DefaultWindowMinutes).WithClock(func() time.Time { return now })

	at := p.Assign(DefaultWindowMinutes - 1)
	want := time.Date(2025, 3, 11, 3, 59, 0, 0, time.UTC)
	if !at.Equal(want) {
		t.Errorf("Assign(299) = %s, want %s", at, want)
	}
}

func TestAssign_IdempotentWithinDay(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 15, 0, 0, time.UTC)
	p := New(DefaultOpenHour, DefaultWindowMinutes).WithClock(func() time.Time { return now })

	first := p.Assign(137)
	for i := 0; i < 3; i++ {
		if got := p.Assign(137); !got.Equal(first) {
			t.Fatalf("Assign(137) drifted: %s then %s", first, got)
		}
	}
}

func TestAssign_OverflowRollsToNextDay(t *testing.T) {
	// An offset past the window span (clock-arithmetic edge case) lands
	// outside 23:00-04:00 and must roll to the next day's window-open plus
	// offset mod 60, keeping the retry inside the first hour.
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	p := New(DefaultOpenHour, DefaultWindowMinutes).WithClock(func() time.Time { return now })

	// 23:00 + 350m = 04:50, outside the window.
	at := p.Assign(350)
	want := time.Date(2025, 3, 11, 23, 50, 0, 0, time.UTC)
	if !at.Equal(want) {
		t.Errorf("Assign(350) = %s, want %s", at, want)
	}

	// The fallback itself is idempotent within the same day.
	if again := p.Assign(350); !again.Equal(at) {
		t.Errorf("Assign(350) drifted: %s then %s", at, again)
	}
}

func TestSlot_StablePerWorkspace(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	p := New(DefaultOpenHour, DefaultWindowMinutes).WithClock(func() time.Time { return now })

	offA, atA := p.Slot("workspace-alpha")
	offB, atB := p.Slot("workspace-alpha")
	if offA != offB || !atA.Equal(atB) {
		t.Errorf("Slot not stable: (%d, %s) then (%d, %s)", offA, atA, offB, atB)
	}
}
