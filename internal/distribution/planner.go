// Package distribution assigns each workspace a stable slot inside the
// nightly generation window so recurring reports don't pile up at the
// window boundary.
package distribution

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

const (
	// DefaultOpenHour is when the nightly window opens (23:00 local).
	DefaultOpenHour = 23
	// DefaultWindowMinutes spans 23:00-04:00.
	DefaultWindowMinutes = 300
)

// Planner maps workspace identifiers onto minute offsets inside a fixed
// nightly window. The mapping is deterministic: the same workspace always
// lands on the same offset regardless of run order.
type Planner struct {
	openHour      int
	windowMinutes int
	clock         func() time.Time
}

func New(openHour, windowMinutes int) *Planner {
	if windowMinutes <= 0 {
		windowMinutes = DefaultWindowMinutes
	}
	if openHour < 0 || openHour > 23 {
		openHour = DefaultOpenHour
	}
	return &Planner{
		openHour:      openHour,
		windowMinutes: windowMinutes,
		clock:         time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (p *Planner) WithClock(clock func() time.Time) *Planner {
	p.clock = clock
	return p
}

// Hash reduces the workspace identifier to a minute offset in
// [0, windowMinutes). SHA-256 keeps the distribution uniform over tenants;
// the first 8 hex characters are enough entropy for a 300-slot window.
func (p *Planner) Hash(workspaceID string) int {
	sum := sha256.Sum256([]byte(workspaceID))
	prefix := hex.EncodeToString(sum[:])[:8]
	n, err := strconv.ParseUint(prefix, 16, 64)
	if err != nil {
		// Unreachable for hex input; fall back to the first slot.
		return 0
	}
	return int(n % uint64(p.windowMinutes))
}

// Assign turns a minute offset into a concrete timestamp: window-open on
// the current day plus offset minutes. If the result lands outside the
// wrapped window (possible when the window is misconfigured wider than the
// wrap room), it rolls to the next day's window-open plus offset mod 60,
// bounding the retried offset to the first hour of the new window.
// Idempotent for a fixed offset within the same calendar day.
func (p *Planner) Assign(offset int) time.Time {
	now := p.clock()
	open := time.Date(now.Year(), now.Month(), now.Day(), p.openHour, 0, 0, 0, now.Location())
	assigned := open.Add(time.Duration(offset) * time.Minute)

	if !p.inWindow(assigned) {
		next := open.AddDate(0, 0, 1)
		return next.Add(time.Duration(offset%60) * time.Minute)
	}
	return assigned
}

// Slot is Hash followed by Assign.
func (p *Planner) Slot(workspaceID string) (offset int, at time.Time) {
	offset = p.Hash(workspaceID)
	return offset, p.Assign(offset)
}

// WindowMinutes returns the configured window span.
func (p *Planner) WindowMinutes() int {
	return p.windowMinutes
}

// inWindow checks the time-of-day against [open, open+windowMinutes),
// accounting for windows that wrap past midnight.
func (p *Planner) inWindow(t time.Time) bool {
	minuteOfDay := t.Hour()*60 + t.Minute()
	openMin := p.openHour * 60
	closeMin := (openMin + p.windowMinutes) % (24 * 60)

	if openMin < closeMin {
		return minuteOfDay >= openMin && minuteOfDay < closeMin
	}
	// Wrapped window, e.g. 23:00-04:00.
	return minuteOfDay >= openMin || minuteOfDay < closeMin
}
