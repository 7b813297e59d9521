package domain

import (
	"time"

	"github.com/google/uuid"
)

// CacheEntry is a memoized report artifact. Entries are never mutated in
// place: invalidation deletes, a fresh generation inserts.
type CacheEntry struct {
	CacheKey    string
	WorkspaceID uuid.UUID

	ReportType   ReportType
	AudienceType AudienceType
	ProcessIDs   []string

	// LastMovementTimestamp is the newest case movement reflected by the
	// cached artifact. A movement dated after it makes the entry stale.
	LastMovementTimestamp time.Time

	CachedData []byte

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry's TTL has passed at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// StaleFor reports whether a movement on one of the entry's processes,
// dated movementDate, supersedes the cached artifact.
func (e CacheEntry) StaleFor(movementDate time.Time) bool {
	return e.LastMovementTimestamp.Before(movementDate)
}
