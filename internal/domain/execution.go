package domain

import (
	"time"

	"github.com/google/uuid"
)

type ExecutionStatus string

const (
	// ExecutionStatusAgendado: planned, waiting for its assigned time slot.
	// The legacy status value is kept on the wire for compatibility with
	// rows written by earlier releases.
	ExecutionStatusAgendado  ExecutionStatus = "agendado"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
// A failed execution is retried by creating a new record, never by
// resurrecting the old one.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// ScheduledExecution is one concrete attempt derived from a schedule
// (ScheduleID set) or created ad hoc (ScheduleID nil).
//
// QuotaConsumed records the units charged at planning time. The ledger is
// refunded exactly once if and only if the execution ultimately fails after
// consuming; completed executions keep their charge.
type ScheduledExecution struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	ScheduleID  *uuid.UUID

	Status       ExecutionStatus
	ScheduledFor time.Time

	QuotaConsumed int

	StartedAt   *time.Time
	CompletedAt *time.Time
	Duration    time.Duration

	RetryCount int
	Error      string

	Result   string
	FileURLs []string
	CacheHit bool
	CacheKey string

	CreatedAt time.Time
}
