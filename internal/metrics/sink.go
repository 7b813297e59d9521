package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors. If the metrics backend is unavailable, implementations
// log warnings and continue.
type Sink interface {
	// Planner metrics
	PassCompleted(duration time.Duration, scheduled, rejected, errs int)
	QuotaRejected()

	// Dispatcher metrics
	WindowCompleted(duration time.Duration, claimed, completed, failed int)
	ClaimConflict()
	ExecutionOutcome(outcome string)
	ExecutionsInFlightIncr()
	ExecutionsInFlightDecr()
	GenerationDuration(d time.Duration)
	CacheResult(hit bool)

	// Cache invalidation metrics
	CacheInvalidated(trigger string, count int)

	// Reconciler metrics
	StaleExecutionsFailed(count int)
	OverdueExecutionsFailed(count int)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Outcome constants for ExecutionOutcome.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// Trigger constants for CacheInvalidated.
const (
	TriggerMovement = "movement"
	TriggerBulk     = "bulk"
	TriggerPurge    = "purge"
	TriggerTTL      = "ttl"
	TriggerAge      = "age"
)
