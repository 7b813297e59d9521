package metrics

import "time"

// NoopSink implements Sink with no-ops, for when metrics are disabled.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (*NoopSink) PassCompleted(time.Duration, int, int, int)   {}
func (*NoopSink) QuotaRejected()                               {}
func (*NoopSink) WindowCompleted(time.Duration, int, int, int) {}
func (*NoopSink) ClaimConflict()                               {}
func (*NoopSink) ExecutionOutcome(string)                      {}
func (*NoopSink) ExecutionsInFlightIncr()                      {}
func (*NoopSink) ExecutionsInFlightDecr()                      {}
func (*NoopSink) GenerationDuration(time.Duration)             {}
func (*NoopSink) CacheResult(bool)                             {}
func (*NoopSink) CacheInvalidated(string, int)                 {}
func (*NoopSink) StaleExecutionsFailed(int)                    {}
func (*NoopSink) OverdueExecutionsFailed(int)                  {}
func (*NoopSink) LeaderStatusChanged(bool)                     {}
func (*NoopSink) LeaderAcquired()                              {}
func (*NoopSink) LeaderLost(string)                            {}

var _ Sink = (*NoopSink)(nil)
