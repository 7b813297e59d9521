package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget. Registration errors
// are logged but never propagated; metrics that fail to register keep
// working as unregistered collectors.
type PrometheusSink struct {
	log zerolog.Logger

	// Planner metrics
	passesTotal     prometheus.Counter
	passDuration    prometheus.Histogram
	scheduledTotal  prometheus.Counter
	rejectedTotal   prometheus.Counter
	passErrorsTotal prometheus.Counter
	quotaRejections prometheus.Counter

	// Dispatcher metrics
	windowsTotal        prometheus.Counter
	windowDuration      prometheus.Histogram
	claimConflictsTotal prometheus.Counter
	outcomesTotal       *prometheus.CounterVec
	executionsInFlight  prometheus.Gauge
	generationDuration  prometheus.Histogram
	cacheResultsTotal   *prometheus.CounterVec

	// Cache metrics
	invalidationsTotal *prometheus.CounterVec

	// Reconciler metrics
	staleFailedTotal   prometheus.Counter
	overdueFailedTotal prometheus.Counter

	// Leader metrics
	leaderStatus       prometheus.Gauge
	leaderAcquisitions prometheus.Counter
	leaderLossesTotal  *prometheus.CounterVec
}

func NewPrometheusSink(reg prometheus.Registerer, log zerolog.Logger) *PrometheusSink {
	s := &PrometheusSink{log: log.With().Str("component", "metrics").Logger()}
	s.initPlannerMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initCacheMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initPlannerMetrics(reg prometheus.Registerer) {
	s.passesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relato_planner_passes_total",
		Help: "Total number of daily planning passes.",
	})
	s.passDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relato_planner_pass_duration_seconds",
		Help:    "Duration of daily planning passes.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	})
	s.scheduledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relato_planner_scheduled_total",
		Help: "Total executions planned into the nightly window.",
	})
	s.rejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relato_planner_rejected_total",
		Help: "Total schedules rejected by quota during planning.",
	})
	s.passErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relato_planner_errors_total",
		Help: "Total per-schedule errors during planning passes.",
	})
	s.quotaRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relato_quota_rejections_total",
		Help: "Total quota policy rejections.",
	})
	s.register(reg,
		s.passesTotal, s.passDuration, s.scheduledTotal,
		s.rejectedTotal, s.passErrorsTotal, s.quotaRejections,
	)
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.windowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relato_dispatch_windows_total",
		Help: "Total dispatch window passes.",
	})
	s.windowDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relato_dispatch_window_duration_seconds",
		Help:    "Duration of dispatch window passes.",
		Buckets: prometheus.ExponentialBuckets(0.05, 4, 8),
	})
	s.claimConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relato_dispatch_claim_conflicts_total",
		Help: "Claims lost to a concurrent dispatcher instance.",
	})
	s.outcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relato_executions_total",
		Help: "Execution outcomes by terminal status.",
	}, []string{"outcome"})
	s.executionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relato_executions_in_flight",
		Help: "Executions currently running.",
	})
	s.generationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relato_generation_duration_seconds",
		Help:    "Duration of external generator calls.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 11),
	})
	s.cacheResultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relato_generation_cache_results_total",
		Help: "Generator cache results by hit/miss.",
	}, []string{"result"})
	s.register(reg,
		s.windowsTotal, s.windowDuration, s.claimConflictsTotal,
		s.outcomesTotal, s.executionsInFlight, s.generationDuration,
		s.cacheResultsTotal,
	)
}

func (s *PrometheusSink) initCacheMetrics(reg prometheus.Registerer) {
	s.invalidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relato_cache_invalidations_total",
		Help: "Cache entries invalidated by trigger.",
	}, []string{"trigger"})
	s.staleFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relato_stale_executions_failed_total",
		Help: "RUNNING executions failed by the reconciler after claim expiry.",
	})
	s.overdueFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relato_overdue_executions_failed_total",
		Help: "AGENDADO executions failed by the reconciler after missing their dispatch window.",
	})
	s.register(reg, s.invalidationsTotal, s.staleFailedTotal, s.overdueFailedTotal)
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relato_leader_status",
		Help: "1 when this instance is the leader, 0 otherwise.",
	})
	s.leaderAcquisitions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relato_leader_acquisitions_total",
		Help: "Total leadership acquisitions.",
	})
	s.leaderLossesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relato_leader_losses_total",
		Help: "Leadership losses by reason.",
	}, []string{"reason"})
	s.register(reg, s.leaderStatus, s.leaderAcquisitions, s.leaderLossesTotal)
}

func (s *PrometheusSink) register(reg prometheus.Registerer, collectors ...prometheus.Collector) {
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			s.log.Warn().Err(err).Msg("metric registration failed")
		}
	}
}

func (s *PrometheusSink) PassCompleted(duration time.Duration, scheduled, rejected, errs int) {
	s.passesTotal.Inc()
	s.passDuration.Observe(duration.Seconds())
	s.scheduledTotal.Add(float64(scheduled))
	s.rejectedTotal.Add(float64(rejected))
	s.passErrorsTotal.Add(float64(errs))
}

func (s *PrometheusSink) QuotaRejected() {
	s.quotaRejections.Inc()
}

func (s *PrometheusSink) WindowCompleted(duration time.Duration, claimed, completed, failed int) {
	s.windowsTotal.Inc()
	s.windowDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) ClaimConflict() {
	s.claimConflictsTotal.Inc()
}

func (s *PrometheusSink) ExecutionOutcome(outcome string) {
	s.outcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) ExecutionsInFlightIncr() {
	s.executionsInFlight.Inc()
}

func (s *PrometheusSink) ExecutionsInFlightDecr() {
	s.executionsInFlight.Dec()
}

func (s *PrometheusSink) GenerationDuration(d time.Duration) {
	s.generationDuration.Observe(d.Seconds())
}

func (s *PrometheusSink) CacheResult(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	s.cacheResultsTotal.WithLabelValues(result).Inc()
}

func (s *PrometheusSink) CacheInvalidated(trigger string, count int) {
	if count > 0 {
		s.invalidationsTotal.WithLabelValues(trigger).Add(float64(count))
	}
}

func (s *PrometheusSink) StaleExecutionsFailed(count int) {
	if count > 0 {
		s.staleFailedTotal.Add(float64(count))
	}
}

func (s *PrometheusSink) OverdueExecutionsFailed(count int) {
	if count > 0 {
		s.overdueFailedTotal.Add(float64(count))
	}
}

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquisitions.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLossesTotal.WithLabelValues(reason).Inc()
}

var _ Sink = (*PrometheusSink)(nil)
