package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce                sync.Once
	httpDurationHistogram       *prometheus.HistogramVec
	idempotencyCounter          *prometheus.CounterVec
	settlementTransitionCounter *prometheus.CounterVec
	reconciliationGapCounter    prometheus.Counter
	manualReviewQueueGauge      prometheus.Gauge
	manualReviewCounter         *prometheus.CounterVec
	workerRunCounter            *prometheus.CounterVec
	providerCallHistogram       *prometheus.HistogramVec
	balanceSourceFailureCounter *prometheus.CounterVec
	referralEventCounter        *prometheus.CounterVec
	rateLimitedCounter          *prometheus.CounterVec
	httpInFlightGauge           prometheus.Gauge
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		settlementTransitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_transitions_total",
			Help: "Settlement record status transitions",
		}, []string{"service_type", "status"})

		reconciliationGapCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_reconciliation_gaps_total",
			Help: "Provider successes whose terminal write failed",
		})

		manualReviewQueueGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "settlement_manual_review_queue_size",
			Help: "Current number of settlements waiting in manual review",
		})

		manualReviewCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_manual_review_transitions_total",
			Help: "Manual review transitions and resolutions",
		}, []string{"action"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		providerCallHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provider_call_duration_seconds",
			Help:    "Outbound provider call latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"operation", "outcome"})

		balanceSourceFailureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "balance_source_failures_total",
			Help: "Balance source reads that failed or timed out",
		}, []string{"source"})

		referralEventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "referral_events_total",
			Help: "Referral click and signup attribution outcomes",
		}, []string{"event_type", "outcome"})

		rateLimitedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by a rate limiter",
		}, []string{"scope"})

		httpInFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Requests currently being served",
		})

		prometheus.MustRegister(
			httpDurationHistogram,
			idempotencyCounter,
			settlementTransitionCounter,
			reconciliationGapCounter,
			manualReviewQueueGauge,
			manualReviewCounter,
			workerRunCounter,
			providerCallHistogram,
			balanceSourceFailureCounter,
			referralEventCounter,
			rateLimitedCounter,
			httpInFlightGauge,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementSettlementTransition(serviceType, status string) {
	if settlementTransitionCounter == nil {
		return
	}
	settlementTransitionCounter.WithLabelValues(serviceType, status).Inc()
}

func IncrementReconciliationGap() {
	if reconciliationGapCounter == nil {
		return
	}
	reconciliationGapCounter.Inc()
}

func SetManualReviewQueueSize(size int64) {
	if manualReviewQueueGauge == nil {
		return
	}
	manualReviewQueueGauge.Set(float64(size))
}

func IncrementManualReviewTransition(action string) {
	if manualReviewCounter == nil {
		return
	}
	manualReviewCounter.WithLabelValues(action).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func ObserveProviderCall(operation, outcome string, duration time.Duration) {
	if providerCallHistogram == nil {
		return
	}
	providerCallHistogram.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

func IncrementBalanceSourceFailure(source string) {
	if balanceSourceFailureCounter == nil {
		return
	}
	balanceSourceFailureCounter.WithLabelValues(source).Inc()
}

func IncrementReferralEvent(eventType, outcome string) {
	if referralEventCounter == nil {
		return
	}
	referralEventCounter.WithLabelValues(eventType, outcome).Inc()
}

func IncrementRateLimited(scope string) {
	if rateLimitedCounter == nil {
		return
	}
	rateLimitedCounter.WithLabelValues(scope).Inc()
}

// TrackInFlight bumps the in-flight gauge and returns the matching decrement.
func TrackInFlight() func() {
	if httpInFlightGauge == nil {
		return func() {}
	}
	httpInFlightGauge.Inc()
	return httpInFlightGauge.Dec
}
