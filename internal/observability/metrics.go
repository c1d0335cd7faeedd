package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	httpDurationHistogram   *prometheus.HistogramVec
	idempotencyCounter      *prometheus.CounterVec
	releaseCounter          *prometheus.CounterVec
	bankAttemptCounter      *prometheus.CounterVec
	breakerStateGauge       *prometheus.GaugeVec
	shadowDivergenceCounter *prometheus.CounterVec
	ledgerIntegrityCounter  *prometheus.CounterVec
	anomalyBlockCounter     *prometheus.CounterVec
	rptIssuedCounter        *prometheus.CounterVec
	reviewQueueGauge        prometheus.Gauge
	reviewCounter           *prometheus.CounterVec
	unresolvedLinesGauge    prometheus.Gauge
	matchCounter            *prometheus.CounterVec
	workerRunCounter        *prometheus.CounterVec
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

		releaseCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "owa_release_outcomes_total",
			Help: "Release attempts by rail and outcome",
		}, []string{"rail", "outcome"})

		bankAttemptCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "banking_port_attempts_total",
			Help: "Individual banking port calls by rail and result",
		}, []string{"rail", "result"})

		breakerStateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "banking_circuit_breaker_state",
			Help: "Circuit breaker state per rail (0 closed, 1 half-open, 2 open)",
		}, []string{"breaker"})

		shadowDivergenceCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "banking_shadow_divergence_total",
			Help: "Primary and shadow provider disagreements",
		}, []string{"rail", "reason"})

		ledgerIntegrityCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "owa_ledger_integrity_failures_total",
			Help: "Hash chain verification failures",
		}, []string{"tax_type"})

		anomalyBlockCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpt_anomaly_blocks_total",
			Help: "Anomaly gate breaches by threshold",
		}, []string{"threshold"})

		rptIssuedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpt_issued_total",
			Help: "Release payment tokens issued",
		}, []string{"tax_type"})

		reviewQueueGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "release_review_queue_size",
			Help: "Releases awaiting operator reconciliation",
		})

		reviewCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "release_review_transitions_total",
			Help: "Review queue transitions and resolutions",
		}, []string{"action"})

		unresolvedLinesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bank_statement_unresolved_lines",
			Help: "Bank statement lines not yet matched to a release",
		})

		matchCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bank_statement_matches_total",
			Help: "Statement lines matched to releases, by strategy",
		}, []string{"strategy"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			idempotencyCounter,
			releaseCounter,
			bankAttemptCounter,
			breakerStateGauge,
			shadowDivergenceCounter,
			ledgerIntegrityCounter,
			anomalyBlockCounter,
			rptIssuedCounter,
			reviewQueueGauge,
			reviewCounter,
			unresolvedLinesGauge,
			matchCounter,
			workerRunCounter,
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

func IncrementRelease(rail, outcome string) {
	if releaseCounter == nil {
		return
	}
	releaseCounter.WithLabelValues(rail, outcome).Inc()
}

func IncrementBankAttempt(rail, result string) {
	if bankAttemptCounter == nil {
		return
	}
	bankAttemptCounter.WithLabelValues(rail, result).Inc()
}

func SetBreakerState(name string, state int) {
	if breakerStateGauge == nil {
		return
	}
	breakerStateGauge.WithLabelValues(name).Set(float64(state))
}

func IncrementShadowDivergence(rail, reason string) {
	if shadowDivergenceCounter == nil {
		return
	}
	shadowDivergenceCounter.WithLabelValues(rail, reason).Inc()
}

func IncrementLedgerIntegrityFailure(taxType string) {
	if ledgerIntegrityCounter == nil {
		return
	}
	ledgerIntegrityCounter.WithLabelValues(taxType).Inc()
}

func IncrementAnomalyBlock(threshold string) {
	if anomalyBlockCounter == nil {
		return
	}
	anomalyBlockCounter.WithLabelValues(threshold).Inc()
}

func IncrementRPTIssued(taxType string) {
	if rptIssuedCounter == nil {
		return
	}
	rptIssuedCounter.WithLabelValues(taxType).Inc()
}

func SetReviewQueueSize(size int64) {
	if reviewQueueGauge == nil {
		return
	}
	reviewQueueGauge.Set(float64(size))
}

func IncrementReviewTransition(action string) {
	if reviewCounter == nil {
		return
	}
	reviewCounter.WithLabelValues(action).Inc()
}

func SetUnresolvedLines(size int64) {
	if unresolvedLinesGauge == nil {
		return
	}
	unresolvedLinesGauge.Set(float64(size))
}

func IncrementStatementMatch(strategy string) {
	if matchCounter == nil {
		return
	}
	matchCounter.WithLabelValues(strategy).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
