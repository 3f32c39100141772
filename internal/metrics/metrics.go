// Package metrics exposes Prometheus collectors for the agent service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal               *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	probeTLSHandshakeTimeouts  prometheus.Counter
	recordsTotal               *prometheus.CounterVec
	recoveryDecisionsTotal     *prometheus.CounterVec
	domainThreatLevel          *prometheus.GaugeVec
	runsTotal                  *prometheus.CounterVec
	activeRuns                 prometheus.Gauge
	politenessDelaySeconds     *prometheus.HistogramVec
	strategyExecutionsTotal    *prometheus.CounterVec
	ledgerDegradedTotal        prometheus.Counter
	scheduledRunsSkippedTotal  *prometheus.CounterVec
	progressEventsDropped      prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobhunt_fetches_total",
				Help: "Total number of page fetches, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobhunt_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobhunt_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by site.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		probeTLSHandshakeTimeouts = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "jobhunt_probe_tls_handshake_timeout_total",
				Help: "Total TLS handshake timeouts encountered while probing robots.txt.",
			},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobhunt_records_total",
				Help: "Total number of job records emitted, labeled by dedup status and confidence.",
			},
			[]string{"dedup", "confidence"},
		)

		recoveryDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobhunt_recovery_decisions_total",
				Help: "Total number of recovery decisions, labeled by failure kind and action.",
			},
			[]string{"failure", "action"},
		)

		domainThreatLevel = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "jobhunt_domain_threat_level",
				Help: "Current threat level per domain (0=none .. 4=blocked).",
			},
			[]string{"domain"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobhunt_runs_total",
				Help: "Total number of finished agent runs, labeled by terminal status.",
			},
			[]string{"status"},
		)

		activeRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobhunt_active_runs",
				Help: "Number of agent runs currently executing.",
			},
		)

		politenessDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobhunt_politeness_delay_seconds",
				Help:    "Histogram of per-domain politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"domain"},
		)

		strategyExecutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobhunt_strategy_executions_total",
				Help: "Total number of strategy executions, labeled by strategy and result.",
			},
			[]string{"strategy", "result"},
		)

		ledgerDegradedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "jobhunt_ledger_degraded_total",
				Help: "Total number of runs whose shared ledger degraded to local-only dedup.",
			},
		)

		scheduledRunsSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobhunt_scheduled_runs_skipped_total",
				Help: "Scheduled runs skipped because the previous run for the target was still active.",
			},
			[]string{"site"},
		)

		progressEventsDropped = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "jobhunt_progress_events_dropped_total",
				Help: "Progress events dropped because a presentation buffer was full.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch. A zero code means a transport error.
func ObserveFetch(site string, code int, bytesFetched int, duration time.Duration) {
	Init()
	sanitizedSite := SanitizeSite(site)
	status := "error"
	if code > 0 {
		status = strconv.Itoa(code)
	}
	fetchesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
	fetchDurationSeconds.WithLabelValues(sanitizedSite).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveProbeTLSHandshakeTimeout increments the probe-specific handshake timeout counter.
func ObserveProbeTLSHandshakeTimeout() {
	Init()
	probeTLSHandshakeTimeouts.Inc()
}

// ObserveRecord counts an emitted job record.
func ObserveRecord(dedup string, lowConfidence bool) {
	Init()
	confidence := "ok"
	if lowConfidence {
		confidence = "low"
	}
	recordsTotal.WithLabelValues(dedup, confidence).Inc()
}

// ObserveRecoveryDecision counts a decision taken for a classified failure.
func ObserveRecoveryDecision(failure, action string) {
	Init()
	recoveryDecisionsTotal.WithLabelValues(failure, action).Inc()
}

// SetThreatLevel publishes the current threat level of a domain.
func SetThreatLevel(domain string, level int) {
	Init()
	domainThreatLevel.WithLabelValues(domain).Set(float64(level))
}

// ObserveRun counts a finished run.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// IncActiveRuns increments the active runs gauge.
func IncActiveRuns() {
	Init()
	activeRuns.Inc()
}

// DecActiveRuns decrements the active runs gauge.
func DecActiveRuns() {
	Init()
	activeRuns.Dec()
}

// ObservePolitenessDelay records the duration of a politeness wait.
func ObservePolitenessDelay(domain string, duration time.Duration) {
	Init()
	politenessDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveStrategy counts a finished strategy execution.
func ObserveStrategy(strategy, result string) {
	Init()
	strategyExecutionsTotal.WithLabelValues(strategy, result).Inc()
}

// ObserveLedgerDegraded counts a ledger falling back to local-only dedup.
func ObserveLedgerDegraded() {
	Init()
	ledgerDegradedTotal.Inc()
}

// ObserveScheduledSkip counts a scheduled run skipped for an active target.
func ObserveScheduledSkip(site string) {
	Init()
	scheduledRunsSkippedTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveProgressDropped counts n progress events dropped under backpressure.
func ObserveProgressDropped(n int) {
	Init()
	progressEventsDropped.Add(float64(n))
}
