package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dposledger"

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// RPC returns the lazily-initialised metrics registry for the HTTP API.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(rpcRegistry.requests, rpcRegistry.latency, rpcRegistry.throttles)
	})
	return rpcRegistry
}

// Observe records a finished request. status is the HTTP status written.
func (m *rpcMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle counts a request rejected by the rate limiter.
func (m *rpcMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.throttles.WithLabelValues(route).Inc()
}

// LedgerMetrics tracks transaction validation, pool admission and block
// processing.
type LedgerMetrics struct {
	validationFailures *prometheus.CounterVec
	poolRejections     *prometheus.CounterVec
	poolSize           prometheus.Gauge
	applied            *prometheus.CounterVec
	reverted           *prometheus.CounterVec
	blocks             *prometheus.CounterVec
	blockLatency       prometheus.Histogram
	events             *prometheus.CounterVec
}

// Ledger returns the singleton ledger metrics registry.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "validation_failures_total",
				Help:      "Transactions rejected by CanBeApplied segmented by failure kind.",
			}, []string{"kind"}),
			poolRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "rejections_total",
				Help:      "Transactions refused admission to the pool segmented by rejection code.",
			}, []string{"code"}),
			poolSize: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "transactions",
				Help:      "Number of transactions currently pending in the pool.",
			}),
			applied: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "applied_transactions_total",
				Help:      "Transactions applied to wallets segmented by type.",
			}, []string{"type"}),
			reverted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "reverted_transactions_total",
				Help:      "Transactions reverted from wallets segmented by type.",
			}, []string{"type"}),
			blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "blocks_total",
				Help:      "Blocks processed segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			blockLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "block_apply_seconds",
				Help:      "Time spent applying a block.",
				Buckets:   prometheus.DefBuckets,
			}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Domain events emitted segmented by event type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.validationFailures,
			ledgerRegistry.poolRejections,
			ledgerRegistry.poolSize,
			ledgerRegistry.applied,
			ledgerRegistry.reverted,
			ledgerRegistry.blocks,
			ledgerRegistry.blockLatency,
			ledgerRegistry.events,
		)
	})
	return ledgerRegistry
}

func (m *LedgerMetrics) RecordValidationFailure(kind string) {
	if m == nil {
		return
	}
	m.validationFailures.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *LedgerMetrics) RecordPoolRejection(code string) {
	if m == nil {
		return
	}
	m.poolRejections.WithLabelValues(normalizeLabel(code)).Inc()
}

func (m *LedgerMetrics) SetPoolSize(n int) {
	if m == nil {
		return
	}
	m.poolSize.Set(float64(n))
}

func (m *LedgerMetrics) RecordApplied(txType string) {
	if m == nil {
		return
	}
	m.applied.WithLabelValues(normalizeLabel(txType)).Inc()
}

func (m *LedgerMetrics) RecordReverted(txType string) {
	if m == nil {
		return
	}
	m.reverted.WithLabelValues(normalizeLabel(txType)).Inc()
}

// ObserveBlock records the outcome of a block operation ("apply" or
// "revert"). duration is only observed for successful applies.
func (m *LedgerMetrics) ObserveBlock(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.blocks.WithLabelValues(normalizeLabel(operation), outcome).Inc()
	if err == nil && operation == "apply" {
		m.blockLatency.Observe(duration.Seconds())
	}
}

func (m *LedgerMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func normalizeLabel(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
