package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetricsRegistry
)

// ModuleMetrics returns the lazily-initialised registry used to record
// JSON-RPC method activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "payai",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "payai",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "payai",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "payai",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by rate limiting or authentication.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" or
// "unauthenticated".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// Transfer routes reported to EscrowMetricsRegistry.RecordTransfer.
const (
	RouteDeposit  = "deposit"
	RoutePayout   = "payout"
	RouteFee      = "fee"
	RouteRefund   = "refund"
	RouteWithdraw = "withdraw"
	RouteHost     = "host"
)

// EscrowMetricsRegistry tracks executed instructions and settled value.
type EscrowMetricsRegistry struct {
	instructions *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	transferred  *prometheus.CounterVec
}

// EscrowMetrics returns the singleton escrow metrics registry.
func EscrowMetrics() *EscrowMetricsRegistry {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetricsRegistry{
			instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "payai",
				Subsystem: "escrow",
				Name:      "instructions_total",
				Help:      "Executed instructions segmented by instruction and outcome.",
			}, []string{"instruction", "outcome"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "payai",
				Subsystem: "escrow",
				Name:      "instruction_duration_seconds",
				Help:      "Latency distribution for instruction execution including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"instruction"}),
			transferred: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "payai",
				Subsystem: "escrow",
				Name:      "transferred_lamports_total",
				Help:      "Lamports moved by committed instructions segmented by route.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			escrowRegistry.instructions,
			escrowRegistry.duration,
			escrowRegistry.transferred,
		)
	})
	return escrowRegistry
}

// ObserveInstruction records one instruction execution. outcome should be a
// stable label such as "ok", "rejected" or "failed".
func (m *EscrowMetricsRegistry) ObserveInstruction(instruction, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		instruction = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.instructions.WithLabelValues(instruction, outcome).Inc()
	m.duration.WithLabelValues(instruction).Observe(duration.Seconds())
}

// RecordTransfer adds amount to the lamports counter of route.
func (m *EscrowMetricsRegistry) RecordTransfer(route string, amount uint64) {
	if m == nil || amount == 0 {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.transferred.WithLabelValues(route).Add(float64(amount))
}
