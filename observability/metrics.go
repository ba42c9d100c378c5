package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "omnipool"

// GatewayMetrics tracks HTTP route activity.
type GatewayMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	gatewayMetricsOnce sync.Once
	gatewayRegistry    *GatewayMetrics

	txflowMetricsOnce sync.Once
	txflowRegistry    *TxFlowMetrics

	guardMetricsOnce sync.Once
	guardRegistry    *GuardMetrics

	indexerMetricsOnce sync.Once
	indexerRegistry    *IndexerMetrics
)

// Gateway returns the lazily-initialised registry recording HTTP route
// activity.
func Gateway() *GatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &GatewayMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total gateway requests segmented by route, method and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "errors_total",
				Help:      "Total gateway errors segmented by route, method and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Count of gateway requests rejected by throttling policies.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			gatewayRegistry.requests,
			gatewayRegistry.errors,
			gatewayRegistry.latency,
			gatewayRegistry.throttles,
		)
	})
	return gatewayRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *GatewayMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" so dashboards remain consistent.
func (m *GatewayMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

// TxFlowMetrics tracks transaction lifecycle outcomes.
type TxFlowMetrics struct {
	outcomes *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
}

// TxFlow exposes the metrics registry for the transaction controllers.
func TxFlow() *TxFlowMetrics {
	txflowMetricsOnce.Do(func() {
		txflowRegistry = &TxFlowMetrics{
			outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "txflow",
				Name:      "outcomes_total",
				Help:      "Terminal transaction outcomes segmented by action and result.",
			}, []string{"action", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "txflow",
				Name:      "submission_duration_seconds",
				Help:      "Time from submission to terminal state.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			}, []string{"action"}),
			inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "txflow",
				Name:      "in_flight",
				Help:      "Set to 1 while a submission for the action is in progress.",
			}, []string{"action"}),
		}
		prometheus.MustRegister(
			txflowRegistry.outcomes,
			txflowRegistry.latency,
			txflowRegistry.inFlight,
		)
	})
	return txflowRegistry
}

// RecordOutcome counts a terminal outcome. Outcomes are "succeeded",
// "failed", "cancelled" or "precondition".
func (m *TxFlowMetrics) RecordOutcome(action, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	action = labelValue(action)
	m.outcomes.WithLabelValues(action, labelValue(outcome)).Inc()
	if duration > 0 {
		m.latency.WithLabelValues(action).Observe(duration.Seconds())
	}
}

// SetInFlight toggles the in-flight gauge for action.
func (m *TxFlowMetrics) SetInFlight(action string, inFlight bool) {
	if m == nil {
		return
	}
	value := 0.0
	if inFlight {
		value = 1
	}
	m.inFlight.WithLabelValues(labelValue(action)).Set(value)
}

// GuardMetrics tracks the wallet readiness gate.
type GuardMetrics struct {
	activations *prometheus.CounterVec
	handoffs    prometheus.Counter
	cancels     prometheus.Counter
}

// Guard exposes the metrics registry for the readiness gate.
func Guard() *GuardMetrics {
	guardMetricsOnce.Do(func() {
		guardRegistry = &GuardMetrics{
			activations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "guard",
				Name:      "activations_total",
				Help:      "Guard sessions opened segmented by the blocking status.",
			}, []string{"status"}),
			handoffs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "guard",
				Name:      "handoffs_total",
				Help:      "Guard sessions that reached ready and resumed the deferred action.",
			}),
			cancels: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "guard",
				Name:      "cancellations_total",
				Help:      "Guard sessions dismissed by the user.",
			}),
		}
		prometheus.MustRegister(
			guardRegistry.activations,
			guardRegistry.handoffs,
			guardRegistry.cancels,
		)
	})
	return guardRegistry
}

// RecordActivation counts a new guard session.
func (m *GuardMetrics) RecordActivation(status string) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(labelValue(status)).Inc()
}

// RecordHandoff counts a session resumed on readiness.
func (m *GuardMetrics) RecordHandoff() {
	if m == nil {
		return
	}
	m.handoffs.Inc()
}

// RecordCancel counts a dismissed session.
func (m *GuardMetrics) RecordCancel() {
	if m == nil {
		return
	}
	m.cancels.Inc()
}

// IndexerMetrics tracks indexer queries.
type IndexerMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	fallbacks *prometheus.CounterVec
}

// Indexer exposes the metrics registry for the indexer client.
func Indexer() *IndexerMetrics {
	indexerMetricsOnce.Do(func() {
		indexerRegistry = &IndexerMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "indexer",
				Name:      "requests_total",
				Help:      "Indexer queries segmented by query and outcome.",
			}, []string{"query", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "indexer",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for indexer queries.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"query"}),
			fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "indexer",
				Name:      "fallbacks_total",
				Help:      "Queries answered with default values after an indexer failure.",
			}, []string{"query"}),
		}
		prometheus.MustRegister(
			indexerRegistry.requests,
			indexerRegistry.latency,
			indexerRegistry.fallbacks,
		)
	})
	return indexerRegistry
}

// Observe records the execution of an indexer query.
func (m *IndexerMetrics) Observe(query string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	query = labelValue(query)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.requests.WithLabelValues(query, outcome).Inc()
	m.latency.WithLabelValues(query).Observe(duration.Seconds())
}

// RecordFallback counts a query answered with defaults.
func (m *IndexerMetrics) RecordFallback(query string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(labelValue(query)).Inc()
}

func labelValue(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
