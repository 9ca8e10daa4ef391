package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PositionMetrics tracks protocol operations and fee flows.
type PositionMetrics struct {
	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	rollbacks   *prometheus.CounterVec
	fees        *prometheus.CounterVec
	withdrawals *prometheus.CounterVec
}

var (
	positionMetricsOnce sync.Once
	positionRegistry    *PositionMetrics
)

// Positions returns the lazily-initialised protocol metrics registry.
func Positions() *PositionMetrics {
	positionMetricsOnce.Do(func() {
		positionRegistry = &PositionMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pesto",
				Subsystem: "protocol",
				Name:      "operations_total",
				Help:      "Protocol operations segmented by kind and outcome.",
			}, []string{"operation", "outcome"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "pesto",
				Subsystem: "protocol",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution of protocol operations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pesto",
				Subsystem: "protocol",
				Name:      "rollbacks_total",
				Help:      "Operations whose writes were discarded, segmented by reason.",
			}, []string{"operation", "reason"}),
			fees: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pesto",
				Subsystem: "fees",
				Name:      "collections_total",
				Help:      "Fee collections segmented by token and whether a client was credited.",
			}, []string{"token", "client"}),
			withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pesto",
				Subsystem: "fees",
				Name:      "client_withdrawals_total",
				Help:      "Client balance withdrawals segmented by token.",
			}, []string{"token"}),
		}
		prometheus.MustRegister(
			positionRegistry.operations,
			positionRegistry.duration,
			positionRegistry.rollbacks,
			positionRegistry.fees,
			positionRegistry.withdrawals,
		)
	})
	return positionRegistry
}

// ObserveOperation records the outcome of one executed operation.
func (m *PositionMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	operation = labelValue(operation)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRollback counts discarded operations. Reasons are stable strings
// such as "error", "panic" or "cancelled".
func (m *PositionMetrics) RecordRollback(operation, reason string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(labelValue(operation), labelValue(reason)).Inc()
}

// RecordFeeCollection counts one fee collection in token.
func (m *PositionMetrics) RecordFeeCollection(token string, withClient bool) {
	if m == nil {
		return
	}
	client := "false"
	if withClient {
		client = "true"
	}
	m.fees.WithLabelValues(labelValue(token), client).Inc()
}

// RecordClientWithdrawal counts one client payout in token.
func (m *PositionMetrics) RecordClientWithdrawal(token string) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(labelValue(token)).Inc()
}

func labelValue(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return "unknown"
	}
	return v
}
