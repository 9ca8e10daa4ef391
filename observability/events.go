package observability

import (
	"strings"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chainrule-labs/pesto-contracts-sub000/core/events"
)

type eventMetrics struct {
	records *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed audit records.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			records: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pesto",
				Subsystem: "events",
				Name:      "records_total",
				Help:      "Count of committed audit records segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.records)
	})
	return eventRegistry
}

// RecordEvent increments the counter for the supplied event type.
func (m *eventMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	m.records.WithLabelValues(normalized).Inc()
}

// Emit implements events.Emitter so the registry can be attached to the
// committed event stream. Fee events also feed the protocol metrics.
func (m *eventMetrics) Emit(e events.Event) {
	if m == nil || e == nil {
		return
	}
	m.RecordEvent(e.EventType())
	switch ev := e.(type) {
	case events.FeesCollected:
		Positions().RecordFeeCollection(ev.Token.Hex(), ev.Client != (ethcommon.Address{}))
	case events.ClientWithdrawal:
		Positions().RecordClientWithdrawal(ev.Token.Hex())
	}
}
