package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"claimbridge/core/events"
)

type EventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventOnce     sync.Once
	eventRegistry *EventMetrics
)

// Events returns the registry counting committed domain events.
func Events() *EventMetrics {
	eventOnce.Do(func() {
		eventRegistry = &EventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "claimbridge",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Committed domain events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// Emit lets the registry sit in an events.Multi fan-out.
func (m *EventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	m.emitted.WithLabelValues(evt.EventType()).Inc()
}
