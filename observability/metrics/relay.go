package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type RelayMetrics struct {
	deliveries *prometheus.CounterVec
	latency    prometheus.Histogram
	inbox      *prometheus.GaugeVec
	applied    *prometheus.CounterVec
}

var (
	relayOnce     sync.Once
	relayRegistry *RelayMetrics
)

func Relay() *RelayMetrics {
	relayOnce.Do(func() {
		relayRegistry = &RelayMetrics{
			deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "claimbridge",
				Subsystem: "relay",
				Name:      "deliveries_total",
				Help:      "Envelope delivery attempts by outcome.",
			}, []string{"outcome"}),
			latency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "claimbridge",
				Subsystem: "relay",
				Name:      "delivery_duration_seconds",
				Help:      "Latency of a single envelope delivery.",
				Buckets:   prometheus.DefBuckets,
			}),
			inbox: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "claimbridge",
				Subsystem: "relay",
				Name:      "inbox_depth",
				Help:      "Envelopes held by the settlement inbox by bucket.",
			}, []string{"bucket"}),
			applied: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "claimbridge",
				Subsystem: "relay",
				Name:      "applier_outcomes_total",
				Help:      "Inbox envelopes processed by the applier, by outcome code.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			relayRegistry.deliveries,
			relayRegistry.latency,
			relayRegistry.inbox,
			relayRegistry.applied,
		)
	})
	return relayRegistry
}

func (m *RelayMetrics) ObserveDelivery(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
	m.latency.Observe(took.Seconds())
}

func (m *RelayMetrics) SetInboxDepth(bucket string, depth int) {
	if m == nil {
		return
	}
	m.inbox.WithLabelValues(bucket).Set(float64(depth))
}

func (m *RelayMetrics) ObserveApplied(outcome string) {
	if m == nil {
		return
	}
	m.applied.WithLabelValues(outcome).Inc()
}
