package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type ClaimsMetrics struct {
	outcomes   *prometheus.CounterVec
	rewards    *prometheus.CounterVec
	principal  prometheus.Counter
	tierAdds   prometheus.Counter
	dispatched prometheus.Counter
	fees       prometheus.Counter
	outbox     prometheus.Gauge
}

var (
	claimsOnce     sync.Once
	claimsRegistry *ClaimsMetrics
)

func Claims() *ClaimsMetrics {
	claimsOnce.Do(func() {
		claimsRegistry = &ClaimsMetrics{
			outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "claimbridge",
				Subsystem: "claims",
				Name:      "outcomes_total",
				Help:      "Claim submissions by outcome code.",
			}, []string{"outcome"}),
			rewards: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "claimbridge",
				Subsystem: "claims",
				Name:      "reward_atomic_total",
				Help:      "Reward authorised by accepted claims, in atomic units, by tier and path.",
			}, []string{"tier", "path"}),
			principal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "claimbridge",
				Subsystem: "claims",
				Name:      "principal_atomic_total",
				Help:      "Principal backing accepted claims, in atomic units.",
			}),
			tierAdds: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "claimbridge",
				Subsystem: "claims",
				Name:      "tiers_added_total",
				Help:      "Tiers appended by governance.",
			}),
			dispatched: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "claimbridge",
				Subsystem: "dispatch",
				Name:      "instructions_total",
				Help:      "Mint instructions written to the outbox.",
			}),
			fees: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "claimbridge",
				Subsystem: "dispatch",
				Name:      "fees_atomic_total",
				Help:      "Relay fees collected, in atomic units.",
			}),
			outbox: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "claimbridge",
				Subsystem: "dispatch",
				Name:      "outbox_depth",
				Help:      "Instructions waiting to be relayed.",
			}),
		}
		prometheus.MustRegister(
			claimsRegistry.outcomes,
			claimsRegistry.rewards,
			claimsRegistry.principal,
			claimsRegistry.tierAdds,
			claimsRegistry.dispatched,
			claimsRegistry.fees,
			claimsRegistry.outbox,
		)
	})
	return claimsRegistry
}

// ObserveOutcome counts one claim attempt. outcome is an error code or "ok".
func (m *ClaimsMetrics) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

func (m *ClaimsMetrics) ObserveAccepted(tier uint8, legacy bool, reward, principal, fee uint64) {
	if m == nil {
		return
	}
	path := "standard"
	if legacy {
		path = "legacy"
	}
	m.rewards.WithLabelValues(strconv.FormatUint(uint64(tier), 10), path).Add(float64(reward))
	m.principal.Add(float64(principal))
	m.dispatched.Inc()
	m.fees.Add(float64(fee))
}

func (m *ClaimsMetrics) ObserveTierAdded() {
	if m == nil {
		return
	}
	m.tierAdds.Inc()
}

func (m *ClaimsMetrics) SetOutboxDepth(depth uint64) {
	if m == nil {
		return
	}
	m.outbox.Set(float64(depth))
}
