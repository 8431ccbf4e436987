package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type SettlementMetrics struct {
	applies *prometheus.CounterVec
	minted  *prometheus.GaugeVec
	supply  *prometheus.GaugeVec
}

var (
	settlementOnce     sync.Once
	settlementRegistry *SettlementMetrics
)

func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			applies: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "claimbridge",
				Subsystem: "settlement",
				Name:      "apply_mint_total",
				Help:      "ApplyMint invocations by caller class and outcome.",
			}, []string{"caller", "outcome"}),
			minted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "claimbridge",
				Subsystem: "settlement",
				Name:      "edition_minted_atomic",
				Help:      "Total minted per edition, in atomic units.",
			}, []string{"edition"}),
			supply: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "claimbridge",
				Subsystem: "settlement",
				Name:      "edition_max_supply_atomic",
				Help:      "Configured supply cap per edition, in atomic units.",
			}, []string{"edition"}),
		}
		prometheus.MustRegister(
			settlementRegistry.applies,
			settlementRegistry.minted,
			settlementRegistry.supply,
		)
	})
	return settlementRegistry
}

func (m *SettlementMetrics) ObserveApply(caller, outcome string) {
	if m == nil {
		return
	}
	if caller == "" {
		caller = "unknown"
	}
	m.applies.WithLabelValues(caller, outcome).Inc()
}

// SetEdition publishes edition totals. Values beyond float64 precision are
// approximate, which is acceptable for dashboards.
func (m *SettlementMetrics) SetEdition(id uint64, minted, maxSupply float64) {
	if m == nil {
		return
	}
	label := strconv.FormatUint(id, 10)
	m.minted.WithLabelValues(label).Set(minted)
	m.supply.WithLabelValues(label).Set(maxSupply)
}
