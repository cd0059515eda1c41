// Package metrics exposes prometheus instrumentation for the yield engine
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry holds all prometheus metrics for the engine
type Registry struct {
	// Claim workflow
	ClaimsTotal  *prometheus.CounterVec
	ClaimAmounts prometheus.Histogram

	// Vault accounting
	DepositsTotal    prometheus.Counter
	WithdrawalsTotal prometheus.Counter
	CompoundDuration prometheus.Histogram
	SharePrice       prometheus.Gauge
	TotalShares      prometheus.Gauge
	AccruedFees      prometheus.Gauge

	// Summary cache
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Settlement dispatch
	SettlementsTotal *prometheus.CounterVec
}

// NewRegistry creates the engine metrics registry
func NewRegistry() *Registry {
	return &Registry{
		ClaimsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yieldengine_claims_total",
				Help: "Total claim attempts by resolution",
			},
			[]string{"status"},
		),
		ClaimAmounts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "yieldengine_claim_amount_tokens",
				Help:    "Distribution of successfully claimed token amounts",
				Buckets: []float64{0.1, 1, 10, 50, 100, 500, 1000, 5000},
			},
		),
		DepositsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "yieldengine_vault_deposits_total",
				Help: "Total successful vault deposits",
			},
		),
		WithdrawalsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "yieldengine_vault_withdrawals_total",
				Help: "Total successful vault withdrawals",
			},
		),
		CompoundDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "yieldengine_compound_duration_seconds",
				Help:    "Duration of vault compound transitions",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),
		SharePrice: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "yieldengine_vault_share_price",
				Help: "Current vault share price",
			},
		),
		TotalShares: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "yieldengine_vault_total_shares",
				Help: "Vault shares outstanding",
			},
		),
		AccruedFees: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "yieldengine_vault_accrued_fees_tokens",
				Help: "Accumulated performance fees awaiting extraction",
			},
		),
		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "yieldengine_summary_cache_hits_total",
				Help: "Claimable summary cache hits",
			},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "yieldengine_summary_cache_misses_total",
				Help: "Claimable summary cache misses",
			},
		),
		SettlementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yieldengine_settlements_total",
				Help: "Settlement intents dispatched by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Register registers all metrics with a prometheus registerer
func (r *Registry) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		r.ClaimsTotal, r.ClaimAmounts,
		r.DepositsTotal, r.WithdrawalsTotal, r.CompoundDuration,
		r.SharePrice, r.TotalShares, r.AccruedFees,
		r.CacheHits, r.CacheMisses,
		r.SettlementsTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return nil
}

// Handler returns an http handler serving the default prometheus registry;
// mount it on /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}

// MustRegister registers with the default registry and panics on conflict.
// Startup-time only.
func (r *Registry) MustRegister() {
	if err := r.Register(prometheus.DefaultRegisterer); err != nil {
		log.Fatal().Err(err).Msg("metrics registration failed")
	}
}
