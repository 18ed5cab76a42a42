// Package metrics exposes the gateway's Prometheus instrumentation on a
// private registry, served at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

// Rejection reason labels for AuthRejections.
const (
	ReasonReplay    = "replay"
	ReasonSignature = "signature"
)

// Metrics holds the gateway's collectors.
type Metrics struct {
	registry *prometheus.Registry

	// RelaysForwarded counts requests forwarded to the upstream node.
	RelaysForwarded prometheus.Counter

	// AuthRejections counts 401 responses by reason.
	AuthRejections *prometheus.CounterVec

	// PaymentChallenges counts 402 responses carrying payment requirements.
	PaymentChallenges prometheus.Counter

	// PaymentsSettled counts deposits settled through the facilitator.
	PaymentsSettled prometheus.Counter

	// DebitsFailed counts debit attempts rejected by the ledger.
	DebitsFailed prometheus.Counter

	// CreditedMicro totals the micro-units credited from settled deposits.
	CreditedMicro prometheus.Counter

	// UpstreamLatency observes the round trip to the upstream node.
	UpstreamLatency prometheus.Histogram
}

// New builds the collector set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		RelaysForwarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relays_total",
			Help:      "Requests forwarded to the upstream node.",
		}),
		AuthRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_rejections_total",
			Help:      "Requests rejected with 401 before reaching the ledger.",
		}, []string{"reason"}),
		PaymentChallenges: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_challenges_total",
			Help:      "402 responses carrying payment requirements.",
		}),
		PaymentsSettled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_settled_total",
			Help:      "Deposits settled through the facilitator.",
		}),
		DebitsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debits_failed_total",
			Help:      "Debit attempts rejected by the ledger.",
		}),
		CreditedMicro: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credited_micro_total",
			Help:      "Micro-units credited to balances from settled deposits.",
		}),
		UpstreamLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_latency_seconds",
			Help:      "Round-trip latency of relayed upstream requests.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// RegisterReplayCacheSize exports the replay cache occupancy as a gauge
// sampled at scrape time.
func (m *Metrics) RegisterReplayCacheSize(size func() int) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "replay_cache_entries",
		Help:      "Signatures currently held for replay detection.",
	}, func() float64 { return float64(size()) })
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
