// Package metrics exposes admission decisions and the size of the in-memory
// admission state to prometheus.
package metrics

import (
	"strconv"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/prometheus/client_golang/prometheus"
)

// Read by the gauge functions at scrape time
type StateSource interface {
	ActiveCount() int
	BucketCount() int
}

type Metrics struct {
	Decisions   *prometheus.CounterVec
	TierChanges prometheus.Counter
}

// Registers the admission metrics on reg. Map sizes are sampled from src on
// every scrape, so unbounded caller-key growth shows up without any extra
// bookkeeping on the request path.
func New(reg prometheus.Registerer, src StateSource) *Metrics {
	m := &Metrics{
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "admission",
				Name:      "decisions_total",
				Help:      "Admission decisions by outcome and tier limit.",
			},
			[]string{"outcome", "tier"},
		),
		TierChanges: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "admission",
				Name:      "tier_changes_total",
				Help:      "Buckets replaced because the caller's tier changed.",
			},
		),
	}

	reg.MustRegister(
		m.Decisions,
		m.TierChanges,
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "admission",
				Name:      "tracked_callers",
				Help:      "Callers currently counted as active.",
			},
			func() float64 { return float64(src.ActiveCount()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "admission",
				Name:      "buckets",
				Help:      "Callers holding a token bucket.",
			},
			func() float64 { return float64(src.BucketCount()) },
		),
	)

	return m
}

// Implements admission.Observer
func (m *Metrics) ObserveDecision(d admission.Decision) {
	outcome := "denied"
	if d.Allowed {
		outcome = "allowed"
	}

	m.Decisions.WithLabelValues(outcome, strconv.Itoa(d.TierLimit)).Inc()
	if d.TierChanged {
		m.TierChanges.Inc()
	}
}
