package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/villadispatch/core/metrics"
)

// PromSink records offer outcomes in Prometheus metrics, labelled by tier
// and role so dashboards can compare escalation steps.
type PromSink struct {
	outcomes *prometheus.CounterVec
	elapsed  *prometheus.HistogramVec
}

// NewPromSink registers outcome metrics on the default Prometheus registerer.
func NewPromSink() (coremetrics.MetricsSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "villa_offer_outcomes_total",
		Help: "Offer outcomes by tier, role and attempt",
	}, []string{"outcome", "tier", "role", "attempt"})
	elapsed := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "villa_offer_outcome_elapsed_seconds",
		Help:    "Time between an offer opening and its outcome",
		Buckets: []float64{30, 60, 300, 900, 1800, 3600, 7200},
	}, []string{"outcome", "tier"})

	if err := reg.Register(outcomes); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			outcomes = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(elapsed); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			elapsed = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}
	return &PromSink{outcomes: outcomes, elapsed: elapsed}, nil
}

// RecordOfferOutcome increments the outcome counter. Terminal outcomes also
// observe the elapsed time.
func (s *PromSink) RecordOfferOutcome(o coremetrics.OfferOutcome) error {
	s.outcomes.WithLabelValues(string(o.Outcome), o.Tier, o.Role, strconv.Itoa(o.Attempt)).Inc()
	if o.Outcome != coremetrics.OutcomeCreated {
		s.elapsed.WithLabelValues(string(o.Outcome), o.Tier).Observe(o.Elapsed.Seconds())
	}
	return nil
}
