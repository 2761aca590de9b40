package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	offersCreated    *prometheus.CounterVec
	offersResolved   *prometheus.CounterVec
	acceptRejections *prometheus.CounterVec
	txConflicts      *prometheus.CounterVec
	gatewayFailures  *prometheus.CounterVec
	timeToAccept     prometheus.Histogram
	sweepDuration    prometheus.Histogram
	manualFlags      prometheus.Counter
)

func newCollectors() {
	offersCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "villa_offers_created_total",
			Help: "Number of job offers created, by attempt",
		},
		[]string{"attempt"},
	)
	offersResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "villa_offers_resolved_total",
			Help: "Number of job offers leaving the open state, by outcome",
		},
		[]string{"outcome"},
	)
	acceptRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "villa_accept_rejections_total",
			Help: "Number of rejected accept requests, by reason",
		},
		[]string{"reason"},
	)
	txConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "villa_tx_conflicts_total",
			Help: "Number of retried transaction conflicts, by operation",
		},
		[]string{"op"},
	)
	gatewayFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "villa_gateway_failures_total",
			Help: "Number of failed post-commit side effects, by target",
		},
		[]string{"target"},
	)
	timeToAccept = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "villa_offer_time_to_accept_seconds",
			Help:    "Time between an offer being opened and accepted",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 900, 1800, 3600},
		},
	)
	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "villa_sweep_duration_seconds",
			Help:    "Duration of one escalation sweep",
			Buckets: prometheus.DefBuckets,
		},
	)
	manualFlags = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "villa_manual_assignment_required_total",
			Help: "Number of jobs flagged for manual assignment",
		},
	)
}

func init() {
	newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(offersCreated, offersResolved, acceptRejections, txConflicts,
		gatewayFailures, timeToAccept, sweepDuration, manualFlags)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
