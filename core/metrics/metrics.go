package metrics

import "time"

// Outcome names the transition an OfferOutcome describes.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeAccepted  Outcome = "accepted"
	OutcomeExpired   Outcome = "expired"
	OutcomeCancelled Outcome = "cancelled"
)

// OfferOutcome is one committed offer transition.
type OfferOutcome struct {
	OfferID       string
	JobID         string
	PropertyID    string
	Role          string
	Tier          string
	Attempt       int
	Outcome       Outcome
	EligibleCount int
	// Elapsed is the time between the offer being opened and this outcome.
	Elapsed time.Duration
	Time    time.Time
}

// MetricsSink records offer outcomes for observability purposes.
type MetricsSink interface {
	RecordOfferOutcome(o OfferOutcome) error
}

// NopSink implements MetricsSink with no-op methods.
type NopSink struct{}

func (NopSink) RecordOfferOutcome(OfferOutcome) error { return nil }
