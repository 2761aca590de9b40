package events

import (
	"time"

	"github.com/kilianp07/villadispatch/core/model"
)

// Type names an offer lifecycle transition.
type Type string

const (
	OfferCreated             Type = "offer_created"
	OfferAccepted            Type = "offer_accepted"
	OfferExpired             Type = "offer_expired"
	OfferCancelled           Type = "offer_cancelled"
	ManualAssignmentRequired Type = "manual_assignment_required"
	JobAssignedManually      Type = "job_assigned_manually"
)

// OfferEvent is published once per committed transition. Offer is the
// post-commit state; it is zero for job-only events.
type OfferEvent struct {
	Type    Type
	Offer   model.Offer
	JobID   string
	StaffID string
	Actor   string
	Reason  string
	Time    time.Time
}
