package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OfferStatus is the state of an offer. Any status other than open is
// terminal.
type OfferStatus string

const (
	OfferOpen      OfferStatus = "open"
	OfferAccepted  OfferStatus = "accepted"
	OfferExpired   OfferStatus = "expired"
	OfferCancelled OfferStatus = "cancelled"
)

// Terminal reports whether the offer can no longer change.
func (s OfferStatus) Terminal() bool { return s != OfferOpen }

// Priority is a free-form urgency hint shown to staff.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// OfferMeta carries presentation data that does not influence dispatch.
type OfferMeta struct {
	Priority Priority        `json:"priority,omitempty"`
	Payout   decimal.Decimal `json:"payout"`
	Currency string          `json:"currency,omitempty"`
	Notes    string          `json:"notes,omitempty"`
}

// Offer is a time-boxed proposal of a job to a fixed set of eligible staff.
type Offer struct {
	ID            string      `json:"id"`
	JobID         string      `json:"job_id"`
	PropertyID    string      `json:"property_id"`
	RequiredRole  string      `json:"required_role"`
	EligibleStaff StaffSet    `json:"eligible_staff_ids"`
	Status        OfferStatus `json:"status"`
	OfferedAt     time.Time   `json:"offered_at"`
	ExpiresAt     time.Time   `json:"expires_at"`
	Attempt       int         `json:"attempt"`
	Tier          string      `json:"tier"`
	AcceptedBy    string      `json:"accepted_by_staff_id,omitempty"`
	AcceptedAt    *time.Time  `json:"acceptance_at,omitempty"`
	CancelReason  string      `json:"cancel_reason,omitempty"`
	CancelledBy   string      `json:"cancelled_by,omitempty"`
	ClosedAt      *time.Time  `json:"closed_at,omitempty"`
	CreatedBy     string      `json:"created_by"`
	Meta          OfferMeta   `json:"meta"`
}

// ExpiredAt reports whether the offer's window has elapsed at now.
func (o Offer) ExpiredAt(now time.Time) bool { return now.After(o.ExpiresAt) }

// Assignment is the outcome of a successful acceptance or manual assignment.
type Assignment struct {
	JobID      string    `json:"job_id"`
	OfferID    string    `json:"offer_id,omitempty"`
	StaffID    string    `json:"staff_id"`
	AssignedAt time.Time `json:"assigned_at"`
}
