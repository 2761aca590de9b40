// Package audit records the append-only history of offer decisions.
package audit

import (
	"context"
	"time"

	"github.com/kilianp07/villadispatch/core/model"
)

// RecordType names an audited transition.
type RecordType string

const (
	OfferCreated             RecordType = "offer_created"
	OfferAccepted            RecordType = "offer_accepted"
	OfferCancelled           RecordType = "offer_cancelled"
	OfferExpired             RecordType = "offer_expired"
	ManualAssignmentRequired RecordType = "manual_assignment_required"
	JobAssignedManually      RecordType = "job_assigned_manually"
)

// Record is one audit entry.
type Record struct {
	Timestamp     time.Time  `json:"timestamp"`
	Type          RecordType `json:"type"`
	OfferID       string     `json:"offer_id,omitempty"`
	JobID         string     `json:"job_id"`
	PropertyID    string     `json:"property_id,omitempty"`
	StaffID       string     `json:"staff_id,omitempty"`
	Actor         string     `json:"actor,omitempty"`
	Attempt       int        `json:"attempt,omitempty"`
	Tier          string     `json:"tier,omitempty"`
	EligibleCount int        `json:"eligible_count,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

// Query filters records. Zero fields match everything.
type Query struct {
	Start   time.Time
	End     time.Time
	JobID   string
	OfferID string
	StaffID string
	Type    RecordType
	Limit   int
}

// Match reports whether r satisfies q, ignoring Limit.
func (q Query) Match(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.JobID != "" && r.JobID != q.JobID {
		return false
	}
	if q.OfferID != "" && r.OfferID != q.OfferID {
		return false
	}
	if q.StaffID != "" && r.StaffID != q.StaffID {
		return false
	}
	if q.Type != "" && r.Type != q.Type {
		return false
	}
	return true
}

// Store persists audit records.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// Log is the append-only audit facade used by the dispatch engine.
type Log interface {
	LogOfferCreated(ctx context.Context, o model.Offer) error
	LogOfferAccepted(ctx context.Context, o model.Offer) error
	LogOfferCancelled(ctx context.Context, o model.Offer) error
	LogOfferExpired(ctx context.Context, o model.Offer) error
	LogManualAssignmentRequired(ctx context.Context, j model.Job, lastOffer model.Offer) error
	LogJobAssignedManually(ctx context.Context, j model.Job, actor string) error
}

// Recorder implements Log on top of a Store.
type Recorder struct {
	store Store
	now   func() time.Time
}

// NewRecorder wraps store. A nil store discards records.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

func (r *Recorder) append(ctx context.Context, rec Record) error {
	if r.store == nil {
		return nil
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now().UTC()
	}
	return r.store.Append(ctx, rec)
}

func offerRecord(t RecordType, o model.Offer) Record {
	return Record{
		Type:          t,
		OfferID:       o.ID,
		JobID:         o.JobID,
		PropertyID:    o.PropertyID,
		Attempt:       o.Attempt,
		Tier:          o.Tier,
		EligibleCount: o.EligibleStaff.Len(),
	}
}

func (r *Recorder) LogOfferCreated(ctx context.Context, o model.Offer) error {
	rec := offerRecord(OfferCreated, o)
	rec.Actor = o.CreatedBy
	rec.Timestamp = o.OfferedAt
	return r.append(ctx, rec)
}

func (r *Recorder) LogOfferAccepted(ctx context.Context, o model.Offer) error {
	rec := offerRecord(OfferAccepted, o)
	rec.StaffID = o.AcceptedBy
	rec.Actor = o.AcceptedBy
	if o.AcceptedAt != nil {
		rec.Timestamp = *o.AcceptedAt
	}
	return r.append(ctx, rec)
}

func (r *Recorder) LogOfferCancelled(ctx context.Context, o model.Offer) error {
	rec := offerRecord(OfferCancelled, o)
	rec.Actor = o.CancelledBy
	rec.Reason = o.CancelReason
	if o.ClosedAt != nil {
		rec.Timestamp = *o.ClosedAt
	}
	return r.append(ctx, rec)
}

func (r *Recorder) LogOfferExpired(ctx context.Context, o model.Offer) error {
	rec := offerRecord(OfferExpired, o)
	rec.Actor = "sweeper"
	if o.ClosedAt != nil {
		rec.Timestamp = *o.ClosedAt
	}
	return r.append(ctx, rec)
}

func (r *Recorder) LogManualAssignmentRequired(ctx context.Context, j model.Job, last model.Offer) error {
	rec := offerRecord(ManualAssignmentRequired, last)
	rec.JobID = j.ID
	rec.PropertyID = j.PropertyID
	rec.Actor = "sweeper"
	rec.Reason = "escalation ladder exhausted"
	return r.append(ctx, rec)
}

func (r *Recorder) LogJobAssignedManually(ctx context.Context, j model.Job, actor string) error {
	rec := Record{
		Type:       JobAssignedManually,
		JobID:      j.ID,
		PropertyID: j.PropertyID,
		StaffID:    j.AssignedStaffID,
		Actor:      actor,
	}
	if j.AssignedAt != nil {
		rec.Timestamp = *j.AssignedAt
	}
	return r.append(ctx, rec)
}
