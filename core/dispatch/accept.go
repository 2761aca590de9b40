package dispatch

import (
	"context"
	"time"

	"github.com/kilianp07/villadispatch/core/events"
	"github.com/kilianp07/villadispatch/core/model"
)

// Accept assigns the offer's job to staffID. Exactly one concurrent caller
// per offer succeeds; the store transaction serialises them and losers see
// the state the winner committed.
func (m *Manager) Accept(ctx context.Context, offerID, staffID string) (model.Assignment, error) {
	var asn model.Assignment
	var accepted model.Offer
	err := m.runTx(ctx, "accept", func(tx Tx) error {
		now := m.now()
		offer, err := tx.Offer(ctx, offerID)
		if err != nil {
			return offerLookupErr(err, offerID)
		}
		switch offer.Status {
		case model.OfferOpen:
		case model.OfferAccepted:
			return reject(ErrJobAlreadyAssigned, "offer %s accepted by another staff member", offer.ID)
		default:
			return reject(ErrOfferNotOpen, "offer %s is %s", offer.ID, offer.Status)
		}
		if offer.ExpiredAt(now) {
			return reject(ErrOfferExpired, "offer %s expired at %s", offer.ID, offer.ExpiresAt.Format(time.RFC3339))
		}
		if !offer.EligibleStaff.Contains(staffID) {
			return reject(ErrStaffNotEligible, "staff %s not in offer %s", staffID, offer.ID)
		}
		job, err := tx.Job(ctx, offer.JobID)
		if err != nil {
			return jobLookupErr(err, offer.JobID)
		}
		if job.Status.Locked() || job.AssignedStaffID != "" {
			return reject(ErrJobAlreadyAssigned, "job %s is %s", job.ID, job.Status)
		}
		if job.Status == model.JobCancelled {
			return reject(ErrJobClosed, "job %s", job.ID)
		}

		offer.Status = model.OfferAccepted
		offer.AcceptedBy = staffID
		offer.AcceptedAt = &now
		offer.ClosedAt = &now
		if err := tx.UpdateOffer(ctx, offer); err != nil {
			return err
		}
		job.Status = model.JobAssigned
		job.AssignedStaffID = staffID
		job.AssignedAt = &now
		job.OfferIDActive = offer.ID
		job.NeedsManualAssignment = false
		job.UpdatedAt = now
		if err := tx.UpdateJob(ctx, job); err != nil {
			return err
		}
		accepted = offer
		asn = model.Assignment{JobID: job.ID, OfferID: offer.ID, StaffID: staffID, AssignedAt: now}
		return nil
	})
	if err != nil {
		if k, ok := KindOf(err); ok {
			acceptRejections.WithLabelValues(string(k)).Inc()
		}
		return model.Assignment{}, err
	}

	offersResolved.WithLabelValues(string(model.OfferAccepted)).Inc()
	timeToAccept.Observe(asn.AssignedAt.Sub(accepted.OfferedAt).Seconds())
	m.logger.Infof("offer %s accepted by %s, job %s assigned", offerID, staffID, asn.JobID)
	m.afterCommit(events.OfferEvent{Type: events.OfferAccepted, Offer: accepted, JobID: asn.JobID, StaffID: staffID, Time: asn.AssignedAt})
	return asn, nil
}
