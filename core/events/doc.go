// Package events defines the offer lifecycle events emitted on the event bus
// after a state change has been committed.
//
// Available event types:
//   - OfferCreated: a new offer was opened for a job
//   - OfferAccepted: a staff member won the offer
//   - OfferExpired: the sweeper closed an unanswered offer
//   - OfferCancelled: an administrator withdrew the offer
//   - ManualAssignmentRequired: the escalation ladder is exhausted
//   - JobAssignedManually: an administrator assigned a flagged job
package events
