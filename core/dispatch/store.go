package dispatch

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/kilianp07/villadispatch/core/model"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned by stores when a transaction lost a race with a
	// concurrent writer (serialization failure, lock timeout). The manager
	// retries these a bounded number of times.
	ErrConflict = errors.New("transaction conflict")
)

// Tx is the view of the store inside a serializable transaction. Reads lock
// the row for the remainder of the transaction where the backend supports
// it.
type Tx interface {
	Job(ctx context.Context, id string) (model.Job, error)
	Offer(ctx context.Context, id string) (model.Offer, error)
	InsertOffer(ctx context.Context, o model.Offer) error
	UpdateOffer(ctx context.Context, o model.Offer) error
	UpdateJob(ctx context.Context, j model.Job) error
}

// Store persists jobs and offers. Every mutation of an offer/job pair goes
// through RunInTx: fn's writes commit together or not at all, and a
// concurrent conflicting transaction makes RunInTx return ErrConflict. An
// error returned by fn rolls back and is returned unchanged.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	CreateJob(ctx context.Context, j model.Job) error
	GetJob(ctx context.Context, id string) (model.Job, error)
	GetOffer(ctx context.Context, id string) (model.Offer, error)
	// OpenOffersForStaff lists open offers expiring after now whose
	// snapshot contains staffID, soonest expiry first.
	OpenOffersForStaff(ctx context.Context, staffID string, now time.Time) ([]model.Offer, error)
	// ExpiredOffers lists at most limit open offers with expiresAt <= now,
	// oldest expiry first.
	ExpiredOffers(ctx context.Context, now time.Time, limit int) ([]model.Offer, error)
	// ListJobs lists jobs, optionally only those flagged for manual
	// assignment.
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)
	Close() error
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Status     model.JobStatus
	ManualOnly bool
	Limit      int
}
