package dispatch

import (
	"github.com/cockroachdb/errors"
)

// Kind identifies why an operation was rejected. Transports map kinds to
// status codes and show the hint to the user.
type Kind string

const (
	KindDispatchWindowExceeded Kind = "dispatch_window_exceeded"
	KindNoEligibleStaff        Kind = "no_eligible_staff"
	KindOfferNotFound          Kind = "offer_not_found"
	KindOfferNotOpen           Kind = "offer_not_open"
	KindOfferExpired           Kind = "offer_expired"
	KindStaffNotEligible       Kind = "staff_not_eligible"
	KindJobAlreadyAssigned     Kind = "job_already_assigned"
	KindJobNotFound            Kind = "job_not_found"
	KindOfferAlreadyActive     Kind = "offer_already_active"
	KindJobClosed              Kind = "job_closed"
)

// Error is a typed rejection. The package-level sentinels are the only
// instances; wrap them and compare with errors.Is.
type Error struct {
	Kind Kind
	msg  string
	hint string
}

func (e *Error) Error() string { return e.msg }

func newKind(k Kind, msg, hint string) *Error {
	return &Error{Kind: k, msg: msg, hint: hint}
}

var (
	ErrDispatchWindowExceeded = newKind(KindDispatchWindowExceeded,
		"scheduled start is outside the dispatch window",
		"the job starts too far in the future to be offered automatically")
	ErrNoEligibleStaff = newKind(KindNoEligibleStaff,
		"no eligible staff for this tier",
		"nobody matching the required role can receive this offer right now")
	ErrOfferNotFound = newKind(KindOfferNotFound,
		"offer not found",
		"this offer does not exist")
	ErrOfferNotOpen = newKind(KindOfferNotOpen,
		"offer is not open",
		"this offer is no longer available")
	ErrOfferExpired = newKind(KindOfferExpired,
		"offer expired",
		"this offer has expired")
	ErrStaffNotEligible = newKind(KindStaffNotEligible,
		"staff member is not eligible for this offer",
		"this offer was not sent to you")
	ErrJobAlreadyAssigned = newKind(KindJobAlreadyAssigned,
		"job already assigned",
		"someone else already took this job")
	ErrJobNotFound = newKind(KindJobNotFound,
		"job not found",
		"this job does not exist")
	ErrOfferAlreadyActive = newKind(KindOfferAlreadyActive,
		"job already has an open offer",
		"cancel the open offer before dispatching this job again")
	ErrJobClosed = newKind(KindJobClosed,
		"job is cancelled",
		"cancelled jobs cannot be dispatched or assigned")
)

// reject wraps a sentinel with context, a stack trace and its user hint.
func reject(sentinel *Error, format string, args ...any) error {
	err := errors.Wrapf(sentinel, format, args...)
	return errors.WithHint(err, sentinel.hint)
}

// KindOf extracts the rejection kind from err.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Hint returns the user-facing explanation attached to err, if any.
func Hint(err error) string {
	return errors.FlattenHints(err)
}
