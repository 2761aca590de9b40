package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/villadispatch/core/directory"
	"github.com/kilianp07/villadispatch/core/model"
)

// Eligibility computes the staff snapshot attached to an offer.
type Eligibility struct {
	dir    directory.Directory
	ladder Ladder
}

// NewEligibility returns a calculator reading dir and escalating along
// ladder.
func NewEligibility(dir directory.Directory, ladder Ladder) *Eligibility {
	return &Eligibility{dir: dir, ladder: ladder}
}

// Snapshot returns the staff eligible for attempt and the tier used. The
// directory reports current availability; scheduledStart is carried for
// directories that answer per time slot and is otherwise informational.
// An empty set is not an error here; callers decide.
func (e *Eligibility) Snapshot(ctx context.Context, role string, scheduledStart time.Time, attempt int) (model.StaffSet, Tier, error) {
	tier := e.ladder.Rung(attempt).Tier
	if role == "" {
		return model.StaffSet{}, tier, fmt.Errorf("eligibility: empty role")
	}
	members, err := e.dir.StaffByRole(ctx, role)
	if err != nil {
		return model.StaffSet{}, tier, fmt.Errorf("eligibility: lookup %s for %s: %w", role, scheduledStart.Format(time.RFC3339), err)
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		if m.HasRole(role) && tier.Admits(m) {
			ids = append(ids, m.ID)
		}
	}
	return model.NewStaffSet(ids...), tier, nil
}

// Admits reports whether staffID currently qualifies for role at the
// broadest tier. Used for manual assignment.
func (e *Eligibility) Admits(ctx context.Context, role, staffID string) (bool, error) {
	members, err := e.dir.StaffByRole(ctx, role)
	if err != nil {
		return false, fmt.Errorf("eligibility: lookup %s: %w", role, err)
	}
	for _, m := range members {
		if m.ID == staffID {
			return m.HasRole(role) && TierAllActive.Admits(m), nil
		}
	}
	return false, nil
}
