package dispatch

import (
	"fmt"
	"time"

	"github.com/kilianp07/villadispatch/core/model"
)

// Tier is the eligibility breadth used for an attempt.
type Tier string

const (
	// TierAvailable admits active, unsuspended, reachable staff who reported
	// themselves available.
	TierAvailable Tier = "available"
	// TierReachable ignores availability.
	TierReachable Tier = "reachable"
	// TierAllActive is the manager fallback: any active, unsuspended staff.
	TierAllActive Tier = "all_active"
)

func (t Tier) rank() int {
	switch t {
	case TierAvailable:
		return 1
	case TierReachable:
		return 2
	case TierAllActive:
		return 3
	}
	return 0
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool { return t.rank() > 0 }

// Admits reports whether the member belongs to the tier. Each tier admits a
// superset of the narrower ones.
func (t Tier) Admits(m model.StaffMember) bool {
	if !m.Active || m.Suspended {
		return false
	}
	switch t {
	case TierAllActive:
		return true
	case TierReachable:
		return m.HasValidEndpoint()
	case TierAvailable:
		return m.HasValidEndpoint() && m.Availability == model.Available
	}
	return false
}

// Rung is one step of the escalation ladder.
type Rung struct {
	Attempt int
	Tier    Tier
	Expiry  time.Duration
}

// Ladder maps attempt numbers to tiers and expiry windows. Attempts past the
// last rung reuse it.
type Ladder struct {
	rungs []Rung
}

var defaultRungs = []Rung{
	{Attempt: 1, Tier: TierAvailable, Expiry: 15 * time.Minute},
	{Attempt: 2, Tier: TierReachable, Expiry: 30 * time.Minute},
	{Attempt: 3, Tier: TierAllActive, Expiry: 60 * time.Minute},
}

// DefaultLadder returns the built-in three step ladder.
func DefaultLadder() Ladder {
	return Ladder{rungs: append([]Rung(nil), defaultRungs...)}
}

// NewLadder merges overrides into the default ladder. A step may override
// the tier, the expiry or both; steps past the default table extend it, with
// gaps filled by the previous rung. defaultExpiry is used for extension
// steps that do not set one.
func NewLadder(defaultExpiry time.Duration, overrides []LadderStep) (Ladder, error) {
	rungs := append([]Rung(nil), defaultRungs...)
	for _, o := range overrides {
		if o.Attempt < 1 {
			return Ladder{}, fmt.Errorf("ladder: attempt must be >= 1, got %d", o.Attempt)
		}
		if o.Tier != "" && !o.Tier.Valid() {
			return Ladder{}, fmt.Errorf("ladder: attempt %d: unknown tier %q", o.Attempt, o.Tier)
		}
		if o.ExpiryMinutes < 0 {
			return Ladder{}, fmt.Errorf("ladder: attempt %d: negative expiry", o.Attempt)
		}
		for len(rungs) < o.Attempt {
			prev := rungs[len(rungs)-1]
			next := Rung{Attempt: prev.Attempt + 1, Tier: prev.Tier, Expiry: prev.Expiry}
			if defaultExpiry > next.Expiry {
				next.Expiry = defaultExpiry
			}
			rungs = append(rungs, next)
		}
		r := &rungs[o.Attempt-1]
		if o.Tier != "" {
			r.Tier = o.Tier
		}
		if o.ExpiryMinutes > 0 {
			r.Expiry = time.Duration(o.ExpiryMinutes) * time.Minute
		}
	}
	l := Ladder{rungs: rungs}
	if err := l.Validate(); err != nil {
		return Ladder{}, err
	}
	return l, nil
}

// Validate checks that later attempts never narrow eligibility nor shorten
// the expiry window.
func (l Ladder) Validate() error {
	if len(l.rungs) == 0 {
		return fmt.Errorf("ladder: empty")
	}
	for i, r := range l.rungs {
		if r.Expiry <= 0 {
			return fmt.Errorf("ladder: attempt %d: expiry must be positive", r.Attempt)
		}
		if i == 0 {
			continue
		}
		prev := l.rungs[i-1]
		if r.Tier.rank() < prev.Tier.rank() {
			return fmt.Errorf("ladder: attempt %d tier %s is narrower than attempt %d tier %s", r.Attempt, r.Tier, prev.Attempt, prev.Tier)
		}
		if r.Expiry < prev.Expiry {
			return fmt.Errorf("ladder: attempt %d expiry %s is shorter than attempt %d expiry %s", r.Attempt, r.Expiry, prev.Attempt, prev.Expiry)
		}
	}
	return nil
}

// Rung returns the step for attempt (1-based).
func (l Ladder) Rung(attempt int) Rung {
	if len(l.rungs) == 0 {
		l = DefaultLadder()
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt <= len(l.rungs) {
		return l.rungs[attempt-1]
	}
	last := l.rungs[len(l.rungs)-1]
	last.Attempt = attempt
	return last
}

// Len returns the number of explicit rungs.
func (l Ladder) Len() int { return len(l.rungs) }
