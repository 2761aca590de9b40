// Package memory provides an in-process dispatch.Store with optimistic
// transactions. It is meant for development and tests; state is lost on
// exit.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/villadispatch/core/dispatch"
	"github.com/kilianp07/villadispatch/core/model"
)

type jobRow struct {
	job     model.Job
	version uint64
}

type offerRow struct {
	offer   model.Offer
	version uint64
}

// Store keeps jobs and offers in maps. Transactions read without holding
// the lock and validate every version they read at commit; a stale read
// makes RunInTx return dispatch.ErrConflict.
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]jobRow
	offers map[string]offerRow
	closed bool

	// beforeCommit runs after fn and before validation. Tests use it to
	// force interleavings.
	beforeCommit func()
}

// New returns an empty store.
func New() *Store {
	return &Store{jobs: map[string]jobRow{}, offers: map[string]offerRow{}}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneJob(j model.Job) model.Job {
	j.AssignedAt = cloneTime(j.AssignedAt)
	return j
}

func cloneOffer(o model.Offer) model.Offer {
	o.AcceptedAt = cloneTime(o.AcceptedAt)
	o.ClosedAt = cloneTime(o.ClosedAt)
	return o
}

type tx struct {
	s          *Store
	readJobs   map[string]uint64
	readOffers map[string]uint64
	jobs       map[string]model.Job
	offers     map[string]model.Offer
	inserted   map[string]bool
}

func (t *tx) Job(_ context.Context, id string) (model.Job, error) {
	if j, ok := t.jobs[id]; ok {
		return cloneJob(j), nil
	}
	t.s.mu.RLock()
	row, ok := t.s.jobs[id]
	t.s.mu.RUnlock()
	if !ok {
		return model.Job{}, dispatch.ErrNotFound
	}
	if _, seen := t.readJobs[id]; !seen {
		t.readJobs[id] = row.version
	}
	return cloneJob(row.job), nil
}

func (t *tx) Offer(_ context.Context, id string) (model.Offer, error) {
	if o, ok := t.offers[id]; ok {
		return cloneOffer(o), nil
	}
	t.s.mu.RLock()
	row, ok := t.s.offers[id]
	t.s.mu.RUnlock()
	if !ok {
		return model.Offer{}, dispatch.ErrNotFound
	}
	if _, seen := t.readOffers[id]; !seen {
		t.readOffers[id] = row.version
	}
	return cloneOffer(row.offer), nil
}

func (t *tx) InsertOffer(_ context.Context, o model.Offer) error {
	t.offers[o.ID] = cloneOffer(o)
	t.inserted[o.ID] = true
	return nil
}

func (t *tx) UpdateOffer(_ context.Context, o model.Offer) error {
	if _, ok := t.readOffers[o.ID]; !ok && !t.inserted[o.ID] {
		return dispatch.ErrNotFound
	}
	t.offers[o.ID] = cloneOffer(o)
	return nil
}

func (t *tx) UpdateJob(_ context.Context, j model.Job) error {
	if _, ok := t.readJobs[j.ID]; !ok {
		return dispatch.ErrNotFound
	}
	t.jobs[j.ID] = cloneJob(j)
	return nil
}

// RunInTx implements dispatch.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(dispatch.Tx) error) error {
	t := &tx{
		s:          s,
		readJobs:   map[string]uint64{},
		readOffers: map[string]uint64{},
		jobs:       map[string]model.Job{},
		offers:     map[string]model.Offer{},
		inserted:   map[string]bool{},
	}
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.beforeCommit != nil {
		s.beforeCommit()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	for id, v := range t.readJobs {
		if s.jobs[id].version != v {
			return dispatch.ErrConflict
		}
	}
	for id, v := range t.readOffers {
		if s.offers[id].version != v {
			return dispatch.ErrConflict
		}
	}
	for id := range t.inserted {
		if _, exists := s.offers[id]; exists {
			return dispatch.ErrConflict
		}
	}
	for id, j := range t.jobs {
		s.jobs[id] = jobRow{job: j, version: s.jobs[id].version + 1}
	}
	for id, o := range t.offers {
		s.offers[id] = offerRow{offer: o, version: s.offers[id].version + 1}
	}
	return nil
}

// CreateJob implements dispatch.Store.
func (s *Store) CreateJob(_ context.Context, j model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return errDuplicate(j.ID)
	}
	s.jobs[j.ID] = jobRow{job: cloneJob(j), version: 1}
	return nil
}

// GetJob implements dispatch.Store.
func (s *Store) GetJob(_ context.Context, id string) (model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.jobs[id]
	if !ok {
		return model.Job{}, dispatch.ErrNotFound
	}
	return cloneJob(row.job), nil
}

// GetOffer implements dispatch.Store.
func (s *Store) GetOffer(_ context.Context, id string) (model.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.offers[id]
	if !ok {
		return model.Offer{}, dispatch.ErrNotFound
	}
	return cloneOffer(row.offer), nil
}

// OpenOffersForStaff implements dispatch.Store.
func (s *Store) OpenOffersForStaff(_ context.Context, staffID string, now time.Time) ([]model.Offer, error) {
	s.mu.RLock()
	var out []model.Offer
	for _, row := range s.offers {
		o := row.offer
		if o.Status == model.OfferOpen && !o.ExpiredAt(now) && o.EligibleStaff.Contains(staffID) {
			out = append(out, cloneOffer(o))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out, nil
}

// ExpiredOffers implements dispatch.Store.
func (s *Store) ExpiredOffers(_ context.Context, now time.Time, limit int) ([]model.Offer, error) {
	s.mu.RLock()
	var out []model.Offer
	for _, row := range s.offers {
		o := row.offer
		if o.Status == model.OfferOpen && !o.ExpiresAt.After(now) {
			out = append(out, cloneOffer(o))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListJobs implements dispatch.Store.
func (s *Store) ListJobs(_ context.Context, f dispatch.JobFilter) ([]model.Job, error) {
	s.mu.RLock()
	var out []model.Job
	for _, row := range s.jobs {
		j := row.job
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.ManualOnly && !j.NeedsManualAssignment {
			continue
		}
		out = append(out, cloneJob(j))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledStart.Equal(out[j].ScheduledStart) {
			return out[i].ID < out[j].ID
		}
		return out[i].ScheduledStart.Before(out[j].ScheduledStart)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Close implements dispatch.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
