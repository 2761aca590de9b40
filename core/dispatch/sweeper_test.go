package dispatch_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/villadispatch/core/audit"
	"github.com/kilianp07/villadispatch/core/directory"
	"github.com/kilianp07/villadispatch/core/dispatch"
	"github.com/kilianp07/villadispatch/core/model"
	"github.com/kilianp07/villadispatch/infra/store/memory"
)

func openOffer(t *testing.T, f *fixture, jobID string) model.Offer {
	t.Helper()
	job, err := f.mgr.Job(context.Background(), jobID)
	require.NoError(t, err)
	require.NotEmpty(t, job.OfferIDActive)
	o, err := f.mgr.Offer(context.Background(), job.OfferIDActive)
	require.NoError(t, err)
	return o
}

func TestSweepClimbsLadderThenFlagsManual(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, dispatch.Config{})
	sw := dispatch.NewSweeper(f.mgr, nil)
	f.job(t, "j1", "cleaner", 6*time.Hour)
	first, err := f.mgr.DispatchJob(ctx, "j1", "admin", model.OfferMeta{})
	require.NoError(t, err)

	rep, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, dispatch.SweepReport{}, rep, "nothing is due yet")

	f.clock.Advance(16 * time.Minute)
	rep, err = sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, dispatch.SweepReport{Scanned: 1, Expired: 1, Redispatched: 1}, rep)

	expired, err := f.mgr.Offer(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OfferExpired, expired.Status)

	second := openOffer(t, f, "j1")
	assert.Equal(t, 2, second.Attempt)
	assert.Equal(t, string(dispatch.TierReachable), second.Tier)
	assert.Equal(t, []string{"ana", "ben", "gus"}, second.EligibleStaff.IDs())
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), second.ExpiresAt)
	assert.Equal(t, "sweeper", second.CreatedBy)

	f.clock.Advance(31 * time.Minute)
	_, err = sw.SweepOnce(ctx)
	require.NoError(t, err)
	third := openOffer(t, f, "j1")
	assert.Equal(t, 3, third.Attempt)
	assert.Equal(t, []string{"ana", "ben", "cleo", "gus"}, third.EligibleStaff.IDs())

	f.clock.Advance(61 * time.Minute)
	rep, err = sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, dispatch.SweepReport{Scanned: 1, Expired: 1, Manual: 1}, rep)

	job, err := f.mgr.Job(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)
	assert.Empty(t, job.OfferIDActive)
	assert.True(t, job.NeedsManualAssignment)

	manual, err := f.mgr.Jobs(ctx, dispatch.JobFilter{ManualOnly: true})
	require.NoError(t, err)
	require.Len(t, manual, 1)

	require.NoError(t, f.mgr.Close())
	recs, err := f.audit.Query(ctx, audit.Query{JobID: "j1", Type: audit.ManualAssignmentRequired})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestSweepSkipsEmptyTiers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, dispatch.Config{})
	sw := dispatch.NewSweeper(f.mgr, nil)
	f.job(t, "j1", "cleaner", time.Hour)
	_, err := f.mgr.DispatchJob(ctx, "j1", "admin", model.OfferMeta{})
	require.NoError(t, err)

	// Only cleo, who has no endpoint, remains: tier 2 is empty, tier 3 is not.
	for _, id := range []string{"ana", "ben", "gus"} {
		f.dir.Update(id, func(m *model.StaffMember) { m.Active = false })
	}
	f.clock.Advance(16 * time.Minute)
	rep, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Redispatched)

	o := openOffer(t, f, "j1")
	assert.Equal(t, 3, o.Attempt)
	assert.Equal(t, []string{"cleo"}, o.EligibleStaff.IDs())
}

func TestSweepFlagsManualWhenEveryTierIsEmpty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, dispatch.Config{})
	sw := dispatch.NewSweeper(f.mgr, nil)
	f.job(t, "j1", "cleaner", time.Hour)
	_, err := f.mgr.DispatchJob(ctx, "j1", "admin", model.OfferMeta{})
	require.NoError(t, err)

	f.dir.Replace(nil)
	f.clock.Advance(16 * time.Minute)
	rep, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, dispatch.SweepReport{Scanned: 1, Expired: 1, Manual: 1}, rep)

	job, err := f.mgr.Job(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, job.NeedsManualAssignment)
	assert.Equal(t, model.JobPending, job.Status)
}

func TestSweepLeavesAcceptedOffersAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, dispatch.Config{})
	sw := dispatch.NewSweeper(f.mgr, nil)
	f.job(t, "j1", "cleaner", time.Hour)
	o, err := f.mgr.DispatchJob(ctx, "j1", "admin", model.OfferMeta{})
	require.NoError(t, err)
	_, err = f.mgr.Accept(ctx, o.ID, "ana")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	rep, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Scanned)

	res, err := f.mgr.Expire(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, res.Expired)
	assert.Equal(t, model.OfferAccepted, res.Offer.Status)
}

func TestSweepPaging(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, dispatch.Config{SweepPageSize: 2, SweepMaxPages: 2, MaxAttempts: 1})
	sw := dispatch.NewSweeper(f.mgr, nil)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		f.job(t, id, "cleaner", time.Hour)
		_, err := f.mgr.DispatchJob(ctx, id, "admin", model.OfferMeta{})
		require.NoError(t, err)
	}
	f.clock.Advance(16 * time.Minute)

	rep, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Expired)
	assert.Equal(t, 4, rep.Manual)

	left, err := f.mgr.ExpiredOffers(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, dispatch.Config{SweepIntervalSeconds: 3600})
	sw := dispatch.NewSweeper(f.mgr, nil)
	f.job(t, "j1", "cleaner", time.Hour)
	_, err := f.mgr.DispatchJob(ctx, "j1", "admin", model.OfferMeta{})
	require.NoError(t, err)
	f.clock.Advance(16 * time.Minute)

	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	sw.Trigger()

	require.Eventually(t, func() bool {
		job, err := f.mgr.Job(context.Background(), "j1")
		if err != nil || job.OfferIDActive == "" {
			return false
		}
		o, err := f.mgr.Offer(context.Background(), job.OfferIDActive)
		return err == nil && o.Attempt == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

type failingDirectory struct {
	*directory.Static
	mu  sync.Mutex
	err error
}

func (d *failingDirectory) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *failingDirectory) StaffByRole(ctx context.Context, role string) ([]model.StaffMember, error) {
	d.mu.Lock()
	err := d.err
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return d.Static.StaffByRole(ctx, role)
}

// switchableStore reports a conflict for every transaction while conflicts
// is set.
type switchableStore struct {
	*memory.Store
	conflicts atomic.Bool
}

func (s *switchableStore) RunInTx(ctx context.Context, fn func(dispatch.Tx) error) error {
	if s.conflicts.Load() {
		return dispatch.ErrConflict
	}
	return s.Store.RunInTx(ctx, fn)
}

func assertStillOffered(t *testing.T, mgr *dispatch.Manager, jobID string, offer model.Offer) {
	t.Helper()
	ctx := context.Background()
	job, err := mgr.Job(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobOffered, job.Status)
	assert.Equal(t, offer.ID, job.OfferIDActive)
	assert.False(t, job.NeedsManualAssignment)

	stored, err := mgr.Offer(ctx, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OfferOpen, stored.Status)

	due, err := mgr.ExpiredOffers(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, offer.ID, due[0].ID)
}

func TestSweepRecoversAfterDirectoryFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, dispatch.Config{})
	dir := &failingDirectory{Static: f.dir}
	mgr, err := dispatch.NewManager(f.store, dir, dispatch.Config{}, nil)
	require.NoError(t, err)
	mgr.SetClock(f.clock.Now)
	t.Cleanup(func() { _ = mgr.Close() })
	sw := dispatch.NewSweeper(mgr, nil)

	f.job(t, "j1", "cleaner", time.Hour)
	first, err := mgr.DispatchJob(ctx, "j1", "admin", model.OfferMeta{})
	require.NoError(t, err)

	f.clock.Advance(20 * time.Minute)
	dir.setErr(errors.New("directory unavailable"))
	rep, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, dispatch.SweepReport{Scanned: 1, Failed: 1}, rep)
	assertStillOffered(t, mgr, "j1", first)

	_, err = mgr.Accept(ctx, first.ID, "ana")
	assert.True(t, errors.Is(err, dispatch.ErrOfferExpired))

	dir.setErr(nil)
	rep, err = sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, dispatch.SweepReport{Scanned: 1, Expired: 1, Redispatched: 1}, rep)

	next := openOffer(t, &fixture{mgr: mgr}, "j1")
	assert.Equal(t, 2, next.Attempt)
	assert.Equal(t, []string{"ana", "ben", "gus"}, next.EligibleStaff.IDs())

	expired, err := mgr.Offer(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OfferExpired, expired.Status)
}

func TestSweepRecoversAfterConflictExhaustion(t *testing.T) {
	ctx := context.Background()
	store := &switchableStore{Store: memory.New()}
	clk := &clock{now: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
	mgr, err := dispatch.NewManager(store, directory.NewStatic(cleaners()...), dispatch.Config{TxRetries: 1}, nil)
	require.NoError(t, err)
	mgr.SetClock(clk.Now)
	t.Cleanup(func() { _ = mgr.Close() })
	sw := dispatch.NewSweeper(mgr, nil)

	_, err = mgr.CreateJob(ctx, model.Job{ID: "j1", PropertyID: "villa-j1", RequiredRole: "cleaner", ScheduledStart: clk.Now().Add(time.Hour)})
	require.NoError(t, err)
	first, err := mgr.DispatchJob(ctx, "j1", "admin", model.OfferMeta{})
	require.NoError(t, err)

	clk.Advance(20 * time.Minute)
	store.conflicts.Store(true)
	rep, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, dispatch.SweepReport{Scanned: 1, Failed: 1}, rep)

	store.conflicts.Store(false)
	assertStillOffered(t, mgr, "j1", first)

	rep, err = sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, dispatch.SweepReport{Scanned: 1, Expired: 1, Redispatched: 1}, rep)
	next := openOffer(t, &fixture{mgr: mgr}, "j1")
	assert.Equal(t, 2, next.Attempt)
}
