package sqlite_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/villadispatch/core/directory"
	"github.com/kilianp07/villadispatch/core/dispatch"
	"github.com/kilianp07/villadispatch/core/model"
	"github.com/kilianp07/villadispatch/infra/store/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(sqlite.Config{Path: filepath.Join(t.TempDir(), "dispatch.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := sqlite.Open(sqlite.Config{})
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	job := model.Job{
		ID: "j1", PropertyID: "villa-1", RequiredRole: "cleaner", Status: model.JobPending,
		ScheduledStart: now.Add(time.Hour), EstimatedDuration: 90 * time.Minute, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateJob(ctx, job))
	got, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, job, got)

	offer := model.Offer{
		ID: "o1", JobID: "j1", PropertyID: "villa-1", RequiredRole: "cleaner",
		EligibleStaff: model.NewStaffSet("b", "a"), Status: model.OfferOpen,
		OfferedAt: now, ExpiresAt: now.Add(15 * time.Minute), Attempt: 1, Tier: "available", CreatedBy: "admin",
		Meta: model.OfferMeta{Priority: model.PriorityHigh, Payout: decimal.RequireFromString("42.50"), Currency: "EUR"},
	}
	err = s.RunInTx(ctx, func(tx dispatch.Tx) error {
		j, err := tx.Job(ctx, "j1")
		if err != nil {
			return err
		}
		if err := tx.InsertOffer(ctx, offer); err != nil {
			return err
		}
		j.Status = model.JobOffered
		j.OfferIDActive = offer.ID
		return tx.UpdateJob(ctx, j)
	})
	require.NoError(t, err)

	stored, err := s.GetOffer(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, stored.EligibleStaff.Equal(offer.EligibleStaff))
	assert.True(t, stored.Meta.Payout.Equal(offer.Meta.Payout))
	assert.Equal(t, offer.ExpiresAt, stored.ExpiresAt)
	assert.Nil(t, stored.AcceptedAt)

	forA, err := s.OpenOffersForStaff(ctx, "a", now)
	require.NoError(t, err)
	assert.Len(t, forA, 1)
	forC, err := s.OpenOffersForStaff(ctx, "c", now)
	require.NoError(t, err)
	assert.Empty(t, forC)

	due, err := s.ExpiredOffers(ctx, now.Add(15*time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
	due, err = s.ExpiredOffers(ctx, now.Add(14*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	jobs, err := s.ListJobs(ctx, dispatch.JobFilter{Status: model.JobOffered})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestNotFoundAndRollback(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	_, err := s.GetJob(ctx, "missing")
	assert.True(t, errors.Is(err, dispatch.ErrNotFound))
	_, err = s.GetOffer(ctx, "missing")
	assert.True(t, errors.Is(err, dispatch.ErrNotFound))

	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateJob(ctx, model.Job{ID: "j1", RequiredRole: "cleaner", Status: model.JobPending, CreatedAt: now, UpdatedAt: now}))
	err = s.RunInTx(ctx, func(tx dispatch.Tx) error {
		j, err := tx.Job(ctx, "j1")
		if err != nil {
			return err
		}
		j.Status = model.JobCancelled
		if err := tx.UpdateJob(ctx, j); err != nil {
			return err
		}
		return dispatch.ErrOfferNotOpen
	})
	assert.True(t, errors.Is(err, dispatch.ErrOfferNotOpen))
	j, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, j.Status)
}

func TestConcurrentAcceptOverSQLite(t *testing.T) {
	const n = 12
	ctx := context.Background()
	s := openStore(t)
	var staff []model.StaffMember
	for i := 0; i < n; i++ {
		staff = append(staff, model.StaffMember{
			ID: fmt.Sprintf("s%02d", i), Roles: []string{"cleaner"}, Active: true,
			Availability: model.Available, Endpoint: "dev",
		})
	}
	mgr, err := dispatch.NewManager(s, directory.NewStatic(staff...), dispatch.Config{TxRetries: 10}, nil)
	require.NoError(t, err)
	defer func() { _ = mgr.Close() }()

	_, err = mgr.CreateJob(ctx, model.Job{ID: "j1", RequiredRole: "cleaner", ScheduledStart: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	o, err := mgr.DispatchJob(ctx, "j1", "admin", model.OfferMeta{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, n)
	for _, m := range staff {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := mgr.Accept(ctx, o.ID, id)
			results <- err
		}(m.ID)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.Is(err, dispatch.ErrJobAlreadyAssigned) || errors.Is(err, dispatch.ErrOfferNotOpen), err.Error())
	}
	assert.Equal(t, 1, wins)

	job, err := mgr.Job(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobAssigned, job.Status)
	assert.Equal(t, o.ID, job.OfferIDActive)
	stored, err := mgr.Offer(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, job.AssignedStaffID, stored.AcceptedBy)
}
