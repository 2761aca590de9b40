package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/villadispatch/core/model"
)

func TestRecorderWritesTypedRecords(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := NewRecorder(store)
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	o := model.Offer{
		ID: "o1", JobID: "j1", PropertyID: "villa-1", Attempt: 2, Tier: "reachable",
		EligibleStaff: model.NewStaffSet("a", "b"), OfferedAt: now, CreatedBy: "admin",
	}
	require.NoError(t, rec.LogOfferCreated(ctx, o))

	accepted := o
	accepted.AcceptedBy = "a"
	at := now.Add(time.Minute)
	accepted.AcceptedAt = &at
	require.NoError(t, rec.LogOfferAccepted(ctx, accepted))

	all, err := store.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, OfferCreated, all[0].Type)
	assert.Equal(t, 2, all[0].EligibleCount)
	assert.Equal(t, "admin", all[0].Actor)
	assert.Equal(t, now, all[0].Timestamp)
	assert.Equal(t, OfferAccepted, all[1].Type)
	assert.Equal(t, "a", all[1].StaffID)
	assert.Equal(t, at, all[1].Timestamp)
}

func TestQueryMatch(t *testing.T) {
	base := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	r := Record{Timestamp: base, Type: OfferExpired, JobID: "j1", OfferID: "o1"}
	assert.True(t, Query{}.Match(r))
	assert.True(t, Query{JobID: "j1", Type: OfferExpired}.Match(r))
	assert.False(t, Query{JobID: "j2"}.Match(r))
	assert.False(t, Query{Start: base.Add(time.Second)}.Match(r))
	assert.False(t, Query{End: base.Add(-time.Second)}.Match(r))
}

func TestMemoryStoreLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, Record{JobID: "j"}))
	}
	out, err := s.Query(ctx, Query{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, out, 3)
}

func TestNilStoreRecorder(t *testing.T) {
	assert.NoError(t, NewRecorder(nil).LogOfferExpired(context.Background(), model.Offer{}))
}
