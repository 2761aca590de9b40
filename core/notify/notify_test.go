package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/villadispatch/core/factory"
	"github.com/kilianp07/villadispatch/core/model"
)

type countingNotifier struct {
	calls int
	err   error
}

func (c *countingNotifier) NotifyStaffOfOffer(context.Context, model.Offer) error {
	c.calls++
	return c.err
}

func TestMessagesOnePerStaff(t *testing.T) {
	exp := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	o := model.Offer{
		ID: "o1", JobID: "j1", PropertyID: "villa-7", RequiredRole: "cleaner",
		EligibleStaff: model.NewStaffSet("s2", "s1"), Attempt: 1, ExpiresAt: exp,
		Meta: model.OfferMeta{Priority: model.PriorityHigh, Payout: decimal.RequireFromString("45.5"), Currency: "EUR"},
	}
	msgs := Messages(o)
	require.Len(t, msgs, 2)
	assert.Equal(t, "s1", msgs[0].StaffID)
	assert.Equal(t, "s2", msgs[1].StaffID)
	assert.Equal(t, "45.50", msgs[0].Payout)
	assert.Equal(t, exp, msgs[1].ExpiresAt)
}

func TestMultiTriesEveryNotifier(t *testing.T) {
	a := &countingNotifier{err: errors.New("mqtt down")}
	b := &countingNotifier{}
	err := Multi{a, b}.NotifyStaffOfOffer(context.Background(), model.Offer{})
	assert.ErrorContains(t, err, "mqtt down")
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestNewFromConfig(t *testing.T) {
	n, err := New(nil)
	require.NoError(t, err)
	assert.IsType(t, NopNotifier{}, n)

	n, err = New([]factory.ModuleConfig{{Type: "nop"}, {Type: "nop"}})
	require.NoError(t, err)
	assert.Len(t, n.(Multi), 2)

	_, err = New([]factory.ModuleConfig{{Type: "carrier-pigeon"}})
	assert.Error(t, err)
}
