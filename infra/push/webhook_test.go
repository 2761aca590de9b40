package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/villadispatch/auth"
	"github.com/kilianp07/villadispatch/core/factory"
	"github.com/kilianp07/villadispatch/core/model"
	"github.com/kilianp07/villadispatch/core/notify"
)

func offer() model.Offer {
	return model.Offer{
		ID:            "o1",
		JobID:         "j1",
		PropertyID:    "villa-3",
		RequiredRole:  "cleaner",
		EligibleStaff: model.NewStaffSet("ana", "ben"),
		Attempt:       1,
		ExpiresAt:     time.Date(2026, 10, 15, 9, 15, 0, 0, time.UTC),
		Meta:          model.OfferMeta{Payout: decimal.RequireFromString("40"), Currency: "EUR"},
	}
}

func TestNotifyPostsBatch(t *testing.T) {
	var got Batch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "villa", r.Header.Get("X-App"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n, err := NewNotifier(Config{URL: srv.URL, Headers: map[string]string{"X-App": "villa"}})
	require.NoError(t, err)
	require.NoError(t, n.NotifyStaffOfOffer(context.Background(), offer()))
	assert.Equal(t, "o1", got.OfferID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "40.00", got.Messages[0].Payout)
}

func TestNotifyRefreshesTokenOn401(t *testing.T) {
	var issued atomic.Int32
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := issued.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"access_token":"tok%d","token_type":"bearer","expires_in":3600}`, n)
	}))
	defer tokens.Close()

	var seen []string
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		if r.Header.Get("Authorization") != "Bearer tok2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer provider.Close()

	n, err := NewNotifier(Config{URL: provider.URL, Auth: auth.Conf{ClientID: "id", ClientSecret: "s", AuthURL: tokens.URL}})
	require.NoError(t, err)
	require.NoError(t, n.NotifyStaffOfOffer(context.Background(), offer()))
	assert.Equal(t, []string{"Bearer tok1", "Bearer tok2"}, seen)
}

func TestNotifyProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	n, err := NewNotifier(Config{URL: srv.URL})
	require.NoError(t, err)
	assert.ErrorContains(t, n.NotifyStaffOfOffer(context.Background(), offer()), "502")
}

func TestRegistered(t *testing.T) {
	_, err := notify.New([]factory.ModuleConfig{{Type: "webhook", Conf: map[string]any{"url": "http://localhost:1"}}})
	require.NoError(t, err)
	_, err = notify.New([]factory.ModuleConfig{{Type: "webhook"}})
	assert.Error(t, err)
}
