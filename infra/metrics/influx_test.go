package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/kilianp07/villadispatch/core/metrics"
)

func outcome(now time.Time) coremetrics.OfferOutcome {
	return coremetrics.OfferOutcome{
		OfferID:       "o1",
		JobID:         "j1",
		PropertyID:    "villa-7",
		Role:          "cleaner",
		Tier:          "reachable",
		Attempt:       2,
		Outcome:       coremetrics.OutcomeAccepted,
		EligibleCount: 4,
		Elapsed:       90 * time.Second,
		Time:          now,
	}
}

func TestInfluxSink_RecordOfferOutcome(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "token", Org: "org", Bucket: "bucket"})
	defer sink.Close()
	now := time.Now()
	require.NoError(t, sink.RecordOfferOutcome(outcome(now)))

	expected := strings.TrimSpace(write.PointToLineProtocol(OutcomePoint(outcome(now)), time.Nanosecond))
	assert.Equal(t, expected, strings.TrimSpace(body))
	assert.Contains(t, body, "offer_outcome,")
	assert.Contains(t, body, "tier=reachable")
	assert.Contains(t, body, "eligible_count=4i")
}

func TestInfluxSink_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "t", Org: "o", Bucket: "b"})
	defer sink.Close()
	assert.Error(t, sink.RecordOfferOutcome(outcome(time.Now())))
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "tok", Org: "org", Bucket: "bucket"})
	_, isInflux := sink.(*InfluxSink)
	assert.False(t, isInflux, "expected NopSink on failing health check")
	assert.True(t, called, "health endpoint not called")
}
