package metrics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/villadispatch/core/factory"
)

type recordSink struct {
	got []OfferOutcome
	err error
}

func (r *recordSink) RecordOfferOutcome(o OfferOutcome) error {
	r.got = append(r.got, o)
	return r.err
}

func TestMultiSinkDeliversToAll(t *testing.T) {
	failing := &recordSink{err: errors.New("down")}
	healthy := &recordSink{}
	m := NewMultiSink(failing, healthy)
	err := m.RecordOfferOutcome(OfferOutcome{OfferID: "o1", Outcome: OutcomeAccepted})
	assert.EqualError(t, err, "down")
	require.Len(t, healthy.got, 1)
	assert.Equal(t, "o1", healthy.got[0].OfferID)
}

func TestNewMetricsSink(t *testing.T) {
	s, err := NewMetricsSink(nil)
	require.NoError(t, err)
	assert.IsType(t, NopSink{}, s)

	s, err = NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}})
	require.NoError(t, err)
	assert.IsType(t, NopSink{}, s)

	s, err = NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}, {Type: "nop"}})
	require.NoError(t, err)
	multi, ok := s.(*MultiSink)
	require.True(t, ok)
	assert.Len(t, multi.Sinks, 2)

	_, err = NewMetricsSink([]factory.ModuleConfig{{Type: "missing"}})
	assert.Error(t, err)
}
