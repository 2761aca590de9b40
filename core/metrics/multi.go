package metrics

import "errors"

// MultiSink fans out outcomes to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordOfferOutcome forwards the outcome to every sink. A failing sink does
// not prevent delivery to the others; all errors are joined.
func (m *MultiSink) RecordOfferOutcome(o OfferOutcome) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.RecordOfferOutcome(o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
