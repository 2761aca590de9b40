// Package metrics defines the sink interface used to export offer outcomes
// (created, accepted, expired, cancelled) to time-series backends. Sinks are
// built from configuration through the factory registry; NewMetricsSink
// returns a MultiSink automatically when several sinks are configured.
// Engine-internal counters are Prometheus collectors owned by core/dispatch.
package metrics
