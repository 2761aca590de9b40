package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/villadispatch/core/logger"
	coremetrics "github.com/kilianp07/villadispatch/core/metrics"
	infralogger "github.com/kilianp07/villadispatch/infra/logger"
)

// InfluxConfig locates the InfluxDB bucket receiving offer outcomes.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes offer outcomes to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      infralogger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// OutcomePoint converts an outcome into its line protocol point.
func OutcomePoint(o coremetrics.OfferOutcome) *write.Point {
	p := write.NewPointWithMeasurement("offer_outcome").
		AddTag("outcome", string(o.Outcome)).
		AddTag("attempt", strconv.Itoa(o.Attempt)).
		AddTag("component", "dispatch_manager")
	if o.Tier != "" {
		p = p.AddTag("tier", o.Tier)
	}
	if o.Role != "" {
		p = p.AddTag("role", o.Role)
	}
	if o.PropertyID != "" {
		p = p.AddTag("property_id", o.PropertyID)
	}
	return p.AddField("offer_id", o.OfferID).
		AddField("job_id", o.JobID).
		AddField("eligible_count", o.EligibleCount).
		AddField("elapsed_s", o.Elapsed.Seconds()).
		SetTime(o.Time)
}

// RecordOfferOutcome writes one outcome point.
func (s *InfluxSink) RecordOfferOutcome(o coremetrics.OfferOutcome) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, OutcomePoint(o))
}

// Close releases the client.
func (s *InfluxSink) Close() {
	s.client.Close()
}
