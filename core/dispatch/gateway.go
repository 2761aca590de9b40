package dispatch

import (
	"context"

	"github.com/kilianp07/villadispatch/core/audit"
	"github.com/kilianp07/villadispatch/core/events"
	"github.com/kilianp07/villadispatch/core/metrics"
	"github.com/kilianp07/villadispatch/core/model"
	"github.com/kilianp07/villadispatch/core/monitoring"
	"github.com/kilianp07/villadispatch/core/notify"
	"github.com/kilianp07/villadispatch/internal/eventbus"
)

type gateway struct {
	notifier notify.Notifier
	audit    audit.Log
	sink     metrics.MetricsSink
	bus      *eventbus.Bus[events.OfferEvent]
	monitor  monitoring.Monitor
}

func (m *Manager) gateway() gateway {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return gateway{notifier: m.notifier, audit: m.audit, sink: m.sink, bus: m.bus, monitor: m.monitor}
}

// afterCommit runs the side effects of a committed transition in the
// background. Nothing here can change stored state.
func (m *Manager) afterCommit(ev events.OfferEvent) {
	m.dispatchSideEffects(ev, model.Job{})
}

func (m *Manager) afterCommitJob(ev events.OfferEvent, job model.Job) {
	m.dispatchSideEffects(ev, job)
}

func (m *Manager) dispatchSideEffects(ev events.OfferEvent, job model.Job) {
	gw := m.gateway()
	if gw.bus != nil {
		gw.bus.Publish(ev)
	}
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.NotifyTimeout())
		defer cancel()
		tags := map[string]string{"module": "dispatch_gateway", "event": string(ev.Type)}
		monitoring.Safe(gw.monitor, tags, func() {
			m.runSideEffects(ctx, gw, ev, job)
		})
	}()
}

func (m *Manager) runSideEffects(ctx context.Context, gw gateway, ev events.OfferEvent, job model.Job) {
	o := ev.Offer
	var outcome metrics.Outcome
	var auditErr error
	switch ev.Type {
	case events.OfferCreated:
		outcome = metrics.OutcomeCreated
		if err := gw.notifier.NotifyStaffOfOffer(ctx, o); err != nil {
			m.gatewayFailed(gw, "notify", ev, err)
		}
		auditErr = gw.audit.LogOfferCreated(ctx, o)
	case events.OfferAccepted:
		outcome = metrics.OutcomeAccepted
		auditErr = gw.audit.LogOfferAccepted(ctx, o)
	case events.OfferCancelled:
		outcome = metrics.OutcomeCancelled
		auditErr = gw.audit.LogOfferCancelled(ctx, o)
	case events.OfferExpired:
		outcome = metrics.OutcomeExpired
		auditErr = gw.audit.LogOfferExpired(ctx, o)
	case events.ManualAssignmentRequired:
		auditErr = gw.audit.LogManualAssignmentRequired(ctx, model.Job{ID: ev.JobID, PropertyID: o.PropertyID}, o)
	case events.JobAssignedManually:
		auditErr = gw.audit.LogJobAssignedManually(ctx, job, ev.Actor)
	}
	if auditErr != nil {
		m.gatewayFailed(gw, "audit", ev, auditErr)
	}
	if outcome == "" {
		return
	}
	rec := metrics.OfferOutcome{
		OfferID:       o.ID,
		JobID:         o.JobID,
		PropertyID:    o.PropertyID,
		Role:          o.RequiredRole,
		Tier:          o.Tier,
		Attempt:       o.Attempt,
		Outcome:       outcome,
		EligibleCount: o.EligibleStaff.Len(),
		Elapsed:       ev.Time.Sub(o.OfferedAt),
		Time:          ev.Time,
	}
	if err := gw.sink.RecordOfferOutcome(rec); err != nil {
		m.gatewayFailed(gw, "metrics", ev, err)
	}
}

func (m *Manager) gatewayFailed(gw gateway, target string, ev events.OfferEvent, err error) {
	gatewayFailures.WithLabelValues(target).Inc()
	m.logger.Errorf("%s after %s for job %s failed: %v", target, ev.Type, ev.JobID, err)
	gw.monitor.CaptureException(err, map[string]string{"module": "dispatch_gateway", "target": target, "event": string(ev.Type)})
}
