package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/villadispatch/api"
	"github.com/kilianp07/villadispatch/api/middleware"
	"github.com/kilianp07/villadispatch/config"
	coreaudit "github.com/kilianp07/villadispatch/core/audit"
	"github.com/kilianp07/villadispatch/core/dispatch"
	"github.com/kilianp07/villadispatch/core/events"
	"github.com/kilianp07/villadispatch/core/logger"
	coremetrics "github.com/kilianp07/villadispatch/core/metrics"
	coremon "github.com/kilianp07/villadispatch/core/monitoring"
	"github.com/kilianp07/villadispatch/core/notify"
	infraaudit "github.com/kilianp07/villadispatch/infra/audit"
	"github.com/kilianp07/villadispatch/infra/directory"
	infralogger "github.com/kilianp07/villadispatch/infra/logger"
	"github.com/kilianp07/villadispatch/infra/metrics"
	"github.com/kilianp07/villadispatch/infra/monitoring"
	"github.com/kilianp07/villadispatch/infra/store"
	"github.com/kilianp07/villadispatch/internal/eventbus"

	// notifier transports register themselves with core/notify
	_ "github.com/kilianp07/villadispatch/infra/mqtt"
	_ "github.com/kilianp07/villadispatch/infra/nats"
	_ "github.com/kilianp07/villadispatch/infra/push"
)

// Service wires the offer engine to its store, directory, gateways and
// transports.
type Service struct {
	Manager *dispatch.Manager
	Sweeper *dispatch.Sweeper

	cfg      *config.Config
	store    dispatch.Store
	audit    coreaudit.Store
	dir      *directory.File
	notifier notify.Notifier
	sink     coremetrics.MetricsSink
	monitor  coremon.Monitor
	bus      *eventbus.Bus[events.OfferEvent]
	limiter  *middleware.RateLimiter
	log      logger.Logger
}

// New creates a Service from the configuration. On error every resource
// opened so far is released.
func New(ctx context.Context, cfg *config.Config) (svc *Service, err error) {
	s := &Service{cfg: cfg, log: infralogger.New("service")}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if s.monitor, err = monitoring.NewSentryMonitor(cfg.Sentry); err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	if s.store, err = store.Open(ctx, cfg.Store); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	if s.dir, err = directory.Load(cfg.Directory, infralogger.New("directory")); err != nil {
		return nil, fmt.Errorf("directory: %w", err)
	}
	if s.audit, err = infraaudit.Open(cfg.Audit); err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	if s.notifier, err = notify.New(cfg.Notifiers); err != nil {
		return nil, fmt.Errorf("notifiers: %w", err)
	}
	if s.sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	mgr, err := dispatch.NewManager(s.store, s.dir, cfg.Dispatch, infralogger.New("dispatch"))
	if err != nil {
		return nil, err
	}
	s.bus = eventbus.New[events.OfferEvent]()
	mgr.SetNotifier(s.notifier)
	mgr.SetAuditLog(coreaudit.NewRecorder(s.audit))
	mgr.SetMetricsSink(s.sink)
	mgr.SetEventBus(s.bus)
	mgr.SetMonitor(s.monitor)
	s.Manager = mgr
	s.Sweeper = dispatch.NewSweeper(mgr, infralogger.New("sweeper"))
	s.limiter = middleware.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst)
	return s, nil
}

// Run starts every configured component and blocks until ctx is cancelled
// or one of them fails.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Sweeper.Run(ctx) })
	g.Go(func() error { return s.logEvents(ctx) })
	if s.cfg.Directory.Watch {
		g.Go(func() error { return s.dir.Watch(ctx) })
	}
	if s.cfg.Metrics.PrometheusEnabled {
		g.Go(func() error { return metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusPort) })
	}
	if s.cfg.HTTP.Enabled {
		router := api.NewRouter(s.cfg.HTTP, api.Deps{
			Manager: s.Manager,
			Sweeper: s.Sweeper,
			Audit:   s.audit,
			Limiter: s.limiter,
			Logger:  infralogger.New("http"),
		})
		g.Go(func() error { return s.limiter.Run(ctx) })
		g.Go(func() error {
			s.log.Infof("http listening on %s", s.cfg.HTTP.Addr)
			return api.Serve(ctx, s.cfg.HTTP.Addr, router)
		})
	}
	s.log.Infof("service started: store=%s max_attempts=%d", s.cfg.Store.Driver, s.cfg.Dispatch.MaxAttempts)
	return g.Wait()
}

// logEvents surfaces jobs that fell off the escalation ladder.
func (s *Service) logEvents(ctx context.Context) error {
	sub := s.bus.SubscribeFunc(func(ev events.OfferEvent) bool {
		return ev.Type == events.ManualAssignmentRequired
	})
	defer s.bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			s.log.Warnf("job %s needs manual assignment after attempt %d", ev.JobID, ev.Offer.Attempt)
		}
	}
}

// Close drains post-commit work and releases resources.
func (s *Service) Close() error {
	var errs []error
	if s.Manager != nil {
		errs = append(errs, s.Manager.Close())
	}
	if s.bus != nil {
		s.bus.Close()
	}
	errs = append(errs, closeNotifier(s.notifier))
	if s.audit != nil {
		errs = append(errs, s.audit.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.monitor != nil {
		s.monitor.Flush(2 * time.Second)
	}
	return errors.Join(errs...)
}

func closeNotifier(n notify.Notifier) error {
	switch v := n.(type) {
	case notify.Multi:
		var errs []error
		for _, inner := range v {
			errs = append(errs, closeNotifier(inner))
		}
		return errors.Join(errs...)
	case io.Closer:
		return v.Close()
	}
	return nil
}
