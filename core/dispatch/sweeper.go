package dispatch

import (
	"context"
	"time"

	"github.com/kilianp07/villadispatch/core/logger"
	"github.com/kilianp07/villadispatch/core/model"
)

// SweepReport summarises one sweep.
type SweepReport struct {
	Scanned      int
	Expired      int
	Redispatched int
	Manual       int
	Skipped      int
	Failed       int
}

// Sweeper expires elapsed offers and climbs the escalation ladder. Several
// sweepers may run against the same store; the expire transaction decides
// which of them handles a given offer.
type Sweeper struct {
	mgr     *Manager
	logger  logger.Logger
	trigger chan struct{}
}

// NewSweeper returns a sweeper driving mgr.
func NewSweeper(mgr *Manager, log logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Sweeper{mgr: mgr, logger: log, trigger: make(chan struct{}, 1)}
}

// Trigger requests an immediate sweep from Run. Calls coalesce.
func (s *Sweeper) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run sweeps every configured interval and on Trigger until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.mgr.cfg.SweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-s.trigger:
		}
		rep, err := s.SweepOnce(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.Errorf("sweep failed: %v", err)
			continue
		}
		if rep.Scanned > 0 {
			s.logger.Infof("sweep: %d scanned, %d expired, %d redispatched, %d manual, %d skipped, %d failed",
				rep.Scanned, rep.Expired, rep.Redispatched, rep.Manual, rep.Skipped, rep.Failed)
		}
	}
}

// SweepOnce processes expired offers page by page, up to the configured
// number of pages. Per-offer failures are counted and logged; the error
// return is reserved for listing failures.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	defer func() { sweepDuration.Observe(time.Since(start).Seconds()) }()

	var rep SweepReport
	cfg := s.mgr.cfg
	for page := 0; page < cfg.SweepMaxPages; page++ {
		offers, err := s.mgr.ExpiredOffers(ctx, cfg.SweepPageSize)
		if err != nil {
			return rep, err
		}
		progressed := false
		for _, o := range offers {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			rep.Scanned++
			if s.handle(ctx, o, &rep) {
				progressed = true
			}
		}
		if len(offers) < cfg.SweepPageSize || !progressed {
			break
		}
	}
	return rep, nil
}

// handle expires one offer and escalates its job. It reports whether the
// offer left the expired listing.
func (s *Sweeper) handle(ctx context.Context, o model.Offer, rep *SweepReport) bool {
	res, err := s.mgr.Expire(ctx, o.ID)
	if err != nil {
		rep.Failed++
		s.logger.Errorf("expire offer %s: %v", o.ID, err)
		return false
	}
	if !res.Expired {
		rep.Skipped++
		return res.Offer.Status != model.OfferOpen
	}
	rep.Expired++
	switch {
	case res.Next != nil:
		rep.Redispatched++
	case res.ManualRequired:
		rep.Manual++
	}
	return true
}
