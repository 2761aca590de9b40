package dispatch

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/kilianp07/villadispatch/core/audit"
	"github.com/kilianp07/villadispatch/core/directory"
	"github.com/kilianp07/villadispatch/core/events"
	"github.com/kilianp07/villadispatch/core/logger"
	"github.com/kilianp07/villadispatch/core/metrics"
	"github.com/kilianp07/villadispatch/core/model"
	"github.com/kilianp07/villadispatch/core/monitoring"
	"github.com/kilianp07/villadispatch/core/notify"
	"github.com/kilianp07/villadispatch/internal/eventbus"
)

// OfferRequest describes an offer to open for a job.
type OfferRequest struct {
	JobID          string
	PropertyID     string
	RequiredRole   string
	ScheduledStart time.Time
	// Attempt is 1-based; zero means 1.
	Attempt   int
	CreatedBy string
	Meta      model.OfferMeta
}

// Manager owns the offer lifecycle. All state lives in the Store; Manager
// holds no lock around job or offer records.
type Manager struct {
	store  Store
	elig   *Eligibility
	ladder Ladder
	cfg    Config
	logger logger.Logger

	mu       sync.RWMutex
	notifier notify.Notifier
	audit    audit.Log
	sink     metrics.MetricsSink
	bus      *eventbus.Bus[events.OfferEvent]
	monitor  monitoring.Monitor

	now   func() time.Time
	newID func() string

	inflight sync.WaitGroup
}

// NewManager builds a manager over store and dir. cfg is defaulted and
// validated here.
func NewManager(store Store, dir directory.Directory, cfg Config, log logger.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("dispatch: store is required")
	}
	if dir == nil {
		return nil, errors.New("dispatch: directory is required")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ladder, err := cfg.BuildLadder()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Manager{
		store:    store,
		elig:     NewEligibility(dir, ladder),
		ladder:   ladder,
		cfg:      cfg,
		logger:   log,
		notifier: notify.NopNotifier{},
		audit:    audit.NewRecorder(nil),
		sink:     metrics.NopSink{},
		monitor:  monitoring.NopMonitor{},
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

// SetNotifier configures the transport used to tell staff about new offers.
func (m *Manager) SetNotifier(n notify.Notifier) {
	if n == nil {
		n = notify.NopNotifier{}
	}
	m.mu.Lock()
	m.notifier = n
	m.mu.Unlock()
}

// SetAuditLog configures the audit log.
func (m *Manager) SetAuditLog(l audit.Log) {
	if l == nil {
		l = audit.NewRecorder(nil)
	}
	m.mu.Lock()
	m.audit = l
	m.mu.Unlock()
}

// SetMetricsSink configures the sink receiving offer outcomes.
func (m *Manager) SetMetricsSink(s metrics.MetricsSink) {
	if s == nil {
		s = metrics.NopSink{}
	}
	m.mu.Lock()
	m.sink = s
	m.mu.Unlock()
}

// SetEventBus configures the bus receiving committed transitions.
func (m *Manager) SetEventBus(b *eventbus.Bus[events.OfferEvent]) {
	m.mu.Lock()
	m.bus = b
	m.mu.Unlock()
}

// SetMonitor configures error reporting for post-commit work.
func (m *Manager) SetMonitor(mon monitoring.Monitor) {
	if mon == nil {
		mon = monitoring.NopMonitor{}
	}
	m.mu.Lock()
	m.monitor = mon
	m.mu.Unlock()
}

// SetClock replaces the time source. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Config returns the effective settings.
func (m *Manager) Config() Config { return m.cfg }

// Ladder returns the effective escalation ladder.
func (m *Manager) Ladder() Ladder { return m.ladder }

// runTx runs fn in a store transaction, retrying conflicts up to
// cfg.TxRetries times. A conflict that outlives the retries is reported as
// ErrOfferNotOpen: for the caller the offer state could not be secured.
func (m *Manager) runTx(ctx context.Context, op string, fn func(Tx) error) error {
	var err error
	for attempt := 0; attempt <= m.cfg.TxRetries; attempt++ {
		err = m.store.RunInTx(ctx, fn)
		if !errors.Is(err, ErrConflict) {
			return err
		}
		txConflicts.WithLabelValues(op).Inc()
		m.logger.Debugf("%s: transaction conflict, attempt %d/%d: %v", op, attempt+1, m.cfg.TxRetries+1, err)
		if attempt == m.cfg.TxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 5 * time.Millisecond):
		}
	}
	return errors.WithSecondaryError(
		reject(ErrOfferNotOpen, "%s: gave up after %d conflicting transactions", op, m.cfg.TxRetries+1),
		err,
	)
}

func jobLookupErr(err error, jobID string) error {
	if errors.Is(err, ErrNotFound) {
		return reject(ErrJobNotFound, "job %s", jobID)
	}
	return err
}

func offerLookupErr(err error, offerID string) error {
	if errors.Is(err, ErrNotFound) {
		return reject(ErrOfferNotFound, "offer %s", offerID)
	}
	return err
}

// CreateOffer opens an offer for a dispatchable job. The eligible set is
// computed once and stored with the offer; later directory changes do not
// affect it.
func (m *Manager) CreateOffer(ctx context.Context, req OfferRequest) (model.Offer, error) {
	if req.Attempt < 1 {
		req.Attempt = 1
	}
	now := m.now()
	if req.ScheduledStart.After(now.Add(m.cfg.DispatchWindow())) {
		return model.Offer{}, reject(ErrDispatchWindowExceeded, "job %s starts %s, window ends %s",
			req.JobID, req.ScheduledStart.Format(time.RFC3339), now.Add(m.cfg.DispatchWindow()).Format(time.RFC3339))
	}
	staff, tier, err := m.elig.Snapshot(ctx, req.RequiredRole, req.ScheduledStart, req.Attempt)
	if err != nil {
		return model.Offer{}, err
	}
	if staff.Len() == 0 {
		return model.Offer{}, reject(ErrNoEligibleStaff, "job %s role %s attempt %d tier %s", req.JobID, req.RequiredRole, req.Attempt, tier)
	}
	rung := m.ladder.Rung(req.Attempt)
	offer := model.Offer{
		ID:            m.newID(),
		JobID:         req.JobID,
		PropertyID:    req.PropertyID,
		RequiredRole:  req.RequiredRole,
		EligibleStaff: staff,
		Status:        model.OfferOpen,
		OfferedAt:     now,
		ExpiresAt:     now.Add(rung.Expiry),
		Attempt:       req.Attempt,
		Tier:          string(tier),
		CreatedBy:     req.CreatedBy,
		Meta:          req.Meta,
	}

	err = m.runTx(ctx, "create_offer", func(tx Tx) error {
		job, err := tx.Job(ctx, req.JobID)
		if err != nil {
			return jobLookupErr(err, req.JobID)
		}
		switch {
		case job.Status.Locked():
			return reject(ErrJobAlreadyAssigned, "job %s is %s", job.ID, job.Status)
		case job.Status == model.JobCancelled:
			return reject(ErrJobClosed, "job %s", job.ID)
		case !job.Dispatchable():
			return reject(ErrOfferAlreadyActive, "job %s has open offer %s", job.ID, job.OfferIDActive)
		}
		if offer.PropertyID == "" {
			offer.PropertyID = job.PropertyID
		}
		if err := tx.InsertOffer(ctx, offer); err != nil {
			return err
		}
		job.Status = model.JobOffered
		job.OfferIDActive = offer.ID
		job.NeedsManualAssignment = false
		job.UpdatedAt = now
		return tx.UpdateJob(ctx, job)
	})
	if err != nil {
		return model.Offer{}, err
	}

	offersCreated.WithLabelValues(strconv.Itoa(offer.Attempt)).Inc()
	m.logger.Infof("offer %s opened for job %s: attempt %d, tier %s, %d eligible, expires %s",
		offer.ID, offer.JobID, offer.Attempt, offer.Tier, staff.Len(), offer.ExpiresAt.Format(time.RFC3339))
	m.afterCommit(events.OfferEvent{Type: events.OfferCreated, Offer: offer, JobID: offer.JobID, Actor: req.CreatedBy, Time: now})
	return offer, nil
}

// DispatchJob opens a first-attempt offer for a stored job. It is the way
// back into the ladder after a cancellation.
func (m *Manager) DispatchJob(ctx context.Context, jobID, actor string, meta model.OfferMeta) (model.Offer, error) {
	job, err := m.Job(ctx, jobID)
	if err != nil {
		return model.Offer{}, err
	}
	return m.CreateOffer(ctx, OfferRequest{
		JobID:          job.ID,
		PropertyID:     job.PropertyID,
		RequiredRole:   job.RequiredRole,
		ScheduledStart: job.ScheduledStart,
		Attempt:        1,
		CreatedBy:      actor,
		Meta:           meta,
	})
}

// CancelOffer closes an open offer and returns its job to pending. No new
// offer is opened.
func (m *Manager) CancelOffer(ctx context.Context, offerID, reason, actor string) (model.Offer, error) {
	var cancelled model.Offer
	var now time.Time
	err := m.runTx(ctx, "cancel_offer", func(tx Tx) error {
		now = m.now()
		offer, err := tx.Offer(ctx, offerID)
		if err != nil {
			return offerLookupErr(err, offerID)
		}
		if offer.Status != model.OfferOpen {
			return reject(ErrOfferNotOpen, "offer %s is %s", offer.ID, offer.Status)
		}
		offer.Status = model.OfferCancelled
		offer.CancelReason = reason
		offer.CancelledBy = actor
		offer.ClosedAt = &now
		if err := tx.UpdateOffer(ctx, offer); err != nil {
			return err
		}
		if err := m.releaseJob(ctx, tx, offer, now); err != nil {
			return err
		}
		cancelled = offer
		return nil
	})
	if err != nil {
		return model.Offer{}, err
	}
	offersResolved.WithLabelValues(string(model.OfferCancelled)).Inc()
	m.logger.Infof("offer %s cancelled by %s: %s", cancelled.ID, actor, reason)
	m.afterCommit(events.OfferEvent{Type: events.OfferCancelled, Offer: cancelled, JobID: cancelled.JobID, Actor: actor, Reason: reason, Time: now})
	return cancelled, nil
}

// releaseJob puts the job referencing offer back to pending. A job that no
// longer points at the offer is left untouched.
func (m *Manager) releaseJob(ctx context.Context, tx Tx, offer model.Offer, now time.Time) error {
	job, err := tx.Job(ctx, offer.JobID)
	if errors.Is(err, ErrNotFound) {
		m.logger.Warnf("offer %s references missing job %s", offer.ID, offer.JobID)
		return nil
	}
	if err != nil {
		return err
	}
	if job.OfferIDActive != offer.ID {
		return nil
	}
	job.OfferIDActive = ""
	if job.Status == model.JobOffered {
		job.Status = model.JobPending
	}
	job.UpdatedAt = now
	return tx.UpdateJob(ctx, job)
}

// ExpireResult describes the outcome of Expire.
type ExpireResult struct {
	Offer model.Offer
	// Expired is false when the offer was no longer open or not yet due.
	Expired bool
	// Next is the offer opened for the following attempt, if any.
	Next *model.Offer
	// ManualRequired is set when no further attempt could be opened.
	ManualRequired bool
}

// Expire closes an open offer whose window has elapsed and, in the same
// transaction, opens the next attempt for its job. Attempts whose tier has
// no eligible staff are skipped. When no attempt is left the job returns to
// pending flagged for manual assignment. On error nothing is committed and
// the offer stays in the expired listing.
func (m *Manager) Expire(ctx context.Context, offerID string) (ExpireResult, error) {
	current, err := m.store.GetOffer(ctx, offerID)
	if err != nil {
		return ExpireResult{}, offerLookupErr(err, offerID)
	}
	if current.Status != model.OfferOpen || !current.ExpiredAt(m.now()) {
		return ExpireResult{Offer: current}, nil
	}
	next, err := m.nextAttempt(ctx, current)
	if err != nil {
		return ExpireResult{}, errors.Wrapf(err, "escalate job %s after offer %s", current.JobID, current.ID)
	}

	var res ExpireResult
	var now time.Time
	err = m.runTx(ctx, "expire_offer", func(tx Tx) error {
		res = ExpireResult{}
		now = m.now()
		offer, err := tx.Offer(ctx, offerID)
		if err != nil {
			return offerLookupErr(err, offerID)
		}
		res.Offer = offer
		if offer.Status != model.OfferOpen || !offer.ExpiredAt(now) {
			return nil
		}
		offer.Status = model.OfferExpired
		offer.ClosedAt = &now
		if err := tx.UpdateOffer(ctx, offer); err != nil {
			return err
		}
		res = ExpireResult{Offer: offer, Expired: true}

		job, err := tx.Job(ctx, offer.JobID)
		if errors.Is(err, ErrNotFound) {
			m.logger.Warnf("offer %s references missing job %s", offer.ID, offer.JobID)
			return nil
		}
		if err != nil {
			return err
		}
		if job.OfferIDActive != offer.ID {
			return nil
		}
		if next != nil {
			n := *next
			n.OfferedAt = now
			n.ExpiresAt = now.Add(m.ladder.Rung(n.Attempt).Expiry)
			if err := tx.InsertOffer(ctx, n); err != nil {
				return err
			}
			job.Status = model.JobOffered
			job.OfferIDActive = n.ID
			job.NeedsManualAssignment = false
			res.Next = &n
		} else {
			job.OfferIDActive = ""
			if job.Status == model.JobOffered {
				job.Status = model.JobPending
			}
			job.NeedsManualAssignment = true
			res.ManualRequired = true
		}
		job.UpdatedAt = now
		return tx.UpdateJob(ctx, job)
	})
	if err != nil {
		return ExpireResult{}, err
	}
	if !res.Expired {
		return res, nil
	}
	offersResolved.WithLabelValues(string(model.OfferExpired)).Inc()
	m.logger.Infof("offer %s for job %s expired after attempt %d", res.Offer.ID, res.Offer.JobID, res.Offer.Attempt)
	m.afterCommit(events.OfferEvent{Type: events.OfferExpired, Offer: res.Offer, JobID: res.Offer.JobID, Time: now})
	if n := res.Next; n != nil {
		offersCreated.WithLabelValues(strconv.Itoa(n.Attempt)).Inc()
		m.logger.Infof("offer %s opened for job %s: attempt %d, tier %s, %d eligible, expires %s",
			n.ID, n.JobID, n.Attempt, n.Tier, n.EligibleStaff.Len(), n.ExpiresAt.Format(time.RFC3339))
		m.afterCommit(events.OfferEvent{Type: events.OfferCreated, Offer: *n, JobID: n.JobID, Actor: n.CreatedBy, Time: now})
	}
	if res.ManualRequired {
		m.announceManual(res.Offer, now)
	}
	return res, nil
}

// nextAttempt builds the offer following expired, or returns nil when every
// remaining attempt up to the maximum has no eligible staff. Timestamps are
// set when the offer is inserted.
func (m *Manager) nextAttempt(ctx context.Context, expired model.Offer) (*model.Offer, error) {
	job, err := m.store.GetJob(ctx, expired.JobID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if job.OfferIDActive != expired.ID {
		return nil, nil
	}
	for attempt := expired.Attempt + 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		staff, tier, err := m.elig.Snapshot(ctx, job.RequiredRole, job.ScheduledStart, attempt)
		if err != nil {
			return nil, err
		}
		if staff.Len() == 0 {
			m.logger.Debugf("job %s: no eligible staff at attempt %d, escalating", job.ID, attempt)
			continue
		}
		return &model.Offer{
			ID:            m.newID(),
			JobID:         job.ID,
			PropertyID:    job.PropertyID,
			RequiredRole:  job.RequiredRole,
			EligibleStaff: staff,
			Status:        model.OfferOpen,
			Attempt:       attempt,
			Tier:          string(tier),
			CreatedBy:     "sweeper",
			Meta:          expired.Meta,
		}, nil
	}
	return nil, nil
}

func (m *Manager) announceManual(last model.Offer, now time.Time) {
	manualFlags.Inc()
	m.logger.Warnf("job %s needs manual assignment after attempt %d", last.JobID, last.Attempt)
	m.afterCommit(events.OfferEvent{Type: events.ManualAssignmentRequired, Offer: last, JobID: last.JobID, Time: now})
}

// AssignManually assigns a pending job to staffID outside the offer flow.
// The staff member must hold the job's role and be active.
func (m *Manager) AssignManually(ctx context.Context, jobID, staffID, actor string) (model.Assignment, error) {
	job, err := m.Job(ctx, jobID)
	if err != nil {
		return model.Assignment{}, err
	}
	ok, err := m.elig.Admits(ctx, job.RequiredRole, staffID)
	if err != nil {
		return model.Assignment{}, err
	}
	if !ok {
		return model.Assignment{}, reject(ErrStaffNotEligible, "staff %s for job %s role %s", staffID, jobID, job.RequiredRole)
	}

	var asn model.Assignment
	var assigned model.Job
	err = m.runTx(ctx, "assign_manually", func(tx Tx) error {
		now := m.now()
		job, err := tx.Job(ctx, jobID)
		if err != nil {
			return jobLookupErr(err, jobID)
		}
		switch {
		case job.Status.Locked() || job.AssignedStaffID != "":
			return reject(ErrJobAlreadyAssigned, "job %s is %s", job.ID, job.Status)
		case job.Status == model.JobCancelled:
			return reject(ErrJobClosed, "job %s", job.ID)
		case job.OfferIDActive != "":
			return reject(ErrOfferAlreadyActive, "job %s has open offer %s", job.ID, job.OfferIDActive)
		}
		job.Status = model.JobAssigned
		job.AssignedStaffID = staffID
		job.AssignedAt = &now
		job.NeedsManualAssignment = false
		job.UpdatedAt = now
		if err := tx.UpdateJob(ctx, job); err != nil {
			return err
		}
		assigned = job
		asn = model.Assignment{JobID: job.ID, StaffID: staffID, AssignedAt: now}
		return nil
	})
	if err != nil {
		return model.Assignment{}, err
	}
	m.logger.Infof("job %s assigned manually to %s by %s", jobID, staffID, actor)
	m.afterCommitJob(events.OfferEvent{Type: events.JobAssignedManually, JobID: jobID, StaffID: staffID, Actor: actor, Time: asn.AssignedAt}, assigned)
	return asn, nil
}

// OffersForStaff lists the open, unexpired offers whose snapshot contains
// staffID.
func (m *Manager) OffersForStaff(ctx context.Context, staffID string) ([]model.Offer, error) {
	return m.store.OpenOffersForStaff(ctx, staffID, m.now())
}

// ExpiredOffers returns at most limit open offers whose window has elapsed.
func (m *Manager) ExpiredOffers(ctx context.Context, limit int) ([]model.Offer, error) {
	if limit <= 0 {
		limit = m.cfg.SweepPageSize
	}
	return m.store.ExpiredOffers(ctx, m.now(), limit)
}

// CreateJob stores a new pending job.
func (m *Manager) CreateJob(ctx context.Context, j model.Job) (model.Job, error) {
	now := m.now()
	if j.ID == "" {
		j.ID = m.newID()
	}
	if j.Status == "" {
		j.Status = model.JobPending
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	if err := j.Validate(); err != nil {
		return model.Job{}, err
	}
	if err := m.store.CreateJob(ctx, j); err != nil {
		return model.Job{}, err
	}
	return j, nil
}

// Job returns a stored job.
func (m *Manager) Job(ctx context.Context, id string) (model.Job, error) {
	j, err := m.store.GetJob(ctx, id)
	if err != nil {
		return model.Job{}, jobLookupErr(err, id)
	}
	return j, nil
}

// Jobs lists stored jobs.
func (m *Manager) Jobs(ctx context.Context, f JobFilter) ([]model.Job, error) {
	return m.store.ListJobs(ctx, f)
}

// Offer returns a stored offer.
func (m *Manager) Offer(ctx context.Context, id string) (model.Offer, error) {
	o, err := m.store.GetOffer(ctx, id)
	if err != nil {
		return model.Offer{}, offerLookupErr(err, id)
	}
	return o, nil
}

// Close waits for in-flight post-commit work. It does not close the store.
func (m *Manager) Close() error {
	m.inflight.Wait()
	return nil
}
