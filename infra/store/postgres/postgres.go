// Package postgres implements dispatch.Store on PostgreSQL with serializable
// transactions and row locks, so several dispatch instances can share it.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/kilianp07/villadispatch/core/dispatch"
	"github.com/kilianp07/villadispatch/core/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    property_id TEXT NOT NULL DEFAULT '',
    required_role TEXT NOT NULL,
    status TEXT NOT NULL,
    assigned_staff_id TEXT NOT NULL DEFAULT '',
    offer_id_active TEXT NOT NULL DEFAULT '',
    scheduled_start TIMESTAMPTZ NOT NULL,
    estimated_duration BIGINT NOT NULL DEFAULT 0,
    assigned_at TIMESTAMPTZ,
    needs_manual BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS offers (
    id TEXT PRIMARY KEY,
    job_id TEXT NOT NULL REFERENCES jobs(id),
    property_id TEXT NOT NULL DEFAULT '',
    required_role TEXT NOT NULL,
    eligible_staff TEXT[] NOT NULL,
    status TEXT NOT NULL,
    offered_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    attempt INTEGER NOT NULL,
    tier TEXT NOT NULL DEFAULT '',
    accepted_by TEXT NOT NULL DEFAULT '',
    accepted_at TIMESTAMPTZ,
    cancel_reason TEXT NOT NULL DEFAULT '',
    cancelled_by TEXT NOT NULL DEFAULT '',
    closed_at TIMESTAMPTZ,
    created_by TEXT NOT NULL DEFAULT '',
    priority TEXT NOT NULL DEFAULT '',
    payout NUMERIC NOT NULL DEFAULT 0,
    currency TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS offers_open_expiry ON offers(status, expires_at);
CREATE INDEX IF NOT EXISTS offers_eligible_staff ON offers USING GIN (eligible_staff);
`

const (
	jobColumns   = `id, property_id, required_role, status, assigned_staff_id, offer_id_active, scheduled_start, estimated_duration, assigned_at, needs_manual, created_at, updated_at`
	offerColumns = `id, job_id, property_id, required_role, eligible_staff, status, offered_at, expires_at, attempt, tier, accepted_by, accepted_at, cancel_reason, cancelled_by, closed_at, created_by, priority, payout, currency, notes`
)

// Config defines the PostgreSQL store settings.
type Config struct {
	DSN          string `json:"dsn"`
	MaxOpenConns int    `json:"max_open_conns"`
}

// Store is a dispatch.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to cfg.DSN and ensures the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres store: dsn is required")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres store: schema: %w", err)
	}
	return &Store{db: db}, nil
}

// mapErr turns serialization failures, deadlocks and lock timeouts into
// dispatch.ErrConflict.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var perr *pq.Error
	if errors.As(err, &perr) {
		switch perr.Code {
		case "40001", "40P01", "55P03":
			return errors.Mark(err, dispatch.ErrConflict)
		}
	}
	return err
}

func utcPtr(t pq.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullTime(t *time.Time) pq.NullTime {
	if t == nil {
		return pq.NullTime{}
	}
	return pq.NullTime{Time: t.UTC(), Valid: true}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (model.Job, error) {
	var (
		j                       model.Job
		status                  string
		dur                     int64
		start, created, updated time.Time
		assignedAt              pq.NullTime
	)
	err := s.Scan(&j.ID, &j.PropertyID, &j.RequiredRole, &status, &j.AssignedStaffID, &j.OfferIDActive,
		&start, &dur, &assignedAt, &j.NeedsManualAssignment, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, dispatch.ErrNotFound
	}
	if err != nil {
		return model.Job{}, mapErr(err)
	}
	j.Status = model.JobStatus(status)
	j.ScheduledStart = start.UTC()
	j.EstimatedDuration = time.Duration(dur)
	j.AssignedAt = utcPtr(assignedAt)
	j.CreatedAt = created.UTC()
	j.UpdatedAt = updated.UTC()
	return j, nil
}

func scanOffer(s scanner) (model.Offer, error) {
	var (
		o                    model.Offer
		staff                []string
		status, priority     string
		offered, expires     time.Time
		acceptedAt, closedAt pq.NullTime
		payout               decimal.Decimal
	)
	err := s.Scan(&o.ID, &o.JobID, &o.PropertyID, &o.RequiredRole, pq.Array(&staff), &status, &offered, &expires,
		&o.Attempt, &o.Tier, &o.AcceptedBy, &acceptedAt, &o.CancelReason, &o.CancelledBy, &closedAt, &o.CreatedBy,
		&priority, &payout, &o.Meta.Currency, &o.Meta.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Offer{}, dispatch.ErrNotFound
	}
	if err != nil {
		return model.Offer{}, mapErr(err)
	}
	o.EligibleStaff = model.NewStaffSet(staff...)
	o.Status = model.OfferStatus(status)
	o.OfferedAt = offered.UTC()
	o.ExpiresAt = expires.UTC()
	o.AcceptedAt = utcPtr(acceptedAt)
	o.ClosedAt = utcPtr(closedAt)
	o.Meta.Priority = model.Priority(priority)
	o.Meta.Payout = payout
	return o, nil
}

type tx struct {
	tx *sql.Tx
}

// Job locks the job row until the transaction ends.
func (t *tx) Job(ctx context.Context, id string) (model.Job, error) {
	return scanJob(t.tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
}

// Offer locks the offer row until the transaction ends.
func (t *tx) Offer(ctx context.Context, id string) (model.Offer, error) {
	return scanOffer(t.tx.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1 FOR UPDATE`, id))
}

func (t *tx) InsertOffer(ctx context.Context, o model.Offer) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO offers (`+offerColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		o.ID, o.JobID, o.PropertyID, o.RequiredRole, pq.Array(o.EligibleStaff.IDs()), string(o.Status),
		o.OfferedAt.UTC(), o.ExpiresAt.UTC(), o.Attempt, o.Tier, o.AcceptedBy, nullTime(o.AcceptedAt),
		o.CancelReason, o.CancelledBy, nullTime(o.ClosedAt), o.CreatedBy,
		string(o.Meta.Priority), o.Meta.Payout, o.Meta.Currency, o.Meta.Notes)
	return mapErr(err)
}

func (t *tx) UpdateOffer(ctx context.Context, o model.Offer) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE offers SET status = $1, accepted_by = $2, accepted_at = $3,
        cancel_reason = $4, cancelled_by = $5, closed_at = $6 WHERE id = $7`,
		string(o.Status), o.AcceptedBy, nullTime(o.AcceptedAt), o.CancelReason, o.CancelledBy, nullTime(o.ClosedAt), o.ID)
	return affected(res, err)
}

func (t *tx) UpdateJob(ctx context.Context, j model.Job) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE jobs SET status = $1, assigned_staff_id = $2, offer_id_active = $3,
        assigned_at = $4, needs_manual = $5, updated_at = $6 WHERE id = $7`,
		string(j.Status), j.AssignedStaffID, j.OfferIDActive, nullTime(j.AssignedAt), j.NeedsManualAssignment,
		j.UpdatedAt.UTC(), j.ID)
	return affected(res, err)
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return dispatch.ErrNotFound
	}
	return nil
}

// RunInTx implements dispatch.Store with a serializable transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(dispatch.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapErr(err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()
	if err = fn(&tx{tx: sqlTx}); err != nil {
		return err
	}
	return mapErr(sqlTx.Commit())
}

// CreateJob implements dispatch.Store.
func (s *Store) CreateJob(ctx context.Context, j model.Job) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO jobs (`+jobColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		j.ID, j.PropertyID, j.RequiredRole, string(j.Status), j.AssignedStaffID, j.OfferIDActive,
		j.ScheduledStart.UTC(), int64(j.EstimatedDuration), nullTime(j.AssignedAt), j.NeedsManualAssignment,
		j.CreatedAt.UTC(), j.UpdatedAt.UTC())
	return mapErr(err)
}

// GetJob implements dispatch.Store.
func (s *Store) GetJob(ctx context.Context, id string) (model.Job, error) {
	return scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
}

// GetOffer implements dispatch.Store.
func (s *Store) GetOffer(ctx context.Context, id string) (model.Offer, error) {
	return scanOffer(s.db.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id))
}

func (s *Store) queryOffers(ctx context.Context, query string, args ...any) ([]model.Offer, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer func() { _ = rows.Close() }()
	var res []model.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// OpenOffersForStaff implements dispatch.Store.
func (s *Store) OpenOffersForStaff(ctx context.Context, staffID string, now time.Time) ([]model.Offer, error) {
	return s.queryOffers(ctx, `SELECT `+offerColumns+` FROM offers
        WHERE status = $1 AND expires_at >= $2 AND eligible_staff @> ARRAY[$3]::TEXT[]
        ORDER BY expires_at, id`,
		string(model.OfferOpen), now.UTC(), staffID)
}

// ExpiredOffers implements dispatch.Store.
func (s *Store) ExpiredOffers(ctx context.Context, now time.Time, limit int) ([]model.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE status = $1 AND expires_at <= $2 ORDER BY expires_at, id`
	args := []any{string(model.OfferOpen), now.UTC()}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	return s.queryOffers(ctx, query, args...)
}

// ListJobs implements dispatch.Store.
func (s *Store) ListJobs(ctx context.Context, f dispatch.JobFilter) ([]model.Job, error) {
	var args []any
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE TRUE`
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if f.ManualOnly {
		query += ` AND needs_manual`
	}
	query += ` ORDER BY scheduled_start, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer func() { _ = rows.Close() }()
	var res []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }
