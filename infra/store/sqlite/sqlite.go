// Package sqlite implements dispatch.Store on an embedded SQLite database.
// Transactions start with BEGIN IMMEDIATE so writers are serialised by the
// database lock; a writer that cannot get the lock within the busy timeout
// reports dispatch.ErrConflict.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

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
    scheduled_start INTEGER NOT NULL,
    estimated_duration INTEGER NOT NULL DEFAULT 0,
    assigned_at INTEGER,
    needs_manual INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS offers (
    id TEXT PRIMARY KEY,
    job_id TEXT NOT NULL,
    property_id TEXT NOT NULL DEFAULT '',
    required_role TEXT NOT NULL,
    eligible_staff TEXT NOT NULL,
    status TEXT NOT NULL,
    offered_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL,
    attempt INTEGER NOT NULL,
    tier TEXT NOT NULL DEFAULT '',
    accepted_by TEXT NOT NULL DEFAULT '',
    accepted_at INTEGER,
    cancel_reason TEXT NOT NULL DEFAULT '',
    cancelled_by TEXT NOT NULL DEFAULT '',
    closed_at INTEGER,
    created_by TEXT NOT NULL DEFAULT '',
    meta TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS offers_open_expiry ON offers(status, expires_at);
CREATE TABLE IF NOT EXISTS offer_staff (
    offer_id TEXT NOT NULL,
    staff_id TEXT NOT NULL,
    PRIMARY KEY (offer_id, staff_id)
);
CREATE INDEX IF NOT EXISTS offer_staff_staff ON offer_staff(staff_id);
`

const (
	jobColumns   = `id, property_id, required_role, status, assigned_staff_id, offer_id_active, scheduled_start, estimated_duration, assigned_at, needs_manual, created_at, updated_at`
	offerColumns = `id, job_id, property_id, required_role, eligible_staff, status, offered_at, expires_at, attempt, tier, accepted_by, accepted_at, cancel_reason, cancelled_by, closed_at, created_by, meta`
)

// Config defines the SQLite store settings.
type Config struct {
	Path          string `json:"path"`
	BusyTimeoutMS int    `json:"busy_timeout_ms"`
}

// Store is a dispatch.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

func dsn(cfg Config) string {
	timeout := cfg.BusyTimeoutMS
	if timeout <= 0 {
		timeout = 5000
	}
	q := url.Values{}
	q.Set("_txlock", "immediate")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", timeout))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	return "file:" + cfg.Path + "?" + q.Encode()
}

// Open opens or creates the database at cfg.Path and ensures the schema.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite store: path is required")
	}
	db, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, fmt.Errorf("sqlite store: schema: %w", err)
	}
	return &Store{db: db}, nil
}

// mapErr turns lock contention into dispatch.ErrConflict.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return errors.Mark(err, dispatch.ErrConflict)
		}
	}
	return err
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func fromNull(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (model.Job, error) {
	var (
		j                model.Job
		start, dur       int64
		created, updated int64
		assignedAt       sql.NullInt64
		needsManual      int
		status           string
	)
	err := s.Scan(&j.ID, &j.PropertyID, &j.RequiredRole, &status, &j.AssignedStaffID, &j.OfferIDActive,
		&start, &dur, &assignedAt, &needsManual, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, dispatch.ErrNotFound
	}
	if err != nil {
		return model.Job{}, mapErr(err)
	}
	j.Status = model.JobStatus(status)
	j.ScheduledStart = fromNanos(start)
	j.EstimatedDuration = time.Duration(dur)
	j.AssignedAt = fromNull(assignedAt)
	j.NeedsManualAssignment = needsManual != 0
	j.CreatedAt = fromNanos(created)
	j.UpdatedAt = fromNanos(updated)
	return j, nil
}

func scanOffer(s scanner) (model.Offer, error) {
	var (
		o                    model.Offer
		staff, meta, status  string
		offered, expires     int64
		acceptedAt, closedAt sql.NullInt64
	)
	err := s.Scan(&o.ID, &o.JobID, &o.PropertyID, &o.RequiredRole, &staff, &status, &offered, &expires,
		&o.Attempt, &o.Tier, &o.AcceptedBy, &acceptedAt, &o.CancelReason, &o.CancelledBy, &closedAt, &o.CreatedBy, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Offer{}, dispatch.ErrNotFound
	}
	if err != nil {
		return model.Offer{}, mapErr(err)
	}
	if err := json.Unmarshal([]byte(staff), &o.EligibleStaff); err != nil {
		return model.Offer{}, fmt.Errorf("offer %s: eligible staff: %w", o.ID, err)
	}
	if err := json.Unmarshal([]byte(meta), &o.Meta); err != nil {
		return model.Offer{}, fmt.Errorf("offer %s: meta: %w", o.ID, err)
	}
	o.Status = model.OfferStatus(status)
	o.OfferedAt = fromNanos(offered)
	o.ExpiresAt = fromNanos(expires)
	o.AcceptedAt = fromNull(acceptedAt)
	o.ClosedAt = fromNull(closedAt)
	return o, nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getJob(ctx context.Context, q querier, id string) (model.Job, error) {
	return scanJob(q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
}

func getOffer(ctx context.Context, q querier, id string) (model.Offer, error) {
	return scanOffer(q.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = ?`, id))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func insertJob(ctx context.Context, q querier, j model.Job) error {
	_, err := q.ExecContext(ctx, `INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.PropertyID, j.RequiredRole, string(j.Status), j.AssignedStaffID, j.OfferIDActive,
		toNanos(j.ScheduledStart), int64(j.EstimatedDuration), nullNanos(j.AssignedAt), boolInt(j.NeedsManualAssignment),
		toNanos(j.CreatedAt), toNanos(j.UpdatedAt))
	return mapErr(err)
}

type tx struct {
	tx *sql.Tx
}

func (t *tx) Job(ctx context.Context, id string) (model.Job, error) {
	return getJob(ctx, t.tx, id)
}

func (t *tx) Offer(ctx context.Context, id string) (model.Offer, error) {
	return getOffer(ctx, t.tx, id)
}

func (t *tx) InsertOffer(ctx context.Context, o model.Offer) error {
	staff, err := json.Marshal(o.EligibleStaff)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(o.Meta)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO offers (`+offerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.JobID, o.PropertyID, o.RequiredRole, string(staff), string(o.Status), toNanos(o.OfferedAt), toNanos(o.ExpiresAt),
		o.Attempt, o.Tier, o.AcceptedBy, nullNanos(o.AcceptedAt), o.CancelReason, o.CancelledBy, nullNanos(o.ClosedAt),
		o.CreatedBy, string(meta))
	if err != nil {
		return mapErr(err)
	}
	for _, id := range o.EligibleStaff.IDs() {
		if _, err := t.tx.ExecContext(ctx, `INSERT INTO offer_staff (offer_id, staff_id) VALUES (?, ?)`, o.ID, id); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (t *tx) UpdateOffer(ctx context.Context, o model.Offer) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE offers SET status = ?, accepted_by = ?, accepted_at = ?,
        cancel_reason = ?, cancelled_by = ?, closed_at = ? WHERE id = ?`,
		string(o.Status), o.AcceptedBy, nullNanos(o.AcceptedAt), o.CancelReason, o.CancelledBy, nullNanos(o.ClosedAt), o.ID)
	return affected(res, err)
}

func (t *tx) UpdateJob(ctx context.Context, j model.Job) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE jobs SET status = ?, assigned_staff_id = ?, offer_id_active = ?,
        assigned_at = ?, needs_manual = ?, updated_at = ? WHERE id = ?`,
		string(j.Status), j.AssignedStaffID, j.OfferIDActive, nullNanos(j.AssignedAt), boolInt(j.NeedsManualAssignment),
		toNanos(j.UpdatedAt), j.ID)
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

// RunInTx implements dispatch.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(dispatch.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
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
	return insertJob(ctx, s.db, j)
}

// GetJob implements dispatch.Store.
func (s *Store) GetJob(ctx context.Context, id string) (model.Job, error) {
	return getJob(ctx, s.db, id)
}

// GetOffer implements dispatch.Store.
func (s *Store) GetOffer(ctx context.Context, id string) (model.Offer, error) {
	return getOffer(ctx, s.db, id)
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
	cols := "o." + strings.ReplaceAll(offerColumns, ", ", ", o.")
	return s.queryOffers(ctx, `SELECT `+cols+` FROM offers o
        JOIN offer_staff st ON st.offer_id = o.id
        WHERE st.staff_id = ? AND o.status = ? AND o.expires_at >= ?
        ORDER BY o.expires_at, o.id`,
		staffID, string(model.OfferOpen), toNanos(now))
}

// ExpiredOffers implements dispatch.Store.
func (s *Store) ExpiredOffers(ctx context.Context, now time.Time, limit int) ([]model.Offer, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryOffers(ctx, `SELECT `+offerColumns+` FROM offers
        WHERE status = ? AND expires_at <= ? ORDER BY expires_at, id LIMIT ?`,
		string(model.OfferOpen), toNanos(now), limit)
}

// ListJobs implements dispatch.Store.
func (s *Store) ListJobs(ctx context.Context, f dispatch.JobFilter) ([]model.Job, error) {
	var args []any
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.ManualOnly {
		query += ` AND needs_manual = 1`
	}
	query += ` ORDER BY scheduled_start, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
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

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
