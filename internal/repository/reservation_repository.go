package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/branch-reservation/internal/model"
)

// MySQL error numbers that mean "abort and retry the transaction".
const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
	mysqlErrDupEntry        = 1062
)

// MySQLStore persists reservations in the reservations table (see
// internal/database/migrations).  RunInTx uses SERIALIZABLE isolation:
// InnoDB turns the day read into a shared next-key lock on the
// (branch_id, scheduled_at) index, so two creates racing on one branch day
// cannot both insert; the loser is aborted as a deadlock victim and
// reported as ErrTxConflict.  All timestamps are stored in UTC.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore returns a store bound to the given database.  The DSN must
// use parseTime=true&loc=UTC (see database.Open).
func NewMySQLStore(db *sql.DB) *MySQLStore { return &MySQLStore{db: db} }

// DB exposes the underlying handle for health checks.
func (s *MySQLStore) DB() *sql.DB { return s.db }

func (s *MySQLStore) Close() error { return s.db.Close() }

const reservationColumns = `id, user_id, company_id, branch_id, scheduled_at, reception_number,
	status, notes, confirmed_at, created_at, updated_at, schema_version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*model.Reservation, error) {
	var (
		r           model.Reservation
		status      string
		confirmedAt sql.NullTime
	)
	err := row.Scan(&r.ID, &r.UserID, &r.CompanyID, &r.BranchID, &r.ScheduledAt, &r.ReceptionNumber,
		&status, &r.Notes, &confirmedAt, &r.CreatedAt, &r.UpdatedAt, &r.SchemaVersion)
	if err != nil {
		return nil, err
	}
	r.Status = model.ReservationStatus(status)
	r.ScheduledAt = r.ScheduledAt.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	if confirmedAt.Valid {
		t := confirmedAt.Time.UTC()
		r.ConfirmedAt = &t
	}
	return &r, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// translateError maps driver errors onto the package sentinels.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
			return ErrTxConflict
		case mysqlErrDupEntry:
			return ErrDuplicateID
		}
	}
	return err
}

func (s *MySQLStore) Get(ctx context.Context, id string) (*model.Reservation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	r, err := scanReservation(row)
	if err != nil {
		return nil, translateError(err)
	}
	return r, nil
}

func (s *MySQLStore) List(ctx context.Context, q Query) ([]*model.Reservation, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		where = append(where, cond)
		args = append(args, arg)
	}
	if q.UserID != "" {
		add("user_id = ?", q.UserID)
	}
	if q.CompanyID != "" {
		add("company_id = ?", q.CompanyID)
	}
	if q.BranchID != "" {
		add("branch_id = ?", q.BranchID)
	}
	if !q.From.IsZero() {
		add("scheduled_at >= ?", q.From.UTC())
	}
	if !q.To.IsZero() {
		add("scheduled_at < ?", q.To.UTC())
	}
	if q.Status != "" {
		add("status = ?", string(q.Status))
	}
	if q.ExcludeCancelled {
		add("status <> ?", string(model.StatusCancelled))
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY scheduled_at DESC, reception_number DESC, id ASC`
	switch {
	case q.Limit > 0:
		query += ` LIMIT ? OFFSET ?`
		args = append(args, q.Limit, q.Skip)
	case q.Skip > 0:
		// MySQL has no OFFSET without LIMIT.
		query += ` LIMIT 18446744073709551615 OFFSET ?`
		args = append(args, q.Skip)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*model.Reservation, 0)
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *MySQLStore) Update(ctx context.Context, id string, fn func(*model.Reservation) error) (*model.Reservation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	cur, err := scanReservation(tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ? FOR UPDATE`, id))
	if err != nil {
		return nil, translateError(err)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	const q = `UPDATE reservations SET status = ?, notes = ?, confirmed_at = ?, updated_at = ?, schema_version = ?
	           WHERE id = ?`
	if _, err := tx.ExecContext(ctx, q, string(next.Status), next.Notes, nullTime(next.ConfirmedAt),
		next.UpdatedAt.UTC(), model.CurrentSchemaVersion, cur.ID); err != nil {
		return nil, translateError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, translateError(err)
	}
	committed = true
	next.ID, next.BranchID, next.ScheduledAt = cur.ID, cur.BranchID, cur.ScheduledAt
	next.SchemaVersion = model.CurrentSchemaVersion
	return next, nil
}

func (s *MySQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id)
	if err != nil {
		return translateError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MySQLStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return translateError(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(ctx, &mysqlTx{tx: tx}); err != nil {
		return translateError(err)
	}
	if err := tx.Commit(); err != nil {
		return translateError(err)
	}
	committed = true
	return nil
}

type mysqlTx struct {
	tx *sql.Tx
}

// ListDay takes next-key locks on the (branch_id, scheduled_at) index range,
// so a second booking on the same branch day waits instead of deadlocking.
func (t *mysqlTx) ListDay(ctx context.Context, branchID string, from, to time.Time) ([]*model.Reservation, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+reservationColumns+` FROM reservations
		WHERE branch_id = ? AND scheduled_at >= ? AND scheduled_at < ? FOR UPDATE`, branchID, from.UTC(), to.UTC())
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()
	var out []*model.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, translateError(rows.Err())
}

func (t *mysqlTx) Insert(ctx context.Context, r *model.Reservation) error {
	q := `INSERT INTO reservations (` + reservationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := t.tx.ExecContext(ctx, q, r.ID, r.UserID, r.CompanyID, r.BranchID, r.ScheduledAt.UTC(),
		r.ReceptionNumber, string(r.Status), r.Notes, nullTime(r.ConfirmedAt),
		r.CreatedAt.UTC(), r.UpdatedAt.UTC(), model.CurrentSchemaVersion)
	return translateError(err)
}
