package repository

import (
	"context"
	"sort"
	"time"

	"github.com/iliyamo/branch-reservation/internal/model"
)

// Store is the persistence boundary of the reservation service.  All
// returned reservations are copies owned by the caller.
type Store interface {
	// Get returns the reservation with the given ID or ErrNotFound.
	Get(ctx context.Context, id string) (*model.Reservation, error)

	// List returns reservations matching q ordered by ScheduledAt
	// descending, with Skip/Limit applied after ordering.
	List(ctx context.Context, q Query) ([]*model.Reservation, error)

	// Update applies fn to the stored reservation as one atomic
	// read-modify-write and returns the stored result.  If fn returns an
	// error nothing is written and the error is returned unchanged.
	Update(ctx context.Context, id string, fn func(*model.Reservation) error) (*model.Reservation, error)

	// Delete removes the reservation or returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// RunInTx runs fn in a transaction.  Reads made through tx join the
	// transaction's read-set; the commit fails with ErrTxConflict if any
	// of them was invalidated by a concurrent commit.  An error from fn
	// aborts the transaction and is returned unchanged.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Close() error
}

// Tx is the view of the store inside RunInTx.
type Tx interface {
	// ListDay returns every reservation of the branch (cancelled ones
	// included) whose ScheduledAt falls in [from, to).
	ListDay(ctx context.Context, branchID string, from, to time.Time) ([]*model.Reservation, error)

	// Insert buffers a new reservation; it becomes visible on commit.
	Insert(ctx context.Context, r *model.Reservation) error
}

// Query filters a List call.  Zero values mean "any".
type Query struct {
	UserID    string
	CompanyID string
	BranchID  string

	// ScheduledAt in [From, To) when set.
	From time.Time
	To   time.Time

	Status           model.ReservationStatus
	ExcludeCancelled bool

	Skip  int
	Limit int // 0 = no limit
}

// Matches reports whether r satisfies every filter of q.
func (q Query) Matches(r *model.Reservation) bool {
	if q.UserID != "" && r.UserID != q.UserID {
		return false
	}
	if q.CompanyID != "" && r.CompanyID != q.CompanyID {
		return false
	}
	if q.BranchID != "" && r.BranchID != q.BranchID {
		return false
	}
	if !q.From.IsZero() && r.ScheduledAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !r.ScheduledAt.Before(q.To) {
		return false
	}
	if q.Status != "" && r.Status != q.Status {
		return false
	}
	if q.ExcludeCancelled && r.Status == model.StatusCancelled {
		return false
	}
	return true
}

// sortAndPage orders rs newest slot first (ties by reception number, then
// ID, so paging is stable) and applies skip/limit.
func sortAndPage(rs []*model.Reservation, skip, limit int) []*model.Reservation {
	sort.Slice(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.After(b.ScheduledAt)
		}
		if a.ReceptionNumber != b.ReceptionNumber {
			return a.ReceptionNumber > b.ReceptionNumber
		}
		return a.ID < b.ID
	})
	if skip > 0 {
		if skip >= len(rs) {
			return []*model.Reservation{}
		}
		rs = rs[skip:]
	}
	if limit > 0 && limit < len(rs) {
		rs = rs[:limit]
	}
	return rs
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*BoltStore)(nil)
	_ Store = (*MySQLStore)(nil)
)
