package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/iliyamo/branch-reservation/internal/calendar"
	"github.com/iliyamo/branch-reservation/internal/model"
	"github.com/iliyamo/branch-reservation/internal/repository"
)

const (
	defaultMaxAttempts = 5
	defaultBackoff     = 10 * time.Millisecond
	maxBackoff         = 250 * time.Millisecond
)

// Sequencer runs booking transactions and hands out reception numbers.
// It holds no locks of its own: two creates on the same branch day are
// serialized by the store, and the one that loses the commit is re-run
// from scratch against a fresh snapshot.
type Sequencer struct {
	store       repository.Store
	hours       calendar.BusinessHours
	log         *zap.Logger
	maxAttempts int
	backoff     time.Duration
}

func NewSequencer(store repository.Store, hours calendar.BusinessHours, log *zap.Logger, maxAttempts int, backoff time.Duration) *Sequencer {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sequencer{store: store, hours: hours, log: log, maxAttempts: maxAttempts, backoff: backoff}
}

// Run executes fn in a store transaction, retrying on ErrTxConflict until
// maxAttempts transactions have been tried.  fn must not have side effects
// outside tx since it may run more than once.  Exhaustion returns
// ErrConcurrency; any other error from fn or the store is returned as is.
func (s *Sequencer) Run(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	b := retry.NewExponential(s.backoff)
	b = retry.WithJitter(s.backoff/2+1, b)
	b = retry.WithCappedDuration(maxBackoff, b)
	b = retry.WithMaxRetries(uint64(s.maxAttempts-1), b)

	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := s.store.RunInTx(ctx, fn)
		if errors.Is(err, repository.ErrTxConflict) {
			s.log.Debug("booking transaction conflicted", zap.Int("attempt", attempt))
			return retry.RetryableError(err)
		}
		return err
	})
	if errors.Is(err, repository.ErrTxConflict) {
		s.log.Warn("booking transaction retries exhausted", zap.Int("attempts", attempt))
		return fmt.Errorf("%w (%d attempts)", ErrConcurrency, attempt)
	}
	return err
}

// Snapshot reads every reservation of the branch on the calendar day of at
// through tx, so the read is validated when tx commits.
func (s *Sequencer) Snapshot(ctx context.Context, tx repository.Tx, branchID string, at time.Time) (*DaySnapshot, error) {
	from, to := s.hours.DayBounds(at)
	rs, err := tx.ListDay(ctx, branchID, from, to)
	if err != nil {
		return nil, fmt.Errorf("read branch day: %w", err)
	}
	return &DaySnapshot{BranchID: branchID, Day: from, Reservations: rs}, nil
}

// DaySnapshot is the transactional view of one branch day, cancelled
// reservations included.
type DaySnapshot struct {
	BranchID     string
	Day          time.Time
	Reservations []*model.Reservation
}

// Occupant returns the non-cancelled reservation starting at at, or nil.
func (d *DaySnapshot) Occupant(at time.Time) *model.Reservation {
	for _, r := range d.Reservations {
		if r.IsActive() && r.ScheduledAt.Equal(at) {
			return r
		}
	}
	return nil
}

// NextReceptionNumber is one more than the highest number issued on the
// day.  Cancelled reservations keep their numbers, so a number is never
// handed out twice.
func (d *DaySnapshot) NextReceptionNumber() int {
	return d.LatestReceptionNumber() + 1
}

// LatestReceptionNumber is the highest number issued on the day, 0 when
// the day is empty.
func (d *DaySnapshot) LatestReceptionNumber() int {
	latest := 0
	for _, r := range d.Reservations {
		if r.ReceptionNumber > latest {
			latest = r.ReceptionNumber
		}
	}
	return latest
}

// FormatReceptionNumber renders n as a display label, e.g. "A-0007" for
// prefix "A-" and width 4.
func FormatReceptionNumber(prefix string, width, n int) string {
	if width < 1 {
		width = 1
	}
	return fmt.Sprintf("%s%0*d", prefix, width, n)
}
