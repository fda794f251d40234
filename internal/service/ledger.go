package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/branch-reservation/internal/clock"
	"github.com/iliyamo/branch-reservation/internal/model"
	"github.com/iliyamo/branch-reservation/internal/queue"
	"github.com/iliyamo/branch-reservation/internal/repository"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// EventPublisher receives lifecycle events after they are committed.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.ReservationEvent) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, queue.ReservationEvent) error { return nil }

// Ledger owns the reservation lifecycle.  Creates go through the
// Sequencer; updates and deletes are single-document atomic operations
// on the store.
type Ledger struct {
	store     repository.Store
	clock     clock.Clock
	policy    Policy
	log       *zap.Logger
	publisher EventPublisher

	maxAttempts int
	backoff     time.Duration
	seq         *Sequencer
}

type LedgerOption func(*Ledger)

// WithMaxAttempts bounds how many transactions a create may try.
func WithMaxAttempts(n int) LedgerOption {
	return func(l *Ledger) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the base delay between create attempts.
func WithRetryBackoff(d time.Duration) LedgerOption {
	return func(l *Ledger) {
		if d > 0 {
			l.backoff = d
		}
	}
}

func WithLogger(log *zap.Logger) LedgerOption {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

// WithPublisher sends lifecycle events to p.
func WithPublisher(p EventPublisher) LedgerOption {
	return func(l *Ledger) {
		if p != nil {
			l.publisher = p
		}
	}
}

func NewLedger(store repository.Store, clk clock.Clock, policy Policy, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:       store,
		clock:       clk,
		policy:      policy,
		log:         zap.NewNop(),
		publisher:   noopPublisher{},
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.seq = NewSequencer(store, policy.Hours, l.log, l.maxAttempts, l.backoff)
	return l
}

// Sequencer exposes the ledger's sequencer.
func (l *Ledger) Sequencer() *Sequencer { return l.seq }

type CreateInput struct {
	CompanyID   string
	BranchID    string
	UserID      string
	ScheduledAt time.Time
	Notes       string
}

func validateNotes(notes string) error {
	if utf8.RuneCountInString(notes) > model.MaxNotesLength {
		return invalid("notes", "must be at most %d characters", model.MaxNotesLength)
	}
	return nil
}

// Create books a slot.  The slot check and the reception number come from
// the same transactional snapshot of the branch day.
func (l *Ledger) Create(ctx context.Context, in CreateInput) (*model.Reservation, error) {
	switch {
	case strings.TrimSpace(in.CompanyID) == "":
		return nil, invalid("company_id", "is required")
	case strings.TrimSpace(in.BranchID) == "":
		return nil, invalid("branch_id", "is required")
	case strings.TrimSpace(in.UserID) == "":
		return nil, invalid("user_id", "is required")
	}
	if err := validateNotes(in.Notes); err != nil {
		return nil, err
	}
	now := l.clock.Now()
	at := in.ScheduledAt.UTC()
	if err := l.policy.checkSchedule(at, now); err != nil {
		return nil, err
	}

	var created *model.Reservation
	err := l.seq.Run(ctx, func(ctx context.Context, tx repository.Tx) error {
		snap, err := l.seq.Snapshot(ctx, tx, in.BranchID, at)
		if err != nil {
			return err
		}
		if snap.Occupant(at) != nil {
			return ErrSlotConflict
		}
		r := &model.Reservation{
			ID:              uuid.NewString(),
			UserID:          in.UserID,
			CompanyID:       in.CompanyID,
			BranchID:        in.BranchID,
			ScheduledAt:     at,
			ReceptionNumber: snap.NextReceptionNumber(),
			Status:          model.StatusAccepted,
			Notes:           in.Notes,
			CreatedAt:       now,
			UpdatedAt:       now,
			SchemaVersion:   model.CurrentSchemaVersion,
		}
		if err := tx.Insert(ctx, r); err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		created = r
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSlotConflict) {
			l.log.Info("slot already reserved",
				zap.String("branch_id", in.BranchID), zap.Time("scheduled_at", at))
		}
		return nil, err
	}

	l.log.Info("reservation created",
		zap.String("reservation_id", created.ID),
		zap.String("branch_id", created.BranchID),
		zap.Time("scheduled_at", created.ScheduledAt),
		zap.Int("reception_number", created.ReceptionNumber))
	l.publish(ctx, queue.ReservationCreated, created)
	return created, nil
}

// Get returns the reservation or ErrNotFound.
func (l *Ledger) Get(ctx context.Context, id string) (*model.Reservation, error) {
	r, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	return r, nil
}

// Page is the skip/limit window of a list.  Limit 0 means the default.
type Page struct {
	Skip  int
	Limit int
}

func (p Page) normalize() (Page, error) {
	if p.Skip < 0 {
		return p, invalid("skip", "must not be negative")
	}
	if p.Limit == 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit < 1 || p.Limit > maxPageLimit {
		return p, invalid("limit", "must be between 1 and %d", maxPageLimit)
	}
	return p, nil
}

type UserQuery struct {
	UserID    string
	CompanyID string
	BranchID  string
	Date      *time.Time // any instant of the calendar day
	Status    model.ReservationStatus
	Page
}

type BranchQuery struct {
	CompanyID string
	BranchID  string
	Date      *time.Time // any instant of the calendar day
	Status    model.ReservationStatus
	Page
}

func checkStatusFilter(s model.ReservationStatus) error {
	if s != "" && !s.Valid() {
		return invalid("status", "unknown status %q", s)
	}
	return nil
}

// ListByUser lists a user's reservations, newest slot first.
func (l *Ledger) ListByUser(ctx context.Context, q UserQuery) ([]*model.Reservation, error) {
	if q.UserID == "" {
		return nil, invalid("user_id", "is required")
	}
	if err := checkStatusFilter(q.Status); err != nil {
		return nil, err
	}
	page, err := q.Page.normalize()
	if err != nil {
		return nil, err
	}
	sq := repository.Query{
		UserID:    q.UserID,
		CompanyID: q.CompanyID,
		BranchID:  q.BranchID,
		Status:    q.Status,
		Skip:      page.Skip,
		Limit:     page.Limit,
	}
	if q.Date != nil {
		sq.From, sq.To = l.policy.Hours.DayBounds(*q.Date)
	}
	return l.list(ctx, sq)
}

// ListByBranch lists the reservations of a branch, newest slot first,
// optionally narrowed to one calendar day and one status.
func (l *Ledger) ListByBranch(ctx context.Context, q BranchQuery) ([]*model.Reservation, error) {
	if q.CompanyID == "" || q.BranchID == "" {
		return nil, invalid("branch_id", "company and branch are required")
	}
	if err := checkStatusFilter(q.Status); err != nil {
		return nil, err
	}
	page, err := q.Page.normalize()
	if err != nil {
		return nil, err
	}
	sq := repository.Query{
		CompanyID: q.CompanyID,
		BranchID:  q.BranchID,
		Status:    q.Status,
		Skip:      page.Skip,
		Limit:     page.Limit,
	}
	if q.Date != nil {
		sq.From, sq.To = l.policy.Hours.DayBounds(*q.Date)
	}
	return l.list(ctx, sq)
}

// ListByCompanyAndBranchForDay lists a branch day, newest slot first.
func (l *Ledger) ListByCompanyAndBranchForDay(ctx context.Context, companyID, branchID string, day time.Time, p Page) ([]*model.Reservation, error) {
	return l.ListByBranch(ctx, BranchQuery{CompanyID: companyID, BranchID: branchID, Date: &day, Page: p})
}

func (l *Ledger) list(ctx context.Context, q repository.Query) ([]*model.Reservation, error) {
	rs, err := l.store.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return rs, nil
}

// Patch changes the mutable fields of a reservation.  Nil fields are left
// alone.
type Patch struct {
	Notes  *string
	Status *model.ReservationStatus
}

// Update applies p atomically.  Status changes follow the lifecycle
// accepted -> confirmed -> completed, with cancellation allowed from
// accepted or confirmed.
func (l *Ledger) Update(ctx context.Context, id string, p Patch) (*model.Reservation, error) {
	if p.Notes == nil && p.Status == nil {
		return nil, invalid("", "nothing to update")
	}
	if p.Notes != nil {
		if err := validateNotes(*p.Notes); err != nil {
			return nil, err
		}
	}
	if p.Status != nil && !p.Status.Valid() {
		return nil, invalid("status", "unknown status %q", *p.Status)
	}

	now := l.clock.Now()
	var from model.ReservationStatus
	updated, err := l.store.Update(ctx, id, func(r *model.Reservation) error {
		from = r.Status
		if p.Status != nil && *p.Status != r.Status {
			to := *p.Status
			if !model.CanTransition(r.Status, to) {
				return &InvalidTransitionError{From: r.Status, To: to}
			}
			if to == model.StatusCancelled {
				if err := l.policy.checkCancellation(r.ScheduledAt, now); err != nil {
					return err
				}
			}
			if to == model.StatusConfirmed {
				t := now
				r.ConfirmedAt = &t
			}
			r.Status = to
		} else if p.Status != nil {
			return &InvalidTransitionError{From: r.Status, To: *p.Status}
		}
		if p.Notes != nil {
			r.Notes = *p.Notes
		}
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}

	fields := []zap.Field{zap.String("reservation_id", updated.ID), zap.String("status", string(updated.Status))}
	if from != updated.Status {
		fields = append(fields, zap.String("previous_status", string(from)))
	}
	l.log.Info("reservation updated", fields...)
	l.publish(ctx, queue.ReservationUpdated, updated)
	return updated, nil
}

// Delete removes a reservation.  Its reception number is not reissued
// unless it was the highest of the day.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	r, err := l.store.Get(ctx, id)
	if err != nil {
		return storeError(err)
	}
	if err := l.store.Delete(ctx, id); err != nil {
		return storeError(err)
	}
	l.log.Info("reservation deleted", zap.String("reservation_id", id))
	l.publish(ctx, queue.ReservationDeleted, r)
	return nil
}

// DailySummary reports the queue board of a branch day.
func (l *Ledger) DailySummary(ctx context.Context, companyID, branchID string, day time.Time) (*model.DailySummary, error) {
	if companyID == "" || branchID == "" {
		return nil, invalid("branch_id", "company and branch are required")
	}
	from, to := l.policy.Hours.DayBounds(day)
	rs, err := l.list(ctx, repository.Query{CompanyID: companyID, BranchID: branchID, From: from, To: to})
	if err != nil {
		return nil, err
	}

	sum := &model.DailySummary{CompanyID: companyID, BranchID: branchID, Date: l.policy.Hours.DateString(from)}
	var lastConfirmed *time.Time
	for _, r := range rs {
		if r.ReceptionNumber > sum.LatestReceptionNumber {
			sum.LatestReceptionNumber = r.ReceptionNumber
		}
		switch r.Status {
		case model.StatusAccepted:
			sum.WaitingCount++
		case model.StatusConfirmed:
			// upgraded records were confirmed before ConfirmedAt existed
			at := r.UpdatedAt
			if r.ConfirmedAt != nil {
				at = *r.ConfirmedAt
			}
			if lastConfirmed == nil || at.After(*lastConfirmed) {
				lastConfirmed = &at
				sum.CurrentNumber = r.ReceptionNumber
			}
		}
	}
	return sum, nil
}

// Label renders a reception number using the configured prefix and width.
func (l *Ledger) Label(n int) string { return l.policy.Label(n) }

func (l *Ledger) publish(ctx context.Context, t queue.EventType, r *model.Reservation) {
	ev := queue.NewReservationEvent(t, r, l.policy.Label(r.ReceptionNumber), l.clock.Now())
	if err := l.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		l.log.Warn("publish reservation event failed",
			zap.String("type", string(t)), zap.String("reservation_id", r.ID), zap.Error(err))
	}
}

func storeError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
