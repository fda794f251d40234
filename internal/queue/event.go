// Package queue publishes reservation lifecycle events to RabbitMQ and
// consumes them into an append-only reservation log.
package queue

import (
	"time"

	"github.com/iliyamo/branch-reservation/internal/model"
)

// ReservationQueue is the durable queue every lifecycle event is routed to.
const ReservationQueue = "reservation.events"

// EventType names a reservation lifecycle change.
type EventType string

const (
	ReservationCreated EventType = "reservation.created"
	ReservationUpdated EventType = "reservation.updated"
	ReservationDeleted EventType = "reservation.deleted"
)

// ReservationEvent carries enough of the reservation for downstream
// consumers to log, notify or display the queue board without querying
// the store.
type ReservationEvent struct {
	Type            EventType `json:"type"`
	ReservationID   string    `json:"reservation_id"`
	UserID          string    `json:"user_id"`
	CompanyID       string    `json:"company_id"`
	BranchID        string    `json:"branch_id"`
	ScheduledAt     string    `json:"scheduled_at"`
	ReceptionNumber int       `json:"reception_number"`
	ReceptionLabel  string    `json:"reception_label"`
	Status          string    `json:"status"`
	OccurredAt      string    `json:"occurred_at"`
}

// NewReservationEvent snapshots r.  Times are RFC3339 in UTC.
func NewReservationEvent(t EventType, r *model.Reservation, label string, at time.Time) ReservationEvent {
	return ReservationEvent{
		Type:            t,
		ReservationID:   r.ID,
		UserID:          r.UserID,
		CompanyID:       r.CompanyID,
		BranchID:        r.BranchID,
		ScheduledAt:     r.ScheduledAt.UTC().Format(time.RFC3339),
		ReceptionNumber: r.ReceptionNumber,
		ReceptionLabel:  label,
		Status:          string(r.Status),
		OccurredAt:      at.UTC().Format(time.RFC3339),
	}
}
