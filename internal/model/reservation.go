package model

import "time"

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	StatusAccepted  ReservationStatus = "accepted"  // booked, waiting to be called
	StatusConfirmed ReservationStatus = "confirmed" // called / being served
	StatusCancelled ReservationStatus = "cancelled"
	StatusCompleted ReservationStatus = "completed"
)

// CurrentSchemaVersion is the shape written by this version of the service.
// Older stored documents are upgraded when they are decoded.
const CurrentSchemaVersion = 2

// MaxNotesLength bounds the free-form notes field (in characters).
const MaxNotesLength = 500

// Reservation records a user's booking of one slot at a branch.  The
// reception number is unique among the reservations of the same branch
// and calendar day and is never renumbered after creation.
//
// Fields:
//
//	ID              – opaque identifier assigned at creation.
//	UserID          – user who made the reservation.
//	CompanyID       – company owning the branch.
//	BranchID        – branch whose calendar the slot belongs to.
//	ScheduledAt     – slot start instant (stored in UTC).
//	ReceptionNumber – per-branch-per-day queue number.
//	Status          – see ReservationStatus.
//	Notes           – free-form text, at most MaxNotesLength characters.
//	ConfirmedAt     – when the reservation entered the confirmed state.
//	CreatedAt       – creation timestamp.
//	UpdatedAt       – last mutation timestamp.
type Reservation struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	CompanyID       string            `json:"company_id"`
	BranchID        string            `json:"branch_id"`
	ScheduledAt     time.Time         `json:"scheduled_at"`
	ReceptionNumber int               `json:"reception_number"`
	Status          ReservationStatus `json:"status"`
	Notes           string            `json:"notes"`
	ConfirmedAt     *time.Time        `json:"confirmed_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	SchemaVersion   int               `json:"schema_version"`
}

// IsActive reports whether the reservation still occupies its slot.
func (r *Reservation) IsActive() bool {
	return r.Status != StatusCancelled
}

// Clone returns a deep copy so stores never hand out their own pointers.
func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	cp := *r
	if r.ConfirmedAt != nil {
		t := *r.ConfirmedAt
		cp.ConfirmedAt = &t
	}
	return &cp
}

// transitions lists the permitted status changes.  Cancelled and completed
// are terminal and have no entry.
var transitions = map[ReservationStatus][]ReservationStatus{
	StatusAccepted:  {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether a reservation may move from one status to another.
func CanTransition(from, to ReservationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further status change is allowed.
func (s ReservationStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is one of the known statuses.
func (s ReservationStatus) Valid() bool {
	switch s {
	case StatusAccepted, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}
