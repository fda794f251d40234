package service

import (
	"time"

	"github.com/iliyamo/branch-reservation/internal/calendar"
)

// Policy is the booking configuration shared by every branch.
type Policy struct {
	Hours calendar.BusinessHours

	// AdvanceDays is how many days ahead a slot may be booked; the last
	// day is included.  0 allows today only.
	AdvanceDays int

	// CancellationCutoff refuses cancellation closer than this to the
	// slot start.  0 disables the check.
	CancellationCutoff time.Duration

	NumberPrefix string
	NumberWidth  int
}

const (
	defaultAdvanceDays = 60
	defaultNumberWidth = 4
)

// DefaultPolicy is 10:00 to 22:00 in 30 minute slots, UTC, bookable 60
// days ahead.
func DefaultPolicy() Policy {
	return Policy{
		Hours: calendar.BusinessHours{
			Open:        calendar.TimeOfDay{Hour: 10},
			Close:       calendar.TimeOfDay{Hour: 22},
			Granularity: 30 * time.Minute,
			Location:    time.UTC,
		},
		AdvanceDays: defaultAdvanceDays,
		NumberWidth: defaultNumberWidth,
	}
}

func (p Policy) checkSchedule(at, now time.Time) error {
	if at.IsZero() {
		return invalid("scheduled_at", "is required")
	}
	if !p.Hours.IsSlotStart(at) {
		return invalid("scheduled_at", "%s is not a slot start within business hours", at.Format(time.RFC3339))
	}
	if at.Before(now) {
		return invalid("scheduled_at", "is in the past")
	}
	today, _ := p.Hours.DayBounds(now)
	slotDay, _ := p.Hours.DayBounds(at)
	if slotDay.After(today.AddDate(0, 0, p.AdvanceDays)) {
		return invalid("scheduled_at", "is more than %d days ahead", p.AdvanceDays)
	}
	return nil
}

func (p Policy) checkCancellation(at, now time.Time) error {
	if p.CancellationCutoff <= 0 {
		return nil
	}
	if at.Sub(now) < p.CancellationCutoff {
		return invalid("status", "cancellation closes %s before the reservation", p.CancellationCutoff)
	}
	return nil
}

// Label renders a reception number for display.
func (p Policy) Label(n int) string {
	return FormatReceptionNumber(p.NumberPrefix, p.NumberWidth, n)
}
