// Package calendar computes the bookable slots of a branch day from its
// business-hours configuration.  Everything here is pure: no I/O and no
// dependence on the current time.
package calendar

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidHours is returned by Validate for unusable configuration.
var ErrInvalidHours = errors.New("invalid business hours")

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24h clock).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("time of day %q: expected HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: bad hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: bad minute", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// Minutes returns the offset from midnight in minutes.
func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

func fromMinutes(m int) TimeOfDay { return TimeOfDay{Hour: m / 60, Minute: m % 60} }

// BusinessHours is the calendar configuration of a branch.  Slots start at
// Open and every Granularity after it; a slot is emitted only when it ends
// no later than Close.
type BusinessHours struct {
	Open        TimeOfDay
	Close       TimeOfDay
	Granularity time.Duration
	Location    *time.Location
}

// Validate reports configuration errors (Open not before Close, or a
// granularity that is not a positive whole number of minutes).
func (h BusinessHours) Validate() error {
	if h.Open.Minutes() >= h.Close.Minutes() {
		return fmt.Errorf("%w: open %s is not before close %s", ErrInvalidHours, h.Open, h.Close)
	}
	if h.Granularity < time.Minute || h.Granularity%time.Minute != 0 {
		return fmt.Errorf("%w: granularity %s", ErrInvalidHours, h.Granularity)
	}
	return nil
}

func (h BusinessHours) location() *time.Location {
	if h.Location == nil {
		return time.UTC
	}
	return h.Location
}

// Slots returns the ordered slot start times of a day.  A trailing slot
// that would run past Close is dropped.  Invalid configuration yields nil.
func (h BusinessHours) Slots() []TimeOfDay {
	if h.Validate() != nil {
		return nil
	}
	step := int(h.Granularity / time.Minute)
	end := h.Close.Minutes()
	out := make([]TimeOfDay, 0, (end-h.Open.Minutes())/step)
	for m := h.Open.Minutes(); m+step <= end; m += step {
		out = append(out, fromMinutes(m))
	}
	return out
}

// SlotsOn returns the slots of the calendar day containing day, as instants
// in the configured location.
func (h BusinessHours) SlotsOn(day time.Time) []time.Time {
	start, _ := h.DayBounds(day)
	slots := h.Slots()
	out := make([]time.Time, 0, len(slots))
	for _, s := range slots {
		out = append(out, time.Date(start.Year(), start.Month(), start.Day(), s.Hour, s.Minute, 0, 0, start.Location()))
	}
	return out
}

// IsSlotStart reports whether t is exactly the start of one of the slots of
// its calendar day.
func (h BusinessHours) IsSlotStart(t time.Time) bool {
	if h.Validate() != nil {
		return false
	}
	local := t.In(h.location())
	if local.Second() != 0 || local.Nanosecond() != 0 {
		return false
	}
	m := local.Hour()*60 + local.Minute()
	step := int(h.Granularity / time.Minute)
	if m < h.Open.Minutes() || m+step > h.Close.Minutes() {
		return false
	}
	return (m-h.Open.Minutes())%step == 0
}

// DayBounds returns the half-open interval [start, end) of the calendar day
// containing t in the configured location.
func (h BusinessHours) DayBounds(t time.Time) (time.Time, time.Time) {
	local := t.In(h.location())
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	return start, start.AddDate(0, 0, 1)
}

// ParseDate parses a YYYY-MM-DD date as midnight in the configured location.
func (h BusinessHours) ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, s, h.location())
}

// DateString formats the calendar day containing t as YYYY-MM-DD.
func (h BusinessHours) DateString(t time.Time) string {
	return t.In(h.location()).Format(time.DateOnly)
}

// Clock formats the wall-clock time of t as HH:MM in the configured location.
func (h BusinessHours) Clock(t time.Time) string {
	return t.In(h.location()).Format("15:04")
}
