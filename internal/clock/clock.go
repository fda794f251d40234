// Package clock is the time source for the booking ledger.  Instants are
// reported in UTC; calendar days are taken in the booking zone.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	// Today is midnight of the current date in the booking zone.
	Today() time.Time
}

type zoned struct {
	loc *time.Location
	now func() time.Time
}

// NewSystem reads the wall clock.  A nil loc means UTC.
func NewSystem(loc *time.Location) Clock {
	return zoned{loc: orUTC(loc), now: time.Now}
}

func (z zoned) Now() time.Time   { return z.now().UTC() }
func (z zoned) Today() time.Time { return midnight(z.now(), z.loc) }

// Manual only moves when Set or Advance is called.
type Manual struct {
	mu  sync.Mutex
	now time.Time
	loc *time.Location
}

func NewManual(t time.Time, loc *time.Location) *Manual {
	return &Manual{now: t.UTC(), loc: orUTC(loc)}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Today() time.Time {
	return midnight(m.Now(), m.loc)
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t.UTC()
	m.mu.Unlock()
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func midnight(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

func orUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
