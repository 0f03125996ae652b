// Package clock supplies the time source for loan dating and overdue detection.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock reports the current instant.
type Clock interface {
	Now() time.Time
}

// System returns the wall clock.
func System() Clock {
	return clockwork.NewRealClock()
}

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

// Fixed is a settable clock for tests and replays. It only moves when told to.
type Fixed struct {
	fake fakeClock
}

func NewFixed(now time.Time) *Fixed {
	return &Fixed{fake: clockwork.NewFakeClockAt(now)}
}

func (f *Fixed) Now() time.Time {
	return f.fake.Now()
}

func (f *Fixed) Set(now time.Time) {
	f.fake.Advance(now.Sub(f.fake.Now()))
}

// AddDays moves the clock forward by n calendar days.
func (f *Fixed) AddDays(n int) {
	f.Set(f.Now().AddDate(0, 0, n))
}

// Today returns the current calendar date as UTC midnight.
func Today(c Clock) time.Time {
	return DateOf(c.Now())
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
