// Package system supplies the wall clock used to stamp records and to decide
// which publication day "today" is.
package system

import "time"

// Clock reads the host clock in UTC. The zero value is ready to use.
type Clock struct{}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current instant in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Today returns the start of the current UTC calendar day.
func (c Clock) Today() time.Time {
	return Midnight(c.Now())
}

// Midnight truncates t to the start of its calendar day and returns it in UTC.
// The calendar day is read in t's own location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
