// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock reports the current UTC time.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a clock frozen at one instant.
type Fixed time.Time

// Now returns the frozen instant.
func (f Fixed) Now() time.Time {
	return time.Time(f)
}
