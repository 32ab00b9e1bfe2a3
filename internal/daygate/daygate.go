// Package daygate decides whether the daily action is available and how long
// until it becomes available again. Days are UTC calendar days.
package daygate

import (
	"fmt"
	"time"
)

const secondsPerDay = 86400

// Remaining is a countdown without a days component; it is always below 24h.
type Remaining struct {
	Hours   int
	Minutes int
	Seconds int
}

// IsZero reports whether the countdown has elapsed.
func (r Remaining) IsZero() bool {
	return r.Hours == 0 && r.Minutes == 0 && r.Seconds == 0
}

// Duration converts the countdown back to a time.Duration.
func (r Remaining) Duration() time.Duration {
	return time.Duration(r.Hours)*time.Hour + time.Duration(r.Minutes)*time.Minute + time.Duration(r.Seconds)*time.Second
}

// String formats the countdown as HH:MM:SS.
func (r Remaining) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", r.Hours, r.Minutes, r.Seconds)
}

// Status is the evaluator output for one instant.
type Status struct {
	LastAction int64
	Available  bool
	Remaining  Remaining
}

// Available reports whether an action stamped at last (seconds, 0 = never)
// leaves the action open at now.
func Available(last int64, now time.Time) bool {
	if last == 0 {
		return true
	}
	return floorDiv(last, secondsPerDay) < floorDiv(now.Unix(), secondsPerDay)
}

// NextMidnight returns the first UTC midnight strictly after last, in epoch seconds.
func NextMidnight(last int64) int64 {
	return (floorDiv(last, secondsPerDay) + 1) * secondsPerDay
}

// Evaluate computes availability and the countdown for last at now.
func Evaluate(last int64, now time.Time) Status {
	st := Status{LastAction: last, Available: Available(last, now)}
	if st.Available {
		return st
	}
	left := NextMidnight(last) - now.Unix()
	if left < 0 {
		left = 0
	}
	st.Remaining = split(left)
	return st
}

func split(secs int64) Remaining {
	return Remaining{
		Hours:   int(secs / 3600),
		Minutes: int((secs % 3600) / 60),
		Seconds: int(secs % 60),
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
