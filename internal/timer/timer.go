// Package timer provides the periodic and one-shot timers the avatar
// runs on, plus the single dispatch loop that executes them.
package timer

import (
	"errors"
	"time"
)

var (
	// ErrInvalidPeriod is returned for non-positive periods.
	ErrInvalidPeriod = errors.New("timer period must be positive")
	// ErrStopped is returned when the scheduler no longer accepts timers.
	ErrStopped = errors.New("scheduler stopped")
)

// Callback runs on every firing with the timer that fired
type Callback func(Timer)

// Timer is a handle to a scheduled callback.
//
// SetPeriod restarts the countdown with the new period. A paused timer keeps
// its period and restarts the countdown on Resume. Delete is final.
type Timer interface {
	SetPeriod(d time.Duration)
	Period() time.Duration
	Pause()
	Resume()
	Paused() bool
	Delete()
	Deleted() bool
}

// Scheduler creates timers
type Scheduler interface {
	// NewTimer fires cb every period until paused or deleted.
	NewTimer(period time.Duration, cb Callback) (Timer, error)
	// NewOneShot fires cb once after period, then deletes itself.
	NewOneShot(period time.Duration, cb Callback) (Timer, error)
}
