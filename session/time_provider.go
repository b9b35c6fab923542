package session

import "time"

// TimeProvider is an interface for getting the current time and creating timers.
// This allows injecting a mock time provider for deterministic testing.
type TimeProvider interface {
	// Now returns the current time.
	Now() time.Time
	// NewTimer creates a new timer that fires after the given duration.
	NewTimer(d time.Duration) *time.Timer
}

// RealTimeProvider implements TimeProvider using the actual system time.
type RealTimeProvider struct{}

// Now returns the current system time.
func (RealTimeProvider) Now() time.Time {
	return time.Now()
}

// NewTimer creates a new timer using the standard library.
func (RealTimeProvider) NewTimer(d time.Duration) *time.Timer {
	return time.NewTimer(d)
}
