package engine

import "time"

// Clock supplies the current time to every scheduling decision.
//
// A pass never reads the wall clock directly, so a run can be reproduced
// by injecting a fixed or stepping clock.
//
// Thread-safety: implementations must be safe for concurrent use; the
// dispatch worker pool reads the clock from several goroutines.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock, in UTC.
type SystemClock struct{}

// Now returns the current wall-clock time in UTC.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
