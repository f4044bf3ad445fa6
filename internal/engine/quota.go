package engine

import (
	"math"
	"time"

	"github.com/roach88/cadence/internal/calendar"
	"github.com/roach88/cadence/internal/model"
)

// Backoff defaults for retryable failures and enrichment retries.
const (
	DefaultRetryBase = time.Minute
	DefaultRetryCap  = 6 * time.Hour
)

// DelayFunc returns the wait before retry number attempt (1-based).
type DelayFunc func(attempt int) time.Duration

// ExponentialDelay doubles the wait on every attempt, starting at delay and
// never exceeding maxDelay. A non-positive delay never waits.
func ExponentialDelay(delay, maxDelay time.Duration) DelayFunc {
	if delay <= 0 {
		return func(int) time.Duration { return 0 }
	}
	// Pre-calculate max shifts to prevent overflow
	logDelay := math.Floor(math.Log2(float64(delay)))
	var maxShifts uint
	if logDelay >= 62 {
		maxShifts = 0
	} else {
		maxShifts = 62 - uint(logDelay)
	}

	return func(attempt int) time.Duration {
		if attempt <= 1 {
			return min(delay, maxDelay)
		}
		// nolint:gosec
		n := min(uint(attempt-1), maxShifts)
		return min(delay<<n, maxDelay)
	}
}

// NextEligible is the earliest instant p may be dispatched: the later of
// its own NextEligibleAt and the calendar's next working instant. It
// returns false while the identity's window is fully consumed; the entry
// is deferred, not dropped.
func NextEligible(p model.Prospect, identity model.SendingIdentity, cal *calendar.Calendar, now time.Time) (time.Time, bool) {
	if identity.Rolled(now).Exhausted() {
		return time.Time{}, false
	}
	at := cal.NextWorkingInstant(now)
	if p.NextEligibleAt.After(at) {
		at = cal.NextWorkingInstant(p.NextEligibleAt)
	}
	return at, true
}

// QuotaResumeAt is when a prospect deferred for quota should be looked at
// again: the identity's next window reset, rolled into the calendar.
func QuotaResumeAt(identity model.SendingIdentity, cal *calendar.Calendar, now time.Time) time.Time {
	return cal.NextWorkingInstant(identity.Rolled(now).WindowResetAt)
}
