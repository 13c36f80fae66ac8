package worker

import (
	"math"
	"time"
)

// RetryPolicy spaces out attempts of a failing job exponentially.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// Exhausted reports whether a job that just failed its attempt-th run
// (1-based) must not be retried.
func (r RetryPolicy) Exhausted(attempt int) bool {
	return r.MaxRetries > 0 && attempt >= r.MaxRetries
}

// NextDelay is the wait before retrying after the attempt-th failure,
// capped at MaxDelay.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	base := r.InitialDelay
	if base <= 0 {
		base = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}
	attempt = max(attempt, 1)

	d := time.Duration(float64(base) * math.Pow(factor, float64(attempt-1)))
	if r.MaxDelay > 0 && (d > r.MaxDelay || d <= 0) {
		return r.MaxDelay
	}
	if d <= 0 {
		return time.Second
	}
	return d
}

// NextRun is the time of the retry following the attempt-th failure.
func (r RetryPolicy) NextRun(now time.Time, attempt int) time.Time {
	return now.Add(r.NextDelay(attempt))
}
