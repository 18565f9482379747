package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newExponential builds the backoff schedule for a policy. A zero
// MaxElapsedTime means the schedule never gives up on elapsed time
// alone; the attempt cap in Policy still bounds it.
func newExponential(p Policy) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = p.Multiplier
	exp.MaxElapsedTime = p.MaxElapsedTime
	return exp
}

// previewDelay estimates the delay before the next attempt, for retry
// callbacks and log lines. It mirrors the exponential schedule without
// jitter, so it is an approximation of the actual sleep.
func previewDelay(attempt int, p Policy) time.Duration {
	d := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxInterval) {
		return p.MaxInterval
	}
	return time.Duration(d)
}
