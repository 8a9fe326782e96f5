package rdmnet

import (
	"math/rand"
	"time"
)

// updateBackoff implements the cumulative exponential-random backoff used
// on repeated connect failures: the next interval is the previous
// interval plus a uniformly-random increment in [BackoffMin, BackoffMax],
// clamped to ceiling. A zero previous interval (the state immediately
// after module init, or after a successful connect) yields an interval
// in [BackoffMin, BackoffMax] with no prior contribution.
func updateBackoff(previous, min, max, ceiling time.Duration) time.Duration {
	span := max - min
	var increment time.Duration
	if span > 0 {
		increment = min + time.Duration(rand.Int63n(int64(span)+1))
	} else {
		increment = min
	}
	next := previous + increment
	if next > ceiling {
		next = ceiling
	}
	return next
}
