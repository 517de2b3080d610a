// Package backoff computes retry delays for the dispatcher's transient-
// failure path (spec §4.5: backoff(a) = min(base * 2^(a-1) + jitter, cap)).
package backoff

import (
	"math/rand"
	"time"
)

// Compute returns the delay before retry attempt n (1-indexed), capped at
// cap, with jitter uniformly drawn from [0, base).
func Compute(base, cap time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base * time.Duration(uint64(1)<<uint(attempt-1))
	if d > cap || d < 0 {
		d = cap
	}
	jitter := time.Duration(rand.Int63n(int64(base)))
	d += jitter
	if d > cap {
		d = cap
	}
	return d
}
