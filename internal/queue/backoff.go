package queue

import (
	"math/rand"
	"time"
)

const maxBackoff = time.Hour

// backoffDelay returns the redelivery delay after the given 1-based failed
// attempt: base doubled per attempt with ±25% jitter, capped at one hour.
// The shift cap keeps the doubling out of integer-overflow territory.
func backoffDelay(attempt int, base time.Duration) time.Duration {
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 20 {
		shift = 20
	}
	d := base * time.Duration(1<<shift)
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d/2))) - d/4
	return d + jitter
}
