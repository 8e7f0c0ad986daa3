package worker

import (
	"math/rand/v2"
	"time"
)

// Backoff computes how long an idle or failing worker waits before polling
// again: doubling from Initial up to Max, with jitter.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// NextBackoff returns the wait for the given consecutive idle attempt
// (0-based). Jitter is calculated as: base * (0.5 + rand * 0.5).
func (b Backoff) NextBackoff(attempt int) time.Duration {
	base := b.Initial
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	for i := 0; i < attempt && base < b.Max; i++ {
		base *= 2
	}
	if b.Max > 0 && base > b.Max {
		base = b.Max
	}

	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(base) * jitter)
}
