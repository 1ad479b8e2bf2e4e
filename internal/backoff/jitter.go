package backoff

import (
	"math/rand"
	"time"
)

// JitteredBackoff decorates another Backoff with randomized jitter and a
// hard ceiling, matching the retry policy's jitter/maxDelay parameters.
type JitteredBackoff struct {
	Inner    Backoff
	Jitter   float64 // fraction of the current delay, e.g. 0.2 for up to 20%
	MaxDelay time.Duration
}

func (b *JitteredBackoff) Duration(retries int) time.Duration {
	d := b.Inner.Duration(retries)
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	if b.Jitter <= 0 {
		return d
	}
	max := float64(d) * b.Jitter
	jitter := time.Duration(rand.Float64() * max)
	d += jitter
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	return d
}
