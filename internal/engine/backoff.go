package engine

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays as a pure function of the attempt count.
//
// The delay doubles from Base up to Cap, with uniform random jitter of
// ±Jitter applied so many failing records do not retry in lockstep.
// Because the delay depends only on the persisted attempt count, retry
// schedules survive process restarts.
type Backoff struct {
	// Base is the delay after the first failure.
	Base time.Duration

	// Cap is the maximum delay regardless of attempt count.
	Cap time.Duration

	// Jitter is the fractional spread applied to the delay, e.g. 0.2
	// yields a delay in [0.8d, 1.2d]. Zero disables jitter.
	Jitter float64

	// Rand supplies randomness for jitter. Nil uses the global source.
	Rand *rand.Rand
}

// Delay returns the wait before the given attempt may be retried.
// attempt is 1-based: Delay(1) follows the first failure.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			d = b.Cap
			break
		}
	}
	if d > b.Cap {
		d = b.Cap
	}

	if b.Jitter > 0 {
		f := b.random()
		// Map [0,1) to [1-Jitter, 1+Jitter)
		scale := 1 - b.Jitter + 2*b.Jitter*f
		d = time.Duration(float64(d) * scale)
	}

	return d
}

// random returns a jitter sample in [0, 1).
func (b Backoff) random() float64 {
	if b.Rand != nil {
		return b.Rand.Float64()
	}
	return rand.Float64()
}
