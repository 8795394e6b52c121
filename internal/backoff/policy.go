// Package backoff provides exponential backoff with jitter for the
// caller-side retries around external source fetches.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the delay before the second attempt.
	Initial time.Duration
	// Max caps any single delay.
	Max time.Duration
	// Factor is the exponential factor applied to each attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) applied to the delay.
	Jitter float64
}

// DefaultPolicy returns the policy used for source retries when only
// max_attempts is configured.
// Initial: 50ms, Max: 1s, Factor: 2, Jitter: 10%
func DefaultPolicy() Policy {
	return Policy{
		Initial: 50 * time.Millisecond,
		Max:     time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Delay calculates the wait after the given failed attempt (1-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	return p.DelayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// DelayWithRand is Delay with a caller-provided random value in [0, 1),
// for deterministic tests.
//
// base = initial * factor^(attempt-1); total = min(max, base + base*jitter*r)
func (p Policy) DelayWithRand(attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}

	base := float64(p.Initial) * math.Pow(factor, exp)
	total := base + base*p.Jitter*randomValue
	if p.Max > 0 {
		total = math.Min(float64(p.Max), total)
	}
	if total < 0 {
		return 0
	}
	return time.Duration(total).Round(time.Millisecond)
}
