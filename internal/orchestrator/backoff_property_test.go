package orchestrator

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property 5, generalized: for any base/multiplier/cap within a sane range,
// the delay sequence is non-decreasing and never exceeds max_delay.
func TestProperty_BackoffMonotoneAndClamped(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("delay(k+1) >= delay(k) and delay(k) <= max_delay", prop.ForAll(
		func(baseMillis int64, multiplier float64, capMillis int64) bool {
			base := time.Duration(baseMillis) * time.Millisecond
			cap := time.Duration(capMillis) * time.Millisecond

			b := backoff.NewExponentialBackOff()
			b.InitialInterval = base
			b.MaxInterval = cap
			b.Multiplier = multiplier
			b.RandomizationFactor = 0

			var prev time.Duration
			for i := 0; i < 6; i++ {
				d := b.NextBackOff()
				if d > cap {
					return false
				}
				if i > 0 && d < prev {
					return false
				}
				prev = d
			}
			return true
		},
		gen.Int64Range(1, 1000),
		gen.Float64Range(1.0, 5.0),
		gen.Int64Range(1000, 30000),
	))

	properties.TestingRun(t)
}
