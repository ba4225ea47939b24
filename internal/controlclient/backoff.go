package controlclient

import "math/rand"

const (
	backoffMin = 5
	backoffMax = 30
	jitterSpan = 5 // uniform(5,9): backoffMin + [0,4]
)

// randIntn is overridden in tests for deterministic backoff assertions.
var randIntn = rand.Intn

// nextBackoff implements spec.md §4.5: returns a value in [5, 30]; once the
// previous value reaches 30 it stays pinned there.
func nextBackoff(last int) int {
	if last < backoffMax {
		next := last + backoffMin + randIntn(jitterSpan)
		if next > backoffMax {
			return backoffMax
		}
		return next
	}
	return backoffMax
}
