package derive

import "math/rand/v2"

// RandomSource draws a bounded integer. It is the only source of
// non-determinism in a snapshot (the ETA baseline).
type RandomSource interface {
	// IntRange returns a value in [min, max]
	IntRange(min, max int) int
}

// UniformSource draws uniformly from the runtime's random generator.
type UniformSource struct{}

// IntRange returns a uniform value in [min, max].
func (UniformSource) IntRange(min, max int) int {
	if max <= min {
		return min
	}
	return min + rand.IntN(max-min+1)
}

// FixedSource always returns the same value, clamped to the requested range.
type FixedSource int

// IntRange returns the fixed value clamped to [min, max].
func (f FixedSource) IntRange(min, max int) int {
	v := int(f)
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
