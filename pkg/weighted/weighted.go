// Package weighted implements roulette-wheel selection over discrete
// {key, weight} pairs.
//
// # Determinism
//
// Every draw takes an explicit *rand.Rand. Given the same source state and
// the same choice slice (including order), Pick always returns the same key.
// Callers that need reproducible draws seed the source themselves; production
// callers pass a time-seeded source.
package weighted

import (
	"errors"
	"math/rand"
)

var (
	// ErrNoChoices is returned when a distribution has no selectable weight.
	ErrNoChoices = errors.New("weighted: no choices with positive weight")
)

// Choice is one bucket of a discrete distribution.
type Choice[K comparable] struct {
	Key    K
	Weight float64
}

// Distribution is an ordered set of weighted choices. Weights need not sum
// to 1; Pick normalizes over the running total.
type Distribution[K comparable] struct {
	choices []Choice[K]
	total   float64
}

// New builds a distribution from the given choices. Choices with zero or
// negative weight are kept in place but can never be drawn.
func New[K comparable](choices ...Choice[K]) Distribution[K] {
	d := Distribution[K]{choices: choices}
	for _, c := range choices {
		if c.Weight > 0 {
			d.total += c.Weight
		}
	}
	return d
}

// Pick draws one key proportionally to its weight.
func (d Distribution[K]) Pick(rng *rand.Rand) (K, error) {
	var zero K
	if d.total <= 0 {
		return zero, ErrNoChoices
	}
	target := rng.Float64() * d.total
	for _, c := range d.choices {
		if c.Weight <= 0 {
			continue
		}
		target -= c.Weight
		if target < 0 {
			return c.Key, nil
		}
	}
	// Float accumulation can leave target at ~0 past the last bucket.
	for i := len(d.choices) - 1; i >= 0; i-- {
		if d.choices[i].Weight > 0 {
			return d.choices[i].Key, nil
		}
	}
	return zero, ErrNoChoices
}

// Total returns the sum of positive weights.
func (d Distribution[K]) Total() float64 { return d.total }

// Len returns the number of choices, drawable or not.
func (d Distribution[K]) Len() int { return len(d.choices) }

// UniformInRange draws an integer uniformly from [lo, hi). It is the
// within-bucket companion to Pick for zone-style draws.
func UniformInRange(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.Intn(hi-lo)
}
