package weighted

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickDeterministicForSeed(t *testing.T) {
	d := New(
		Choice[string]{Key: "a", Weight: 1},
		Choice[string]{Key: "b", Weight: 2},
		Choice[string]{Key: "c", Weight: 3},
	)

	first := make([]string, 0, 20)
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		k, err := d.Pick(rng)
		require.NoError(t, err)
		first = append(first, k)
	}

	rng = rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		k, err := d.Pick(rng)
		require.NoError(t, err)
		assert.Equal(t, first[i], k)
	}
}

func TestPickSkipsNonPositiveWeights(t *testing.T) {
	d := New(
		Choice[string]{Key: "dead", Weight: 0},
		Choice[string]{Key: "live", Weight: 1},
		Choice[string]{Key: "negative", Weight: -3},
	)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		k, err := d.Pick(rng)
		require.NoError(t, err)
		assert.Equal(t, "live", k)
	}
}

func TestPickEmptyDistribution(t *testing.T) {
	d := New[string]()
	_, err := d.Pick(rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestPickProportions(t *testing.T) {
	// 10k draws over 20/50/30 should land within ~2% of each weight.
	d := New(
		Choice[int]{Key: 0, Weight: 0.20},
		Choice[int]{Key: 1, Weight: 0.50},
		Choice[int]{Key: 2, Weight: 0.30},
	)
	rng := rand.New(rand.NewSource(7))

	const draws = 10000
	counts := make(map[int]int)
	for i := 0; i < draws; i++ {
		k, err := d.Pick(rng)
		require.NoError(t, err)
		counts[k]++
	}

	assert.InDelta(t, 0.20, float64(counts[0])/draws, 0.02)
	assert.InDelta(t, 0.50, float64(counts[1])/draws, 0.02)
	assert.InDelta(t, 0.30, float64(counts[2])/draws, 0.02)
}

func TestUniformInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 1000; i++ {
		v := UniformInRange(rng, 360, 720)
		assert.GreaterOrEqual(t, v, 360)
		assert.Less(t, v, 720)
	}
	assert.Equal(t, 5, UniformInRange(rng, 5, 5))
}
