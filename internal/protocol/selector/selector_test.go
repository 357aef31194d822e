package selector

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"protokoll/internal/catalog"
	"protokoll/internal/protocol/models"
)

func item(id, category, subcategory string) catalog.Item {
	return catalog.Item{
		ID:          id,
		Category:    category,
		Subcategory: subcategory,
		Status:      catalog.StatusActive,
	}
}

func TestTargetCountDistribution(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	t.Run("max 1 is always 1", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			assert.Equal(t, 1, TargetCount(rng, 1))
		}
	})

	t.Run("max 2 splits 75/25", func(t *testing.T) {
		counts := map[int]int{}
		const draws = 10000
		for i := 0; i < draws; i++ {
			counts[TargetCount(rng, 2)]++
		}
		assert.InDelta(t, 0.75, float64(counts[2])/draws, 0.02)
		assert.InDelta(t, 0.25, float64(counts[1])/draws, 0.02)
	})

	t.Run("max 3 splits 55/40/5", func(t *testing.T) {
		counts := map[int]int{}
		const draws = 10000
		for i := 0; i < draws; i++ {
			counts[TargetCount(rng, 3)]++
		}
		assert.InDelta(t, 0.55, float64(counts[3])/draws, 0.02)
		assert.InDelta(t, 0.40, float64(counts[2])/draws, 0.02)
		assert.InDelta(t, 0.05, float64(counts[1])/draws, 0.02)
	})
}

func TestSelectEmptyEligibleSet(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	assert.Nil(t, Select(rng, nil, models.Defaults()))
}

func TestSelectFavorsCategoryDiversity(t *testing.T) {
	cfg := models.Defaults()
	cfg.MaxOutfitItems = 3
	rng := rand.New(rand.NewSource(5))

	eligible := []catalog.Item{
		item("a1", "hosiery", "stockings"), item("a2", "hosiery", "stockings"),
		item("b1", "corsetry", "underbust"), item("b2", "corsetry", "underbust"),
		item("c1", "footwear", "heels"), item("c2", "footwear", "heels"),
		item("d1", "dresses", "gowns"), item("d2", "dresses", "gowns"),
	}

	// With four distinct groups available, a single selection never names
	// the same group twice.
	for i := 0; i < 200; i++ {
		picked := Select(rng, eligible, cfg)
		require.NotEmpty(t, picked)
		seen := map[string]int{}
		for _, it := range picked {
			seen[it.Subcategory]++
		}
		for sub, n := range seen {
			assert.Equal(t, 1, n, "group %s picked more than once", sub)
		}
	}
}

func TestSelectDegradesToSingleGroup(t *testing.T) {
	cfg := models.Defaults()
	cfg.MaxOutfitItems = 3
	rng := rand.New(rand.NewSource(9))

	eligible := []catalog.Item{
		item("a1", "hosiery", "stockings"),
		item("a2", "hosiery", "stockings"),
		item("a3", "hosiery", "stockings"),
	}

	sawMultiple := false
	for i := 0; i < 100; i++ {
		picked := Select(rng, eligible, cfg)
		require.NotEmpty(t, picked)
		seen := map[string]bool{}
		for _, it := range picked {
			assert.False(t, seen[it.ID], "item %s picked twice", it.ID)
			seen[it.ID] = true
		}
		if len(picked) > 1 {
			sawMultiple = true
		}
	}
	assert.True(t, sawMultiple, "a lone group must still yield multi-item draws")
}

func TestSelectNeverExceedsEligible(t *testing.T) {
	cfg := models.Defaults()
	cfg.MaxOutfitItems = 3
	rng := rand.New(rand.NewSource(2))

	eligible := []catalog.Item{item("only", "hosiery", "")}
	for i := 0; i < 50; i++ {
		picked := Select(rng, eligible, cfg)
		assert.Len(t, picked, 1)
	}
}

func TestSelectRespectsUserWeights(t *testing.T) {
	cfg := models.Defaults()
	cfg.MaxOutfitItems = 1
	cfg.CategoryWeights = map[string]float64{"corsetry": 8}
	rng := rand.New(rand.NewSource(13))

	eligible := []catalog.Item{
		item("h", "hosiery", ""),
		item("c", "corsetry", ""),
	}

	corsetry := 0
	const draws = 5000
	for i := 0; i < draws; i++ {
		picked := Select(rng, eligible, cfg)
		require.Len(t, picked, 1)
		if picked[0].Category == "corsetry" {
			corsetry++
		}
	}
	// Weight 8 vs 1 over equal-size groups: expect ~8/9.
	assert.InDelta(t, 8.0/9.0, float64(corsetry)/draws, 0.02)
}
