// Package selector performs the constrained random draws that turn an
// eligible item set into a daily instruction. The dampened sqrt scoring is
// intentional: large collections should not dominate selection, while
// operator-configured category weights still bias it.
package selector

import (
	"math"
	"math/rand"
	"sort"

	"protokoll/internal/catalog"
	"protokoll/internal/protocol/models"
	"protokoll/pkg/weighted"
)

// TargetCount draws how many items the instruction names, conditioned on the
// configured maximum.
func TargetCount(rng *rand.Rand, maxItems int) int {
	switch {
	case maxItems <= 1:
		return 1
	case maxItems == 2:
		if rng.Float64() < 0.75 {
			return 2
		}
		return 1
	default:
		d := weighted.New(
			weighted.Choice[int]{Key: 3, Weight: 0.55},
			weighted.Choice[int]{Key: 2, Weight: 0.40},
			weighted.Choice[int]{Key: 1, Weight: 0.05},
		)
		n, err := d.Pick(rng)
		if err != nil {
			return 1
		}
		return n
	}
}

// Select draws up to TargetCount items from the eligible set. Items group by
// subcategory (falling back to main category); each draw removes the chosen
// group from the pool so the result favors category diversity. When the pool
// runs dry before the count is met, groups with leftover items re-enter, so
// a single eligible group still yields multiple items.
func Select(rng *rand.Rand, eligible []catalog.Item, cfg models.Settings) []catalog.Item {
	if len(eligible) == 0 {
		return nil
	}

	count := TargetCount(rng, cfg.MaxOutfitItems)
	if count > len(eligible) {
		count = len(eligible)
	}

	pool := groupItems(eligible)
	var spent []*group
	picked := make([]catalog.Item, 0, count)

	for len(picked) < count {
		if len(pool) == 0 {
			pool, spent = refill(spent)
			if len(pool) == 0 {
				break
			}
		}

		choices := make([]weighted.Choice[string], 0, len(pool))
		for _, g := range pool {
			choices = append(choices, weighted.Choice[string]{
				Key:    g.key,
				Weight: g.score(cfg.CategoryWeights),
			})
		}
		key, err := weighted.New(choices...).Pick(rng)
		if err != nil {
			break
		}

		var chosen *group
		rest := pool[:0]
		for _, g := range pool {
			if g.key == key && chosen == nil {
				chosen = g
				continue
			}
			rest = append(rest, g)
		}
		pool = rest

		idx := rng.Intn(len(chosen.items))
		picked = append(picked, chosen.items[idx])
		chosen.items = append(chosen.items[:idx], chosen.items[idx+1:]...)
		spent = append(spent, chosen)
	}

	return picked
}

type group struct {
	key      string
	category string
	items    []catalog.Item
}

// score is sqrt(size) * userWeight, default weight 1. Weights key on the
// main category even when items group by subcategory.
func (g *group) score(userWeights map[string]float64) float64 {
	w := 1.0
	if uw, ok := userWeights[g.category]; ok && uw > 0 {
		w = uw
	}
	return math.Sqrt(float64(len(g.items))) * w
}

func groupItems(items []catalog.Item) []*group {
	byKey := make(map[string]*group)
	for _, item := range items {
		key := item.Subcategory
		if key == "" {
			key = item.Category
		}
		g, ok := byKey[key]
		if !ok {
			g = &group{key: key, category: item.Category}
			byKey[key] = g
		}
		g.items = append(g.items, item)
	}
	out := make([]*group, 0, len(byKey))
	for _, g := range byKey {
		out = append(out, g)
	}
	// Stable order keeps draws reproducible for a seeded source.
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func refill(spent []*group) (pool, rest []*group) {
	for _, g := range spent {
		if len(g.items) > 0 {
			pool = append(pool, g)
		}
	}
	return pool, nil
}
