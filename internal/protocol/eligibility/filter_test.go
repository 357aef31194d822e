package eligibility

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"protokoll/internal/catalog"
	"protokoll/internal/protocol/models"
)

func testSettings() models.Settings {
	cfg := models.Defaults()
	cfg.RecoveryCategory = "corsetry"
	cfg.RestingHours = 48
	return cfg
}

func activeItem(id, category string, period catalog.SuitablePeriod) catalog.Item {
	return catalog.Item{
		ID:             id,
		Category:       category,
		Status:         catalog.StatusActive,
		SuitablePeriod: period,
	}
}

func ids(items []catalog.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestFilterExcludesNonActiveStatuses(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	washing := activeItem("w", "hosiery", catalog.PeriodEither)
	washing.Status = catalog.StatusWashing
	archived := activeItem("a", "hosiery", catalog.PeriodEither)
	archived.Status = catalog.StatusArchived

	got := Filter(Input{
		Items: []catalog.Item{washing, archived, activeItem("ok", "hosiery", catalog.PeriodEither)},
		Now:   now,
	}, testSettings())

	assert.Equal(t, []string{"ok"}, ids(got))
}

func TestFilterExcludesItemsInOpenSessions(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	got := Filter(Input{
		Items: []catalog.Item{
			activeItem("worn", "hosiery", catalog.PeriodEither),
			activeItem("free", "hosiery", catalog.PeriodEither),
		},
		OpenSessions: []catalog.WearSession{
			{ID: "s1", ItemIDs: []string{"worn"}, StartedAt: now.Add(-time.Hour)},
		},
		Now: now,
	}, testSettings())

	assert.Equal(t, []string{"free"}, ids(got))
}

func TestFilterRecoveryWindowBoundaryInclusive(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	cfg := testSettings()

	inside := activeItem("inside", "corsetry", catalog.PeriodEither)
	wornRecently := now.Add(-47 * time.Hour)
	inside.LastWornAt = &wornRecently

	boundary := activeItem("boundary", "corsetry", catalog.PeriodEither)
	wornExactly := now.Add(-48 * time.Hour)
	boundary.LastWornAt = &wornExactly

	otherCategory := activeItem("other", "hosiery", catalog.PeriodEither)
	otherCategory.LastWornAt = &wornRecently

	got := Filter(Input{
		Items: []catalog.Item{inside, boundary, otherCategory},
		Now:   now,
	}, cfg)

	assert.ElementsMatch(t, []string{"boundary", "other"}, ids(got),
		"only the recovery-sensitive category rests, and exactly RestingHours is enough")
}

func TestFilterExcludesPlanReservedItems(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	got := Filter(Input{
		Items: []catalog.Item{
			activeItem("reserved", "hosiery", catalog.PeriodEither),
			activeItem("free", "hosiery", catalog.PeriodEither),
		},
		ReservedPlans: []catalog.WearPlan{
			{ID: "p1", Date: now.Add(24 * time.Hour), ItemIDs: []string{"reserved"}},
		},
		Now: now,
	}, testSettings())

	assert.Equal(t, []string{"free"}, ids(got))
}

func TestFilterPeriodCompatibility(t *testing.T) {
	now := time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC)
	items := []catalog.Item{
		activeItem("day", "hosiery", catalog.PeriodDay),
		activeItem("night", "hosiery", catalog.PeriodNight),
		activeItem("either", "hosiery", catalog.PeriodEither),
	}

	atNight := Filter(Input{Items: items, Night: true, Now: now}, testSettings())
	assert.ElementsMatch(t, []string{"night", "either"}, ids(atNight))

	atDay := Filter(Input{Items: items, Night: false, Now: now}, testSettings())
	assert.ElementsMatch(t, []string{"day", "either"}, ids(atDay))
}

func TestFilterEmptyResultIsValid(t *testing.T) {
	got := Filter(Input{Now: time.Now()}, testSettings())
	assert.Empty(t, got)
}
