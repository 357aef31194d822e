// Package eligibility decides which catalog items are legally selectable
// right now. The filter is pure: it reads its inputs and returns a subset,
// with no side effects. An empty result is valid and propagates as "no
// instruction today".
package eligibility

import (
	"time"

	"protokoll/internal/catalog"
	"protokoll/internal/protocol/models"
)

// Input is the full context a filter pass evaluates against.
type Input struct {
	Items        []catalog.Item
	OpenSessions []catalog.WearSession
	// ReservedPlans are plans dated inside the reservation horizon; their
	// items are off limits.
	ReservedPlans []catalog.WearPlan
	Night         bool
	Now           time.Time
}

// Filter returns the items selectable under the given settings. All rules
// must hold for inclusion.
func Filter(in Input, cfg models.Settings) []catalog.Item {
	worn := make(map[string]struct{})
	for _, sess := range in.OpenSessions {
		for _, id := range sess.ItemIDs {
			worn[id] = struct{}{}
		}
	}

	reserved := make(map[string]struct{})
	for _, plan := range in.ReservedPlans {
		for _, id := range plan.ItemIDs {
			reserved[id] = struct{}{}
		}
	}

	resting := time.Duration(cfg.RestingHours) * time.Hour

	var out []catalog.Item
	for _, item := range in.Items {
		if item.Status != catalog.StatusActive {
			continue
		}
		if _, open := worn[item.ID]; open {
			continue
		}
		if _, res := reserved[item.ID]; res {
			continue
		}
		if !item.SuitablePeriod.Allows(in.Night) {
			continue
		}
		if !recovered(item, cfg.RecoveryCategory, resting, in.Now) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// recovered checks the resting window. It applies only to the
// recovery-sensitive category; the boundary is inclusive, so an item worn
// exactly RestingHours ago is selectable again.
func recovered(item catalog.Item, recoveryCategory string, resting time.Duration, now time.Time) bool {
	if item.Category != recoveryCategory {
		return true
	}
	if item.LastWornAt == nil {
		return true
	}
	return now.Sub(*item.LastWornAt) >= resting
}
