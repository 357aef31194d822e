package catalog

import (
	"context"
	"time"
)

// Stores are interface-driven so the engine can run against the real CRUD
// layer in production and against in-memory fixtures in tests without
// rewiring business code.

// ItemStore reads items and applies wear-statistic deltas.
type ItemStore interface {
	List(ctx context.Context) ([]Item, error)
	Get(ctx context.Context, id string) (Item, error)
	// ApplyWearStats applies each delta independently. Deltas referencing
	// items that no longer exist are skipped, not errors.
	ApplyWearStats(ctx context.Context, deltas map[string]WearStatsDelta) error
}

// SessionStore reads and annotates wear sessions.
type SessionStore interface {
	Open(ctx context.Context) ([]WearSession, error)
	OpenByType(ctx context.Context, t SessionType) ([]WearSession, error)
	ListRange(ctx context.Context, from, to time.Time) ([]WearSession, error)
	Annotate(ctx context.Context, sessionID, tzdResult string, executed bool) error
}

// PlanStore reads explicit wear plans.
type PlanStore interface {
	// Upcoming returns plans dated within [from, until).
	Upcoming(ctx context.Context, from, until time.Time) ([]WearPlan, error)
	// ForDate returns the plan for the given calendar date, if any.
	ForDate(ctx context.Context, date time.Time) (WearPlan, error)
}
