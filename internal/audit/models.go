package audit

import (
	"context"
	"time"
)

// Event is emitted from domain logic to capture key engine actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        string
	Timestamp time.Time
	UserID    string
	// Kind names the action, e.g. "instruction_generated", "tzd_completed",
	// "ledger_spend_rejected".
	Kind   string
	Fields map[string]any
}

// Store is the append-only sink events land in.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByUser(ctx context.Context, userID string) ([]Event, error)
}
