// Package catalog is the read surface the engine consumes from the
// surrounding CRUD layer: owned items, wear sessions, and explicit wear
// plans. The engine never creates or deletes items; it only reads them and
// applies wear-statistic deltas when a lock completes.
package catalog

import "time"

// ItemStatus is the lifecycle status of an owned item.
type ItemStatus string

const (
	StatusActive   ItemStatus = "active"
	StatusWashing  ItemStatus = "washing"
	StatusArchived ItemStatus = "archived"
)

// SuitablePeriod restricts when an item may be selected.
type SuitablePeriod string

const (
	PeriodDay    SuitablePeriod = "day"
	PeriodNight  SuitablePeriod = "night"
	PeriodEither SuitablePeriod = "either"
)

// Allows reports whether the period permits selection for the given phase.
func (p SuitablePeriod) Allows(night bool) bool {
	switch p {
	case PeriodDay:
		return !night
	case PeriodNight:
		return night
	default:
		return true
	}
}

// Item is one owned item of the catalog.
type Item struct {
	ID             string
	Name           string
	Category       string
	Subcategory    string
	Status         ItemStatus
	SuitablePeriod SuitablePeriod
	LastWornAt     *time.Time
	WearCount      int
	TotalMinutes   int
}

// SessionType records why a wear session exists.
type SessionType string

const (
	SessionVoluntary   SessionType = "voluntary"
	SessionInstruction SessionType = "instruction"
	SessionPunishment  SessionType = "punishment"
	SessionPlanned     SessionType = "planned"
)

// WearSession is a period during which one or more items are worn. EndedAt
// is nil while the session is open; at most one open session exists per item.
type WearSession struct {
	ID                   string
	ItemIDs              []string
	Type                 SessionType
	StartedAt            time.Time
	EndedAt              *time.Time
	ComplianceLagMinutes int

	// Forced and LossDriven qualify the session for the time bank's hard
	// zero-credit gate alongside Type == SessionPunishment.
	Forced     bool
	LossDriven bool

	// TZD annotations. Once TZDExecuted is set the trigger check never
	// reconsiders this session.
	TZDResult   string
	TZDExecuted bool
}

// Open reports whether the session is still running.
func (s WearSession) Open() bool { return s.EndedAt == nil }

// EndOrNow returns the session end, or now for open sessions.
func (s WearSession) EndOrNow(now time.Time) time.Time {
	if s.EndedAt != nil {
		return *s.EndedAt
	}
	return now
}

// Contains reports whether the instant falls inside [start, end|now].
func (s WearSession) Contains(instant, now time.Time) bool {
	if instant.Before(s.StartedAt) {
		return false
	}
	return !instant.After(s.EndOrNow(now))
}

// DurationMinutes is the session length in whole minutes as of now.
func (s WearSession) DurationMinutes(now time.Time) int {
	return int(s.EndOrNow(now).Sub(s.StartedAt).Minutes())
}

// Includes reports whether the session covers the given item.
func (s WearSession) Includes(itemID string) bool {
	for _, id := range s.ItemIDs {
		if id == itemID {
			return true
		}
	}
	return false
}

// WearPlan reserves items for a specific date. A plan within the reservation
// horizon removes its items from eligibility, and a plan for today replaces
// selection entirely.
type WearPlan struct {
	ID      string
	Date    time.Time
	ItemIDs []string
}

// WearStatsDelta is the per-item statistics update applied when a lock
// completes.
type WearStatsDelta struct {
	WearCount int
	Minutes   int
	WornAt    time.Time
}
