// Package models holds the persisted record types of the protocol engine and
// the document keys they live under. All mutation goes through the services;
// the presentation layer only renders what the query surface returns.
package models

import (
	"fmt"
	"time"
)

// Document keys in the status store.
const (
	KeyTZD        = "status/tzd"
	KeyTimeBank   = "status/timeBank"
	KeyPunishment = "status/punishment"
	KeyWeeklyGoal = "status/weeklyGoal"
	KeySettings   = "settings/protocol"
)

// InstructionKey returns the document key for a period's instruction.
func InstructionKey(period PeriodID) string {
	return "status/dailyInstruction:" + string(period)
}

// ComplianceKey returns the document key for a date's checkpoint result.
func ComplianceKey(date time.Time) string {
	return "status/compliance:" + date.Format("2006-01-02")
}

// PeriodID keys one instruction slot: a calendar date plus a day/night flag.
type PeriodID string

// NewPeriodID builds the period key for a date and phase.
func NewPeriodID(date time.Time, night bool) PeriodID {
	phase := "day"
	if night {
		phase = "night"
	}
	return PeriodID(fmt.Sprintf("%s:%s", date.Format("2006-01-02"), phase))
}

// Night reports whether the period is the night phase.
func (p PeriodID) Night() bool {
	return len(p) > 6 && string(p[len(p)-5:]) == "night"
}

// Date returns the period's calendar date at midnight UTC.
func (p PeriodID) Date() (time.Time, error) {
	if len(p) < 10 {
		return time.Time{}, fmt.Errorf("malformed period id %q", p)
	}
	return time.Parse("2006-01-02", string(p[:10]))
}

// Phase boundaries. Hours before DayStartHour still belong to the previous
// date's night period.
const (
	DayStartHour   = 8
	NightStartHour = 22
)

// PeriodFor derives the period a wall-clock instant belongs to.
func PeriodFor(now time.Time) PeriodID {
	h := now.Hour()
	switch {
	case h >= NightStartHour:
		return NewPeriodID(now, true)
	case h < DayStartHour:
		return NewPeriodID(now.AddDate(0, 0, -1), true)
	default:
		return NewPeriodID(now, false)
	}
}

// ForcedRelease is the optional obligation attached to a night instruction.
type ForcedRelease struct {
	Required bool   `json:"required"`
	Executed bool   `json:"executed"`
	Method   string `json:"method,omitempty"`
}

// InstructionSource records how the directive was produced.
type InstructionSource string

const (
	SourceSelection InstructionSource = "selection"
	SourcePlan      InstructionSource = "plan"
)

// DailyInstruction is the day's directive. One live instruction exists per
// period; the first writer for a period wins.
type DailyInstruction struct {
	PeriodID        PeriodID          `json:"periodId"`
	ItemIDs         []string          `json:"itemIds"`
	Source          InstructionSource `json:"source"`
	IsAccepted      bool              `json:"isAccepted"`
	AcceptedAt      *time.Time        `json:"acceptedAt,omitempty"`
	DurationMinutes int               `json:"durationMinutes"`
	// OriginalDurationMinutes anchors the one-third reduction cap across
	// repeated accept attempts.
	OriginalDurationMinutes int           `json:"originalDurationMinutes"`
	ForcedRelease           ForcedRelease `json:"forcedRelease"`
	// Escalated marks the instruction for follow-up after a TZD failure.
	// Cleared when a lock is terminated by an approved suspension.
	Escalated bool      `json:"escalated"`
	CreatedAt time.Time `json:"createdAt"`
}

// TZDStage is the non-terminal stage of an active lock.
type TZDStage string

const (
	StageBriefing TZDStage = "briefing"
	StageRunning  TZDStage = "running"
)

// TZDResult is the terminal outcome of a lock.
type TZDResult string

const (
	ResultCompleted TZDResult = "completed"
	ResultFailed    TZDResult = "failed"
	ResultSuspended TZDResult = "terminated_by_suspension"
)

// TZDState is the singleton-per-user lock record. At most one instance may
// be active at a time; the engine enforces this at the aggregate boundary.
// TargetDurationMinutes is drawn once at trigger time and never exposed
// through the query surface.
type TZDState struct {
	IsActive              bool       `json:"isActive"`
	Stage                 TZDStage   `json:"stage,omitempty"`
	StartTime             time.Time  `json:"startTime"`
	TargetDurationMinutes int        `json:"targetDurationMinutes"`
	AccumulatedMinutes    int        `json:"accumulatedMinutes"`
	LockedItemIDs         []string   `json:"lockedItems"`
	SessionID             string     `json:"sessionId,omitempty"`
	Result                TZDResult  `json:"result,omitempty"`
	ResolvedAt            *time.Time `json:"resolvedAt,omitempty"`
}

// Account names one of the two time bank currencies.
type Account string

const (
	AccountNC Account = "nc"
	AccountLC Account = "lc"
)

// Valid reports whether the account name is one of the two currencies.
func (a Account) Valid() bool { return a == AccountNC || a == AccountLC }

// TimeBankAccount holds both balances in minutes. Balances may be negative
// down to the debt floor; no operation may push them further.
type TimeBankAccount struct {
	NC               int       `json:"nc"`
	LC               int       `json:"lc"`
	LastInterestDate string    `json:"lastInterestDate,omitempty"`
	LastInflationAt  time.Time `json:"lastInflationAt"`
}

// Balance returns the named balance.
func (t TimeBankAccount) Balance(a Account) int {
	if a == AccountLC {
		return t.LC
	}
	return t.NC
}

// SetBalance writes the named balance.
func (t *TimeBankAccount) SetBalance(a Account, v int) {
	if a == AccountLC {
		t.LC = v
		return
	}
	t.NC = v
}

// PunishmentRecord is the single outstanding punitive obligation. Deferred
// records resolve to active automatically once an execution window opens.
type PunishmentRecord struct {
	ID              string     `json:"id"`
	Active          bool       `json:"active"`
	Deferred        bool       `json:"deferred"`
	Reason          string     `json:"reason"`
	DurationMinutes int        `json:"durationMinutes"`
	RegisteredAt    time.Time  `json:"registeredAt"`
	ActivatedAt     *time.Time `json:"activatedAt,omitempty"`
}

// Outstanding reports whether the record still demands execution.
func (p PunishmentRecord) Outstanding() bool { return p.Active || p.Deferred }

// CheckpointResult records which fixed nightly checkpoints a date covered.
type CheckpointResult struct {
	Date      string    `json:"date"`
	Covered   []string  `json:"covered"`
	Missed    []string  `json:"missed"`
	Success   bool      `json:"success"`
	CheckedAt time.Time `json:"checkedAt"`
}

// WeeklyGoal is the ratcheting daily wear goal. It only ever increases
// automatically.
type WeeklyGoal struct {
	DailyGoalHours float64   `json:"dailyGoalHours"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
