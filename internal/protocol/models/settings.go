package models

import "time"

// Settings are the operator-tunable protocol constants, persisted under
// settings/protocol. Defaults() seeds the document on first run.
type Settings struct {
	// Selection.
	MaxOutfitItems  int                `json:"maxOutfitItems"`
	CategoryWeights map[string]float64 `json:"categoryWeights,omitempty"`

	// Eligibility.
	RestingHours            int    `json:"restingHours"`
	RecoveryCategory        string `json:"recoveryCategory"`
	ReservationHorizonHours int    `json:"reservationHorizonHours"`

	// Instruction.
	DefaultInstructionMinutes int `json:"defaultInstructionMinutes"`

	// Forced release. Method weights are normalized before use; a sum far
	// from 1 is logged, never silently replicated as threshold bias.
	ForcedReleaseProbability float64            `json:"forcedReleaseProbability"`
	ReleaseMethodWeights     map[string]float64 `json:"releaseMethodWeights,omitempty"`

	// Compliance checkpoints, "HH:MM" local clock times.
	CheckpointTimes []string `json:"checkpointTimes"`

	TZD        TZDSettings        `json:"tzd"`
	Punishment PunishmentSettings `json:"punishment"`
}

// TZDSettings tune the lock-in protocol.
type TZDSettings struct {
	TriggerProbability float64      `json:"triggerProbability"`
	TriggerWeekday     time.Weekday `json:"triggerWeekday"`
	TriggerStartHour   int          `json:"triggerStartHour"`
	TriggerEndHour     int          `json:"triggerEndHour"`
	// EligibleCategories qualify a session for triggering: at least one of
	// its items must belong to one of these.
	EligibleCategories []string `json:"eligibleCategories"`
	MaxHours           float64  `json:"maxHours"`
	// ZoneWeights cover [max/6, max/3), [max/3, 2max/3), [2max/3, max].
	ZoneWeights            [3]float64 `json:"zoneWeights"`
	AppOpenPenaltyMinutes  int        `json:"appOpenPenaltyMinutes"`
	AbortPunishmentMinutes int        `json:"abortPunishmentMinutes"`
}

// InWindow reports whether now falls inside the weekly trigger window.
func (t TZDSettings) InWindow(now time.Time) bool {
	if now.Weekday() != t.TriggerWeekday {
		return false
	}
	h := now.Hour()
	return h >= t.TriggerStartHour && h < t.TriggerEndHour
}

// PunishmentSettings define the daily execution window in which deferred
// punishments become active.
type PunishmentSettings struct {
	WindowStartHour int `json:"windowStartHour"`
	WindowEndHour   int `json:"windowEndHour"`
}

// WindowOpen reports whether the execution window is open at now.
func (p PunishmentSettings) WindowOpen(now time.Time) bool {
	h := now.Hour()
	return h >= p.WindowStartHour && h < p.WindowEndHour
}

// Defaults returns the factory settings.
func Defaults() Settings {
	return Settings{
		MaxOutfitItems:            3,
		RestingHours:              48,
		RecoveryCategory:          "corsetry",
		ReservationHorizonHours:   48,
		DefaultInstructionMinutes: 240,
		ForcedReleaseProbability:  0.15,
		ReleaseMethodWeights: map[string]float64{
			"standard": 0.5,
			"extended": 0.3,
			"strict":   0.2,
		},
		CheckpointTimes: []string{"01:30", "03:00", "04:30", "06:00"},
		TZD: TZDSettings{
			TriggerProbability:     0.25,
			TriggerWeekday:         time.Saturday,
			TriggerStartHour:       10,
			TriggerEndHour:         22,
			EligibleCategories:     []string{"corsetry"},
			MaxHours:               36,
			ZoneWeights:            [3]float64{0.20, 0.50, 0.30},
			AppOpenPenaltyMinutes:  15,
			AbortPunishmentMinutes: 180,
		},
		Punishment: PunishmentSettings{
			WindowStartHour: 18,
			WindowEndHour:   23,
		},
	}
}
