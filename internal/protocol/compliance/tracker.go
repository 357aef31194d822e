// Package compliance verifies the fixed nightly checkpoints and maintains
// the ratcheting weekly wear goal.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"protokoll/internal/audit"
	"protokoll/internal/catalog"
	"protokoll/internal/protocol/models"
	"protokoll/internal/status/store"
	dErrors "protokoll/pkg/domain-errors"
	"protokoll/pkg/platform/sentinel"
)

const (
	// defaultDailyGoalHours seeds the ratchet before the first raise.
	defaultDailyGoalHours = 4.0

	// missedCheckpointPenaltyMinutes is charged per missed checkpoint when a
	// night fails verification.
	missedCheckpointPenaltyMinutes = 30

	// complianceLagLimitMinutes disqualifies a session from the ratchet
	// average when the user started it this late.
	complianceLagLimitMinutes = 30

	// nightStartHour and nightEndHour bound what counts as a night session
	// for ratchet purposes.
	nightStartHour = 22
	nightEndHour   = 6
)

// SettingsSource provides the current protocol settings.
type SettingsSource interface {
	Settings(ctx context.Context) (models.Settings, error)
}

// PunishmentRegistrar is where failed nights land.
type PunishmentRegistrar interface {
	Register(ctx context.Context, reason string, minutes int, deferred bool) (models.PunishmentRecord, error)
}

// Tracker is the compliance service.
type Tracker struct {
	store    store.Store
	sessions catalog.SessionStore
	settings SettingsSource
	punisher PunishmentRegistrar
	logger   *slog.Logger
	audits   *audit.Publisher
	userID   string
	now      func() time.Time
}

type Option func(*Tracker)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

func WithAuditPublisher(p *audit.Publisher) Option {
	return func(t *Tracker) { t.audits = p }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func New(st store.Store, sessions catalog.SessionStore, settings SettingsSource, punisher PunishmentRegistrar, userID string, opts ...Option) (*Tracker, error) {
	if st == nil {
		return nil, fmt.Errorf("status store is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if settings == nil {
		return nil, fmt.Errorf("settings source is required")
	}
	t := &Tracker{
		store:    st,
		sessions: sessions,
		settings: settings,
		punisher: punisher,
		logger:   slog.Default(),
		userID:   userID,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// VerifyNight checks whether every configured checkpoint on the given date
// was covered by an instruction-type session. The result is persisted with
// the missed checkpoints listed for diagnostics; a failed night registers a
// deferred punishment and blocks the next ratchet increase.
func (t *Tracker) VerifyNight(ctx context.Context, date time.Time) (models.CheckpointResult, error) {
	cfg, err := t.settings.Settings(ctx)
	if err != nil {
		return models.CheckpointResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load settings")
	}

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	sessions, err := t.sessions.ListRange(ctx, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return models.CheckpointResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list sessions")
	}

	now := t.now()
	result := models.CheckpointResult{
		Date:      dayStart.Format("2006-01-02"),
		CheckedAt: now,
	}
	for _, clock := range cfg.CheckpointTimes {
		instant, err := checkpointInstant(dayStart, clock)
		if err != nil {
			t.logger.Warn("skipping malformed checkpoint time", "value", clock, "error", err)
			continue
		}
		if coveredBy(sessions, instant, now) {
			result.Covered = append(result.Covered, clock)
		} else {
			result.Missed = append(result.Missed, clock)
		}
	}
	result.Success = len(result.Missed) == 0

	if err := t.store.Set(ctx, models.ComplianceKey(dayStart), result); err != nil {
		return models.CheckpointResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist checkpoint result")
	}

	if !result.Success && t.punisher != nil {
		penalty := missedCheckpointPenaltyMinutes * len(result.Missed)
		if _, err := t.punisher.Register(ctx, "night_checkpoints_missed", penalty, true); err != nil {
			t.logger.Error("failed to register checkpoint punishment", "error", err)
		}
	}

	t.emit(ctx, "night_verified", map[string]any{
		"date":    result.Date,
		"success": result.Success,
		"missed":  result.Missed,
	})
	return result, nil
}

// Goal returns the current daily goal, seeding the default on first read.
func (t *Tracker) Goal(ctx context.Context) (models.WeeklyGoal, error) {
	var goal models.WeeklyGoal
	_, err := t.store.GetOrCreate(ctx, models.KeyWeeklyGoal, models.WeeklyGoal{
		DailyGoalHours: defaultDailyGoalHours,
		UpdatedAt:      t.now(),
	}, &goal)
	if err != nil {
		return models.WeeklyGoal{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load weekly goal")
	}
	return goal, nil
}

// ApplyWeeklyRatchet recomputes the daily goal from the prior tracking
// week's qualifying sessions. The goal only moves up; a failed night in the
// prior week blocks the increase entirely.
func (t *Tracker) ApplyWeeklyRatchet(ctx context.Context, weekStart time.Time) (models.WeeklyGoal, error) {
	goal, err := t.Goal(ctx)
	if err != nil {
		return models.WeeklyGoal{}, err
	}

	priorStart := weekStart.AddDate(0, 0, -7)
	if blocked, err := t.ratchetBlocked(ctx, priorStart); err != nil {
		return models.WeeklyGoal{}, err
	} else if blocked {
		t.emit(ctx, "ratchet_blocked", map[string]any{"weekStart": weekStart.Format("2006-01-02")})
		return goal, nil
	}

	sessions, err := t.sessions.ListRange(ctx, priorStart, weekStart)
	if err != nil {
		return models.WeeklyGoal{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list sessions")
	}

	var total float64
	var count int
	for _, sess := range sessions {
		if !qualifies(sess) {
			continue
		}
		total += effectiveHours(sess)
		count++
	}
	if count == 0 {
		return goal, nil
	}

	average := total / float64(count)
	if average <= goal.DailyGoalHours {
		return goal, nil
	}

	goal.DailyGoalHours = average
	goal.UpdatedAt = t.now()
	if err := t.store.Set(ctx, models.KeyWeeklyGoal, goal); err != nil {
		return models.WeeklyGoal{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist weekly goal")
	}
	t.emit(ctx, "ratchet_raised", map[string]any{"dailyGoalHours": goal.DailyGoalHours})
	return goal, nil
}

func (t *Tracker) ratchetBlocked(ctx context.Context, priorStart time.Time) (bool, error) {
	for day := 0; day < 7; day++ {
		date := priorStart.AddDate(0, 0, day)
		var result models.CheckpointResult
		err := t.store.Get(ctx, models.ComplianceKey(date), &result)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read checkpoint result")
		}
		if !result.Success {
			return true, nil
		}
	}
	return false, nil
}

// qualifies keeps only closed instruction sessions that were neither night
// sessions nor started past the compliance lag limit.
func qualifies(sess catalog.WearSession) bool {
	if sess.Type != catalog.SessionInstruction || sess.Open() {
		return false
	}
	if sess.ComplianceLagMinutes > complianceLagLimitMinutes {
		return false
	}
	h := sess.StartedAt.Hour()
	if h >= nightStartHour || h < nightEndHour {
		return false
	}
	return true
}

// effectiveHours dampens TZD-earned durations so very long lock-ins do not
// dominate the ratchet.
func effectiveHours(sess catalog.WearSession) float64 {
	hours := sess.EndedAt.Sub(sess.StartedAt).Hours()
	if sess.TZDResult != string(models.ResultCompleted) {
		return hours
	}
	damped := hours * (1.12 - 0.02*hours)
	if damped <= 0 {
		return 0
	}
	return math.Sqrt(damped)
}

func checkpointInstant(dayStart time.Time, clock string) (time.Time, error) {
	parsed, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, err
	}
	return dayStart.Add(time.Duration(parsed.Hour())*time.Hour + time.Duration(parsed.Minute())*time.Minute), nil
}

func coveredBy(sessions []catalog.WearSession, instant, now time.Time) bool {
	for _, sess := range sessions {
		if sess.Type != catalog.SessionInstruction {
			continue
		}
		if sess.Contains(instant, now) {
			return true
		}
	}
	return false
}

func (t *Tracker) emit(ctx context.Context, kind string, fields map[string]any) {
	if t.audits == nil {
		return
	}
	if err := t.audits.Emit(ctx, audit.Event{UserID: t.userID, Kind: kind, Fields: fields}); err != nil {
		t.logger.Warn("audit emit failed", "kind", kind, "error", err)
	}
}
