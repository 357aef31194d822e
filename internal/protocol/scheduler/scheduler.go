// Package scheduler drives the engine's polling model. Three loops run
// concurrently: a slow trigger loop for state that changes on the scale of
// hours, a progress loop that keeps an active lock's accumulated time
// current, and a fast check-in loop that only runs while the lock overlay
// is shown. Every pass re-reads authoritative state before acting, so a
// missed or duplicated tick is harmless.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"protokoll/internal/protocol/models"
	"protokoll/internal/protocol/tzd"
	"protokoll/internal/status/store"
	dErrors "protokoll/pkg/domain-errors"
	"protokoll/pkg/platform/sentinel"
)

// Lock is the TZD surface the scheduler drives.
type Lock interface {
	EvaluateTrigger(ctx context.Context) (bool, error)
	CheckIn(ctx context.Context) (tzd.Status, error)
	Status(ctx context.Context) (tzd.Status, error)
}

// Instructions generates the current period's directive.
type Instructions interface {
	Generate(ctx context.Context, period models.PeriodID) (*models.DailyInstruction, error)
}

// Punishments promotes deferred records when the execution window opens.
type Punishments interface {
	PromoteDeferred(ctx context.Context, cfg models.PunishmentSettings) error
}

// LedgerMaintenance applies the periodic debt and balance adjustments. Both
// operations carry their own once-per-period guards.
type LedgerMaintenance interface {
	ApplyDailyInterest(ctx context.Context) error
	ApplyWeeklyInflation(ctx context.Context) error
}

// Compliance verifies nights and maintains the weekly ratchet.
type Compliance interface {
	VerifyNight(ctx context.Context, date time.Time) (models.CheckpointResult, error)
	ApplyWeeklyRatchet(ctx context.Context, weekStart time.Time) (models.WeeklyGoal, error)
}

// SettingsSource provides the current protocol settings.
type SettingsSource interface {
	Settings(ctx context.Context) (models.Settings, error)
}

// Intervals are the loop periods.
type Intervals struct {
	Trigger  time.Duration
	Progress time.Duration
	CheckIn  time.Duration
}

// Scheduler runs the engine's periodic work.
type Scheduler struct {
	store        store.Store
	lock         Lock
	instructions Instructions
	punishments  Punishments
	ledger       LedgerMaintenance
	compliance   Compliance
	settings     SettingsSource
	intervals    Intervals
	logger       *slog.Logger
	now          func() time.Time

	overlayActive atomic.Bool
	// lastRatchetWeek dedupes the weekly ratchet so audit output stays
	// quiet; the ratchet itself is safe to re-run.
	lastRatchetWeek string
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(st store.Store, lock Lock, instructions Instructions, punishments Punishments, ledger LedgerMaintenance, compliance Compliance, settings SettingsSource, intervals Intervals, opts ...Option) (*Scheduler, error) {
	if st == nil {
		return nil, fmt.Errorf("status store is required")
	}
	if lock == nil || instructions == nil {
		return nil, fmt.Errorf("lock engine and instruction generator are required")
	}
	if intervals.Trigger <= 0 || intervals.Progress <= 0 || intervals.CheckIn <= 0 {
		return nil, fmt.Errorf("all intervals must be positive")
	}
	s := &Scheduler{
		store:        st,
		lock:         lock,
		instructions: instructions,
		punishments:  punishments,
		ledger:       ledger,
		compliance:   compliance,
		settings:     settings,
		intervals:    intervals,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetOverlayActive gates the fast check-in loop. The client toggles it when
// the lock overlay is shown or dismissed.
func (s *Scheduler) SetOverlayActive(active bool) {
	s.overlayActive.Store(active)
}

// OverlayActive reports the current overlay gate.
func (s *Scheduler) OverlayActive() bool {
	return s.overlayActive.Load()
}

// Run blocks until the context is cancelled. The trigger pass runs once
// immediately so a fresh start does not wait a full interval for its
// instruction.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.triggerPass(ctx)
		return s.loop(ctx, s.intervals.Trigger, s.triggerPass)
	})
	g.Go(func() error {
		return s.loop(ctx, s.intervals.Progress, s.progressPass)
	})
	g.Go(func() error {
		return s.loop(ctx, s.intervals.CheckIn, s.checkInPass)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, pass func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pass(ctx)
		}
	}
}

// triggerPass is the slow loop body: current-period instruction, lock
// trigger evaluation, punishment promotion, ledger maintenance, nightly
// verification, and the weekly ratchet.
func (s *Scheduler) triggerPass(ctx context.Context) {
	now := s.now()

	if _, err := s.instructions.Generate(ctx, models.PeriodFor(now)); err != nil {
		s.logger.Error("instruction generation failed", "error", err)
	}

	if _, err := s.lock.EvaluateTrigger(ctx); err != nil {
		s.logger.Error("lock trigger evaluation failed", "error", err)
	}

	if s.punishments != nil && s.settings != nil {
		cfg, err := s.settings.Settings(ctx)
		if err != nil {
			s.logger.Error("settings load failed", "error", err)
		} else if err := s.punishments.PromoteDeferred(ctx, cfg.Punishment); err != nil {
			s.logger.Error("punishment promotion failed", "error", err)
		}
	}

	if s.ledger != nil {
		if err := s.ledger.ApplyDailyInterest(ctx); err != nil {
			s.logger.Error("daily interest failed", "error", err)
		}
		if err := s.ledger.ApplyWeeklyInflation(ctx); err != nil {
			s.logger.Error("weekly inflation failed", "error", err)
		}
	}

	if s.compliance != nil {
		s.verifyNight(ctx, now)
		s.ratchet(ctx, now)
	}
}

// verifyNight runs once per date, after the morning boundary, and only when
// no result was recorded yet. The store is the authoritative guard because
// verification registers punishments on failure.
func (s *Scheduler) verifyNight(ctx context.Context, now time.Time) {
	if now.Hour() < models.DayStartHour {
		return
	}

	var existing models.CheckpointResult
	err := s.store.Get(ctx, models.ComplianceKey(now), &existing)
	if err == nil {
		return
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.Error("checkpoint result read failed", "error", err)
		return
	}

	if _, err := s.compliance.VerifyNight(ctx, now); err != nil {
		s.logger.Error("night verification failed", "error", err)
	}
}

func (s *Scheduler) ratchet(ctx context.Context, now time.Time) {
	weekStart := startOfWeek(now)
	week := weekStart.Format("2006-01-02")
	if week == s.lastRatchetWeek {
		return
	}
	if _, err := s.compliance.ApplyWeeklyRatchet(ctx, weekStart); err != nil {
		s.logger.Error("weekly ratchet failed", "error", err)
		return
	}
	s.lastRatchetWeek = week
}

// progressPass keeps an active lock's accumulated minutes current.
func (s *Scheduler) progressPass(ctx context.Context) {
	status, err := s.lock.Status(ctx)
	if err != nil {
		s.logger.Error("lock status read failed", "error", err)
		return
	}
	if !status.IsActive || status.Stage != models.StageRunning {
		return
	}
	if _, err := s.lock.CheckIn(ctx); err != nil && !dErrors.HasCode(err, dErrors.CodeInvalidState) {
		s.logger.Error("lock progress check-in failed", "error", err)
	}
}

// checkInPass is the fast loop body. It only runs while the overlay is up.
func (s *Scheduler) checkInPass(ctx context.Context) {
	if !s.overlayActive.Load() {
		return
	}
	s.progressPass(ctx)
}

// startOfWeek returns Monday 00:00 of now's week, in now's location.
func startOfWeek(now time.Time) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
