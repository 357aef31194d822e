// Package tzd runs the indefinite-duration lock-in protocol. A trigger draws
// a secret target duration, the user acknowledges the briefing, and periodic
// check-ins advance the lock until it resolves. Wear statistics are granted
// on completion only.
package tzd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"protokoll/internal/audit"
	"protokoll/internal/catalog"
	"protokoll/internal/platform/metrics"
	"protokoll/internal/protocol/models"
	"protokoll/internal/status/store"
	dErrors "protokoll/pkg/domain-errors"
	"protokoll/pkg/platform/sentinel"
	"protokoll/pkg/weighted"
)

// SettingsSource provides the current protocol settings.
type SettingsSource interface {
	Settings(ctx context.Context) (models.Settings, error)
}

// PunishmentRegistrar receives the fixed-duration punishment on emergency
// abort.
type PunishmentRegistrar interface {
	Register(ctx context.Context, reason string, minutes int, deferred bool) (models.PunishmentRecord, error)
}

// Status is the user-visible lock state. The drawn target duration is
// deliberately absent.
type Status struct {
	IsActive           bool             `json:"isActive"`
	Stage              models.TZDStage  `json:"stage,omitempty"`
	StartTime          time.Time        `json:"startTime"`
	AccumulatedMinutes int              `json:"accumulatedMinutes"`
	LockedItemIDs      []string         `json:"lockedItems,omitempty"`
	Result             models.TZDResult `json:"result,omitempty"`
}

// Engine is the TZD state machine service.
type Engine struct {
	store    store.Store
	items    catalog.ItemStore
	sessions catalog.SessionStore
	settings SettingsSource
	punisher PunishmentRegistrar
	logger   *slog.Logger
	audits   *audit.Publisher
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	userID   string
	now      func() time.Time
	rng      *rand.Rand
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithAuditPublisher(p *audit.Publisher) Option {
	return func(e *Engine) { e.audits = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRand overrides the random source for deterministic tests.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

func New(st store.Store, items catalog.ItemStore, sessions catalog.SessionStore, settings SettingsSource, punisher PunishmentRegistrar, userID string, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("status store is required")
	}
	if items == nil || sessions == nil {
		return nil, fmt.Errorf("catalog stores are required")
	}
	if settings == nil {
		return nil, fmt.Errorf("settings source is required")
	}
	e := &Engine{
		store:    st,
		items:    items,
		sessions: sessions,
		settings: settings,
		punisher: punisher,
		logger:   slog.Default(),
		tracer:   otel.Tracer("protokoll/tzd"),
		userID:   userID,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Status returns the user-visible lock state. A missing document reads as
// inactive.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	state, err := e.load(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		IsActive:           state.IsActive,
		Stage:              state.Stage,
		StartTime:          state.StartTime,
		AccumulatedMinutes: state.AccumulatedMinutes,
		LockedItemIDs:      state.LockedItemIDs,
		Result:             state.Result,
	}, nil
}

// EvaluateTrigger is called by the scheduler. It re-reads authoritative
// state first: an already active lock, a closed trigger window, no
// qualifying session, or a failed probability roll all leave the state
// untouched. On success the whole item set of the qualifying session is
// snapshotted and the target duration is drawn once.
func (e *Engine) EvaluateTrigger(ctx context.Context) (bool, error) {
	state, err := e.load(ctx)
	if err != nil {
		return false, err
	}
	if state.IsActive {
		return false, nil
	}

	cfg, err := e.settings.Settings(ctx)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load settings")
	}
	now := e.now()
	if !cfg.TZD.InWindow(now) {
		return false, nil
	}

	session, ok, err := e.qualifyingSession(ctx, cfg.TZD)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if e.rng.Float64() >= cfg.TZD.TriggerProbability {
		return false, nil
	}

	target := drawTarget(e.rng, cfg.TZD)
	next := models.TZDState{
		IsActive:              true,
		Stage:                 models.StageBriefing,
		StartTime:             now,
		TargetDurationMinutes: target,
		LockedItemIDs:         append([]string(nil), session.ItemIDs...),
		SessionID:             session.ID,
	}
	if err := e.store.Set(ctx, models.KeyTZD, next); err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist trigger")
	}

	if e.metrics != nil {
		e.metrics.TZDTriggered.Inc()
	}
	e.emit(ctx, "tzd_triggered", map[string]any{"sessionId": session.ID, "items": len(next.LockedItemIDs)})
	return true, nil
}

// Acknowledge moves briefing to running and resets the start time to the
// acknowledgement instant.
func (e *Engine) Acknowledge(ctx context.Context) (Status, error) {
	state, err := e.load(ctx)
	if err != nil {
		return Status{}, err
	}
	if !state.IsActive || state.Stage != models.StageBriefing {
		return Status{}, dErrors.New(dErrors.CodeInvalidState, "no lock awaiting acknowledgement")
	}

	now := e.now()
	err = e.store.Update(ctx, models.KeyTZD, map[string]any{
		"stage":     models.StageRunning,
		"startTime": now,
	})
	if err != nil {
		return Status{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to acknowledge lock")
	}
	e.emit(ctx, "tzd_acknowledged", nil)
	return e.Status(ctx)
}

// CheckIn recomputes elapsed time. At or past the target the lock completes
// and every locked item receives its wear statistics; otherwise the
// accumulated minutes persist and the lock stays running.
func (e *Engine) CheckIn(ctx context.Context) (Status, error) {
	ctx, span := e.tracer.Start(ctx, "tzd.CheckIn")
	defer span.End()

	state, err := e.load(ctx)
	if err != nil {
		return Status{}, err
	}
	if !state.IsActive || state.Stage != models.StageRunning {
		return Status{}, dErrors.New(dErrors.CodeInvalidState, "no running lock")
	}

	now := e.now()
	elapsed := int(now.Sub(state.StartTime).Minutes())
	if elapsed >= state.TargetDurationMinutes {
		state.AccumulatedMinutes = elapsed
		if err := e.resolve(ctx, state, models.ResultCompleted, now); err != nil {
			return Status{}, err
		}
		return e.Status(ctx)
	}

	if err := e.store.Update(ctx, models.KeyTZD, map[string]any{"accumulatedMinutes": elapsed}); err != nil {
		return Status{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist check-in")
	}
	state.AccumulatedMinutes = elapsed
	return Status{
		IsActive:           true,
		Stage:              state.Stage,
		StartTime:          state.StartTime,
		AccumulatedMinutes: elapsed,
		LockedItemIDs:      state.LockedItemIDs,
	}, nil
}

// RegisterAppOpen adds the fixed penalty to the target while the lock runs.
// Opening the app to peek is not an escape hatch.
func (e *Engine) RegisterAppOpen(ctx context.Context) error {
	state, err := e.load(ctx)
	if err != nil {
		return err
	}
	if !state.IsActive || state.Stage != models.StageRunning {
		return nil
	}
	cfg, err := e.settings.Settings(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load settings")
	}
	if _, err := e.store.Increment(ctx, models.KeyTZD, "targetDurationMinutes", int64(cfg.TZD.AppOpenPenaltyMinutes)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply app-open penalty")
	}
	e.emit(ctx, "tzd_app_open_penalty", map[string]any{"minutes": cfg.TZD.AppOpenPenaltyMinutes})
	return nil
}

// Abort is the explicit emergency exit. It resolves the lock as failed,
// registers the fixed-duration punishment, and grants no statistics.
func (e *Engine) Abort(ctx context.Context) error {
	state, err := e.load(ctx)
	if err != nil {
		return err
	}
	if !state.IsActive {
		return dErrors.New(dErrors.CodeInvalidState, "no active lock")
	}

	// Settings are read before the lock resolves: a failed read leaves the
	// lock active so the abort, and its punishment, can be retried.
	cfg, err := e.settings.Settings(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load settings")
	}

	now := e.now()
	state.AccumulatedMinutes = int(now.Sub(state.StartTime).Minutes())
	if err := e.resolve(ctx, state, models.ResultFailed, now); err != nil {
		return err
	}

	if e.punisher != nil {
		if _, err := e.punisher.Register(ctx, "tzd_emergency_abort", cfg.TZD.AbortPunishmentMinutes, false); err != nil {
			e.logger.Error("failed to register abort punishment", "error", err)
		}
	}
	return nil
}

// Suspend is the external override for an approved absence. The lock ends
// without punishment and without statistics, and the current period's
// instruction loses its escalation flag in the same batch as the terminal
// state.
func (e *Engine) Suspend(ctx context.Context) error {
	state, err := e.load(ctx)
	if err != nil {
		return err
	}
	if !state.IsActive {
		return dErrors.New(dErrors.CodeInvalidState, "no active lock")
	}

	now := e.now()
	state.AccumulatedMinutes = int(now.Sub(state.StartTime).Minutes())
	key := models.InstructionKey(models.PeriodFor(now))
	return e.resolve(ctx, state, models.ResultSuspended, now, func(b store.Batch) {
		b.Update(key, map[string]any{"escalated": false})
	})
}

// resolve writes the terminal state and any companion mutations in one
// store batch, annotates every still-open instruction session so the
// trigger never reconsiders it, and applies completion side effects.
func (e *Engine) resolve(ctx context.Context, state models.TZDState, result models.TZDResult, now time.Time, companions ...func(store.Batch)) error {
	ctx, span := e.tracer.Start(ctx, "tzd.resolve")
	defer span.End()

	state.IsActive = false
	state.Stage = ""
	state.Result = result
	state.ResolvedAt = &now

	err := e.store.Batch(ctx, func(b store.Batch) error {
		b.Set(models.KeyTZD, state)
		for _, companion := range companions {
			companion(b)
		}
		return nil
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist lock resolution")
	}

	open, err := e.sessions.OpenByType(ctx, catalog.SessionInstruction)
	if err != nil {
		e.logger.Error("failed to list open sessions for annotation", "error", err)
	} else {
		for _, sess := range open {
			if err := e.sessions.Annotate(ctx, sess.ID, string(result), true); err != nil {
				e.logger.Warn("failed to annotate session", "session", sess.ID, "error", err)
			}
		}
	}

	if result == models.ResultCompleted {
		deltas := make(map[string]catalog.WearStatsDelta, len(state.LockedItemIDs))
		for _, id := range state.LockedItemIDs {
			deltas[id] = catalog.WearStatsDelta{
				WearCount: 1,
				Minutes:   state.AccumulatedMinutes,
				WornAt:    now,
			}
		}
		if err := e.items.ApplyWearStats(ctx, deltas); err != nil {
			e.logger.Error("failed to apply wear statistics", "error", err)
		}
		if e.metrics != nil {
			e.metrics.TZDCompleted.Inc()
		}
	}
	if result == models.ResultFailed && e.metrics != nil {
		e.metrics.TZDFailed.Inc()
	}

	e.emit(ctx, "tzd_resolved", map[string]any{
		"result":  string(result),
		"minutes": state.AccumulatedMinutes,
	})
	return nil
}

// qualifyingSession finds an open instruction session that has not already
// been through a lock and contains at least one eligible-category item.
func (e *Engine) qualifyingSession(ctx context.Context, cfg models.TZDSettings) (catalog.WearSession, bool, error) {
	open, err := e.sessions.OpenByType(ctx, catalog.SessionInstruction)
	if err != nil {
		return catalog.WearSession{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list open sessions")
	}
	for _, sess := range open {
		if sess.TZDExecuted {
			continue
		}
		for _, itemID := range sess.ItemIDs {
			item, err := e.items.Get(ctx, itemID)
			if errors.Is(err, sentinel.ErrNotFound) {
				continue
			}
			if err != nil {
				return catalog.WearSession{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read item")
			}
			if categoryEligible(item.Category, cfg.EligibleCategories) {
				return sess, true, nil
			}
		}
	}
	return catalog.WearSession{}, false, nil
}

func categoryEligible(category string, eligible []string) bool {
	for _, c := range eligible {
		if c == category {
			return true
		}
	}
	return false
}

// drawTarget draws the secret duration from the three-zone matrix derived
// from MaxHours. Zone boundaries sit at 1/6, 1/3, 2/3, and 1 of MaxHours.
func drawTarget(rng *rand.Rand, cfg models.TZDSettings) int {
	maxMinutes := cfg.MaxHours * 60
	bounds := [4]int{
		int(maxMinutes / 6),
		int(maxMinutes / 3),
		int(maxMinutes * 2 / 3),
		int(maxMinutes),
	}

	zone, err := weighted.New(
		weighted.Choice[int]{Key: 0, Weight: cfg.ZoneWeights[0]},
		weighted.Choice[int]{Key: 1, Weight: cfg.ZoneWeights[1]},
		weighted.Choice[int]{Key: 2, Weight: cfg.ZoneWeights[2]},
	).Pick(rng)
	if err != nil {
		// All-zero weights would be an operator mistake; fall back to the
		// middle zone rather than refusing to lock.
		zone = 1
	}
	return weighted.UniformInRange(rng, bounds[zone], bounds[zone+1])
}

func (e *Engine) load(ctx context.Context) (models.TZDState, error) {
	var state models.TZDState
	err := e.store.Get(ctx, models.KeyTZD, &state)
	if errors.Is(err, sentinel.ErrNotFound) {
		return models.TZDState{}, nil
	}
	if err != nil {
		return models.TZDState{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load lock state")
	}
	return state, nil
}

func (e *Engine) emit(ctx context.Context, kind string, fields map[string]any) {
	if e.audits == nil {
		return
	}
	if err := e.audits.Emit(ctx, audit.Event{UserID: e.userID, Kind: kind, Fields: fields}); err != nil {
		e.logger.Warn("audit emit failed", "kind", kind, "error", err)
	}
}
