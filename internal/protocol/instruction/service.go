// Package instruction produces and manages the daily directive. Generation
// runs eligibility filtering and weighted selection unless an explicit plan
// exists for the date; plans always win. One directive exists per period and
// the first writer for a period wins.
package instruction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"protokoll/internal/audit"
	"protokoll/internal/catalog"
	"protokoll/internal/platform/metrics"
	"protokoll/internal/protocol/eligibility"
	"protokoll/internal/protocol/models"
	"protokoll/internal/protocol/selector"
	"protokoll/internal/status/store"
	dErrors "protokoll/pkg/domain-errors"
	"protokoll/pkg/platform/sentinel"
	"protokoll/pkg/weighted"
)

// MaxReductionFraction caps how much of an instruction's original duration
// can be bought down on acceptance.
const MaxReductionFraction = 3

// weightSumTolerance bounds the accepted drift before the method weights
// are reported as misconfigured. They are normalized either way.
const weightSumTolerance = 0.001

// SettingsSource provides the current protocol settings.
type SettingsSource interface {
	Settings(ctx context.Context) (models.Settings, error)
}

// Spender funds duration reductions on acceptance.
type Spender interface {
	Spend(ctx context.Context, account models.Account, minutes int) (int, error)
}

// Generator orchestrates the daily instruction lifecycle.
type Generator struct {
	store    store.Store
	items    catalog.ItemStore
	sessions catalog.SessionStore
	plans    catalog.PlanStore
	settings SettingsSource
	ledger   Spender
	logger   *slog.Logger
	audits   *audit.Publisher
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	userID   string
	now      func() time.Time
	rng      *rand.Rand
}

type Option func(*Generator)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) { g.logger = logger }
}

func WithAuditPublisher(p *audit.Publisher) Option {
	return func(g *Generator) { g.audits = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithRand overrides the random source for deterministic tests.
func WithRand(rng *rand.Rand) Option {
	return func(g *Generator) { g.rng = rng }
}

func New(st store.Store, items catalog.ItemStore, sessions catalog.SessionStore, plans catalog.PlanStore, settings SettingsSource, ledger Spender, userID string, opts ...Option) (*Generator, error) {
	if st == nil {
		return nil, fmt.Errorf("status store is required")
	}
	if items == nil || sessions == nil || plans == nil {
		return nil, fmt.Errorf("catalog stores are required")
	}
	if settings == nil {
		return nil, fmt.Errorf("settings source is required")
	}
	g := &Generator{
		store:    st,
		items:    items,
		sessions: sessions,
		plans:    plans,
		settings: settings,
		ledger:   ledger,
		logger:   slog.Default(),
		tracer:   otel.Tracer("protokoll/instruction"),
		userID:   userID,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Current returns the period's directive. A missing directive is (nil, nil),
// not an error.
func (g *Generator) Current(ctx context.Context, period models.PeriodID) (*models.DailyInstruction, error) {
	var instr models.DailyInstruction
	err := g.store.Get(ctx, models.InstructionKey(period), &instr)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load instruction")
	}
	return &instr, nil
}

// Generate produces the directive for a period. A directive already recorded
// for the period is returned unchanged; empty eligibility yields (nil, nil).
// Read failures on the selection inputs degrade to "no instruction" rather
// than failing the caller, since the scheduler retries on its next tick.
func (g *Generator) Generate(ctx context.Context, period models.PeriodID) (*models.DailyInstruction, error) {
	ctx, span := g.tracer.Start(ctx, "instruction.Generate")
	defer span.End()

	key := models.InstructionKey(period)
	var existing models.DailyInstruction
	err := g.store.Get(ctx, key, &existing)
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		g.logger.Error("instruction read failed, skipping generation", "period", period, "error", err)
		return nil, nil
	}

	cfg, err := g.settings.Settings(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load settings")
	}

	date, err := period.Date()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid period")
	}

	candidate, ok := g.compose(ctx, period, date, cfg)
	if !ok {
		return nil, nil
	}

	var final models.DailyInstruction
	created, err := g.store.GetOrCreate(ctx, key, candidate, &final)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist instruction")
	}
	if created {
		if g.metrics != nil {
			g.metrics.InstructionsGenerated.Inc()
		}
		g.emit(ctx, "instruction_generated", map[string]any{
			"period": string(period),
			"source": string(final.Source),
			"items":  len(final.ItemIDs),
			"forced": final.ForcedRelease.Required,
		})
	}
	return &final, nil
}

// compose builds the candidate directive. The boolean is false when no
// instruction can be issued for the period.
func (g *Generator) compose(ctx context.Context, period models.PeriodID, date time.Time, cfg models.Settings) (models.DailyInstruction, bool) {
	now := g.now()
	instr := models.DailyInstruction{
		PeriodID:                period,
		Source:                  models.SourceSelection,
		DurationMinutes:         cfg.DefaultInstructionMinutes,
		OriginalDurationMinutes: cfg.DefaultInstructionMinutes,
		CreatedAt:               now,
	}

	plan, err := g.plans.ForDate(ctx, date)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		g.logger.Error("plan lookup failed, skipping generation", "period", period, "error", err)
		return models.DailyInstruction{}, false
	}
	if err == nil && len(plan.ItemIDs) > 0 {
		instr.Source = models.SourcePlan
		instr.ItemIDs = append([]string(nil), plan.ItemIDs...)
	} else {
		selected, ok := g.selectItems(ctx, period, cfg, now)
		if !ok {
			return models.DailyInstruction{}, false
		}
		instr.ItemIDs = selected
	}

	// Planned outfits are taken as written; the roll applies to selected
	// night instructions only.
	if instr.Source == models.SourceSelection && period.Night() && g.rng.Float64() < cfg.ForcedReleaseProbability {
		instr.ForcedRelease = models.ForcedRelease{
			Required: true,
			Method:   g.drawReleaseMethod(cfg.ReleaseMethodWeights),
		}
	}
	return instr, true
}

func (g *Generator) selectItems(ctx context.Context, period models.PeriodID, cfg models.Settings, now time.Time) ([]string, bool) {
	items, err := g.items.List(ctx)
	if err != nil {
		g.logger.Error("item listing failed, skipping generation", "period", period, "error", err)
		return nil, false
	}
	open, err := g.sessions.Open(ctx)
	if err != nil {
		g.logger.Error("session listing failed, skipping generation", "period", period, "error", err)
		return nil, false
	}
	horizon := time.Duration(cfg.ReservationHorizonHours) * time.Hour
	reserved, err := g.plans.Upcoming(ctx, now, now.Add(horizon))
	if err != nil {
		g.logger.Error("plan listing failed, skipping generation", "period", period, "error", err)
		return nil, false
	}

	eligible := eligibility.Filter(eligibility.Input{
		Items:         items,
		OpenSessions:  open,
		ReservedPlans: reserved,
		Night:         period.Night(),
		Now:           now,
	}, cfg)
	if len(eligible) == 0 {
		return nil, false
	}

	chosen := selector.Select(g.rng, eligible, cfg)
	if len(chosen) == 0 {
		return nil, false
	}
	ids := make([]string, len(chosen))
	for i, item := range chosen {
		ids[i] = item.ID
	}
	return ids, true
}

// drawReleaseMethod picks a delivery method from the configured weights.
// The weights are normalized by the draw itself; a sum away from 1 is an
// operator misconfiguration and gets logged.
func (g *Generator) drawReleaseMethod(weights map[string]float64) string {
	if len(weights) == 0 {
		return ""
	}

	methods := make([]string, 0, len(weights))
	sum := 0.0
	for method, w := range weights {
		methods = append(methods, method)
		sum += w
	}
	sort.Strings(methods)

	if math.Abs(sum-1) > weightSumTolerance {
		g.logger.Warn("release method weights do not sum to 1, normalizing", "sum", sum)
	}

	choices := make([]weighted.Choice[string], len(methods))
	for i, method := range methods {
		choices[i] = weighted.Choice[string]{Key: method, Weight: weights[method]}
	}
	method, err := weighted.New(choices...).Pick(g.rng)
	if err != nil {
		g.logger.Warn("release method draw failed, falling back", "error", err)
		return methods[0]
	}
	return method
}

// Accept marks the directive accepted, optionally buying down its duration.
// The cumulative reduction across repeated accepts is capped at one third of
// the original duration; the buy-down is funded through the time bank under
// the ledger's overdraft rules.
func (g *Generator) Accept(ctx context.Context, period models.PeriodID, account models.Account, reduceMinutes int) (*models.DailyInstruction, error) {
	if reduceMinutes < 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "reduction must not be negative")
	}

	var instr models.DailyInstruction
	err := g.store.Get(ctx, models.InstructionKey(period), &instr)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "no instruction for period")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load instruction")
	}

	if reduceMinutes > 0 {
		maxReduction := instr.OriginalDurationMinutes / MaxReductionFraction
		already := instr.OriginalDurationMinutes - instr.DurationMinutes
		if already+reduceMinutes > maxReduction {
			return nil, dErrors.New(dErrors.CodePolicyViolation,
				fmt.Sprintf("reduction exceeds the one-third cap of %d minutes", maxReduction))
		}
		if g.ledger == nil {
			return nil, dErrors.New(dErrors.CodeInternal, "no ledger wired for duration reduction")
		}
		if _, err := g.ledger.Spend(ctx, account, reduceMinutes); err != nil {
			return nil, err
		}
		instr.DurationMinutes -= reduceMinutes
	}

	now := g.now()
	instr.IsAccepted = true
	instr.AcceptedAt = &now
	err = g.store.Update(ctx, models.InstructionKey(period), map[string]any{
		"isAccepted":      true,
		"acceptedAt":      now,
		"durationMinutes": instr.DurationMinutes,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist acceptance")
	}

	if g.metrics != nil {
		g.metrics.InstructionsAccepted.Inc()
	}
	g.emit(ctx, "instruction_accepted", map[string]any{
		"period":  string(period),
		"reduced": reduceMinutes,
	})
	return &instr, nil
}

func (g *Generator) emit(ctx context.Context, kind string, fields map[string]any) {
	if g.audits == nil {
		return
	}
	if err := g.audits.Emit(ctx, audit.Event{UserID: g.userID, Kind: kind, Fields: fields}); err != nil {
		g.logger.Warn("audit emit failed", "kind", kind, "error", err)
	}
}
