// Package punishment manages the single outstanding punitive obligation. It
// is the terminal sink for compliance failures: every other component lands
// here and nothing feeds back out.
package punishment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"protokoll/internal/audit"
	"protokoll/internal/platform/metrics"
	"protokoll/internal/protocol/models"
	"protokoll/internal/status/store"
	dErrors "protokoll/pkg/domain-errors"
	"protokoll/pkg/platform/sentinel"
)

// Service registers, defers, and clears punishment records.
type Service struct {
	store   store.Store
	logger  *slog.Logger
	audits  *audit.Publisher
	metrics *metrics.Metrics
	userID  string
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(p *audit.Publisher) Option {
	return func(s *Service) { s.audits = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(st store.Store, userID string, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("status store is required")
	}
	s := &Service{
		store:  st,
		logger: slog.Default(),
		userID: userID,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register records a punitive obligation. While a record is outstanding a
// new registration extends it and appends the reason instead of creating a
// second record; at most one record exists at a time.
func (s *Service) Register(ctx context.Context, reason string, minutes int, deferred bool) (models.PunishmentRecord, error) {
	if minutes <= 0 {
		return models.PunishmentRecord{}, dErrors.New(dErrors.CodeBadRequest, "minutes must be positive")
	}
	if reason == "" {
		return models.PunishmentRecord{}, dErrors.New(dErrors.CodeBadRequest, "reason is required")
	}

	now := s.now()

	var existing models.PunishmentRecord
	err := s.store.Get(ctx, models.KeyPunishment, &existing)
	switch {
	case err == nil && existing.Outstanding():
		existing.DurationMinutes += minutes
		existing.Reason = existing.Reason + "; " + reason
		if err := s.store.Set(ctx, models.KeyPunishment, existing); err != nil {
			return models.PunishmentRecord{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to extend punishment")
		}
		s.emit(ctx, "punishment_extended", existing)
		s.count()
		return existing, nil
	case err != nil && !errors.Is(err, sentinel.ErrNotFound):
		return models.PunishmentRecord{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read punishment")
	}

	record := models.PunishmentRecord{
		ID:              uuid.NewString(),
		Active:          !deferred,
		Deferred:        deferred,
		Reason:          reason,
		DurationMinutes: minutes,
		RegisteredAt:    now,
	}
	if record.Active {
		record.ActivatedAt = &now
	}
	if err := s.store.Set(ctx, models.KeyPunishment, record); err != nil {
		return models.PunishmentRecord{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to register punishment")
	}
	s.emit(ctx, "punishment_registered", record)
	s.count()
	return record, nil
}

// PromoteDeferred resolves a deferred record to active once the execution
// window is open. Called from the scheduler; a closed window is a no-op.
func (s *Service) PromoteDeferred(ctx context.Context, cfg models.PunishmentSettings) error {
	now := s.now()
	if !cfg.WindowOpen(now) {
		return nil
	}

	var record models.PunishmentRecord
	err := s.store.Get(ctx, models.KeyPunishment, &record)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read punishment")
	}
	if !record.Deferred {
		return nil
	}

	record.Deferred = false
	record.Active = true
	record.ActivatedAt = &now
	if err := s.store.Set(ctx, models.KeyPunishment, record); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to promote punishment")
	}
	s.emit(ctx, "punishment_promoted", record)
	return nil
}

// Clear marks the outstanding record as served.
func (s *Service) Clear(ctx context.Context) error {
	var record models.PunishmentRecord
	err := s.store.Get(ctx, models.KeyPunishment, &record)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "no punishment record")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read punishment")
	}
	if !record.Outstanding() {
		return dErrors.New(dErrors.CodeInvalidState, "punishment already cleared")
	}

	record.Active = false
	record.Deferred = false
	if err := s.store.Set(ctx, models.KeyPunishment, record); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear punishment")
	}
	s.emit(ctx, "punishment_cleared", record)
	return nil
}

// Current returns the stored record. A missing document reads as a cleared
// zero record.
func (s *Service) Current(ctx context.Context) (models.PunishmentRecord, error) {
	var record models.PunishmentRecord
	err := s.store.Get(ctx, models.KeyPunishment, &record)
	if errors.Is(err, sentinel.ErrNotFound) {
		return models.PunishmentRecord{}, nil
	}
	if err != nil {
		return models.PunishmentRecord{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read punishment")
	}
	return record, nil
}

func (s *Service) count() {
	if s.metrics != nil {
		s.metrics.PunishmentsRegistered.Inc()
	}
}

func (s *Service) emit(ctx context.Context, kind string, record models.PunishmentRecord) {
	if s.audits == nil {
		return
	}
	err := s.audits.Emit(ctx, audit.Event{
		UserID: s.userID,
		Kind:   kind,
		Fields: map[string]any{
			"id":       record.ID,
			"reason":   record.Reason,
			"minutes":  record.DurationMinutes,
			"deferred": record.Deferred,
		},
	})
	if err != nil {
		s.logger.Warn("audit emit failed", "kind", kind, "error", err)
	}
}
