// Package settings serves the operator-tunable protocol constants from the
// settings/protocol document, seeding factory defaults on first read.
package settings

import (
	"context"
	"fmt"

	"protokoll/internal/protocol/models"
	"protokoll/internal/status/store"
	dErrors "protokoll/pkg/domain-errors"
)

type Service struct {
	store store.Store
}

func New(st store.Store) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("status store is required")
	}
	return &Service{store: st}, nil
}

// Settings returns the current protocol settings. The first read persists
// the defaults so later operator edits start from a complete document.
func (s *Service) Settings(ctx context.Context) (models.Settings, error) {
	var cfg models.Settings
	if _, err := s.store.GetOrCreate(ctx, models.KeySettings, models.Defaults(), &cfg); err != nil {
		return models.Settings{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load protocol settings")
	}
	return cfg, nil
}

// Update replaces the settings document.
func (s *Service) Update(ctx context.Context, cfg models.Settings) error {
	if cfg.MaxOutfitItems < 1 || cfg.MaxOutfitItems > 3 {
		return dErrors.New(dErrors.CodeBadRequest, "maxOutfitItems must be between 1 and 3")
	}
	if err := s.store.Set(ctx, models.KeySettings, cfg); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist protocol settings")
	}
	return nil
}
