package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/affbridge/affbridge/internal/models"
)

// LinkStore looks up link records and applies click records against them.
type LinkStore struct {
	adapter Adapter
	logger  *zap.Logger
}

// NewLinkStore builds a LinkStore over the given persistence adapter.
func NewLinkStore(adapter Adapter, logger *zap.Logger) *LinkStore {
	if logger == nil {
		logger = zap.L()
	}
	return &LinkStore{adapter: adapter, logger: logger}
}

// GetBySlug returns the link for a slug, or (nil, nil) when the slug is
// unknown. The slug is case-folded before lookup.
func (s *LinkStore) GetBySlug(ctx context.Context, slug string) (*models.Link, error) {
	return s.adapter.FindLinkBySlug(ctx, models.NormalizeSlug(slug))
}

// RecordClick applies one click record: log append plus counter increments,
// atomic at the link row. The record's slug wins over the argument when both
// are set.
func (s *LinkStore) RecordClick(ctx context.Context, rec models.ClickRecord) error {
	return s.adapter.UpdateLinkOnClick(ctx, models.NormalizeSlug(rec.Slug), rec)
}
