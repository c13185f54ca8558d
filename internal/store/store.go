// Package store holds the link and banner stores. All persisted state is
// reached through the Adapter interface; the stores own every piece of
// domain logic above it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/affbridge/affbridge/internal/models"
)

// ErrNotFound is returned by keyed mutations targeting unknown rows.
var ErrNotFound = errors.New("store: not found")

// Adapter is the persistence surface the core consumes. The Postgres
// implementation lives in internal/db; tests supply an in-memory one.
type Adapter interface {
	FindLinkBySlug(ctx context.Context, slug string) (*models.Link, error)
	// UpdateLinkOnClick must apply the counter increments and the log append
	// atomically: both succeed or neither.
	UpdateLinkOnClick(ctx context.Context, slug string, rec models.ClickRecord) error

	ListActiveBanners(ctx context.Context, kind string, now time.Time) ([]models.Banner, error)
	UpdateBannerImpression(ctx context.Context, id int) error
	// UpdateBannerClick handles the unique-IP dedup atomically.
	UpdateBannerClick(ctx context.Context, id int, ip string) error
}
