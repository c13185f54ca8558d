package store

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/affbridge/affbridge/internal/models"
)

// SelectionContext carries the request attributes banner targeting filters
// run against.
type SelectionContext struct {
	Kind        string
	Device      string
	ArticleSlug string
	Category    string
	Now         time.Time
}

// BannerStore selects banners by weighted random draw and records their
// impression and click stats through the adapter.
type BannerStore struct {
	adapter Adapter
	logger  *zap.Logger

	mu  sync.Mutex // guards rng; rand.Rand is not safe for concurrent use
	rng *rand.Rand
}

// NewBannerStore builds a BannerStore. src seeds the draw; tests pass a fixed
// source to pin the distribution.
func NewBannerStore(adapter Adapter, src rand.Source, logger *zap.Logger) *BannerStore {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	if logger == nil {
		logger = zap.L()
	}
	return &BannerStore{adapter: adapter, rng: rand.New(src), logger: logger}
}

// Eligible returns the banners passing every targeting filter, sorted by
// priority ascending then weight descending. The order is the deterministic
// iteration order for the draw and for admin listings.
func (s *BannerStore) Eligible(ctx context.Context, sel SelectionContext) ([]models.Banner, error) {
	banners, err := s.adapter.ListActiveBanners(ctx, sel.Kind, sel.Now)
	if err != nil {
		return nil, err
	}

	filtered := banners[:0]
	for _, b := range banners {
		// The adapter already applied the active window; re-check so
		// in-memory adapters with loose listings stay correct.
		if !b.IsActiveAt(sel.Now) {
			continue
		}
		if !b.MatchesDevice(sel.Device) {
			continue
		}
		if !b.MatchesArticle(sel.ArticleSlug) {
			continue
		}
		if !b.MatchesCategory(sel.Category) {
			continue
		}
		filtered = append(filtered, b)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Priority != filtered[j].Priority {
			return filtered[i].Priority < filtered[j].Priority
		}
		return filtered[i].Weight > filtered[j].Weight
	})
	return filtered, nil
}

// SelectRandom draws at most one banner for the context. Each candidate's
// probability is proportional to its weight; when every weight is zero the
// first candidate after sorting wins. No eligible banner returns (nil, nil).
func (s *BannerStore) SelectRandom(ctx context.Context, sel SelectionContext) (*models.Banner, error) {
	candidates, err := s.Eligible(ctx, sel)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	total := 0
	for _, b := range candidates {
		total += b.Weight
	}
	if total <= 0 {
		b := candidates[0]
		return &b, nil
	}

	s.mu.Lock()
	r := s.rng.Intn(total)
	s.mu.Unlock()

	for _, b := range candidates {
		r -= b.Weight
		if r < 0 {
			return &b, nil
		}
	}
	// Unreachable while weights sum to total; keep the last as a guard.
	b := candidates[len(candidates)-1]
	return &b, nil
}

// RecordImpression bumps the impression counter. It runs before the response
// is written so a served banner is never uncounted.
func (s *BannerStore) RecordImpression(ctx context.Context, id int) error {
	return s.adapter.UpdateBannerImpression(ctx, id)
}

// RecordClick bumps clicks and, for a first-seen IP, unique clicks. The
// adapter performs the dedup atomically at the banner row.
func (s *BannerStore) RecordClick(ctx context.Context, id int, ip string) error {
	return s.adapter.UpdateBannerClick(ctx, id, ip)
}
