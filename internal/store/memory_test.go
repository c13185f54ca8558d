package store

import (
	"context"
	"sync"
	"time"

	"github.com/affbridge/affbridge/internal/models"
)

// memAdapter is an in-memory Adapter for tests. It mirrors the transactional
// semantics of the SQL adapter, including the clicked-IP cap.
type memAdapter struct {
	mu      sync.Mutex
	links   map[string]*models.Link
	logs    []models.ClickRecord
	banners map[int]*models.Banner

	clickedIPs map[int][]string // insertion order per banner
	ipCap      int
}

func newMemAdapter() *memAdapter {
	return &memAdapter{
		links:      make(map[string]*models.Link),
		banners:    make(map[int]*models.Banner),
		clickedIPs: make(map[int][]string),
		ipCap:      models.ClickedIPCap,
	}
}

func (m *memAdapter) FindLinkBySlug(_ context.Context, slug string) (*models.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[slug]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (m *memAdapter) UpdateLinkOnClick(_ context.Context, slug string, rec models.ClickRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[slug]
	if !ok {
		return ErrNotFound
	}
	l.TotalClicks++
	if rec.Valid {
		l.ValidClicks++
	}
	m.logs = append(m.logs, rec)
	return nil
}

func (m *memAdapter) ListActiveBanners(_ context.Context, kind string, now time.Time) ([]models.Banner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Banner
	for _, b := range m.banners {
		if b.Kind == kind && b.IsActiveAt(now) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memAdapter) UpdateBannerImpression(_ context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.banners[id]
	if !ok {
		return ErrNotFound
	}
	b.Impressions++
	return nil
}

func (m *memAdapter) UpdateBannerClick(_ context.Context, id int, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.banners[id]
	if !ok {
		return ErrNotFound
	}
	b.Clicks++

	seen := false
	for _, known := range m.clickedIPs[id] {
		if known == ip {
			seen = true
			break
		}
	}
	if !seen {
		b.UniqueClicks++
		m.clickedIPs[id] = append(m.clickedIPs[id], ip)
		if len(m.clickedIPs[id]) > m.ipCap {
			m.clickedIPs[id] = m.clickedIPs[id][len(m.clickedIPs[id])/2:]
		}
	}
	return nil
}
