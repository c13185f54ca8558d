package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/affbridge/affbridge/internal/middleware"
	"github.com/affbridge/affbridge/internal/models"
	"github.com/affbridge/affbridge/internal/store"
)

// articleParam reads the article targeting slug. The widget sends
// "articleSlug"; "article" is kept for older embeds.
func articleParam(q url.Values) string {
	if v := q.Get("articleSlug"); v != "" {
		return models.NormalizeSlug(v)
	}
	return models.NormalizeSlug(q.Get("article"))
}

// bannerResponse is the JSON envelope the front-end widget consumes.
type bannerResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// bannerDTO is the public shape of a banner. Selection internals (weight,
// priority, window, targeting lists) and counters stay server side.
type bannerDTO struct {
	ID                  int    `json:"id"`
	Name                string `json:"name"`
	ImageURL            string `json:"imageUrl"`
	MobileImageURL      string `json:"mobileImageUrl,omitempty"`
	TargetSlug          string `json:"targetSlug,omitempty"`
	Kind                string `json:"kind"`
	AltText             string `json:"altText,omitempty"`
	ShowDelaySeconds    int    `json:"showDelaySeconds"`
	AutoHideAfterMs     int    `json:"autoHideAfterMs"`
	Dismissible         bool   `json:"dismissible"`
	DisplayWidthPercent int    `json:"displayWidthPercent"`
}

func toBannerDTO(b *models.Banner) bannerDTO {
	return bannerDTO{
		ID:                  b.ID,
		Name:                b.Name,
		ImageURL:            b.ImageURL,
		MobileImageURL:      b.MobileImageURL,
		TargetSlug:          b.TargetSlug,
		Kind:                b.Kind,
		AltText:             b.AltText,
		ShowDelaySeconds:    b.ShowDelaySeconds,
		AutoHideAfterMs:     b.AutoHideAfterMs,
		Dismissible:         b.Dismissible,
		DisplayWidthPercent: b.DisplayWidthPercent,
	}
}

// RandomBannerHandler serves GET /api/banners/random: one weighted draw over
// the banners matching kind, device, article and category. The impression is
// recorded before the response body is written.
func (s *Server) RandomBannerHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "RandomBannerHandler",
		trace.WithAttributes(
			attribute.String("http.method", "GET"),
			attribute.String("http.route", "/api/banners/random"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "banner_random"
	const method = "GET"

	q := r.URL.Query()
	kind := q.Get("kind")
	if kind == "" {
		kind = models.BannerKindStickyBottom
	}
	device := q.Get("device")
	if device == "" {
		device = middleware.ClassificationFromRequest(r).UA.Device
	}

	sel := store.SelectionContext{
		Kind:        kind,
		Device:      device,
		ArticleSlug: articleParam(q),
		Category:    q.Get("category"),
		Now:         time.Now(),
	}
	span.SetAttributes(attribute.String("banner.kind", kind))

	banner, err := s.Banners.SelectRandom(ctx, sel)
	if err != nil {
		span.RecordError(err)
		logger.Error("banner selection failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, bannerResponse{Success: false, Error: "Internal server error"})
		s.Metrics.IncrementRequests(endpoint, method, "500")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		return
	}
	if banner == nil {
		writeJSON(w, http.StatusNotFound, bannerResponse{Success: false, Error: "No active banner found"})
		s.Metrics.IncrementRequests(endpoint, method, "404")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		return
	}

	if err := s.Banners.RecordImpression(ctx, banner.ID); err != nil {
		// The banner is still served; a lost impression only skews stats.
		logger.Warn("banner impression failed", zap.Int("banner_id", banner.ID), zap.Error(err))
	}

	s.Metrics.IncrementBannerSelections(banner.Kind)
	s.Metrics.IncrementEvent("banner_serve")
	writeJSON(w, http.StatusOK, bannerResponse{Success: true, Data: toBannerDTO(banner)})
	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}

// BannerClickHandler serves POST /api/banners/{id}/click: the click counter
// bump with per-IP unique dedup.
func (s *Server) BannerClickHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "BannerClickHandler",
		trace.WithAttributes(
			attribute.String("http.method", "POST"),
			attribute.String("http.route", "/api/banners/{id}/click"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "banner_click"
	const method = "POST"

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, bannerResponse{Success: false, Error: "Invalid banner id"})
		s.Metrics.IncrementRequests(endpoint, method, "400")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		return
	}
	span.SetAttributes(attribute.Int("banner.id", id))

	ip := middleware.ClassificationFromRequest(r).ClientIP

	if err := s.Banners.RecordClick(ctx, id, ip); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, bannerResponse{Success: false, Error: "Banner not found"})
			s.Metrics.IncrementRequests(endpoint, method, "404")
			s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
			return
		}
		span.RecordError(err)
		logger.Error("banner click failed", zap.Int("banner_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, bannerResponse{Success: false, Error: "Internal server error"})
		s.Metrics.IncrementRequests(endpoint, method, "500")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		return
	}

	s.Metrics.IncrementEvent("banner_click")
	writeJSON(w, http.StatusOK, bannerResponse{Success: true})
	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}

// ListBannersHandler serves GET /api/banners: every banner of a kind that is
// currently inside its display window, in deterministic priority order. Used
// by inline placements that render more than one creative.
func (s *Server) ListBannersHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "ListBannersHandler",
		trace.WithAttributes(
			attribute.String("http.method", "GET"),
			attribute.String("http.route", "/api/banners"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "banner_list"
	const method = "GET"

	q := r.URL.Query()
	kind := q.Get("kind")
	if kind == "" {
		kind = models.BannerKindInline
	}
	device := q.Get("device")
	if device == "" {
		device = middleware.ClassificationFromRequest(r).UA.Device
	}

	sel := store.SelectionContext{
		Kind:        kind,
		Device:      device,
		ArticleSlug: articleParam(q),
		Category:    q.Get("category"),
		Now:         time.Now(),
	}

	banners, err := s.Banners.Eligible(ctx, sel)
	if err != nil {
		span.RecordError(err)
		logger.Error("banner listing failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, bannerResponse{Success: false, Error: "Internal server error"})
		s.Metrics.IncrementRequests(endpoint, method, "500")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		return
	}
	dtos := make([]bannerDTO, 0, len(banners))
	for i := range banners {
		dtos = append(dtos, toBannerDTO(&banners[i]))
	}

	writeJSON(w, http.StatusOK, bannerResponse{Success: true, Data: dtos})
	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}
