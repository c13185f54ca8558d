package api

import (
	"net/http"
	"regexp"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/affbridge/affbridge/internal/meta"
	"github.com/affbridge/affbridge/internal/middleware"
	"github.com/affbridge/affbridge/internal/models"
	"github.com/affbridge/affbridge/internal/observability"
)

// slugPattern is the allowed shape after normalization. Anything else is
// treated as an unknown slug, not an error.
var slugPattern = regexp.MustCompile(`^[a-z0-9-]{1,128}$`)

// LandingHandler serves GET /{slug}: the landing page with per-link social
// meta tags injected server side. Unknown and expired slugs still return 200
// so crawlers index a valid document instead of caching an error.
func (s *Server) LandingHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "LandingHandler",
		trace.WithAttributes(
			attribute.String("http.method", "GET"),
			attribute.String("http.route", "/{slug}"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "landing"
	const method = "GET"

	cls := middleware.ClassificationFromRequest(r)
	slug := models.NormalizeSlug(mux.Vars(r)["slug"])
	span.SetAttributes(attribute.String("link.slug", slug))

	// Non-crawler bots never see real content and never count.
	if cls.UA.IsBot && !cls.UA.IsCrawler {
		s.serveDecoy(w, r)
		s.Metrics.IncrementRequests(endpoint, method, "200")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		return
	}

	pageURL := requestURL(r)

	if slug == "" || !slugPattern.MatchString(slug) {
		s.servePage(w, meta.NotFound(pageURL, s.Config.SiteName))
		s.Metrics.IncrementRequests(endpoint, method, "200")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		return
	}

	link, err := s.Links.GetBySlug(ctx, slug)
	if err != nil {
		span.RecordError(err)
		logger.Error("link lookup failed", zap.String("slug", slug), zap.Error(err))
		s.servePage(w, meta.Error(pageURL, s.Config.SiteName))
		s.Metrics.IncrementRequests(endpoint, method, "200")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		return
	}

	if link == nil || !link.IsAvailable(time.Now()) {
		s.servePage(w, meta.NotFound(pageURL, s.Config.SiteName))
		s.Metrics.IncrementRequests(endpoint, method, "200")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		return
	}

	// Crawlers get the page for the preview card but are never counted.
	if !cls.UA.IsBot {
		s.recordClick(slug, cls, r, true)
	}

	s.servePage(w, meta.FromLink(link, pageURL, s.Config.SiteName))
	s.Metrics.IncrementEvent("landing_view")
	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}

// servePage renders the cached template with the given meta values, falling
// back to a minimal inline page when the template was never loaded.
func (s *Server) servePage(w http.ResponseWriter, m meta.Meta) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")

	tpl, err := s.Templates.Get()
	if err != nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(meta.FallbackPage(m))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(meta.Inject(tpl, m))
}

// recordClick enqueues one click record for a human visitor. The validity
// verdict is decided here, synchronously, so the async writer never needs the
// request. The sliding window applies to landing hits only; the bridge is
// already a deliberate navigation and must not be double-penalized.
func (s *Server) recordClick(slug string, cls middleware.Classification, r *http.Request, applyLimit bool) {
	rec := models.ClickRecord{
		Slug:      slug,
		IP:        cls.ClientIP,
		UserAgent: r.Header.Get("User-Agent"),
		Referer:   r.Header.Get("Referer"),
		Device:    cls.UA.Device,
		Valid:     true,
		At:        time.Now(),
	}

	// The classifier's verdict is authoritative: any disallowed reason,
	// including unparseable forwarded addresses, makes the click invalid.
	if !cls.IP.IsAllowed {
		rec.Valid = false
		rec.InvalidReason = cls.IP.Reason
	}

	if applyLimit && rec.Valid && s.RateLimit != nil {
		if !s.RateLimit.Allow(slug+"|"+cls.ClientIP, rec.At) {
			rec.Valid = false
			rec.InvalidReason = models.ReasonRateLimited
			s.Metrics.IncrementRateLimitHits()
		}
	}

	if rec.Valid {
		s.Metrics.IncrementEvent("valid_click")
	} else {
		s.Metrics.IncrementEvent("invalid_click")
	}
	if observability.ShouldSample(observability.GetSamplingRate()) {
		s.Logger.Info("click",
			zap.String("slug", slug),
			zap.Bool("valid", rec.Valid),
			zap.String("invalid_reason", rec.InvalidReason),
			zap.String("event_type", "click"))
	}
	s.Recorder.Enqueue(rec)
}
