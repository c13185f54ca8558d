package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/affbridge/affbridge/internal/middleware"
	"github.com/affbridge/affbridge/internal/models"
)

const bridgeNotFoundHTML = `<!DOCTYPE html>
<html lang="vi">
<head><meta charset="utf-8"><title>Không tìm thấy</title></head>
<body><p>Liên kết không tồn tại hoặc đã hết hạn.</p></body>
</html>
`

// setBridgeHeaders applies the referrer and cache policy for the redirect
// hop. The bridge domain becomes the referrer the destination sees.
func setBridgeHeaders(w http.ResponseWriter) {
	w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
}

// BridgeHandler serves GET /go/{slug}: an immediate 302 to the affiliate
// target. The click record is enqueued fire-and-forget; the redirect never
// waits on the database.
func (s *Server) BridgeHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "BridgeHandler",
		trace.WithAttributes(
			attribute.String("http.method", "GET"),
			attribute.String("http.route", "/go/{slug}"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "bridge"
	const method = "GET"

	setBridgeHeaders(w)

	slug := models.NormalizeSlug(mux.Vars(r)["slug"])
	span.SetAttributes(attribute.String("link.slug", slug))
	if slug == "" {
		http.Error(w, "slug required", http.StatusBadRequest)
		s.Metrics.IncrementRequests(endpoint, method, "400")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		return
	}

	if !slugPattern.MatchString(slug) {
		s.serveBridgeNotFound(w)
		s.Metrics.IncrementRequests(endpoint, method, "404")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		return
	}

	link, err := s.Links.GetBySlug(ctx, slug)
	if err != nil {
		span.RecordError(err)
		logger.Error("link lookup failed", zap.String("slug", slug), zap.Error(err))
		s.serveBridgeNotFound(w)
		s.Metrics.IncrementRequests(endpoint, method, "404")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		return
	}
	if link == nil || !link.IsAvailable(time.Now()) {
		s.serveBridgeNotFound(w)
		s.Metrics.IncrementRequests(endpoint, method, "404")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		return
	}

	cls := middleware.ClassificationFromRequest(r)
	if !cls.UA.IsBot {
		s.recordClick(slug, cls, r, false)
	}

	s.Metrics.IncrementEvent("bridge_redirect")
	s.Metrics.IncrementRequests(endpoint, method, "302")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	http.Redirect(w, r, link.TargetURL, http.StatusFound)
}

func (s *Server) serveBridgeNotFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(bridgeNotFoundHTML))
}
