package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/affbridge/affbridge/internal/config"
	"github.com/affbridge/affbridge/internal/db"
	"github.com/affbridge/affbridge/internal/geoip"
	"github.com/affbridge/affbridge/internal/logic/ratelimit"
	"github.com/affbridge/affbridge/internal/middleware"
	"github.com/affbridge/affbridge/internal/observability"
	"github.com/affbridge/affbridge/internal/recorder"
	"github.com/affbridge/affbridge/internal/store"
	"github.com/affbridge/affbridge/internal/template"
)

var tracer = otel.Tracer("affbridge")

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger    *zap.Logger
	Links     *store.LinkStore
	Banners   *store.BannerStore
	Recorder  *recorder.Recorder
	Templates *template.Store
	GeoIP     *geoip.Classifier
	RateLimit *ratelimit.SlidingWindow
	Metrics   observability.MetricsRegistry
	Config    config.Config
	PG        *db.Postgres
	Redis     *db.RedisStore
	StartTime time.Time
}

// NewServer constructs a Server. rateLimit may be nil when the limiter is
// disabled; Redis and PG may be nil when the backing service is not
// configured.
func NewServer(logger *zap.Logger, links *store.LinkStore, banners *store.BannerStore, rec *recorder.Recorder, templates *template.Store, geo *geoip.Classifier, rateLimit *ratelimit.SlidingWindow, metrics observability.MetricsRegistry, cfg config.Config, pg *db.Postgres, redisStore *db.RedisStore) *Server {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Server{
		Logger:    logger,
		Links:     links,
		Banners:   banners,
		Recorder:  rec,
		Templates: templates,
		GeoIP:     geo,
		RateLimit: rateLimit,
		Metrics:   metrics,
		Config:    cfg,
		PG:        pg,
		Redis:     redisStore,
		StartTime: time.Now(),
	}
}

// trustConfig derives the proxy-header trust rules from the config. Headers
// are never trusted unless TRUST_PROXY_HEADERS is set; with no CIDR list every
// peer is trusted, which suits a single reverse proxy in front.
func (s *Server) trustConfig() middleware.TrustConfig {
	if !s.Config.TrustProxyHeaders {
		return middleware.TrustConfig{}
	}
	return middleware.ParseTrustedProxies(s.Config.TrustedProxies, len(s.Config.TrustedProxies) == 0)
}

// Router builds the main listener: landing pages, banner API, health and
// metrics.
func (s *Server) Router() *mux.Router {
	trust := s.trustConfig()

	r := mux.NewRouter()
	r.Use(middleware.WithTraceLogger(s.Logger))
	r.Use(middleware.WithClassification(s.GeoIP, trust))

	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/api/banners", s.ListBannersHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/banners/random", s.RandomBannerHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/banners/{id}/click", s.BannerClickHandler).Methods(http.MethodPost)

	// Static assets referenced by the landing template.
	r.PathPrefix("/assets/").Handler(http.StripPrefix("/assets/", http.FileServer(http.Dir("./static/assets"))))

	// Bridge paths on the main listener too, for single-port deployments.
	r.HandleFunc("/go/{slug}", s.BridgeHandler).Methods(http.MethodGet)
	r.HandleFunc("/go/", s.BridgeHandler).Methods(http.MethodGet)

	r.HandleFunc("/{slug}", s.LandingHandler).Methods(http.MethodGet)
	r.HandleFunc("/", s.LandingHandler).Methods(http.MethodGet)
	return r
}

// BridgeRouter builds the referrer-washing listener that serves /go/{slug}.
func (s *Server) BridgeRouter() *mux.Router {
	trust := s.trustConfig()

	r := mux.NewRouter()
	r.Use(middleware.WithTraceLogger(s.Logger))
	r.Use(middleware.WithClassification(s.GeoIP, trust))

	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/go/{slug}", s.BridgeHandler).Methods(http.MethodGet)
	r.HandleFunc("/go/", s.BridgeHandler).Methods(http.MethodGet)
	r.HandleFunc("/go", s.BridgeHandler).Methods(http.MethodGet)
	return r
}

// requestURL reconstructs the absolute URL the client requested, for the
// og:url meta tag.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if v := r.Header.Get("X-Forwarded-Proto"); v == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
