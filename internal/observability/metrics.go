package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affbridge_requests_total",
			Help: "Total HTTP requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "affbridge_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// number of events recorded, labelled by type
	EventCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affbridge_events_total",
			Help: "Total events recorded",
		},
		[]string{"type"},
	)

	// decoy pages served to classifier-flagged bots
	DecoyCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "affbridge_decoy_total",
			Help: "Total decoy pages served",
		},
	)

	// current depth of the async click queue
	ClickQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "affbridge_click_queue_depth",
			Help: "Current click recorder queue depth",
		},
	)

	// clicks dropped on queue overflow or after retry exhaustion
	DroppedClicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "affbridge_dropped_clicks_total",
			Help: "Total click records dropped",
		},
	)

	// banner selections per kind
	BannerSelections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affbridge_banner_selections_total",
			Help: "Total banner selections served",
		},
		[]string{"kind"},
	)

	// landing requests marked invalid by the rate limiter
	RateLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "affbridge_ratelimit_hits_total",
			Help: "Total landing requests over the per-slug-IP window",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		EventCount,
		DecoyCount,
		ClickQueueDepth,
		DroppedClicks,
		BannerSelections,
		RateLimitHits,
	)
}
