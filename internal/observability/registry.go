package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics.
// Handlers depend on this instead of the global Prometheus collectors so
// tests can run without a registry.
type MetricsRegistry interface {
	// HTTP request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Event tracking metrics
	IncrementEvent(eventType string)
	IncrementDecoyServes()
	IncrementBannerSelections(kind string)

	// Click recorder metrics
	SetClickQueueDepth(depth int)
	IncrementDroppedClicks()

	// Rate limiting metrics
	IncrementRateLimitHits()
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus collectors.
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry.
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementEvent(eventType string) {
	EventCount.WithLabelValues(eventType).Inc()
}

func (r *PrometheusRegistry) IncrementDecoyServes() {
	DecoyCount.Inc()
}

func (r *PrometheusRegistry) IncrementBannerSelections(kind string) {
	BannerSelections.WithLabelValues(kind).Inc()
}

func (r *PrometheusRegistry) SetClickQueueDepth(depth int) {
	ClickQueueDepth.Set(float64(depth))
}

func (r *PrometheusRegistry) IncrementDroppedClicks() {
	DroppedClicks.Inc()
}

func (r *PrometheusRegistry) IncrementRateLimitHits() {
	RateLimitHits.Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing.
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry.
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementEvent(eventType string)                                      {}
func (r *NoOpRegistry) IncrementDecoyServes()                                                {}
func (r *NoOpRegistry) IncrementBannerSelections(kind string)                                {}
func (r *NoOpRegistry) SetClickQueueDepth(depth int)                                         {}
func (r *NoOpRegistry) IncrementDroppedClicks()                                              {}
func (r *NoOpRegistry) IncrementRateLimitHits()                                              {}
