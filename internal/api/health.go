package api

import (
	"context"
	"net/http"
	"time"

	"github.com/affbridge/affbridge/internal/template"
)

type healthResponse struct {
	Status            string `json:"status"`
	UptimeSeconds     int64  `json:"uptime"`
	QueueDepth        int    `json:"queueDepth"`
	DroppedClicks     int64  `json:"droppedClicks"`
	PostgresConnected bool   `json:"postgresConnected"`
	RedisConnected    bool   `json:"redisConnected"`
	TemplateLoaded    bool   `json:"templateLoaded"`
	TemplateStatus    string `json:"templateStatus"`
}

// HealthHandler reports process liveness plus the state of the backing
// services. Degraded dependencies flip the status but never the HTTP code;
// the process itself is alive.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "health"
	const method = "GET"

	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	resp := healthResponse{
		Status:            "ok",
		UptimeSeconds:     int64(time.Since(s.StartTime).Seconds()),
		QueueDepth:        s.Recorder.Depth(),
		DroppedClicks:     s.Recorder.Dropped(),
		PostgresConnected: s.PG.Connected(ctx),
		RedisConnected:    s.Redis.Connected(ctx),
		TemplateStatus:    s.Templates.Status(),
	}
	resp.TemplateLoaded = resp.TemplateStatus != template.StatusEmpty
	if !resp.PostgresConnected {
		resp.Status = "degraded"
	}

	writeJSON(w, http.StatusOK, resp)
	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}
