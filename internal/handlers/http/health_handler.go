package http

import (
	"net/http"
	"time"

	"coachroom/internal/core/services"
	"coachroom/internal/infrastructure/monitoring"
	"coachroom/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
)

// StatsResponse is served by the stats endpoint.
type StatsResponse struct {
	services.Stats
	EventsDropped int64  `json:"events_dropped"`
	ActiveStreams int64  `json:"active_streams"`
	Uptime        string `json:"uptime"`
}

// StatsSource supplies the live counters that are not part of Stats.
type StatsSource struct {
	Metrics       *services.MetricsService
	EventsDropped func() int64
	ActiveStreams func() int64
}

type HealthHandler struct {
	checker   *monitoring.HealthChecker
	stats     StatsSource
	clock     clockwork.Clock
	startedAt time.Time
}

func NewHealthHandler(checker *monitoring.HealthChecker, stats StatsSource, clock clockwork.Clock) *HealthHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if checker == nil {
		checker = monitoring.NewHealthChecker()
	}
	return &HealthHandler{
		checker:   checker,
		stats:     stats,
		clock:     clock,
		startedAt: clock.Now(),
	}
}

// Health is the liveness probe.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": h.clock.Now(),
		"uptime":    utils.FormatDuration(h.clock.Since(h.startedAt)),
	})
}

// Ready runs every registered check and answers 503 when one fails.
func (h *HealthHandler) Ready(c *gin.Context) {
	status := h.checker.GetReadinessStatus(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *HealthHandler) Stats(c *gin.Context) {
	resp := StatsResponse{Uptime: utils.FormatDuration(h.clock.Since(h.startedAt))}
	if h.stats.Metrics != nil {
		resp.Stats = h.stats.Metrics.Snapshot()
	}
	if h.stats.EventsDropped != nil {
		resp.EventsDropped = h.stats.EventsDropped()
	}
	if h.stats.ActiveStreams != nil {
		resp.ActiveStreams = h.stats.ActiveStreams()
	}
	c.JSON(http.StatusOK, resp)
}
