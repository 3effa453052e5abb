package monitoring

import (
	"time"

	"coachroom/internal/core/domain"
	"coachroom/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	mediaAcquiredTotal *prometheus.CounterVec
	mediaFailedTotal   *prometheus.CounterVec
	mediaReleasedTotal *prometheus.CounterVec
	mediaHeld          *prometheus.GaugeVec

	recordingsStartedTotal *prometheus.CounterVec
	recordingsActive       *prometheus.GaugeVec
	recordingDuration      *prometheus.HistogramVec

	sessionContextsOpen prometheus.Gauge

	uploadsTotal   *prometheus.CounterVec
	uploadDuration prometheus.Histogram
}

// NewPrometheusCollector registers the collector's metrics with reg, or with
// the default registerer when reg is nil.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		mediaAcquiredTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coachroom_media_acquired_total",
			Help: "Camera and microphone streams granted",
		}, []string{"purpose"}),

		mediaFailedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coachroom_media_acquire_failed_total",
			Help: "Media acquisitions refused by the platform",
		}, []string{"purpose", "kind"}),

		mediaReleasedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coachroom_media_released_total",
			Help: "Media streams released",
		}, []string{"purpose"}),

		mediaHeld: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coachroom_media_streams_held",
			Help: "Media streams currently held",
		}, []string{"purpose"}),

		recordingsStartedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coachroom_recordings_started_total",
			Help: "Recordings started",
		}, []string{"flow"}),

		recordingsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coachroom_recordings_active",
			Help: "Recordings in progress",
		}, []string{"flow"}),

		recordingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coachroom_recording_duration_seconds",
			Help:    "Length of finished recordings",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
		}, []string{"flow"}),

		sessionContextsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "coachroom_session_contexts_open",
			Help: "Open lobby, room and practice contexts",
		}),

		uploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coachroom_uploads_total",
			Help: "Finished CV uploads by outcome",
		}, []string{"state"}),

		uploadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "coachroom_upload_duration_seconds",
			Help:    "Duration of CV uploads",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
}

var _ ports.Metrics = (*PrometheusCollector)(nil)

func (c *PrometheusCollector) MediaAcquired(purpose string) {
	c.mediaAcquiredTotal.WithLabelValues(purpose).Inc()
	c.mediaHeld.WithLabelValues(purpose).Inc()
}

func (c *PrometheusCollector) MediaAcquireFailed(purpose string, kind domain.MediaErrorKind) {
	c.mediaFailedTotal.WithLabelValues(purpose, string(kind)).Inc()
}

func (c *PrometheusCollector) MediaReleased(purpose string) {
	c.mediaReleasedTotal.WithLabelValues(purpose).Inc()
	c.mediaHeld.WithLabelValues(purpose).Dec()
}

func (c *PrometheusCollector) RecordingStarted(flow domain.FlowKind) {
	c.recordingsStartedTotal.WithLabelValues(string(flow)).Inc()
	c.recordingsActive.WithLabelValues(string(flow)).Inc()
}

func (c *PrometheusCollector) RecordingEnded(flow domain.FlowKind, duration time.Duration) {
	c.recordingsActive.WithLabelValues(string(flow)).Dec()
	c.recordingDuration.WithLabelValues(string(flow)).Observe(duration.Seconds())
}

func (c *PrometheusCollector) SessionContexts(open int) {
	c.sessionContextsOpen.Set(float64(open))
}

func (c *PrometheusCollector) UploadFinished(state domain.UploadState, duration time.Duration) {
	c.uploadsTotal.WithLabelValues(string(state)).Inc()
	c.uploadDuration.Observe(duration.Seconds())
}
