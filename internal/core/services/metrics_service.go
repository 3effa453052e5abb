package services

import (
	"sync"
	"time"

	"coachroom/internal/core/domain"
	"coachroom/internal/core/ports"
)

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) MediaAcquired(string)                             {}
func (NopMetrics) MediaAcquireFailed(string, domain.MediaErrorKind) {}
func (NopMetrics) MediaReleased(string)                             {}
func (NopMetrics) RecordingStarted(domain.FlowKind)                 {}
func (NopMetrics) RecordingEnded(domain.FlowKind, time.Duration)    {}
func (NopMetrics) SessionContexts(int)                              {}
func (NopMetrics) UploadFinished(domain.UploadState, time.Duration) {}

// FlowStats aggregates recordings of one flow since process start.
type FlowStats struct {
	RecordingsStarted   int           `json:"recordings_started"`
	RecordingsCompleted int           `json:"recordings_completed"`
	ActiveRecordings    int           `json:"active_recordings"`
	TotalRecorded       time.Duration `json:"total_recorded_ns"`
}

type MediaStats struct {
	Acquired     map[string]int                `json:"acquired"`
	Released     map[string]int                `json:"released"`
	FailedByKind map[domain.MediaErrorKind]int `json:"failed_by_kind"`
}

type Stats struct {
	Flows        map[domain.FlowKind]FlowStats `json:"flows"`
	Media        MediaStats                    `json:"media"`
	OpenContexts int                           `json:"open_contexts"`
	Uploads      map[domain.UploadState]int    `json:"uploads"`
	Timestamp    time.Time                     `json:"timestamp"`
}

// MetricsService keeps in-process counters and forwards every observation to
// an optional delegate such as the Prometheus collector.
type MetricsService struct {
	mu       sync.RWMutex
	delegate ports.Metrics

	flows        map[domain.FlowKind]*FlowStats
	acquired     map[string]int
	released     map[string]int
	failed       map[domain.MediaErrorKind]int
	openContexts int
	uploads      map[domain.UploadState]int
}

func NewMetricsService(delegate ports.Metrics) *MetricsService {
	if delegate == nil {
		delegate = NopMetrics{}
	}
	return &MetricsService{
		delegate: delegate,
		flows:    make(map[domain.FlowKind]*FlowStats),
		acquired: make(map[string]int),
		released: make(map[string]int),
		failed:   make(map[domain.MediaErrorKind]int),
		uploads:  make(map[domain.UploadState]int),
	}
}

func (m *MetricsService) MediaAcquired(purpose string) {
	m.mu.Lock()
	m.acquired[purpose]++
	m.mu.Unlock()
	m.delegate.MediaAcquired(purpose)
}

func (m *MetricsService) MediaAcquireFailed(purpose string, kind domain.MediaErrorKind) {
	m.mu.Lock()
	m.failed[kind]++
	m.mu.Unlock()
	m.delegate.MediaAcquireFailed(purpose, kind)
}

func (m *MetricsService) MediaReleased(purpose string) {
	m.mu.Lock()
	m.released[purpose]++
	m.mu.Unlock()
	m.delegate.MediaReleased(purpose)
}

func (m *MetricsService) RecordingStarted(flow domain.FlowKind) {
	m.mu.Lock()
	stats := m.flowLocked(flow)
	stats.RecordingsStarted++
	stats.ActiveRecordings++
	m.mu.Unlock()
	m.delegate.RecordingStarted(flow)
}

func (m *MetricsService) RecordingEnded(flow domain.FlowKind, duration time.Duration) {
	m.mu.Lock()
	stats := m.flowLocked(flow)
	stats.RecordingsCompleted++
	if stats.ActiveRecordings > 0 {
		stats.ActiveRecordings--
	}
	if duration > 0 {
		stats.TotalRecorded += duration
	}
	m.mu.Unlock()
	m.delegate.RecordingEnded(flow, duration)
}

func (m *MetricsService) SessionContexts(open int) {
	m.mu.Lock()
	m.openContexts = open
	m.mu.Unlock()
	m.delegate.SessionContexts(open)
}

func (m *MetricsService) UploadFinished(state domain.UploadState, duration time.Duration) {
	m.mu.Lock()
	m.uploads[state]++
	m.mu.Unlock()
	m.delegate.UploadFinished(state, duration)
}

// Snapshot returns a copy of the counters.
func (m *MetricsService) Snapshot() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Flows: make(map[domain.FlowKind]FlowStats, len(m.flows)),
		Media: MediaStats{
			Acquired:     copyCounts(m.acquired),
			Released:     copyCounts(m.released),
			FailedByKind: copyCounts(m.failed),
		},
		OpenContexts: m.openContexts,
		Uploads:      copyCounts(m.uploads),
		Timestamp:    time.Now(),
	}
	for flow, fs := range m.flows {
		stats.Flows[flow] = *fs
	}
	return stats
}

func (m *MetricsService) flowLocked(flow domain.FlowKind) *FlowStats {
	stats, ok := m.flows[flow]
	if !ok {
		stats = &FlowStats{}
		m.flows[flow] = stats
	}
	return stats
}

func copyCounts[K comparable](src map[K]int) map[K]int {
	dst := make(map[K]int, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
