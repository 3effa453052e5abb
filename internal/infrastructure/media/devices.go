package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coachroom/internal/core/domain"
	"coachroom/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// DeviceSettings describes one simulated capture device.
type DeviceSettings struct {
	Present    bool
	Permission Permission
	// Exclusive devices refuse a second concurrent holder, like a camera
	// already opened by another application.
	Exclusive bool
}

type DeviceManagerConfig struct {
	Camera     DeviceSettings
	Microphone DeviceSettings
	// PromptDelay simulates the user answering the permission prompt.
	PromptDelay time.Duration
	Clock       clockwork.Clock
}

type device struct {
	DeviceSettings
	holders int
}

// DeviceManager grants camera and microphone access. Every granted device is
// a pion local track (VP8 for the camera, Opus for the microphone), and the
// manager counts holders so leaks are observable.
type DeviceManager struct {
	promptDelay time.Duration
	clock       clockwork.Clock
	logger      *zap.SugaredLogger

	mu       sync.Mutex
	devices  map[domain.TrackKind]*device
	acquired int
	released int
}

func NewDeviceManager(cfg DeviceManagerConfig, logger *zap.SugaredLogger) *DeviceManager {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &DeviceManager{
		promptDelay: cfg.PromptDelay,
		clock:       cfg.Clock,
		logger:      logger,
		devices: map[domain.TrackKind]*device{
			domain.TrackVideo: {DeviceSettings: cfg.Camera},
			domain.TrackAudio: {DeviceSettings: cfg.Microphone},
		},
	}
}

var _ ports.MediaAcquirer = (*DeviceManager)(nil)

// Acquire grants the requested devices, camera first. When a later device is
// refused the tracks granted so far are returned alongside the error.
func (m *DeviceManager) Acquire(ctx context.Context, constraints domain.MediaConstraints) (ports.MediaStream, error) {
	if m.promptDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, &domain.MediaError{Kind: domain.MediaUnknown, Reason: "permission prompt dismissed", Err: ctx.Err()}
		case <-m.clock.After(m.promptDelay):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, &domain.MediaError{Kind: domain.MediaUnknown, Reason: "acquisition cancelled", Err: err}
	}

	var kinds []domain.TrackKind
	if constraints.Video {
		kinds = append(kinds, domain.TrackVideo)
	}
	if constraints.Audio {
		kinds = append(kinds, domain.TrackAudio)
	}
	if len(kinds) == 0 {
		return nil, domain.NewMediaError(domain.MediaUnknown, "no devices requested")
	}

	stream := &Stream{id: uuid.New().String()}
	for _, kind := range kinds {
		track, err := m.grant(kind, stream.id)
		if err != nil {
			m.logger.Infow("device refused", "kind", kind, "error", err)
			if len(stream.tracks) == 0 {
				return nil, err
			}
			return stream, err
		}
		stream.tracks = append(stream.tracks, track)
	}

	m.logger.Debugw("devices granted", "stream_id", stream.id, "tracks", len(stream.tracks))
	return stream, nil
}

func (m *DeviceManager) grant(kind domain.TrackKind, streamID string) (*Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dev := m.devices[kind]
	switch {
	case dev == nil || !dev.Present:
		return nil, domain.NewMediaError(domain.MediaDeviceNotFound, fmt.Sprintf("no %s device", deviceName(kind)))
	case dev.Permission != PermissionGranted:
		return nil, domain.NewMediaError(domain.MediaPermissionDenied, fmt.Sprintf("%s permission denied", deviceName(kind)))
	case dev.Exclusive && dev.holders > 0:
		return nil, domain.NewMediaError(domain.MediaDeviceInUse, fmt.Sprintf("%s is in use", deviceName(kind)))
	}

	local, err := webrtc.NewTrackLocalStaticSample(codecFor(kind), uuid.New().String(), streamID)
	if err != nil {
		return nil, &domain.MediaError{Kind: domain.MediaUnknown, Reason: "create local track", Err: err}
	}

	dev.holders++
	m.acquired++
	return &Track{local: local, kind: kind, release: m.release}, nil
}

func (m *DeviceManager) release(kind domain.TrackKind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if dev := m.devices[kind]; dev != nil && dev.holders > 0 {
		dev.holders--
	}
	m.released++
}

// SetPermission changes the simulated answer to future permission prompts.
func (m *DeviceManager) SetPermission(kind domain.TrackKind, p Permission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dev := m.devices[kind]; dev != nil {
		dev.Permission = p
	}
}

func (m *DeviceManager) SetPresent(kind domain.TrackKind, present bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dev := m.devices[kind]; dev != nil {
		dev.Present = present
	}
}

// Holders returns how many live tracks hold the device.
func (m *DeviceManager) Holders(kind domain.TrackKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dev := m.devices[kind]; dev != nil {
		return dev.holders
	}
	return 0
}

// Counts returns the total number of tracks granted and released.
func (m *DeviceManager) Counts() (acquired, released int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired, m.released
}

func codecFor(kind domain.TrackKind) webrtc.RTPCodecCapability {
	if kind == domain.TrackAudio {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
}

func deviceName(kind domain.TrackKind) string {
	if kind == domain.TrackAudio {
		return "microphone"
	}
	return "camera"
}

// Track is one granted device backed by a pion local track.
type Track struct {
	local   *webrtc.TrackLocalStaticSample
	kind    domain.TrackKind
	release func(domain.TrackKind)
	once    sync.Once
}

func (t *Track) ID() string             { return t.local.ID() }
func (t *Track) Kind() domain.TrackKind { return t.kind }

// Local exposes the pion track for attaching to a peer connection.
func (t *Track) Local() *webrtc.TrackLocalStaticSample { return t.local }

// Stop releases the device. Only the first call has an effect.
func (t *Track) Stop() {
	t.once.Do(func() { t.release(t.kind) })
}

type Stream struct {
	id     string
	tracks []ports.MediaTrack
}

func (s *Stream) ID() string                 { return s.id }
func (s *Stream) Tracks() []ports.MediaTrack { return s.tracks }
