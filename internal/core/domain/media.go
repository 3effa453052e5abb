package domain

type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// MediaConstraints selects which devices an acquisition asks for.
type MediaConstraints struct {
	Video bool `json:"video"`
	Audio bool `json:"audio"`
}

// EquipmentStatus is the readiness record produced by a probe. Network is
// assumed available and never verified.
type EquipmentStatus struct {
	Camera     bool `json:"camera"`
	Microphone bool `json:"microphone"`
	Network    bool `json:"network"`
}

// Ready reports whether a session may be started.
func (s EquipmentStatus) Ready() bool {
	return s.Camera && s.Microphone
}
