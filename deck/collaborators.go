package deck

import (
	"time"

	"scratchbrainz/platter"
	"scratchbrainz/tonearm"
)

// AudioState is the playback state an audio device reports.
type AudioState int

const (
	AudioStopped AudioState = iota
	AudioStarted
)

func (s AudioState) String() string {
	if s == AudioStarted {
		return "started"
	}
	return "stopped"
}

// AudioDevice plays the loaded track. The engine treats it as ground truth
// for where the needle sounds, and issues many short grain starts while
// scratching, so implementations must tolerate rapid start/stop churn.
type AudioDevice interface {
	// Duration returns the loaded track length in seconds, or 0.
	Duration() float64
	// Start begins playback from position after delay. A positive grain
	// stops playback again after that long.
	Start(delay time.Duration, from float64, grain time.Duration) error
	Stop() error
	// SetRate sets the playback rate multiplier. Negative rates play
	// backwards.
	SetRate(multiplier float64) error
	SetReverse(reverse bool) error
	// Position returns the playback position in seconds.
	Position() float64
	State() AudioState
}

// ArmPose is the tonearm placement pushed to the renderer.
type ArmPose struct {
	Angle  float64        `json:"angle"`
	Height tonearm.Height `json:"-"`
	Level  float64        `json:"level"`
}

// Renderer draws the deck. The engine never reads anything back from it.
type Renderer interface {
	PlaceTonearm(pose ArmPose)
	RotatePlatter(angle float64)
	// SpinPlatter hands a servo-locked rotation to the renderer to animate
	// on its own. A zero Period means the platter is no longer locked.
	SpinPlatter(spin platter.Spin)
}

type nopRenderer struct{}

func (nopRenderer) PlaceTonearm(ArmPose) {}
func (nopRenderer) RotatePlatter(float64) {}
func (nopRenderer) SpinPlatter(platter.Spin) {}

type silentDevice struct{}

func (silentDevice) Duration() float64 { return 0 }
func (silentDevice) Start(time.Duration, float64, time.Duration) error { return ErrNoTrack }
func (silentDevice) Stop() error { return nil }
func (silentDevice) SetRate(float64) error { return nil }
func (silentDevice) SetReverse(bool) error { return nil }
func (silentDevice) Position() float64 { return 0 }
func (silentDevice) State() AudioState { return AudioStopped }
