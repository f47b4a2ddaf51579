// Package deck is the turntable engine. An Engine owns the transport, the
// platter rotation, the tonearm and any manual gesture in progress, and
// keeps them in step with an external audio device once per tick.
//
// An Engine is not safe for concurrent use; one goroutine owns it and calls
// Tick once per frame.
package deck

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"k8s.io/utils/clock"

	"scratchbrainz/groove"
	"scratchbrainz/platter"
	"scratchbrainz/tonearm"
)

var (
	ErrUnsupportedSpeed = errors.New("unsupported speed")
	ErrInvalidGeometry  = errors.New("invalid geometry")
	ErrGestureActive    = errors.New("gesture already in progress")
	ErrNoGesture        = errors.New("no matching gesture in progress")
	ErrNoTrack          = errors.New("no track loaded")
)

const (
	// GrainLength is the length of one scrub grain.
	GrainLength = 40 * time.Millisecond
	// DirectionRestartDelay offsets the audio restart after a direction
	// flip so the device never sees stop and start in the same instant.
	DirectionRestartDelay = 50 * time.Millisecond
	// ResumeDelay offsets the audio restart after a scratch release.
	ResumeDelay = 10 * time.Millisecond
	// FallbackDuration is the sweep length used while no track is loaded.
	FallbackDuration = 720.0

	tailGuard      = 0.05
	maxScrubRate   = 20.0
	scrubRateFloor = 0.001
	// discVelocityScale turns degrees per frame into a scrub rate.
	discVelocityScale = 6.0
	// maxDiscVelocity bounds a single pointer sample, degrees per frame.
	maxDiscVelocity = 90.0
	staleGesture    = 100 * time.Millisecond
	staleDamping    = 0.1
	minPitch        = 0.5
	maxPitch        = 1.5
)

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	Clock    clock.PassiveClock
	Logger   *slog.Logger
	Audio    AudioDevice
	Renderer Renderer
	Geometry Geometry
	Platter  platter.Config
	Tonearm  tonearm.Config
	// Pitch is the initial pitch factor.
	Pitch float64
}

// Engine is the turntable.
type Engine struct {
	clock  clock.PassiveClock
	log    *slog.Logger
	audio  AudioDevice
	render Renderer
	sched  *Scheduler

	platter   *platter.Model
	arm       *tonearm.Arm
	transport Transport
	pitch     float64
	geometry  Geometry
	session   *Session

	// audioPending is set when a start was suppressed; the next natural
	// start retries it.
	audioPending bool
	lastAudioErr string

	lastSpin  platter.Spin
	lastAngle float64
	lastPose  ArmPose
}

// New builds an Engine with the platter stopped and the arm on its rest post.
func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Audio == nil {
		opts.Audio = silentDevice{}
	}
	if opts.Renderer == nil {
		opts.Renderer = nopRenderer{}
	}
	if opts.Platter == (platter.Config{}) {
		opts.Platter = platter.DefaultConfig()
	}
	if opts.Tonearm == (tonearm.Config{}) {
		opts.Tonearm = tonearm.DefaultConfig()
	}
	if opts.Pitch == 0 {
		opts.Pitch = 1
	}

	e := &Engine{
		clock:     opts.Clock,
		log:       opts.Logger,
		audio:     opts.Audio,
		render:    opts.Renderer,
		sched:     NewScheduler(opts.Clock),
		platter:   platter.New(opts.Platter),
		arm:       tonearm.New(opts.Tonearm),
		pitch:     groove.Clamp(opts.Pitch, minPitch, maxPitch),
		lastAngle: math.NaN(),
	}
	if opts.Geometry.Valid() {
		e.geometry = opts.Geometry
	}
	return e
}

// SetGeometry replaces the layout used to turn pointer positions into
// angles. An invalid layout is rejected and the previous one kept.
func (e *Engine) SetGeometry(g Geometry) error {
	if !g.Valid() {
		return fmt.Errorf("set geometry: %w", ErrInvalidGeometry)
	}
	e.geometry = g
	return nil
}

// SetAudio swaps the audio device, e.g. after a new track is loaded. The
// running transport picks the new device up at the arm position.
func (e *Engine) SetAudio(d AudioDevice) {
	if d == nil {
		d = silentDevice{}
	}
	e.stopAudio()
	e.audio = d
	if e.transport.Phase == Running && e.session == nil && e.arm.Down() {
		e.land(e.clock.Now())
	}
}

// Tick advances the deck by one frame and reports whether anything still
// needs frames. Due sequence steps run first, then the platter and the arm
// move, and only then is the audio reconciled to their new angles.
func (e *Engine) Tick() bool {
	now := e.clock.Now()

	e.sched.RunDue(now)

	if e.platter.Step(now) {
		e.log.Debug("platter regime changed", "regime", e.platter.Regime(), "angle", e.platter.Angle())
	}

	res := e.arm.Step(now)
	e.reconcileArm(res)
	e.reconcileScratch(now)
	e.push()

	return e.Active()
}

// Active reports whether the deck needs further frames.
func (e *Engine) Active() bool {
	return e.platter.Regime() != platter.Idle ||
		e.arm.Animating() ||
		e.session != nil ||
		e.sched.Len() > 0
}

func (e *Engine) reconcileArm(res tonearm.StepResult) {
	if res.Runout {
		e.log.Debug("run-out groove reached, freezing arm")
		e.stopAudio()
		return
	}
	if !res.ZoneChanged || e.arm.Dragging() {
		return
	}
	if res.Zone != groove.ZonePlaying {
		e.stopAudio()
		return
	}
	if e.transport.Running() && e.arm.Down() && e.audio.State() != AudioStarted {
		e.startAudio(groove.AudioTimeFromArmAngle(e.arm.Angle(), e.duration()), 0)
	}
}

func (e *Engine) push() {
	pose := ArmPose{Angle: e.arm.Angle(), Height: e.arm.Height(), Level: e.arm.Level()}
	if pose != e.lastPose {
		e.render.PlaceTonearm(pose)
		e.lastPose = pose
	}

	spin, _ := e.platter.Spin()
	if spin != e.lastSpin {
		e.render.SpinPlatter(spin)
		e.lastSpin = spin
	}
	if angle := e.platter.Angle(); angle != e.lastAngle {
		e.render.RotatePlatter(angle)
		e.lastAngle = angle
	}
}

// duration is the length the arm sweeps over.
func (e *Engine) duration() float64 {
	if d := e.audio.Duration(); d > 0 {
		return d
	}
	return FallbackDuration
}

func (e *Engine) playbackRate() float64 {
	return groove.PlaybackRate(e.transport.RPM, e.pitch)
}

// audioErr logs a rejected audio command and reports whether err was nil.
// Repeats of the same failure are logged at debug.
func (e *Engine) audioErr(op string, err error) bool {
	if err == nil {
		return true
	}
	msg := op + ": " + err.Error()
	if msg == e.lastAudioErr {
		e.log.Debug("audio command rejected", "op", op, "error", err)
	} else {
		e.log.Warn("audio command rejected", "op", op, "error", err)
		e.lastAudioErr = msg
	}
	return false
}

// startAudio plays the track from position after delay at the transport's
// rate and direction. While a disc scratch owns the audio, or the device
// cannot play, the start is left pending.
func (e *Engine) startAudio(from float64, delay time.Duration) {
	if e.session != nil {
		e.audioPending = true
		return
	}
	dur := e.audio.Duration()
	if dur <= 0 {
		e.audioPending = true
		e.audioErr("start", ErrNoTrack)
		return
	}
	if e.audio.State() == AudioStarted {
		e.audioErr("stop", e.audio.Stop())
	}
	pos := groove.Clamp(from, 0, math.Max(0, dur-tailGuard))
	ok := e.audioErr("set_reverse", e.audio.SetReverse(e.transport.Direction == Reverse)) &&
		e.audioErr("set_rate", e.audio.SetRate(e.playbackRate())) &&
		e.audioErr("start", e.audio.Start(delay, pos, 0))
	e.audioPending = !ok
	if ok {
		e.lastAudioErr = ""
	}
}

func (e *Engine) stopAudio() {
	if e.audio.State() == AudioStarted {
		e.audioErr("stop", e.audio.Stop())
	}
}

// scrub plays one grain at position and rate.
func (e *Engine) scrub(position, rate float64) {
	dur := e.audio.Duration()
	if dur <= 0 {
		return
	}
	if e.audio.State() == AudioStarted {
		if !e.audioErr("stop", e.audio.Stop()) {
			return
		}
	}
	rate = groove.FloorRate(groove.Clamp(rate, -maxScrubRate, maxScrubRate), scrubRateFloor)
	pos := groove.Clamp(position, 0, math.Max(0, dur-tailGuard))
	_ = e.audioErr("set_reverse", e.audio.SetReverse(false)) &&
		e.audioErr("set_rate", e.audio.SetRate(rate)) &&
		e.audioErr("grain", e.audio.Start(0, pos, GrainLength))
}

// Snapshot is a read-only view of the deck for UI reflection.
type Snapshot struct {
	Transport      Transport        `json:"transport"`
	Rotation       RotationSnapshot `json:"rotation"`
	Tonearm        TonearmSnapshot  `json:"tonearm"`
	Pitch          float64          `json:"pitch"`
	PitchKnob      float64          `json:"pitch_knob"`
	SpeedLabel     string           `json:"speed_label"`
	DirectionLabel string           `json:"direction_label"`
	Gesture        string           `json:"gesture,omitempty"`
	Audio          AudioSnapshot    `json:"audio"`
}

// RotationSnapshot is the platter state.
type RotationSnapshot struct {
	Angle    float64       `json:"angle"`
	Velocity float64       `json:"velocity"`
	Regime   string        `json:"regime"`
	Period   time.Duration `json:"period_ns,omitempty"`
}

// TonearmSnapshot is the tonearm state.
type TonearmSnapshot struct {
	Angle    float64 `json:"angle"`
	Target   float64 `json:"target"`
	Height   string  `json:"height"`
	Level    float64 `json:"level"`
	Dragging bool    `json:"dragging"`
	Regime   string  `json:"regime"`
	Zone     string  `json:"zone"`
}

// AudioSnapshot is what the audio device last reported.
type AudioSnapshot struct {
	State    string  `json:"state"`
	Position float64 `json:"position"`
	Duration float64 `json:"duration"`
	Pending  bool    `json:"pending,omitempty"`
}

// Snapshot returns the current state.
func (e *Engine) Snapshot() Snapshot {
	rot := RotationSnapshot{
		Angle:    e.platter.Angle(),
		Velocity: e.platter.Velocity(),
		Regime:   e.platter.Regime().String(),
	}
	if spin, ok := e.platter.Spin(); ok {
		rot.Period = spin.Period
	}

	s := Snapshot{
		Transport: e.transport,
		Rotation:  rot,
		Tonearm: TonearmSnapshot{
			Angle:    e.arm.Angle(),
			Target:   e.arm.Target(),
			Height:   e.arm.Height().String(),
			Level:    e.arm.Level(),
			Dragging: e.arm.Dragging(),
			Regime:   e.arm.Regime().String(),
			Zone:     e.arm.Zone().String(),
		},
		Pitch:          e.pitch,
		PitchKnob:      (maxPitch - e.pitch) / (maxPitch - minPitch),
		SpeedLabel:     e.transport.SpeedLabel(),
		DirectionLabel: e.transport.Direction.Label(),
		Audio: AudioSnapshot{
			State:    e.audio.State().String(),
			Position: e.audio.Position(),
			Duration: e.audio.Duration(),
			Pending:  e.audioPending,
		},
	}
	if e.session != nil {
		s.Gesture = e.session.Kind.String()
	}
	return s
}
