package deck

import (
	"fmt"
	"math"
	"time"

	"scratchbrainz/groove"
	"scratchbrainz/tonearm"
)

// Phase is the transport state.
type Phase int

const (
	Stopped Phase = iota
	// Starting means the motor is on and the arm is still being lowered.
	Starting
	Running
)

func (p Phase) String() string {
	switch p {
	case Starting:
		return "starting"
	case Running:
		return "running"
	default:
		return "stopped"
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Direction is the platter's direction of travel.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// Label is the short form shown on the direction button.
func (d Direction) Label() string {
	if d == Reverse {
		return "REV"
	}
	return "FWD"
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Transport is the motor state. RPM is 0 exactly when the phase is Stopped.
type Transport struct {
	Phase     Phase     `json:"phase"`
	RPM       float64   `json:"rpm"`
	Direction Direction `json:"direction"`
}

// Running reports whether the motor is on.
func (t Transport) Running() bool { return t.Phase != Stopped }

// SpeedLabel is the active speed indicator: "33", "45" or empty.
func (t Transport) SpeedLabel() string {
	switch t.RPM {
	case groove.RPM33:
		return "33"
	case groove.RPM45:
		return "45"
	default:
		return ""
	}
}

// Start sequence timings, from the moment the motor is switched on.
const (
	startLiftAt  = 30 * time.Millisecond
	startMoveAt  = 150 * time.Millisecond
	startLowerAt = 300 * time.Millisecond
	startPlayAt  = 450 * time.Millisecond

	stopLiftAt   = 100 * time.Millisecond
	stopReturnAt = 700 * time.Millisecond
	stopLowerAt  = 1300 * time.Millisecond
)

func normalizeRPM(rpm float64) (float64, bool) {
	switch {
	case rpm == 0:
		return 0, true
	case math.Abs(rpm-groove.RPM33) < 0.5:
		return groove.RPM33, true
	case rpm == groove.RPM45:
		return groove.RPM45, true
	default:
		return 0, false
	}
}

// Transport returns the current transport state.
func (e *Engine) Transport() Transport { return e.transport }

// SetSpeed switches the motor to rpm: 0 stops it, 33⅓ or 45 run it.
//
// From stopped the arm is lifted off its rest, carried to the lead-in and
// lowered before the sweep and audio begin. An arm already down on the
// record is left where it is. Changing speed while running retunes the
// platter and audio rate in place. Stopping spins the platter down and
// returns the arm to its rest.
func (e *Engine) SetSpeed(rpm float64) error {
	norm, ok := normalizeRPM(rpm)
	if !ok {
		return fmt.Errorf("set speed %.2f: %w", rpm, ErrUnsupportedSpeed)
	}
	now := e.clock.Now()
	switch {
	case norm == 0:
		e.stop(now)
	case !e.transport.Running():
		e.start(norm, now)
	default:
		e.retune(norm, now)
	}
	return nil
}

func (e *Engine) start(rpm float64, now time.Time) {
	e.sched.Supersede(OwnerTransport, OwnerArm)
	e.transport.Phase = Starting
	e.transport.RPM = rpm
	e.platter.Drive(rpm, e.pitch, e.transport.Direction == Reverse, now)
	e.log.Debug("transport starting", "rpm", rpm, "direction", e.transport.Direction)

	if e.arm.Dragging() {
		// The drop decides what happens next.
		return
	}
	if e.arm.Down() && groove.OnDisc(e.arm.Angle()) {
		e.transport.Phase = Running
		e.land(now)
		return
	}

	e.sched.After(OwnerArm, startLiftAt, "lift", func(time.Time) {
		e.arm.MoveTo(e.arm.Angle(), tonearm.Lifted)
	})
	e.sched.After(OwnerArm, startMoveAt, "cue", func(time.Time) {
		e.arm.MoveTo(groove.ArmStart, tonearm.Lifted)
	})
	e.sched.After(OwnerArm, startLowerAt, "lower", func(time.Time) {
		e.arm.MoveTo(groove.ArmStart, tonearm.Playing)
	})
	e.sched.After(OwnerArm, startPlayAt, "play", func(now time.Time) {
		e.transport.Phase = Running
		e.land(now)
	})
}

func (e *Engine) retune(rpm float64, now time.Time) {
	e.transport.RPM = rpm
	e.platter.Drive(rpm, e.pitch, e.transport.Direction == Reverse, now)
	e.log.Debug("transport retuned", "rpm", rpm)
	e.retuneAudio(now)
}

// retuneAudio applies a new playback rate in place and re-times the sweep
// from the arm's current angle.
func (e *Engine) retuneAudio(now time.Time) {
	if e.audio.State() == AudioStarted && e.session == nil {
		e.audioErr("set_rate", e.audio.SetRate(e.playbackRate()))
	}
	if e.arm.Regime() == tonearm.Sweep {
		e.sweep(now)
	}
}

func (e *Engine) stop(now time.Time) {
	if !e.transport.Running() {
		return
	}
	e.sched.Supersede(OwnerTransport, OwnerArm)
	e.transport.Phase = Stopped
	e.transport.RPM = 0
	e.platter.Release(now)
	e.stopAudio()
	e.audioPending = false
	e.log.Debug("transport stopped", "angle", e.platter.Angle())

	if e.arm.Dragging() || e.arm.Parked() {
		return
	}
	e.arm.Hold()
	e.sched.After(OwnerArm, stopLiftAt, "lift", func(time.Time) {
		e.arm.MoveTo(e.arm.Angle(), tonearm.Lifted)
	})
	e.sched.After(OwnerArm, stopReturnAt, "return", func(time.Time) {
		e.arm.MoveTo(groove.ArmRest, tonearm.Lifted)
	})
	e.sched.After(OwnerArm, stopLowerAt, "rest", func(time.Time) {
		e.arm.MoveTo(groove.ArmRest, tonearm.Rest)
	})
}

// ToggleDirection flips the platter's direction of travel. The rotation
// continues from its current angle and playing audio restarts at the same
// position in the new direction, just after a short offset.
func (e *Engine) ToggleDirection() {
	now := e.clock.Now()
	if e.transport.Direction == Forward {
		e.transport.Direction = Reverse
	} else {
		e.transport.Direction = Forward
	}
	reverse := e.transport.Direction == Reverse
	if e.transport.Running() {
		e.platter.Drive(e.transport.RPM, e.pitch, reverse, now)
	}
	e.log.Debug("direction toggled", "direction", e.transport.Direction)

	if e.session != nil || e.audio.State() != AudioStarted {
		return
	}
	dur := e.audio.Duration()
	pos := groove.Clamp(e.audio.Position(), 0, math.Max(0, dur-tailGuard))
	if !e.audioErr("stop", e.audio.Stop()) {
		return
	}
	ok := e.audioErr("set_reverse", e.audio.SetReverse(reverse)) &&
		e.audioErr("start", e.audio.Start(DirectionRestartDelay, pos, 0))
	e.audioPending = !ok
}

// SetPitch sets the pitch factor, clamped to [0.5, 1.5]. Platter period,
// audio rate and sweep timing follow without any jump in position.
func (e *Engine) SetPitch(factor float64) {
	if math.IsNaN(factor) {
		return
	}
	e.pitch = groove.Clamp(factor, minPitch, maxPitch)
	if !e.transport.Running() {
		return
	}
	now := e.clock.Now()
	e.platter.Drive(e.transport.RPM, e.pitch, e.transport.Direction == Reverse, now)
	e.retuneAudio(now)
}

// Pitch returns the pitch factor.
func (e *Engine) Pitch() float64 { return e.pitch }

// ToggleArmLift works the cue lever. Lifting a playing arm pauses the sweep
// and silences the audio; lowering it onto the record plays from there if
// the motor is on.
func (e *Engine) ToggleArmLift() {
	if e.arm.Dragging() || e.arm.Regime() == tonearm.Sequenced {
		return
	}
	switch e.arm.Height() {
	case tonearm.Playing:
		e.arm.Hold()
		e.arm.SetHeight(tonearm.Lifted)
		e.stopAudio()
	case tonearm.Lifted:
		if e.arm.Zone() == groove.ZoneOffDisc {
			return
		}
		e.arm.SetHeight(tonearm.Playing)
		if e.transport.Running() {
			e.transport.Phase = Running
			e.land(e.clock.Now())
		}
	}
}

// land applies the zone policy for a needle that has just come down on the
// record with the motor on.
func (e *Engine) land(now time.Time) {
	if e.arm.Regime() == tonearm.Sequenced {
		e.arm.Place(e.arm.Target(), e.arm.Height())
	}
	if e.arm.Zone() != groove.ZonePlaying {
		// Label and run-out are silent; the arm stays where it landed.
		e.arm.Hold()
		e.stopAudio()
		return
	}
	e.sweep(now)
	e.startAudio(groove.AudioTimeFromArmAngle(e.arm.Angle(), e.duration()), 0)
}

// sweep starts the autonomous sweep from the arm's angle over the real
// time left in the track at the current rate.
func (e *Engine) sweep(now time.Time) {
	dur := e.duration()
	remaining := dur - groove.AudioTimeFromArmAngle(e.arm.Angle(), dur)
	if remaining <= 0 {
		e.arm.Place(groove.ArmRunout, tonearm.Playing)
		return
	}
	span := time.Duration(remaining / e.playbackRate() * float64(time.Second))
	e.arm.StartSweep(span, now)
}
