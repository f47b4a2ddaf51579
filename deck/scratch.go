package deck

import (
	"fmt"
	"time"

	"scratchbrainz/groove"
	"scratchbrainz/tonearm"
)

// GestureKind tells the two manual gestures apart.
type GestureKind int

const (
	DiscScratch GestureKind = iota
	ArmDrag
)

func (k GestureKind) String() string {
	if k == ArmDrag {
		return "arm_drag"
	}
	return "disc_scratch"
}

// Session is the state of one manual gesture, from press to release. The
// anchors fix the reference frame audio positions are computed in, so a
// long scratch never drifts from where it started.
type Session struct {
	Kind            GestureKind
	AnchorRotation  float64
	AnchorAudioTime float64
	LastAngle       float64
	LastEvent       time.Time
	Velocity        float64
	// Position is the last audio position scrubbed to.
	Position float64

	// inGroove is set when the needle was playing the record as the hand
	// went down, so Position is where the arm belongs on release.
	inGroove bool
}

// Gesture returns a copy of the gesture in progress, if any.
func (e *Engine) Gesture() (Session, bool) {
	if e.session == nil {
		return Session{}, false
	}
	return *e.session, true
}

// BeginDiscScratch puts a hand on the record at p. The platter stops
// following the motor and any playing audio is muted in favour of scrub
// grains.
func (e *Engine) BeginDiscScratch(p Point) error {
	if e.session != nil {
		return fmt.Errorf("begin disc scratch: %w", ErrGestureActive)
	}
	angle, err := e.geometry.PlatterAngle(p)
	if err != nil {
		return fmt.Errorf("begin disc scratch: %w", err)
	}
	now := e.clock.Now()
	rotation := e.platter.BeginScratch(now)
	anchor := e.audio.Position()
	e.stopAudio()

	e.session = &Session{
		Kind:            DiscScratch,
		AnchorRotation:  rotation,
		AnchorAudioTime: anchor,
		LastAngle:       angle,
		LastEvent:       now,
		Position:        anchor,
		inGroove:        e.arm.Down() && e.arm.Zone() == groove.ZonePlaying,
	}
	e.log.Debug("disc scratch began", "rotation", rotation, "audio_time", anchor)
	return nil
}

// UpdateDiscScratch moves the hand to p, turning the record by the angle
// swept since the last sample.
func (e *Engine) UpdateDiscScratch(p Point) error {
	s := e.session
	if s == nil || s.Kind != DiscScratch {
		return fmt.Errorf("update disc scratch: %w", ErrNoGesture)
	}
	angle, err := e.geometry.PlatterAngle(p)
	if err != nil {
		return fmt.Errorf("update disc scratch: %w", err)
	}
	now := e.clock.Now()
	dt := now.Sub(s.LastEvent)
	if dt < time.Millisecond {
		dt = time.Millisecond
	}
	delta := groove.NormalizeDelta(angle - s.LastAngle)
	// Degrees per 60 Hz frame, the unit the platter keeps velocity in.
	velocity := delta / (float64(dt) / float64(time.Millisecond)) * (1000 / groove.FrameRate)
	velocity = groove.Clamp(velocity, -maxDiscVelocity, maxDiscVelocity)

	if err := e.platter.ScratchBy(delta, velocity); err != nil {
		return fmt.Errorf("update disc scratch: %w", err)
	}
	s.LastAngle = angle
	s.LastEvent = now
	s.Velocity = velocity
	return nil
}

// EndDiscScratch lifts the hand. The platter settles back to the motor
// speed, or coasts to a stop with the motor off, and playing audio resumes
// from where the scratch left it with the arm re-aligned to match. The arm
// keeps sweeping under the hand, so it is re-aligned before its zone is
// checked.
func (e *Engine) EndDiscScratch() error {
	s := e.session
	if s == nil || s.Kind != DiscScratch {
		return fmt.Errorf("end disc scratch: %w", ErrNoGesture)
	}
	now := e.clock.Now()
	e.platter.EndScratch(now)
	e.session = nil
	e.stopAudio()
	e.log.Debug("disc scratch ended", "regime", e.platter.Regime(), "position", s.Position)

	if e.transport.Phase != Running || !e.arm.Down() {
		return nil
	}
	dur := e.duration()
	if s.inGroove && e.audio.Duration() > 0 {
		e.arm.Place(groove.ArmAngleFromAudioTime(s.Position, dur), tonearm.Playing)
	}
	if e.arm.Zone() != groove.ZonePlaying {
		return nil
	}
	e.sweep(now)
	e.startAudio(groove.AudioTimeFromArmAngle(e.arm.Angle(), dur), ResumeDelay)
	return nil
}

// BeginArmDrag takes hold of the tonearm at p. Pending arm sequence steps
// are cancelled and audio is muted while the arm is in hand.
func (e *Engine) BeginArmDrag(p Point) error {
	if e.session != nil {
		return fmt.Errorf("begin arm drag: %w", ErrGestureActive)
	}
	angle, err := e.geometry.ArmAngle(p)
	if err != nil {
		return fmt.Errorf("begin arm drag: %w", err)
	}
	now := e.clock.Now()
	e.sched.Supersede(OwnerArm)
	e.arm.BeginDrag(angle, now)
	e.stopAudio()

	e.session = &Session{
		Kind:            ArmDrag,
		AnchorRotation:  e.platter.Angle(),
		AnchorAudioTime: e.audio.Position(),
		LastAngle:       angle,
		LastEvent:       now,
		Position:        e.audio.Position(),
	}
	e.log.Debug("arm drag began", "arm", e.arm.Angle(), "pointer", angle)
	return nil
}

// UpdateArmDrag moves the drag target to follow p. The arm itself closes in
// on the target each tick.
func (e *Engine) UpdateArmDrag(p Point) error {
	s := e.session
	if s == nil || s.Kind != ArmDrag {
		return fmt.Errorf("update arm drag: %w", ErrNoGesture)
	}
	angle, err := e.geometry.ArmAngle(p)
	if err != nil {
		return fmt.Errorf("update arm drag: %w", err)
	}
	now := e.clock.Now()
	delta := groove.NormalizeDelta(angle - s.LastAngle)
	unwrapped := s.LastAngle + delta
	if err := e.arm.UpdateDrag(unwrapped); err != nil {
		return fmt.Errorf("update arm drag: %w", err)
	}
	if dt := now.Sub(s.LastEvent).Seconds(); dt > 0 {
		s.Velocity = delta / dt
	}
	s.LastAngle = unwrapped
	s.LastEvent = now
	return nil
}

// EndArmDrag lets go of the tonearm and applies the drop rules.
func (e *Engine) EndArmDrag() error {
	s := e.session
	if s == nil || s.Kind != ArmDrag {
		return fmt.Errorf("end arm drag: %w", ErrNoGesture)
	}
	angle, err := e.arm.EndDrag()
	e.session = nil
	if err != nil {
		return fmt.Errorf("end arm drag: %w", err)
	}
	e.stopAudio()
	e.drop(angle, e.clock.Now())
	return nil
}

// drop places a released arm. Off the record it goes back to its rest and
// the motor stops; on the record it plays from there, starting the motor
// if needed.
func (e *Engine) drop(angle float64, now time.Time) {
	zone := groove.ZoneOf(angle)
	e.log.Debug("arm dropped", "angle", angle, "zone", zone, "on_disc", groove.OnDisc(angle))

	if !groove.OnDisc(angle) {
		e.arm.MoveTo(groove.ArmRest, tonearm.Rest)
		e.stop(now)
		return
	}

	e.arm.Place(angle, tonearm.Playing)
	if !e.transport.Running() {
		e.start(groove.RPM33, now)
		return
	}
	e.transport.Phase = Running
	e.land(now)
}

// reconcileScratch turns the gesture's new angles into a scrub grain. It
// runs after the platter and arm have moved for the tick.
func (e *Engine) reconcileScratch(now time.Time) {
	s := e.session
	if s == nil {
		return
	}
	dur := e.audio.Duration()

	switch s.Kind {
	case DiscScratch:
		if now.Sub(s.LastEvent) > staleGesture {
			// A hand resting on the record.
			if err := e.platter.DampScratch(staleDamping); err != nil {
				e.log.Debug("scratch damping skipped", "error", err)
			}
		}
		if dur <= 0 {
			return
		}
		turned := e.platter.Angle() - s.AnchorRotation
		pos := s.AnchorAudioTime + turned*groove.SecondsPerDegree(e.transport.RPM)
		s.Position = groove.Clamp(pos, 0, dur)
		e.scrub(s.Position, e.platter.Velocity()/discVelocityScale*2)

	case ArmDrag:
		if !e.transport.Running() || dur <= 0 {
			return
		}
		if e.arm.Zone() != groove.ZonePlaying {
			e.stopAudio()
			return
		}
		s.Position = groove.AudioTimeFromArmAngle(e.arm.Angle(), dur)
		e.scrub(s.Position, e.arm.ScrubVelocity()*2)
	}
}
