// Package tonearm models the tonearm: its pivot angle, needle height and the
// three laws that can move it.
package tonearm

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/charmbracelet/harmonica"

	"scratchbrainz/groove"
)

// ErrNotDragging is returned by drag updates when no drag is in progress.
var ErrNotDragging = errors.New("tonearm: not dragging")

// Height is the needle height mode.
type Height int

const (
	Rest Height = iota
	Lifted
	Playing
)

func (h Height) String() string {
	switch h {
	case Lifted:
		return "lifted"
	case Playing:
		return "playing"
	default:
		return "rest"
	}
}

// Level is the visual height of the headshell for the mode, in the
// renderer's depth units.
func (h Height) Level() float64 {
	switch h {
	case Lifted:
		return 5
	case Playing:
		return 3
	default:
		return -8
	}
}

// Regime selects which law writes the pivot angle.
type Regime int

const (
	Idle Regime = iota
	Sequenced
	Sweep
	Dragged
)

func (r Regime) String() string {
	switch r {
	case Idle:
		return "idle"
	case Sequenced:
		return "sequenced"
	case Sweep:
		return "sweep"
	case Dragged:
		return "dragged"
	default:
		return fmt.Sprintf("regime(%d)", int(r))
	}
}

// Config holds the tracking constants.
type Config struct {
	Damping          float64 // fraction of the drag gap closed per tick
	SnapEpsilon      float64 // drag gap below which the arm snaps to target
	VelocityDivisor  float64 // degrees per second to scrub rate
	MaxScrubVelocity float64
	SpringFrequency  float64 // angular frequency of scripted moves
}

// DefaultConfig returns the stock tracking constants.
func DefaultConfig() Config {
	return Config{
		Damping:          0.08,
		SnapEpsilon:      0.1,
		VelocityDivisor:  50,
		MaxScrubVelocity: 2,
		SpringFrequency:  14,
	}
}

// StepResult reports what happened to the arm during one Step.
type StepResult struct {
	Zone        groove.Zone
	ZoneChanged bool
	// Runout is set on the tick an autonomous sweep reaches the run-out
	// groove and freezes.
	Runout bool
}

// Arm is the tonearm state. It is not safe for concurrent use.
type Arm struct {
	cfg    Config
	spring harmonica.Spring

	angle    float64
	target   float64
	angleVel float64
	height   Height
	level    float64
	levelVel float64
	regime   Regime
	zone     groove.Zone

	sweepFrom float64
	sweepAt   time.Time
	sweepDur  time.Duration

	dragOffset    float64
	dragLast      float64
	dragAt        time.Time
	scrubVelocity float64
}

// New returns an arm parked on its rest post.
func New(cfg Config) *Arm {
	return &Arm{
		cfg:    cfg,
		spring: harmonica.NewSpring(harmonica.FPS(int(groove.FrameRate)), cfg.SpringFrequency, 1.0),
		angle:  groove.ArmRest,
		target: groove.ArmRest,
		height: Rest,
		level:  Rest.Level(),
		zone:   groove.ZoneOf(groove.ArmRest),
	}
}

// Angle is the current arm angle in degrees.
func (a *Arm) Angle() float64 { return a.angle }

// Target is the angle the arm is travelling toward.
func (a *Arm) Target() float64 { return a.target }

func (a *Arm) Height() Height { return a.height }

// Level is the animated headshell height, springing toward Height().Level().
func (a *Arm) Level() float64 { return a.level }

func (a *Arm) Regime() Regime { return a.regime }

// Dragging reports whether a hand holds the arm.
func (a *Arm) Dragging() bool { return a.regime == Dragged }

// Zone is the groove zone under the needle.
func (a *Arm) Zone() groove.Zone { return groove.ZoneOf(a.angle) }

// ScrubVelocity is the last drag velocity, degrees per frame, bounded by
// Config.MaxScrubVelocity.
func (a *Arm) ScrubVelocity() float64 { return a.scrubVelocity }

// Parked reports whether the arm is on, or already headed down onto, its
// rest post.
func (a *Arm) Parked() bool {
	return a.height == Rest && a.target == groove.ArmRest && a.regime != Dragged
}

// Down reports whether the needle is lowered on the record.
func (a *Arm) Down() bool {
	return a.height == Playing && a.regime != Dragged
}

// Animating reports whether the arm still needs frames.
func (a *Arm) Animating() bool {
	return a.regime != Idle || a.level != a.height.Level()
}

// MoveTo starts a scripted move toward angle at the given height.
func (a *Arm) MoveTo(angle float64, h Height) {
	a.regime = Sequenced
	a.target = angle
	a.height = h
}

// Place puts the arm at angle and height immediately, without animating
// the pivot.
func (a *Arm) Place(angle float64, h Height) {
	a.regime = Idle
	a.angle = angle
	a.target = angle
	a.angleVel = 0
	a.height = h
	a.zone = groove.ZoneOf(angle)
}

// SetHeight changes the needle height in place.
func (a *Arm) SetHeight(h Height) { a.height = h }

// StartSweep moves the arm from its current angle toward the run-out groove
// over remaining. A scripted move in progress is completed first.
func (a *Arm) StartSweep(remaining time.Duration, now time.Time) {
	if a.regime == Sequenced {
		a.angle = a.target
		a.angleVel = 0
	}
	a.regime = Sweep
	a.sweepFrom = a.angle
	a.sweepAt = now
	a.sweepDur = remaining
	a.target = groove.ArmRunout
	a.zone = groove.ZoneOf(a.angle)
}

// Hold stops whatever law is moving the arm and leaves it where it is.
func (a *Arm) Hold() {
	if a.regime == Sequenced || a.regime == Sweep {
		a.target = a.angle
	}
	a.regime = Idle
	a.angleVel = 0
}

// BeginDrag takes the arm in hand at pointerAngle. The pointer offset is
// kept so the arm does not jump to the pointer.
func (a *Arm) BeginDrag(pointerAngle float64, now time.Time) {
	if a.regime == Sequenced {
		a.angle = a.target
	}
	a.regime = Dragged
	a.dragOffset = a.angle - pointerAngle
	a.target = a.angle
	a.dragLast = a.angle
	a.dragAt = now
	a.scrubVelocity = 0
	a.angleVel = 0
	a.height = Lifted
}

// UpdateDrag sets the drag target from the pointer, clamped to the drag arc.
func (a *Arm) UpdateDrag(pointerAngle float64) error {
	if a.regime != Dragged {
		return ErrNotDragging
	}
	if math.IsNaN(pointerAngle) {
		return nil
	}
	a.target = groove.Clamp(pointerAngle+a.dragOffset, groove.ArmMinDrag, groove.ArmMaxDrag)
	return nil
}

// EndDrag releases the arm at its drag target and returns the drop angle.
func (a *Arm) EndDrag() (float64, error) {
	if a.regime != Dragged {
		return a.angle, ErrNotDragging
	}
	a.angle = a.target
	a.regime = Idle
	a.scrubVelocity = 0
	a.zone = groove.ZoneOf(a.angle)
	return a.angle, nil
}

// Step advances the arm to now.
func (a *Arm) Step(now time.Time) StepResult {
	if goal := a.height.Level(); a.level != goal || a.levelVel != 0 {
		a.level, a.levelVel = a.spring.Update(a.level, a.levelVel, goal)
		if math.Abs(goal-a.level) < 1e-3 && math.Abs(a.levelVel) < 1e-2 {
			a.level = goal
			a.levelVel = 0
		}
	}

	var res StepResult
	switch a.regime {
	case Sequenced:
		a.angle, a.angleVel = a.spring.Update(a.angle, a.angleVel, a.target)
		if math.Abs(a.target-a.angle) < 1e-3 && math.Abs(a.angleVel) < 1e-2 {
			a.angle = a.target
			a.angleVel = 0
			a.regime = Idle
		}

	case Sweep:
		progress := 1.0
		if a.sweepDur > 0 {
			progress = float64(now.Sub(a.sweepAt)) / float64(a.sweepDur)
		}
		if progress < 0 {
			progress = 0
		}
		if progress >= 1 {
			a.angle = groove.ArmRunout
			a.target = a.angle
			a.regime = Idle
			res.Runout = true
		} else {
			a.angle = a.sweepFrom + (groove.ArmRunout-a.sweepFrom)*progress
		}

	case Dragged:
		gap := a.target - a.angle
		if math.Abs(gap) < a.cfg.SnapEpsilon {
			a.angle = a.target
		} else {
			a.angle += gap * a.cfg.Damping
		}
		dt := now.Sub(a.dragAt).Seconds()
		if dt > 0 {
			v := (a.angle - a.dragLast) / dt / a.cfg.VelocityDivisor
			a.scrubVelocity = groove.Clamp(v, -a.cfg.MaxScrubVelocity, a.cfg.MaxScrubVelocity)
			a.dragLast = a.angle
			a.dragAt = now
		}
	}

	zone := groove.ZoneOf(a.angle)
	res.Zone = zone
	if zone != a.zone {
		res.ZoneChanged = true
		a.zone = zone
	}
	return res
}
