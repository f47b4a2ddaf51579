// Package platter models the rotation of the turntable platter.
//
// A Model owns the platter angle and angular velocity. Exactly one regime
// writes them at a time: the servo while the motor holds speed, the scratch
// controller while a hand is on the record, and the settle, coast and
// spin-down laws in between. Velocities are in degrees per 60 Hz frame.
package platter

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fogleman/ease"

	"scratchbrainz/groove"
)

// ErrNotOwner is returned when a writer touches the rotation while another
// regime owns it.
var ErrNotOwner = errors.New("platter: rotation owned by another regime")

// Regime selects which law advances the rotation.
type Regime int

const (
	Idle Regime = iota
	Servo
	Scratch
	Settle
	Coast
	SpinDown
)

func (r Regime) String() string {
	switch r {
	case Idle:
		return "idle"
	case Servo:
		return "servo"
	case Scratch:
		return "scratch"
	case Settle:
		return "settle"
	case Coast:
		return "coast"
	case SpinDown:
		return "spin-down"
	default:
		return fmt.Sprintf("regime(%d)", int(r))
	}
}

// Automatic reports whether the regime is driven by the model itself rather
// than by a manual gesture.
func (r Regime) Automatic() bool { return r != Scratch }

// Config holds the tunable physics constants.
type Config struct {
	TorqueFactor     float64       // settle pull toward servo velocity per tick
	SettleEpsilon    float64       // |v - target| below which settle locks to servo
	Friction         float64       // coast velocity multiplier per tick
	StopEpsilon      float64       // coast velocity below which the platter stops
	SpinDownDuration time.Duration // motor-off deceleration to the next full turn
}

// DefaultConfig returns the constants of a stock deck.
func DefaultConfig() Config {
	return Config{
		TorqueFactor:     0.35,
		SettleEpsilon:    0.15,
		Friction:         0.92,
		StopEpsilon:      0.01,
		SpinDownDuration: 6 * time.Second,
	}
}

// Spin describes a servo-locked rotation the way an animation would: one
// revolution per Period, starting at Phase degrees at the anchor instant.
type Spin struct {
	Period  time.Duration
	Phase   float64
	Reverse bool
}

// Model is the platter rotation state. It is not safe for concurrent use.
type Model struct {
	cfg Config

	angle    float64
	velocity float64
	regime   Regime

	// Motor drive. hasPeriod is false while the motor is off.
	rpm       float64
	pitch     float64
	reverse   bool
	period    time.Duration
	hasPeriod bool

	anchorAngle float64
	anchorAt    time.Time

	spinFrom float64
	spinTo   float64
	spinAt   time.Time
}

// New returns a stopped platter at angle 0.
func New(cfg Config) *Model {
	return &Model{cfg: cfg, pitch: 1}
}

// Angle is the accumulated rotation in degrees. It is not wrapped.
func (m *Model) Angle() float64 { return m.angle }

// Velocity is the signed angular velocity in degrees per frame.
func (m *Model) Velocity() float64 { return m.velocity }

func (m *Model) Regime() Regime { return m.regime }

// Reverse reports the drive direction, kept while the motor is off.
func (m *Model) Reverse() bool { return m.reverse }

// Pitch is the factor the drive period is divided by.
func (m *Model) Pitch() float64 { return m.pitch }

// Spin returns the current servo rotation. ok is false unless the servo
// owns the platter.
func (m *Model) Spin() (Spin, bool) {
	if m.regime != Servo || !m.hasPeriod {
		return Spin{}, false
	}
	return Spin{
		Period:  m.effectivePeriod(),
		Phase:   math.Mod(m.anchorAngle, 360),
		Reverse: m.reverse,
	}, true
}

// TargetVelocity is the signed servo velocity for the current drive, or 0
// with the motor off.
func (m *Model) TargetVelocity() float64 {
	if !m.hasPeriod {
		return 0
	}
	v := 360 / m.effectivePeriod().Seconds() / groove.FrameRate
	if m.reverse {
		return -v
	}
	return v
}

func (m *Model) effectivePeriod() time.Duration {
	return time.Duration(float64(m.period) / m.pitch)
}

// Drive turns the motor on, or retunes it, for rpm at the given pitch and
// direction. The phase is re-anchored at the current angle so the platter
// never jumps. A platter in a manual or settling regime keeps it and
// settles toward the new target on its own.
func (m *Model) Drive(rpm, pitch float64, reverse bool, now time.Time) {
	period, ok := groove.RotationPeriod(rpm)
	if !ok {
		m.Release(now)
		return
	}
	if pitch <= 0 {
		pitch = 1
	}
	m.advanceServo(now)

	m.rpm = rpm
	m.pitch = pitch
	m.reverse = reverse
	m.period = period
	m.hasPeriod = true

	switch m.regime {
	case Scratch, Settle:
	case Coast:
		m.regime = Settle
	default:
		m.lock(now)
	}
}

// Release turns the motor off. A spinning platter decelerates to the next
// full turn in its direction of travel; a hand on the record keeps it.
func (m *Model) Release(now time.Time) {
	m.advanceServo(now)
	wasDriven := m.hasPeriod
	m.hasPeriod = false
	m.rpm = 0

	switch m.regime {
	case Servo, Settle:
		m.spinFrom = m.angle
		if m.reverse {
			m.spinTo = math.Floor(m.angle/360) * 360
		} else {
			m.spinTo = math.Ceil(m.angle/360) * 360
		}
		m.spinAt = now
		m.regime = SpinDown
	case Idle:
		if wasDriven {
			m.velocity = 0
		}
	}
}

// BeginScratch hands the platter to the scratch controller and returns the
// angle it takes over from.
func (m *Model) BeginScratch(now time.Time) float64 {
	m.advanceServo(now)
	m.regime = Scratch
	m.velocity = 0
	return m.angle
}

// ScratchBy moves the platter by delta degrees and records the gesture
// velocity. Only the scratch controller may call it.
func (m *Model) ScratchBy(delta, velocity float64) error {
	if m.regime != Scratch {
		return fmt.Errorf("scratch by %.3f in %s: %w", delta, m.regime, ErrNotOwner)
	}
	if math.IsNaN(delta) || math.IsNaN(velocity) {
		return nil
	}
	m.angle += delta
	m.velocity = velocity
	return nil
}

// DampScratch scales the gesture velocity, for a hand resting on the record.
func (m *Model) DampScratch(factor float64) error {
	if m.regime != Scratch {
		return fmt.Errorf("damp scratch in %s: %w", m.regime, ErrNotOwner)
	}
	m.velocity *= factor
	return nil
}

// EndScratch returns the platter to the automatic laws. With the motor on it
// settles toward servo speed; a fast throw keeps 30% of its velocity, anything
// slower restarts from half speed. With the motor off it coasts.
func (m *Model) EndScratch(now time.Time) {
	if m.regime != Scratch {
		return
	}
	if m.hasPeriod {
		target := m.TargetVelocity()
		if math.Abs(m.velocity) > 2*math.Abs(target) {
			m.velocity *= 0.3
		} else {
			m.velocity = target * 0.5
		}
		m.regime = Settle
		return
	}
	m.regime = Coast
	if math.Abs(m.velocity) < m.cfg.StopEpsilon {
		m.velocity = 0
		m.regime = Idle
	}
}

// Step advances the rotation to now under the current automatic regime and
// reports whether the regime changed. In the scratch regime the angle is
// left alone.
func (m *Model) Step(now time.Time) bool {
	switch m.regime {
	case Servo:
		m.advanceServo(now)
		return false

	case Settle:
		target := m.TargetVelocity()
		m.velocity += (target - m.velocity) * m.cfg.TorqueFactor
		if math.Abs(m.velocity-target) < m.cfg.SettleEpsilon {
			m.velocity = target
			m.lock(now)
			return true
		}
		m.angle += m.velocity
		return false

	case Coast:
		m.velocity *= m.cfg.Friction
		if math.Abs(m.velocity) < m.cfg.StopEpsilon {
			m.velocity = 0
			m.regime = Idle
			return true
		}
		m.angle += m.velocity
		return false

	case SpinDown:
		progress := 1.0
		if m.cfg.SpinDownDuration > 0 {
			progress = float64(now.Sub(m.spinAt)) / float64(m.cfg.SpinDownDuration)
		}
		if progress >= 1 {
			m.angle = m.spinTo
			m.velocity = 0
			m.regime = Idle
			return true
		}
		if progress < 0 {
			progress = 0
		}
		prev := m.angle
		m.angle = m.spinFrom + (m.spinTo-m.spinFrom)*ease.OutQuad(progress)
		m.velocity = m.angle - prev
		return false
	}
	return false
}

// lock hands the platter to the servo with the phase anchored at the current
// angle.
func (m *Model) lock(now time.Time) {
	m.regime = Servo
	m.anchorAngle = m.angle
	m.anchorAt = now
	m.velocity = m.TargetVelocity()
}

func (m *Model) advanceServo(now time.Time) {
	if m.regime != Servo || !m.hasPeriod {
		return
	}
	elapsed := now.Sub(m.anchorAt).Seconds()
	turns := elapsed / m.effectivePeriod().Seconds()
	if m.reverse {
		turns = -turns
	}
	m.angle = m.anchorAngle + 360*turns
	m.velocity = m.TargetVelocity()
}
