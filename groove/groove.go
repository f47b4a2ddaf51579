// Package groove maps between tonearm pivot angles, audio positions and
// platter speeds. Everything here is pure and stateless.
package groove

import (
	"math"
	"time"
)

// Tonearm pivot angles, in degrees.
const (
	ArmRest    = -90.0 // parked on the rest post
	ArmStart   = -80.0 // first groove, audio time 0
	ArmRunout  = 70.0  // run-out groove, audio time = track duration
	ArmMinDrag = -100.0
	ArmMaxDrag = 70.0

	LabelStart = 75.0
	LabelEnd   = 135.0

	// Broad range over which a released arm counts as "on the disc".
	OnDiscMin = -75.0
	OnDiscMax = 145.0
)

// Platter speeds in revolutions per minute.
const (
	RPM33 = 33.33
	RPM45 = 45.0
)

// BasePeriod33 is one revolution at 33⅓ RPM.
const BasePeriod33 = 1800 * time.Millisecond

// Playback rate bounds.
const (
	MinPlaybackRate = 0.001
	MaxPlaybackRate = 4.0
)

// Zone classifies a pivot angle by what lies under the needle.
type Zone int

const (
	ZoneOffDisc Zone = iota
	ZonePlaying
	ZoneRunout
	ZoneLabel
)

func (z Zone) String() string {
	switch z {
	case ZonePlaying:
		return "playing"
	case ZoneRunout:
		return "runout"
	case ZoneLabel:
		return "label"
	default:
		return "off-disc"
	}
}

// ZoneOf returns the zone under the needle at the given pivot angle.
func ZoneOf(angle float64) Zone {
	switch {
	case angle >= LabelStart:
		return ZoneLabel
	case angle >= ArmRunout:
		return ZoneRunout
	case angle >= ArmStart:
		return ZonePlaying
	default:
		return ZoneOffDisc
	}
}

// OnDisc reports whether a released arm at angle lands on the record.
func OnDisc(angle float64) bool {
	return angle >= OnDiscMin && angle <= OnDiscMax
}

const playableArc = ArmRunout - ArmStart

// AudioTimeFromArmAngle maps a pivot angle onto the track. Angles before the
// first groove give 0 and angles past the run-out saturate at duration.
func AudioTimeFromArmAngle(angle, duration float64) float64 {
	if duration <= 0 || math.IsNaN(angle) {
		return 0
	}
	progress := Clamp((angle-ArmStart)/playableArc, 0, 1)
	return progress * duration
}

// ArmAngleFromAudioTime is the inverse of AudioTimeFromArmAngle, clamped to
// the playable arc.
func ArmAngleFromAudioTime(t, duration float64) float64 {
	if duration <= 0 || math.IsNaN(t) {
		return ArmStart
	}
	progress := Clamp(t/duration, 0, 1)
	return ArmStart + progress*playableArc
}

// RotationPeriod returns the time for one platter revolution at rpm.
// A stopped platter has no period and ok is false.
func RotationPeriod(rpm float64) (period time.Duration, ok bool) {
	if rpm <= 0 || math.IsNaN(rpm) || math.IsInf(rpm, 0) {
		return 0, false
	}
	return time.Duration(float64(BasePeriod33) * (RPM33 / rpm)), true
}

// SecondsPerDegree is the audio time covered by one degree of platter
// rotation at rpm. A stopped platter scrubs at the 33⅓ ratio.
func SecondsPerDegree(rpm float64) float64 {
	if rpm <= 0 {
		rpm = RPM33
	}
	return (60 / rpm) / 360
}

// DegreesPerTick is the servo angular velocity at rpm for a 60 Hz frame,
// the unit the rotation model uses for velocities.
func DegreesPerTick(rpm, pitch float64) float64 {
	period, ok := RotationPeriod(rpm)
	if !ok || pitch <= 0 {
		return 0
	}
	return 360 / (period.Seconds() / pitch) / FrameRate
}

// FrameRate is the nominal tick rate velocities are expressed against.
const FrameRate = 60.0

// PlaybackRate returns the audio rate multiplier for a platter speed and
// pitch factor, clamped to [MinPlaybackRate, MaxPlaybackRate].
func PlaybackRate(rpm, pitch float64) float64 {
	if rpm <= 0 {
		return MinPlaybackRate
	}
	return Clamp(rpm/RPM33*pitch, MinPlaybackRate, MaxPlaybackRate)
}

// NormalizeDelta wraps an angular delta into (-180, 180].
func NormalizeDelta(d float64) float64 {
	d = math.Mod(d, 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d
}

// FloorRate replaces a rate that is too close to zero with a signed epsilon.
func FloorRate(rate, epsilon float64) float64 {
	if math.Abs(rate) >= epsilon {
		return rate
	}
	if rate < 0 {
		return -epsilon
	}
	return epsilon
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
