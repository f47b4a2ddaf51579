package groove

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArmAngleRoundTrip(t *testing.T) {
	for _, duration := range []float64{1, 187.4, 720} {
		for i := 0; i <= 1000; i++ {
			want := duration * float64(i) / 1000
			angle := ArmAngleFromAudioTime(want, duration)
			got := AudioTimeFromArmAngle(angle, duration)
			require.InDelta(t, want, got, 1e-6, "duration=%v t=%v", duration, want)
		}
	}
}

func TestAudioTimeFromArmAngleClamps(t *testing.T) {
	assert.Equal(t, 0.0, AudioTimeFromArmAngle(ArmRest, 100))
	assert.Equal(t, 0.0, AudioTimeFromArmAngle(ArmStart, 100))
	assert.Equal(t, 100.0, AudioTimeFromArmAngle(ArmRunout, 100))
	assert.Equal(t, 100.0, AudioTimeFromArmAngle(LabelEnd, 100))
	assert.InDelta(t, 50.0, AudioTimeFromArmAngle(-5, 100), 1e-9)
	assert.Equal(t, 0.0, AudioTimeFromArmAngle(10, 0))
	assert.Equal(t, 0.0, AudioTimeFromArmAngle(math.NaN(), 100))
}

func TestArmAngleFromAudioTimeClamps(t *testing.T) {
	assert.Equal(t, ArmStart, ArmAngleFromAudioTime(-3, 100))
	assert.Equal(t, ArmRunout, ArmAngleFromAudioTime(300, 100))
	assert.Equal(t, ArmStart, ArmAngleFromAudioTime(10, 0))
}

func TestRotationPeriod(t *testing.T) {
	p, ok := RotationPeriod(RPM33)
	require.True(t, ok)
	assert.Equal(t, BasePeriod33, p)

	p, ok = RotationPeriod(RPM45)
	require.True(t, ok)
	assert.InDelta(t, 1.3332, p.Seconds(), 1e-3)

	_, ok = RotationPeriod(0)
	assert.False(t, ok)
	_, ok = RotationPeriod(-1)
	assert.False(t, ok)
}

func TestZoneOf(t *testing.T) {
	tests := []struct {
		angle float64
		want  Zone
	}{
		{-95, ZoneOffDisc},
		{-80.5, ZoneOffDisc},
		{-80, ZonePlaying},
		{10, ZonePlaying},
		{69.9, ZonePlaying},
		{70, ZoneRunout},
		{74.9, ZoneRunout},
		{75, ZoneLabel},
		{140, ZoneLabel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ZoneOf(tt.angle), "angle %v", tt.angle)
	}
}

func TestOnDisc(t *testing.T) {
	assert.False(t, OnDisc(-95))
	assert.False(t, OnDisc(-75.01))
	assert.True(t, OnDisc(-75))
	assert.True(t, OnDisc(145))
	assert.False(t, OnDisc(146))
}

func TestNormalizeDelta(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{0, 0},
		{10, 10},
		{180, 180},
		{-180, 180},
		{190, -170},
		{-190, 170},
		{350, -10},
		{-350, 10},
		{720 + 5, 5},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, NormalizeDelta(tt.in), 1e-9, "in %v", tt.in)
	}
}

func TestPlaybackRate(t *testing.T) {
	assert.InDelta(t, 1.0, PlaybackRate(RPM33, 1), 1e-9)
	assert.InDelta(t, 45/33.33, PlaybackRate(RPM45, 1), 1e-9)
	assert.InDelta(t, 1.08, PlaybackRate(RPM33, 1.08), 1e-9)
	assert.Equal(t, MinPlaybackRate, PlaybackRate(0, 1))
	assert.Equal(t, MaxPlaybackRate, PlaybackRate(RPM45, 5))
}

func TestFloorRate(t *testing.T) {
	assert.Equal(t, 0.001, FloorRate(0, 0.001))
	assert.Equal(t, 0.001, FloorRate(0.0002, 0.001))
	assert.Equal(t, -0.001, FloorRate(-0.0002, 0.001))
	assert.Equal(t, 3.0, FloorRate(3, 0.001))
}

func TestDegreesPerTick(t *testing.T) {
	assert.InDelta(t, 360/1.8/60, DegreesPerTick(RPM33, 1), 1e-9)
	assert.Equal(t, 0.0, DegreesPerTick(0, 1))
	assert.Equal(t, SecondsPerDegree(RPM33), SecondsPerDegree(0))
}
