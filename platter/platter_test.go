package platter

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scratchbrainz/groove"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const frame = time.Second / 60

func TestServoAdvancesFromClock(t *testing.T) {
	m := New(DefaultConfig())
	m.Drive(groove.RPM33, 1, false, t0)
	require.Equal(t, Servo, m.Regime())

	m.Step(t0.Add(900 * time.Millisecond))
	assert.InDelta(t, 180, m.Angle(), 1e-6)

	// Irregular frame timing must not accumulate drift.
	for i := 1; i <= 37; i++ {
		m.Step(t0.Add(900*time.Millisecond + time.Duration(i)*frame + time.Duration(i%3)*time.Millisecond))
	}
	m.Step(t0.Add(3600 * time.Millisecond))
	assert.InDelta(t, 720, m.Angle(), 1e-6)
}

func TestServoReverse(t *testing.T) {
	m := New(DefaultConfig())
	m.Drive(groove.RPM33, 1, true, t0)
	m.Step(t0.Add(450 * time.Millisecond))
	assert.InDelta(t, -90, m.Angle(), 1e-6)
	assert.Less(t, m.TargetVelocity(), 0.0)
}

func TestRetuneKeepsPhase(t *testing.T) {
	m := New(DefaultConfig())
	m.Drive(groove.RPM33, 1, false, t0)
	now := t0.Add(450 * time.Millisecond)
	m.Step(now)
	before := m.Angle()

	m.Drive(groove.RPM45, 1, false, now)
	assert.InDelta(t, before, m.Angle(), 1e-9, "retune must not jump")

	spin, ok := m.Spin()
	require.True(t, ok)
	want, _ := groove.RotationPeriod(groove.RPM45)
	assert.Equal(t, want, spin.Period)

	m.Step(now.Add(want))
	assert.InDelta(t, before+360, m.Angle(), 1e-6)
}

func TestPitchScalesPeriod(t *testing.T) {
	m := New(DefaultConfig())
	m.Drive(groove.RPM33, 1.5, false, t0)
	m.Step(t0.Add(1200 * time.Millisecond))
	assert.InDelta(t, 360, m.Angle(), 1e-6)
}

func TestScratchIsSingleWriter(t *testing.T) {
	m := New(DefaultConfig())
	m.Drive(groove.RPM33, 1, false, t0)

	// The manual writer is rejected while the servo owns the platter.
	err := m.ScratchBy(5, 1)
	require.ErrorIs(t, err, ErrNotOwner)

	start := m.BeginScratch(t0.Add(100 * time.Millisecond))
	require.Equal(t, Scratch, m.Regime())
	assert.False(t, m.Regime().Automatic())

	// The automatic update leaves a scratched platter alone.
	for i := 0; i < 10; i++ {
		m.Step(t0.Add(time.Duration(i) * frame))
		assert.Equal(t, start, m.Angle())
	}

	require.NoError(t, m.ScratchBy(-12, -3))
	assert.InDelta(t, start-12, m.Angle(), 1e-9)
	assert.Equal(t, -3.0, m.Velocity())

	m.EndScratch(t0.Add(time.Second))
	assert.True(t, m.Regime().Automatic())
	require.ErrorIs(t, m.ScratchBy(1, 1), ErrNotOwner)
	require.ErrorIs(t, m.DampScratch(0.1), ErrNotOwner)
}

func TestSettleConvergence(t *testing.T) {
	m := New(DefaultConfig())
	m.Drive(groove.RPM33, 1, false, t0)
	target := m.TargetVelocity()

	m.BeginScratch(t0)
	require.NoError(t, m.ScratchBy(0, 2*target))
	m.EndScratch(t0)
	require.Equal(t, Settle, m.Regime())

	// Release from exactly twice the target restarts from half speed, so
	// the gap shrinks by (1-0.35) each tick from target/2.
	bound := int(math.Ceil(math.Log(0.15/math.Abs(target/2)) / math.Log(1-0.35)))
	ticks := 0
	now := t0
	for m.Regime() == Settle {
		now = now.Add(frame)
		m.Step(now)
		ticks++
		require.LessOrEqual(t, ticks, bound+1, "settle did not converge")
	}
	assert.Equal(t, Servo, m.Regime())
	assert.Equal(t, target, m.Velocity())
}

func TestSettleShrinksGapGeometrically(t *testing.T) {
	cfg := DefaultConfig()
	m := New(cfg)
	m.Drive(groove.RPM33, 1, false, t0)
	target := m.TargetVelocity()

	m.regime = Settle
	m.velocity = 2 * target
	gap0 := math.Abs(m.velocity - target)

	want := int(math.Ceil(math.Log(cfg.SettleEpsilon/gap0) / math.Log(1-cfg.TorqueFactor)))
	now := t0
	for n := 1; m.Regime() == Settle; n++ {
		require.LessOrEqual(t, n, want, "settle did not converge")
		now = now.Add(frame)
		angle := m.Angle()
		m.Step(now)
		if m.Regime() != Settle {
			assert.Equal(t, want, n)
			break
		}
		bound := gap0 * math.Pow(1-cfg.TorqueFactor, float64(n))
		assert.InDelta(t, bound, math.Abs(m.Velocity()-target), 1e-9)
		assert.Greater(t, m.Velocity(), target)
		assert.InDelta(t, angle+m.Velocity(), m.Angle(), 1e-9)
	}
	assert.Equal(t, Servo, m.Regime())
	assert.Equal(t, target, m.Velocity())
}

func TestSettleFromFastThrow(t *testing.T) {
	m := New(DefaultConfig())
	m.Drive(groove.RPM33, 1, false, t0)
	target := m.TargetVelocity()

	m.BeginScratch(t0)
	require.NoError(t, m.ScratchBy(0, 10*target))
	m.EndScratch(t0)
	assert.InDelta(t, 3*target, m.Velocity(), 1e-9)

	now := t0
	for i := 0; i < 100 && m.Regime() == Settle; i++ {
		now = now.Add(frame)
		m.Step(now)
	}
	require.Equal(t, Servo, m.Regime())

	// The resync anchors the servo phase at the settled angle.
	angle := m.Angle()
	m.Step(now.Add(1800 * time.Millisecond))
	assert.InDelta(t, angle+360, m.Angle(), 1e-6)
}

func TestCoastFrictionDecay(t *testing.T) {
	m := New(DefaultConfig())
	m.BeginScratch(t0)
	require.NoError(t, m.ScratchBy(0, 10))
	m.EndScratch(t0)
	require.Equal(t, Coast, m.Regime())

	bound := int(math.Ceil(math.Log(0.001) / math.Log(0.92)))
	require.LessOrEqual(t, bound, 84)

	ticks := 0
	for m.Regime() == Coast {
		m.Step(t0)
		ticks++
		require.LessOrEqual(t, ticks, bound)
	}
	assert.Equal(t, Idle, m.Regime())
	assert.Equal(t, 0.0, m.Velocity())
	assert.Greater(t, m.Angle(), 0.0)
}

func TestReleaseSpinsDownToFullTurn(t *testing.T) {
	m := New(DefaultConfig())
	m.Drive(groove.RPM33, 1, false, t0)
	now := t0.Add(500 * time.Millisecond)
	m.Release(now)
	require.Equal(t, SpinDown, m.Regime())
	_, ok := m.Spin()
	assert.False(t, ok)

	start := m.Angle()
	prev := start
	for i := 1; i <= 6*60; i++ {
		m.Step(now.Add(time.Duration(i) * frame))
		assert.GreaterOrEqual(t, m.Angle(), prev)
		prev = m.Angle()
	}
	m.Step(now.Add(6 * time.Second))
	assert.Equal(t, Idle, m.Regime())
	assert.Equal(t, 360.0, m.Angle())
}

func TestReleaseReverseSpinsDownToFloor(t *testing.T) {
	m := New(DefaultConfig())
	m.Drive(groove.RPM33, 1, true, t0)
	now := t0.Add(500 * time.Millisecond)
	m.Release(now)
	m.Step(now.Add(7 * time.Second))
	assert.Equal(t, -360.0, m.Angle())
}

func TestDriveDuringScratchKeepsHand(t *testing.T) {
	m := New(DefaultConfig())
	m.BeginScratch(t0)
	m.Drive(groove.RPM45, 1, false, t0)
	assert.Equal(t, Scratch, m.Regime())

	m.EndScratch(t0)
	assert.Equal(t, Settle, m.Regime())
}

func TestDriveStoppedPlatterIsNoOpForZeroRPM(t *testing.T) {
	m := New(DefaultConfig())
	m.Drive(0, 1, false, t0)
	assert.Equal(t, Idle, m.Regime())
	assert.Equal(t, 0.0, m.TargetVelocity())
}
