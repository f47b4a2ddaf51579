package main

import (
	"math"
	"time"

	"scratchbrainz/deck"
)

// jogWheel turns bursts of jog wheel detents into a single disc scratch on
// a virtual point orbiting the platter center. A burst ends once no detent
// has arrived for the release window.
//
// Owned by the daemon loop; not safe for concurrent use.
type jogWheel struct {
	degreesPerStep float64
	release        time.Duration

	active bool
	angle  float64
	last   time.Time
}

func newJogWheel(degreesPerStep float64, release time.Duration) *jogWheel {
	return &jogWheel{
		degreesPerStep: degreesPerStep,
		release:        release,
	}
}

// step records n detents at now and returns the virtual point's angle
// before and after them. begin is true when the detents open a new burst.
func (j *jogWheel) step(n int, now time.Time) (begin bool, from, to float64) {
	if !j.active {
		j.active = true
		j.angle = 0
		begin = true
	}
	from = j.angle
	j.angle += float64(n) * j.degreesPerStep
	j.last = now
	return begin, from, j.angle
}

// expired reports whether an open burst has been idle for the release window.
func (j *jogWheel) expired(now time.Time) bool {
	return j.active && now.Sub(j.last) >= j.release
}

func (j *jogWheel) reset() { j.active = false }

// orbitPoint is the client position at angle degrees (clockwise on screen)
// on a circle halfway between the platter center and its edge.
func orbitPoint(g deck.Geometry, angle float64) deck.Point {
	c := g.Platter.Center()
	r := math.Min(g.Platter.W, g.Platter.H) / 4
	rad := angle * math.Pi / 180
	return deck.Point{X: c.X + r*math.Cos(rad), Y: c.Y + r*math.Sin(rad)}
}
