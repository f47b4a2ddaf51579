package deck

import (
	"math"
)

// Point is a position in the renderer's client coordinates, y pointing down.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Rect is an element's bounding box in client coordinates.
type Rect struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	W float64 `json:"w" yaml:"w"`
	H float64 `json:"h" yaml:"h"`
}

// Center returns the midpoint of r.
func (r Rect) Center() Point {
	return Point{X: r.X + r.W/2, Y: r.Y + r.H/2}
}

// Geometry is the on-screen layout the renderer reports: the platter's
// bounding box and the tonearm pivot.
type Geometry struct {
	Platter Rect  `json:"platter" yaml:"platter"`
	Pivot   Point `json:"pivot" yaml:"pivot"`
}

// Valid reports whether g can be used to convert pointer positions. A
// zero-size platter or any non-finite coordinate is rejected.
func (g Geometry) Valid() bool {
	for _, v := range []float64{g.Platter.X, g.Platter.Y, g.Platter.W, g.Platter.H, g.Pivot.X, g.Pivot.Y} {
		if !finite(v) {
			return false
		}
	}
	return g.Platter.W > 0 && g.Platter.H > 0
}

// PlatterAngle returns the polar angle of p around the platter center, in
// degrees, clockwise on screen.
func (g Geometry) PlatterAngle(p Point) (float64, error) {
	if !g.Valid() {
		return 0, ErrInvalidGeometry
	}
	return polarAngle(g.Platter.Center(), p)
}

// ArmAngle returns the polar angle of p around the tonearm pivot.
func (g Geometry) ArmAngle(p Point) (float64, error) {
	if !g.Valid() {
		return 0, ErrInvalidGeometry
	}
	return polarAngle(g.Pivot, p)
}

func polarAngle(origin, p Point) (float64, error) {
	if !finite(p.X) || !finite(p.Y) {
		return 0, ErrInvalidGeometry
	}
	a := math.Atan2(p.Y-origin.Y, p.X-origin.X) * 180 / math.Pi
	if !finite(a) {
		return 0, ErrInvalidGeometry
	}
	return a, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
