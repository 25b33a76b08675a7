package unit

import "math"

// Vec3 is a world-space point. Y is up; units move on the X/Z floor.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Unset marks a movement memo or destination that has never been committed.
var Unset = Vec3{X: -9999, Y: -9999, Z: -9999}

// Same threshold the engine used for vector equality (squared length).
const vecEpsilonSq = 9.99999944e-11

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Scale(f float64) Vec3 {
	return Vec3{v.X * f, v.Y * f, v.Z * f}
}
func (v Vec3) Len() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// Distance between two points.
func Distance(a, b Vec3) float64 { return b.Sub(a).Len() }

// Equal reports whether two points are the same within float tolerance.
func (v Vec3) Equal(o Vec3) bool {
	d := v.Sub(o)
	return d.X*d.X+d.Y*d.Y+d.Z*d.Z < vecEpsilonSq
}

// Color is an RGBA display color with channels in [0,1].
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
	A float64 `json:"a"`
}

// Lerp blends from a to b; t is clamped to [0,1].
func Lerp(a, b Color, t float64) Color {
	t = clamp01(t)
	return Color{
		R: a.R + (b.R-a.R)*t,
		G: a.G + (b.G-a.G)*t,
		B: a.B + (b.B-a.B)*t,
		A: a.A + (b.A-a.A)*t,
	}
}

// Clamp returns the color with every channel clamped to [0,1].
func (c Color) Clamp() Color {
	return Color{R: clamp01(c.R), G: clamp01(c.G), B: clamp01(c.B), A: clamp01(c.A)}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
