package planarsim

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
)

const (
	deg2rad = math.Pi / 180
	rad2deg = 1 / deg2rad
)

// Vec2 is a 2D Cartesian vector.
type Vec2 struct {
	X, Y float64
}

// Add returns u + w.
func (u Vec2) Add(w Vec2) Vec2 {
	return Vec2{u.X + w.X, u.Y + w.Y}
}

// Sub returns u - w.
func (u Vec2) Sub(w Vec2) Vec2 {
	return Vec2{u.X - w.X, u.Y - w.Y}
}

// Scale returns s*u.
func (u Vec2) Scale(s float64) Vec2 {
	return Vec2{s * u.X, s * u.Y}
}

// Dot returns the inner product u·w.
func (u Vec2) Dot(w Vec2) float64 {
	return u.X*w.X + u.Y*w.Y
}

// Cross returns the scalar z component of u × w.
func (u Vec2) Cross(w Vec2) float64 {
	return u.X*w.Y - u.Y*w.X
}

// Norm returns the Euclidean norm of u.
func (u Vec2) Norm() float64 {
	return math.Hypot(u.X, u.Y)
}

// Unit returns the unit vector of u, or the zero vector if u is (numerically) zero.
func (u Vec2) Unit() Vec2 {
	n := u.Norm()
	if scalar.EqualWithinAbs(n, 0, 1e-12) {
		return Vec2{}
	}
	return Vec2{u.X / n, u.Y / n}
}

// Perp returns u rotated by +90°. Used to derive the contact tangent from the normal.
func (u Vec2) Perp() Vec2 {
	return Vec2{-u.Y, u.X}
}

// IsFinite returns whether both components are finite.
func (u Vec2) IsFinite() bool {
	return !math.IsNaN(u.X) && !math.IsInf(u.X, 0) && !math.IsNaN(u.Y) && !math.IsInf(u.Y, 0)
}

// Sign returns the sign of a given number, counting zero as positive.
func Sign(v float64) float64 {
	if scalar.EqualWithinAbs(v, 0, 1e-12) {
		return 1
	}
	return v / math.Abs(v)
}

// Deg2rad converts degrees to radians, and enforces only positive numbers.
func Deg2rad(a float64) float64 {
	if a < 0 {
		a += 360
	}
	return math.Mod(a*deg2rad, 2*math.Pi)
}

// Rad2deg converts radians to degrees, and enforces only positive numbers.
func Rad2deg(a float64) float64 {
	if a < 0 {
		a += 2 * math.Pi
	}
	return math.Mod(a/deg2rad, 360)
}

// allFinite returns whether every component of the slice is finite.
func allFinite(s []float64) bool {
	if floats.HasNaN(s) {
		return false
	}
	for _, v := range s {
		if math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// maxAbsDiff returns the componentwise max-norm of a-b.
func maxAbsDiff(a, b []float64) float64 {
	m := 0.
	for i := range a {
		if d := math.Abs(a[i] - b[i]); d > m {
			m = d
		}
	}
	return m
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
