package planarsim

import "math"

// EnergyOf computes the kinetic and potential energy of the packed state.
// Potential uses |g_y| so that "above the origin" has positive potential in
// both y_up and y_down contracts. Side-effect free.
func EnergyOf(bodies []Body, q, v []float64, gravity Vec2) Energy {
	gy := math.Abs(gravity.Y)
	var e Energy
	for i, b := range bodies {
		vx, vy, ω := v[3*i], v[3*i+1], v[3*i+2]
		inertia := b.InertiaOrDefault()
		e.Ek += 0.5*b.Mass*(vx*vx+vy*vy) + 0.5*inertia*ω*ω
		e.Ep += b.Mass * gy * q[3*i+1]
	}
	e.Em = e.Ek + e.Ep
	return e
}

// LinearMomentum returns the total linear momentum vector of the state.
func LinearMomentum(bodies []Body, v []float64) Vec2 {
	var p Vec2
	for i, b := range bodies {
		p.X += b.Mass * v[3*i]
		p.Y += b.Mass * v[3*i+1]
	}
	return p
}

// AngularMomentum returns the total angular momentum about the origin,
// L = Σ Iᵢωᵢ + mᵢ (rᵢ × vᵢ).
func AngularMomentum(bodies []Body, q, v []float64) float64 {
	var l float64
	for i, b := range bodies {
		r := Vec2{q[3*i], q[3*i+1]}
		vel := Vec2{v[3*i], v[3*i+1]}
		l += b.InertiaOrDefault()*v[3*i+2] + b.Mass*r.Cross(vel)
	}
	return l
}
