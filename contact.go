package planarsim

import (
	"fmt"
	"math"
)

// negativeDissipationTol is the floor below which a negative dissipated energy
// indicates a sign bug rather than round-off.
const negativeDissipationTol = 1e-9

// ContactBody is the mutable slice of a body's state the resolver operates on.
type ContactBody struct {
	Mass    float64
	Inertia float64
	Pos     Vec2
	Vel     Vec2
	Omega   float64
	Theta   float64
}

// Impulse is the outcome of a resolved contact.
type Impulse struct {
	J          Vec2 // total applied impulse
	Jn, Jt     float64
	Regime     FrictionRegime
	Dissipated float64
	PreVn      float64 // normal relative velocity before the impulse
	Warnings   []string
}

// ResolveContact computes and applies a single-point contact impulse to the
// body: a restitution-driven normal impulse plus a tangential impulse chosen
// by the stick/slip discriminator. The body velocity and angular velocity are
// updated in place.
//
// c is the world contact point, n the outward unit normal of the surface at c.
// Validation predicates (friction cone, dissipation sign, impulse noise floor)
// are reported as warnings, never as errors; the fatal conditions are a
// non-finite impulse or angular velocity (arithmetic overflow) and a negative
// dissipated energy beyond tolerance, which indicates a sign bug.
func ResolveContact(b *ContactBody, c, n Vec2, mat Material, tol Tolerances) (Impulse, error) {
	tangent := n.Perp()
	r := c.Sub(b.Pos)

	// Relative velocity at the contact point: v_c + ω × r.
	vRel := b.Vel.Add(Vec2{-b.Omega * r.Y, b.Omega * r.X})
	vn := vRel.Dot(n)
	vt := vRel.Dot(tangent)

	// Effective masses with the rotational terms.
	rxn := r.Cross(n)
	rxt := r.Cross(tangent)
	mnInv := 1/b.Mass + rxn*rxn/b.Inertia
	mtInv := 1/b.Mass + rxt*rxt/b.Inertia
	mn := 1 / mnInv
	mt := 1 / mtInv

	jn := -(1 + mat.Restitution) * vn * mn

	var jt float64
	regime := RegimeNone
	if mat.MuS > 0 || mat.MuK > 0 {
		if math.Abs(vt) < tol.VEps {
			// Propose sticking and keep it if it fits inside the cone.
			stick := -mt * vt
			if math.Abs(stick) <= mat.MuS*math.Abs(jn) {
				jt = stick
				regime = RegimeStatic
			}
		}
		if regime == RegimeNone && vt != 0 {
			jt = -Sign(vt) * mat.MuK * math.Abs(jn)
			regime = RegimeKinetic
		}
	}

	ekBefore := 0.5*b.Mass*b.Vel.Dot(b.Vel) + 0.5*b.Inertia*b.Omega*b.Omega

	j := n.Scale(jn).Add(tangent.Scale(jt))
	b.Vel = b.Vel.Add(j.Scale(1 / b.Mass))
	b.Omega += r.Cross(j) / b.Inertia

	ekAfter := 0.5*b.Mass*b.Vel.Dot(b.Vel) + 0.5*b.Inertia*b.Omega*b.Omega
	dissipated := ekBefore - ekAfter

	imp := Impulse{J: j, Jn: jn, Jt: jt, Regime: regime, Dissipated: dissipated, PreVn: vn}
	if !j.IsFinite() || math.IsNaN(b.Omega) || math.IsInf(b.Omega, 0) {
		return imp, fmt.Errorf("contact: impulse arithmetic overflow (jn=%g jt=%g)", jn, jt)
	}
	if dissipated < -negativeDissipationTol {
		return imp, fmt.Errorf("contact: negative dissipated energy %g", dissipated)
	}

	if math.Abs(jt) > mat.MuS*math.Abs(jn)+1e-9 && regime == RegimeStatic {
		imp.Warnings = append(imp.Warnings, fmt.Sprintf("friction cone violated: |jt|=%g > mu_s*|jn|=%g", math.Abs(jt), mat.MuS*math.Abs(jn)))
	}
	if dissipated < 0 {
		imp.Warnings = append(imp.Warnings, fmt.Sprintf("dissipated energy slightly negative: %g", dissipated))
	}
	if j.Norm() < tol.ImpulseMin {
		imp.Warnings = append(imp.Warnings, fmt.Sprintf("impulse below noise floor: %g", j.Norm()))
	}
	return imp, nil
}
