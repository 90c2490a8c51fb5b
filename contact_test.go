package planarsim

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats/scalar"
)

func ballAtRestHeight(vy float64) *ContactBody {
	return &ContactBody{
		Mass:    1,
		Inertia: 0.5 * 1 * 0.1 * 0.1,
		Pos:     Vec2{0, 0.1},
		Vel:     Vec2{0, vy},
		Omega:   0,
	}
}

func TestResolveContactElastic(t *testing.T) {
	b := ballAtRestHeight(-9.8)
	imp, err := ResolveContact(b, Vec2{0, 0}, Vec2{0, 1}, Material{Restitution: 1}, DefaultTolerances())
	if err != nil {
		t.Fatal(err)
	}
	// v_n' = -e v_n with e = 1: the bounce reverses the normal velocity.
	if !scalar.EqualWithinAbs(b.Vel.Y, 9.8, 1e-12) {
		t.Fatalf("post-impulse vy = %f, want +9.8", b.Vel.Y)
	}
	if !scalar.EqualWithinAbs(imp.Dissipated, 0, 1e-9) {
		t.Fatalf("elastic impulse dissipated %g", imp.Dissipated)
	}
	if imp.Regime != RegimeNone {
		t.Fatalf("frictionless contact tagged %s", imp.Regime)
	}
	if !scalar.EqualWithinAbs(imp.PreVn, -9.8, 1e-12) {
		t.Fatalf("pre-impulse v_n = %f", imp.PreVn)
	}
}

func TestResolveContactInelastic(t *testing.T) {
	b := ballAtRestHeight(-9.8)
	ekBefore := 0.5 * 9.8 * 9.8
	imp, err := ResolveContact(b, Vec2{0, 0}, Vec2{0, 1}, Material{Restitution: 0.5}, DefaultTolerances())
	if err != nil {
		t.Fatal(err)
	}
	if !scalar.EqualWithinAbs(b.Vel.Y, 4.9, 1e-12) {
		t.Fatalf("post-impulse vy = %f, want +4.9", b.Vel.Y)
	}
	// e = 0.5 keeps a quarter of the kinetic energy.
	if !scalar.EqualWithinAbs(imp.Dissipated, 0.75*ekBefore, 1e-9) {
		t.Fatalf("dissipated = %f, want %f", imp.Dissipated, 0.75*ekBefore)
	}
}

func TestResolveContactStaticFriction(t *testing.T) {
	// Slow tangential drift inside the static cone must stick.
	b := ballAtRestHeight(-5)
	b.Vel.X = 1e-4 // below the default v_eps
	imp, err := ResolveContact(b, Vec2{0, 0}, Vec2{0, 1}, Material{Restitution: 0, MuS: 0.8, MuK: 0.5}, DefaultTolerances())
	if err != nil {
		t.Fatal(err)
	}
	if imp.Regime != RegimeStatic {
		t.Fatalf("regime = %s, want static", imp.Regime)
	}
	if math.Abs(imp.Jt) > 0.8*math.Abs(imp.Jn) {
		t.Fatalf("static impulse outside the cone: |jt|=%g |jn|=%g", imp.Jt, imp.Jn)
	}
}

func TestResolveContactKineticFriction(t *testing.T) {
	b := ballAtRestHeight(-5)
	b.Vel.X = 2 // well above v_eps: must slide
	mat := Material{Restitution: 0, MuS: 0.3, MuK: 0.2}
	imp, err := ResolveContact(b, Vec2{0, 0}, Vec2{0, 1}, mat, DefaultTolerances())
	if err != nil {
		t.Fatal(err)
	}
	if imp.Regime != RegimeKinetic {
		t.Fatalf("regime = %s, want kinetic", imp.Regime)
	}
	if !scalar.EqualWithinAbs(math.Abs(imp.Jt), mat.MuK*math.Abs(imp.Jn), 1e-12) {
		t.Fatalf("kinetic |jt| = %g, want μk|jn| = %g", math.Abs(imp.Jt), mat.MuK*math.Abs(imp.Jn))
	}
	if imp.Dissipated < 0 {
		t.Fatalf("dissipated %g negative", imp.Dissipated)
	}
}

func TestResolveContactNoiseFloorWarning(t *testing.T) {
	b := ballAtRestHeight(-1e-12)
	imp, err := ResolveContact(b, Vec2{0, 0}, Vec2{0, 1}, Material{Restitution: 1}, DefaultTolerances())
	if err != nil {
		t.Fatal(err)
	}
	if len(imp.Warnings) == 0 {
		t.Fatal("sub-noise impulse should warn")
	}
}

func TestResolveContactOffCenter(t *testing.T) {
	// Contact off the center of mass couples into rotation; total energy must
	// still not grow.
	b := &ContactBody{
		Mass:    2,
		Inertia: 0.04,
		Pos:     Vec2{0, 0.2},
		Vel:     Vec2{1, -3},
		Omega:   0.5,
	}
	imp, err := ResolveContact(b, Vec2{0.1, 0}, Vec2{0, 1}, Material{Restitution: 0.8, MuS: 0.4, MuK: 0.3}, DefaultTolerances())
	if err != nil {
		t.Fatal(err)
	}
	if imp.Dissipated < -1e-9 {
		t.Fatalf("energy created at contact: %g", imp.Dissipated)
	}
	if b.Omega == 0.5 {
		t.Fatal("off-center impulse should change ω")
	}
}
